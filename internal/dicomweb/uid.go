package dicomweb

import "fmt"

// MaxUIDLength is the maximum length of a DICOM unique identifier.
const MaxUIDLength = 64

// UID is a validated DICOM unique identifier.
type UID string

// ParseUID validates a raw string as a DICOM UID: non-empty, at most 64
// characters, composed of digits and dots, with no empty components.
func ParseUID(s string) (UID, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty UID", ErrInvalidIdentifier)
	}
	if len(s) > MaxUIDLength {
		return "", fmt.Errorf("%w: UID exceeds %d characters", ErrInvalidIdentifier, MaxUIDLength)
	}

	prevDot := true // a leading dot counts as an empty component
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			prevDot = false
		case c == '.':
			if prevDot {
				return "", fmt.Errorf("%w: empty UID component in %q", ErrInvalidIdentifier, s)
			}
			prevDot = true
		default:
			return "", fmt.Errorf("%w: illegal character %q in UID", ErrInvalidIdentifier, c)
		}
	}
	if prevDot {
		return "", fmt.Errorf("%w: UID %q ends with a dot", ErrInvalidIdentifier, s)
	}

	return UID(s), nil
}

func (u UID) String() string {
	return string(u)
}
