package dicomweb

import (
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// Matcher is one (tag, value) search criterion with VR-aware matching
// semantics: universal matching for empty values, case-insensitive wildcard
// matching for string attributes, inclusive dash ranges for dates and times.
type Matcher struct {
	Tag   Tag
	Value string
}

// NewMatcher builds a matcher for a supported tag and its raw criterion value.
func NewMatcher(tag Tag, value string) Matcher {
	return Matcher{Tag: tag, Value: strings.TrimSpace(value)}
}

// Universal reports whether the criterion matches any value unconditionally.
func (m Matcher) Universal() bool {
	return m.Value == ""
}

// Matches applies the criterion to a single stored value.
func (m Matcher) Matches(value string) bool {
	if m.Universal() {
		return true
	}

	value = strings.TrimSpace(value)

	switch m.Tag.VR {
	case VRDate, VRTime:
		if lo, hi, ok := splitRange(m.Value); ok {
			// DICOM dates and times compare correctly as strings within
			// their fixed formats (YYYYMMDD, HHMMSS.FFFFFF).
			if lo != "" && value < lo {
				return false
			}
			if hi != "" && value > hi {
				return false
			}
			return value != ""
		}
		return value == m.Value
	case VRUniqueIdentifier:
		return value == m.Value
	case VRIntegerString:
		if a, errA := strconv.Atoi(value); errA == nil {
			if b, errB := strconv.Atoi(m.Value); errB == nil {
				return a == b
			}
		}
		return value == m.Value
	default:
		if hasWildcard(m.Value) {
			g, err := compileWildcard(m.Value)
			if err != nil {
				return false
			}
			return g.Match(strings.ToUpper(value))
		}
		return strings.EqualFold(value, m.Value)
	}
}

// Condition translates the criterion into a parameterized SQL predicate
// against the given column (already qualified by the caller). A universal
// criterion yields an empty clause. User input is only ever bound as an
// argument, never concatenated into the statement.
func (m Matcher) Condition(column string) (string, []any) {
	if m.Universal() {
		return "", nil
	}

	switch m.Tag.VR {
	case VRDate, VRTime:
		if lo, hi, ok := splitRange(m.Value); ok {
			switch {
			case lo != "" && hi != "":
				return column + " >= ? AND " + column + " <= ?", []any{lo, hi}
			case lo != "":
				return column + " >= ?", []any{lo}
			default:
				return column + " <= ?", []any{hi}
			}
		}
		return column + " = ?", []any{m.Value}
	case VRUniqueIdentifier:
		return column + " = ?", []any{m.Value}
	case VRIntegerString:
		// Integer strings are persisted canonically, so string equality
		// against the canonical criterion is numeric equality.
		return column + " = ?", []any{CanonicalIntegerString(m.Value)}
	default:
		if hasWildcard(m.Value) {
			return "UPPER(" + column + `) LIKE ? ESCAPE '\'`, []any{likePattern(m.Value)}
		}
		return "UPPER(" + column + ") = ?", []any{strings.ToUpper(m.Value)}
	}
}

// splitRange parses the DICOM dash-range syntax. Either bound may be absent
// for an open-ended range. A value without a dash is not a range.
func splitRange(v string) (lo, hi string, ok bool) {
	i := strings.IndexByte(v, '-')
	if i < 0 {
		return "", "", false
	}
	return v[:i], v[i+1:], true
}

func hasWildcard(v string) bool {
	return strings.ContainsAny(v, "*?")
}

// compileWildcard compiles a DICOM wildcard pattern (`*` any run, `?` one
// character) case-insensitively. Characters that are meta to the glob
// library are quoted so only the DICOM wildcards stay special.
func compileWildcard(pattern string) (glob.Glob, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(pattern) {
		switch r {
		case '*', '?':
			b.WriteRune(r)
		default:
			b.WriteString(glob.QuoteMeta(string(r)))
		}
	}
	return glob.Compile(b.String())
}

// CanonicalIntegerString reduces an integer-string value to its canonical
// form: surrounding whitespace trimmed and, when the value parses as an
// integer, leading zeros and any explicit plus sign dropped.
func CanonicalIntegerString(v string) string {
	t := strings.TrimSpace(v)
	if n, err := strconv.Atoi(t); err == nil {
		return strconv.Itoa(n)
	}
	return t
}

// likePattern converts a DICOM wildcard pattern to an upper-cased SQL LIKE
// pattern, escaping LIKE metacharacters with backslash.
func likePattern(pattern string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(pattern) {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
