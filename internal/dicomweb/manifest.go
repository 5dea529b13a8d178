package dicomweb

// DICOM failure reason codes reported in the STOW-RS manifest.
const (
	ReasonProcessingFailure uint16 = 0x0110
	ReasonDuplicateInstance uint16 = 0x0111
	ReasonInvalidIdentifier uint16 = 0x0117
	ReasonDataSetMismatch   uint16 = 0xA900
	ReasonCannotUnderstand  uint16 = 0xC000
)

// ReferencedSOP references a successfully stored SOP instance.
type ReferencedSOP struct {
	// Study and series UIDs are not part of the wire response; they are kept
	// to compute the common retrieve URL of the whole batch.
	StudyInstanceUID  string `json:"-"`
	SeriesInstanceUID string `json:"-"`

	SOPClassUID    string `json:"00081150"`
	SOPInstanceUID string `json:"00081155"`
	RetrieveURL    string `json:"00081190"`
}

// FailedSOP references a SOP instance that could not be stored.
type FailedSOP struct {
	SOPClassUID    string `json:"00081150,omitempty"`
	SOPInstanceUID string `json:"00081155,omitempty"`
	FailureReason  uint16 `json:"00081197"`
}

// StoreResponse is the STOW-RS manifest: per-part successes and failures,
// modeled after the Referenced/Failed SOP Sequence pattern. Failures that
// could not be attributed to a decodable instance land in OtherFailures.
type StoreResponse struct {
	RetrieveURL           string          `json:"00081190,omitempty"`
	FailedSOPSequence     []FailedSOP     `json:"00081198,omitempty"`
	ReferencedSOPSequence []ReferencedSOP `json:"00081199"`
	OtherFailures         []FailedSOP     `json:"00081196,omitempty"`
}

// AllFailed reports whether nothing in the batch was stored.
func (r *StoreResponse) AllFailed() bool {
	return len(r.ReferencedSOPSequence) == 0 &&
		(len(r.FailedSOPSequence) > 0 || len(r.OtherFailures) > 0)
}

// CommonRetrieveURL computes the deepest retrieve URL shared by every stored
// instance: the study URL when all parts belong to one study, the series URL
// when they share a series, down to the instance URL for a single instance.
func CommonRetrieveURL(origin string, refs []ReferencedSOP) string {
	if len(refs) == 0 {
		return origin
	}

	common := func(f func(ReferencedSOP) string) bool {
		first := f(refs[0])
		if first == "" {
			return false
		}
		for _, ref := range refs[1:] {
			if f(ref) != first {
				return false
			}
		}
		return true
	}

	url := origin
	if common(func(r ReferencedSOP) string { return r.StudyInstanceUID }) {
		url += "/studies/" + refs[0].StudyInstanceUID
		if common(func(r ReferencedSOP) string { return r.SeriesInstanceUID }) {
			url += "/series/" + refs[0].SeriesInstanceUID
			if common(func(r ReferencedSOP) string { return r.SOPInstanceUID }) {
				url += "/instances/" + refs[0].SOPInstanceUID
			}
		}
	}
	return url
}
