package dicomweb

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// MIMETypeDICOM is the media type of a DICOM Part 10 payload.
const MIMETypeDICOM = "application/dicom"

// MIMETypeDICOMJSON is the media type of DICOM JSON responses.
const MIMETypeDICOMJSON = "application/dicom+json"

// OpenRelated parses a multipart/related content type and returns a reader
// over its parts.
func OpenRelated(contentType string, body io.Reader) (*multipart.Reader, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDataSet, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("%w: expected multipart/related, got %s", ErrMalformedDataSet, mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("%w: missing multipart boundary", ErrMalformedDataSet)
	}
	return multipart.NewReader(body, boundary), nil
}

// RelatedWriter writes a multipart/related response body.
type RelatedWriter struct {
	mw *multipart.Writer
}

// NewRelatedWriter wraps an output stream in a multipart/related writer.
func NewRelatedWriter(w io.Writer) *RelatedWriter {
	return &RelatedWriter{mw: multipart.NewWriter(w)}
}

// ContentType returns the Content-Type header value for the response,
// declaring the root type of the parts and the chosen boundary.
func (w *RelatedWriter) ContentType(rootType string) string {
	return fmt.Sprintf(`multipart/related; type=%q; boundary=%s`, rootType, w.mw.Boundary())
}

// CreatePart starts the next part with the given content type and returns a
// writer for its body.
func (w *RelatedWriter) CreatePart(contentType string) (io.Writer, error) {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType)
	return w.mw.CreatePart(header)
}

// Close writes the trailing boundary.
func (w *RelatedWriter) Close() error {
	return w.mw.Close()
}

// Accepts reports whether an Accept header allows the given media type.
// An empty header accepts everything.
func Accepts(acceptHeader, mediaType string) bool {
	if acceptHeader == "" {
		return true
	}
	for _, part := range strings.Split(acceptHeader, ",") {
		accepted, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if accepted == "*/*" || accepted == mediaType {
			return true
		}
		if base, ok := strings.CutSuffix(accepted, "/*"); ok &&
			strings.HasPrefix(mediaType, base+"/") {
			return true
		}
	}
	return false
}
