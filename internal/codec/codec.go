package codec

import (
	"image"
	"io"

	xdraw "golang.org/x/image/draw"
)

// DecodeResult holds the decoded frames of one DICOM data set.
type DecodeResult struct {
	TransferSyntax string
	Frames         []image.Image
}

// Codec is the pluggable pixel-data capability. The retrieval pipeline
// depends only on this interface so that codec support for additional
// transfer syntaxes and output formats can be substituted.
type Codec interface {
	// Decode reads a stored DICOM data set and decodes its pixel data into
	// frames. Fails with dicomweb.ErrUnsupportedTransferSyntax when the data
	// set is compressed with an encoding the codec cannot handle.
	Decode(r io.Reader, size int64) (*DecodeResult, error)

	// Encode serializes one frame into the requested output media type.
	// Fails with dicomweb.ErrTranscodeFailure for unsupported targets.
	Encode(frame image.Image, mediaType string) ([]byte, error)
}

// Thumbnail scales a frame to fit within max×max, preserving aspect ratio.
// Frames already small enough are returned unchanged.
func Thumbnail(frame image.Image, max int) image.Image {
	bounds := frame.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= max && h <= max {
		return frame
	}

	if w >= h {
		h = h * max / w
		w = max
	} else {
		w = w * max / h
		h = max
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, bounds, xdraw.Src, nil)
	return dst
}
