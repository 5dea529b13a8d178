package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/otcheredev/dicomweb-archive/internal/dicomweb"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Transfer syntaxes the native codec can decode.
var supportedTransferSyntaxes = map[string]struct{}{
	"1.2.840.10008.1.2":      {}, // Implicit VR Little Endian
	"1.2.840.10008.1.2.1":    {}, // Explicit VR Little Endian
	"1.2.840.10008.1.2.2":    {}, // Explicit VR Big Endian
	"1.2.840.10008.1.2.4.50": {}, // JPEG Baseline (Process 1)
}

// NativeCodec decodes pixel data with the DICOM parser and encodes frames
// with the standard image encoders.
type NativeCodec struct {
	// JPEGQuality applies to image/jpeg output. Zero means the default.
	JPEGQuality int
}

// NewNativeCodec returns a codec with the default JPEG quality.
func NewNativeCodec() *NativeCodec {
	return &NativeCodec{JPEGQuality: 90}
}

// Decode parses the data set and decodes every pixel-data frame.
func (c *NativeCodec) Decode(r io.Reader, size int64) (*DecodeResult, error) {
	ds, err := dicom.Parse(r, size, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dicomweb.ErrMalformedDataSet, err)
	}

	ts := dicomweb.ElementString(ds, tag.TransferSyntaxUID)
	if _, ok := supportedTransferSyntaxes[ts]; ts != "" && !ok {
		return nil, fmt.Errorf("%w: %s", dicomweb.ErrUnsupportedTransferSyntax, ts)
	}

	e, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%w: data set has no pixel data", dicomweb.ErrTranscodeFailure)
	}

	info := dicom.MustGetPixelDataInfo(e.Value)
	result := &DecodeResult{TransferSyntax: ts}
	for i := range info.Frames {
		img, err := info.Frames[i].GetImage()
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %v", dicomweb.ErrTranscodeFailure, i, err)
		}
		result.Frames = append(result.Frames, img)
	}
	if len(result.Frames) == 0 {
		return nil, fmt.Errorf("%w: data set has no frames", dicomweb.ErrTranscodeFailure)
	}

	return result, nil
}

// Encode serializes a frame to the requested media type. The octet-stream
// form carries the frame's raw pixel bytes for frame-level retrieval.
func (c *NativeCodec) Encode(frame image.Image, mediaType string) ([]byte, error) {
	var buf bytes.Buffer

	switch mediaType {
	case "image/jpeg":
		quality := c.JPEGQuality
		if quality <= 0 {
			quality = jpeg.DefaultQuality
		}
		if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("%w: %v", dicomweb.ErrTranscodeFailure, err)
		}
	case "image/png":
		if err := png.Encode(&buf, frame); err != nil {
			return nil, fmt.Errorf("%w: %v", dicomweb.ErrTranscodeFailure, err)
		}
	case "application/octet-stream":
		raw, err := rawPixels(frame)
		if err != nil {
			return nil, err
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: unsupported media type %s", dicomweb.ErrTranscodeFailure, mediaType)
	}

	return buf.Bytes(), nil
}

// rawPixels extracts the backing pixel bytes of the common frame image types.
func rawPixels(frame image.Image) ([]byte, error) {
	switch img := frame.(type) {
	case *image.Gray:
		return img.Pix, nil
	case *image.Gray16:
		return img.Pix, nil
	case *image.RGBA:
		return img.Pix, nil
	case *image.NRGBA:
		return img.Pix, nil
	default:
		return nil, fmt.Errorf("%w: no raw form for %T", dicomweb.ErrTranscodeFailure, frame)
	}
}
