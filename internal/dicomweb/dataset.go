package dicomweb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ElementString returns the string value of an attribute, or "" when the
// attribute is absent. Multi-valued attributes are joined with the DICOM
// value delimiter.
func ElementString(ds dicom.Dataset, t tag.Tag) string {
	e, err := ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	switch v := e.Value.GetValue().(type) {
	case []string:
		return strings.TrimSpace(strings.Join(v, "\\"))
	case string:
		return strings.TrimSpace(v)
	case []int:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, "\\")
	default:
		return ""
	}
}

// TagKey renders a tag as the eight-character hex key used by DICOM JSON.
func TagKey(t tag.Tag) string {
	return fmt.Sprintf("%04X%04X", t.Group, t.Element)
}

// Attribute is one attribute of a DICOM JSON metadata object.
type Attribute struct {
	VR    string `json:"vr"`
	Value []any  `json:"Value,omitempty"`
}

// MetadataObject renders a data set as a DICOM JSON object keyed by hex tag.
// Bulk binary attributes (OB, OW, UN) and sequences are omitted: metadata
// responses carry searchable attributes, not pixel data.
func MetadataObject(ds dicom.Dataset) map[string]Attribute {
	obj := make(map[string]Attribute, len(ds.Elements))

	for _, e := range ds.Elements {
		// File meta group elements describe the container, not the instance.
		if e.Tag.Group == 0x0002 {
			continue
		}
		vr := e.RawValueRepresentation
		if vr == "OB" || vr == "OW" || vr == "UN" || vr == "SQ" {
			continue
		}
		if e.Tag == tag.PixelData {
			continue
		}

		attr := Attribute{VR: vr}
		switch v := e.Value.GetValue().(type) {
		case []string:
			for _, s := range v {
				if s = strings.TrimSpace(s); s != "" {
					attr.Value = append(attr.Value, s)
				}
			}
		case []int:
			for _, n := range v {
				attr.Value = append(attr.Value, n)
			}
		case []float64:
			for _, f := range v {
				attr.Value = append(attr.Value, f)
			}
		default:
			continue
		}

		obj[TagKey(e.Tag)] = attr
	}

	return obj
}
