package selector

import (
	"fmt"
	"strings"

	"mediafetch/internal/manifest"
	"mediafetch/internal/model"
)

// VariantOption is one line of the variant menu.
type VariantOption struct {
	Number      int    `json:"number"`
	Resolution  string `json:"resolution"`
	BandwidthKB int64  `json:"bandwidth_kbps"`
	Codecs      string `json:"codecs,omitempty"`
	URI         string `json:"uri"`
}

func (o VariantOption) Label() string {
	return fmt.Sprintf("%s  %d kbps", o.Resolution, o.BandwidthKB)
}

// Variants lists a master playlist's variants in declared order, numbered
// from 1 the way --variant takes them.
func Variants(hm *manifest.HLSManifest) []VariantOption {
	if hm == nil {
		return nil
	}
	out := make([]VariantOption, 0, len(hm.Variants))
	for i, v := range hm.Variants {
		res := "audio"
		if v.Height > 0 {
			res = fmt.Sprintf("%dx%d", v.Width, v.Height)
		}
		out = append(out, VariantOption{
			Number:      i + 1,
			Resolution:  res,
			BandwidthKB: v.Bandwidth / 1000,
			Codecs:      v.Codecs,
			URI:         v.URI,
		})
	}
	return out
}

// VariantAt returns the n-th (1-based) variant.
func VariantAt(hm *manifest.HLSManifest, n int) (manifest.Variant, error) {
	if hm == nil || n < 1 || n > len(hm.Variants) {
		count := 0
		if hm != nil {
			count = len(hm.Variants)
		}
		return manifest.Variant{}, &model.NoRenditionAvailableError{
			Kind:   model.TrackVideo,
			Reason: fmt.Sprintf("variant %d out of range (1..%d)", n, count),
		}
	}
	return hm.Variants[n-1], nil
}

// BestVariant returns the 1-based number of the variant with the greatest
// (height, width, bandwidth), first declared on ties. Zero means none.
func BestVariant(hm *manifest.HLSManifest) int {
	if hm == nil {
		return 0
	}
	best := 0
	for i, v := range hm.Variants {
		if best == 0 {
			best = i + 1
			continue
		}
		b := hm.Variants[best-1]
		switch {
		case v.Height != b.Height:
			if v.Height > b.Height {
				best = i + 1
			}
		case v.Width != b.Width:
			if v.Width > b.Width {
				best = i + 1
			}
		case v.Bandwidth > b.Bandwidth:
			best = i + 1
		}
	}
	return best
}

// AudioFor returns the audio alternative that goes with v: the default entry
// of its audio group, else the group's first entry. ok is false when the
// variant names no group or the group has no separate URI.
func AudioFor(hm *manifest.HLSManifest, v manifest.Variant) (manifest.AudioAlternative, bool) {
	if hm == nil || strings.TrimSpace(v.AudioGroup) == "" {
		return manifest.AudioAlternative{}, false
	}
	var first *manifest.AudioAlternative
	for i := range hm.AudioAlternatives {
		alt := &hm.AudioAlternatives[i]
		if alt.GroupID != v.AudioGroup {
			continue
		}
		if alt.Default {
			return *alt, true
		}
		if first == nil {
			first = alt
		}
	}
	if first == nil {
		return manifest.AudioAlternative{}, false
	}
	return *first, true
}

// DefaultAudio returns the default audio alternative across all groups, else
// the first declared. Used for audio-only downloads from a master.
func DefaultAudio(hm *manifest.HLSManifest) (manifest.AudioAlternative, bool) {
	if hm == nil || len(hm.AudioAlternatives) == 0 {
		return manifest.AudioAlternative{}, false
	}
	for _, alt := range hm.AudioAlternatives {
		if alt.Default {
			return alt, true
		}
	}
	return hm.AudioAlternatives[0], true
}
