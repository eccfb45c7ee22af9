package selector

import (
	"errors"

	"mediafetch/internal/manifest"
	"mediafetch/internal/model"
)

// ErrNeedsVariant is returned by Select for an HLS master playlist: the
// caller must pick a variant and parse its media playlist first.
var ErrNeedsVariant = errors.New("HLS master playlist requires a variant choice")

// ErrNeedsNested is returned for a player config whose usable streams live in
// a nested manifest (audio-only, or no progressive files).
var ErrNeedsNested = errors.New("player config requires following a nested manifest")

// Select picks the best rendition(s) for m. It never touches the network.
func Select(m *manifest.Manifest, audioOnly bool) (model.SelectedSet, error) {
	if m == nil {
		return model.SelectedSet{}, &model.ManifestFormatError{Reason: "nil manifest"}
	}
	switch m.Kind {
	case manifest.KindRange:
		return selectRange(m.Range, audioOnly)
	case manifest.KindConfig:
		return selectConfig(m.Config, audioOnly)
	case manifest.KindHLS:
		return selectHLS(m.HLS, audioOnly)
	default:
		return model.SelectedSet{}, &model.ManifestFormatError{Reason: "unknown manifest kind " + string(m.Kind)}
	}
}

func selectRange(rm *manifest.RangeManifest, audioOnly bool) (model.SelectedSet, error) {
	var set model.SelectedSet
	if audioOnly {
		a := BestAudio(rm.Audio)
		if a == nil {
			return set, &model.NoRenditionAvailableError{Kind: model.TrackAudio, Reason: "manifest declares no audio renditions"}
		}
		set.Audio = a
		return set, nil
	}

	v := BestVideo(rm.Video)
	if v == nil {
		return set, &model.NoRenditionAvailableError{Kind: model.TrackVideo, Reason: "manifest declares no video renditions (try --audio-only)"}
	}
	set.Video = v
	set.Audio = BestAudio(rm.Audio)
	return set, nil
}

func selectConfig(cm *manifest.ConfigManifest, audioOnly bool) (model.SelectedSet, error) {
	if audioOnly || len(cm.Progressive) == 0 {
		if cm.HLSURL != "" || cm.DASHURL != "" {
			return model.SelectedSet{}, ErrNeedsNested
		}
		kind := model.TrackVideo
		if audioOnly {
			kind = model.TrackAudio
		}
		return model.SelectedSet{}, &model.NoRenditionAvailableError{Kind: kind, Reason: "player config has no matching streams"}
	}
	return model.SelectedSet{Video: BestVideo(cm.Progressive)}, nil
}

func selectHLS(hm *manifest.HLSManifest, audioOnly bool) (model.SelectedSet, error) {
	if hm.Master {
		return model.SelectedSet{}, ErrNeedsVariant
	}
	r := hm.Media
	if r == nil {
		return model.SelectedSet{}, &model.ManifestEmptyError{Dialect: "hls media"}
	}
	if audioOnly {
		if r.Kind != model.TrackAudio {
			return model.SelectedSet{}, &model.NoRenditionAvailableError{Kind: model.TrackAudio, Reason: "media playlist carries no separate audio"}
		}
		return model.SelectedSet{Audio: r}, nil
	}
	if r.Kind == model.TrackAudio {
		return model.SelectedSet{}, &model.NoRenditionAvailableError{Kind: model.TrackVideo, Reason: "media playlist is audio-only (try --audio-only)"}
	}
	return model.SelectedSet{Video: r}, nil
}

// BestVideo returns the rendition with the greatest (height, width, bitrate).
// On equal keys the first one declared wins.
func BestVideo(rs []model.Rendition) *model.Rendition {
	var best *model.Rendition
	for i := range rs {
		r := &rs[i]
		if best == nil || videoLess(best, r) {
			best = r
		}
	}
	return best
}

// BestAudio returns the rendition with the greatest bitrate, first declared on ties.
func BestAudio(rs []model.Rendition) *model.Rendition {
	var best *model.Rendition
	for i := range rs {
		r := &rs[i]
		if best == nil || r.Bitrate > best.Bitrate {
			best = r
		}
	}
	return best
}

func videoLess(a, b *model.Rendition) bool {
	if a.Height != b.Height {
		return a.Height < b.Height
	}
	if a.Width != b.Width {
		return a.Width < b.Width
	}
	return a.Bitrate < b.Bitrate
}
