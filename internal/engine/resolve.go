package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"mediafetch/internal/fetch"
	"mediafetch/internal/manifest"
	"mediafetch/internal/model"
	"mediafetch/internal/selector"
)

// VariantChooser asks a human to pick one of a master playlist's variants.
// It returns the 1-based option number.
type VariantChooser interface {
	ChooseVariant(ctx context.Context, options []selector.VariantOption) (int, error)
}

type ChooserFunc func(ctx context.Context, options []selector.VariantOption) (int, error)

func (f ChooserFunc) ChooseVariant(ctx context.Context, options []selector.VariantOption) (int, error) {
	return f(ctx, options)
}

// Plan is a resolved download: the manifest that produced the selection
// and the renditions to fetch.
type Plan struct {
	Manifest *manifest.Manifest
	Set      model.SelectedSet
	Variant  int
}

// maxNested bounds how far a player config may point at other manifests.
const maxNested = 2

// Load fetches and parses one manifest document. baseURL, when set, replaces
// the document's own location as the anchor for relative references.
func (e *Engine) Load(ctx context.Context, source, baseURL string) (*manifest.Manifest, error) {
	data, resolved, err := fetch.Document(ctx, e.client, source, e.cfg.ManifestTimeout)
	if err != nil {
		return nil, err
	}
	anchor := resolved
	if b := strings.TrimSpace(baseURL); b != "" {
		anchor = b
	}
	m, err := manifest.Parse(data, anchor)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("manifest loaded", "source", resolved, "kind", string(m.Kind), "bytes", len(data))
	return m, nil
}

// Resolve loads the manifest behind opts.Source and selects what to fetch,
// following nested manifests and asking for an HLS variant when needed.
func (e *Engine) Resolve(ctx context.Context, opts Options) (Plan, error) {
	m, err := e.Load(ctx, opts.Source, opts.BaseURL)
	if err != nil {
		return Plan{}, err
	}
	return e.resolveManifest(ctx, m, opts, 0)
}

func (e *Engine) resolveManifest(ctx context.Context, m *manifest.Manifest, opts Options, depth int) (Plan, error) {
	set, err := selector.Select(m, opts.AudioOnly)
	switch {
	case err == nil:
		return Plan{Manifest: m, Set: set}, nil
	case errors.Is(err, selector.ErrNeedsNested):
		if depth >= maxNested {
			return Plan{}, &model.ManifestFormatError{Reason: "player config nests too deeply"}
		}
		next, err := nestedSource(m.Config)
		if err != nil {
			return Plan{}, err
		}
		e.logger.Info("following nested manifest", "url", next)
		nested, err := e.Load(ctx, next, "")
		if err != nil {
			return Plan{}, err
		}
		return e.resolveManifest(ctx, nested, opts, depth+1)
	case errors.Is(err, selector.ErrNeedsVariant):
		return e.resolveMaster(ctx, m, opts)
	default:
		return Plan{}, err
	}
}

// nestedSource prefers the DASH range playlist, which carries separate
// audio, over HLS. MPD documents are not supported.
func nestedSource(cm *manifest.ConfigManifest) (string, error) {
	if cm.DASHURL != "" && !isMPD(cm.DASHURL) {
		return cm.DASHURL, nil
	}
	if cm.HLSURL != "" {
		return cm.HLSURL, nil
	}
	return "", &model.ManifestFormatError{Reason: "player config only offers a DASH MPD, which is not supported"}
}

func isMPD(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".mpd")
}

func (e *Engine) resolveMaster(ctx context.Context, m *manifest.Manifest, opts Options) (Plan, error) {
	hm := m.HLS
	if opts.AudioOnly {
		alt, ok := selector.DefaultAudio(hm)
		if !ok {
			return Plan{}, &model.NoRenditionAvailableError{Kind: model.TrackAudio, Reason: "master playlist has no separate audio renditions"}
		}
		audio, err := e.loadAudioAlternative(ctx, alt)
		if err != nil {
			return Plan{}, err
		}
		return Plan{Manifest: m, Set: model.SelectedSet{Audio: audio}}, nil
	}

	n, err := e.chooseVariant(ctx, hm, opts)
	if err != nil {
		return Plan{}, err
	}
	v, err := selector.VariantAt(hm, n)
	if err != nil {
		return Plan{}, err
	}
	e.logger.Info("variant selected", "number", n, "label", v.Label())

	media, err := e.Load(ctx, v.URI, "")
	if err != nil {
		return Plan{}, err
	}
	if media.Kind != manifest.KindHLS || media.HLS.Master {
		return Plan{}, &model.ManifestFormatError{Reason: fmt.Sprintf("variant %d does not point at a media playlist", n)}
	}
	set, err := selector.Select(media, false)
	if err != nil {
		return Plan{}, err
	}
	video := set.Video
	video.ID = fmt.Sprintf("variant-%d", n)
	video.Width, video.Height, video.Bitrate = v.Width, v.Height, v.Bandwidth
	if video.Codec == "" {
		video.Codec = v.Codecs
	}

	if alt, ok := selector.AudioFor(hm, v); ok {
		audio, err := e.loadAudioAlternative(ctx, alt)
		if err != nil {
			return Plan{}, err
		}
		set.Audio = audio
		video.Muxed = false
	}
	return Plan{Manifest: m, Set: set, Variant: n}, nil
}

func (e *Engine) chooseVariant(ctx context.Context, hm *manifest.HLSManifest, opts Options) (int, error) {
	if opts.Variant > 0 {
		return opts.Variant, nil
	}
	if opts.Chooser != nil {
		return opts.Chooser.ChooseVariant(ctx, selector.Variants(hm))
	}
	best := selector.BestVariant(hm)
	if best == 0 {
		return 0, &model.NoRenditionAvailableError{Kind: model.TrackVideo, Reason: "master playlist has no variants"}
	}
	e.logger.Info("no variant chosen; using the best one", "number", best)
	return best, nil
}

// loadAudioAlternative fetches an EXT-X-MEDIA audio playlist and runs it
// through the selector as an audio track.
func (e *Engine) loadAudioAlternative(ctx context.Context, alt manifest.AudioAlternative) (*model.Rendition, error) {
	m, err := e.Load(ctx, alt.URI, "")
	if err != nil {
		return nil, err
	}
	if m.Kind != manifest.KindHLS || m.HLS.Media == nil {
		return nil, &model.ManifestFormatError{Reason: "audio rendition does not point at a media playlist"}
	}
	r := m.HLS.Media
	r.Kind = model.TrackAudio
	r.Muxed = false
	r.ID = strings.Trim(alt.GroupID+"-"+alt.Language, "-")
	if r.Container == "mp4" {
		r.Container = "m4a"
	}
	set, err := selector.Select(m, true)
	if err != nil {
		return nil, err
	}
	return set.Audio, nil
}
