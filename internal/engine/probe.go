package engine

import (
	"context"

	"mediafetch/internal/manifest"
	"mediafetch/internal/model"
	"mediafetch/internal/selector"
)

type RenditionInfo struct {
	ID             string `json:"id,omitempty"`
	Label          string `json:"label"`
	Codec          string `json:"codec,omitempty"`
	Container      string `json:"container,omitempty"`
	Segments       int    `json:"segments"`
	EstimatedBytes int64  `json:"estimated_bytes,omitempty"`
	Selected       bool   `json:"selected,omitempty"`
}

type ProbeReport struct {
	Source            string                      `json:"source"`
	Kind              manifest.Kind               `json:"kind"`
	ClipID            string                      `json:"clip_id,omitempty"`
	Title             string                      `json:"title,omitempty"`
	Live              bool                        `json:"live,omitempty"`
	Video             []RenditionInfo             `json:"video,omitempty"`
	Audio             []RenditionInfo             `json:"audio,omitempty"`
	Variants          []selector.VariantOption    `json:"variants,omitempty"`
	BestVariant       int                         `json:"best_variant,omitempty"`
	AudioAlternatives []manifest.AudioAlternative `json:"audio_alternatives,omitempty"`
	HLSURL            string                      `json:"hls_url,omitempty"`
	DASHURL           string                      `json:"dash_url,omitempty"`
}

// Probe describes what a manifest offers without downloading media.
func (e *Engine) Probe(ctx context.Context, source, baseURL string) (ProbeReport, error) {
	m, err := e.Load(ctx, source, baseURL)
	if err != nil {
		return ProbeReport{}, err
	}
	report := ProbeReport{Source: source, Kind: m.Kind}

	switch m.Kind {
	case manifest.KindRange:
		report.ClipID = m.Range.ClipID
		bestV := selector.BestVideo(m.Range.Video)
		bestA := selector.BestAudio(m.Range.Audio)
		report.Video = describe(m.Range.Video, bestV)
		report.Audio = describe(m.Range.Audio, bestA)
	case manifest.KindConfig:
		report.ClipID = m.Config.VideoID
		report.Title = m.Config.Title
		report.Video = describe(m.Config.Progressive, selector.BestVideo(m.Config.Progressive))
		report.HLSURL = m.Config.HLSURL
		report.DASHURL = m.Config.DASHURL
	case manifest.KindHLS:
		report.Live = m.HLS.Live
		if m.HLS.Master {
			report.Variants = selector.Variants(m.HLS)
			report.BestVariant = selector.BestVariant(m.HLS)
			report.AudioAlternatives = m.HLS.AudioAlternatives
		} else if m.HLS.Media != nil {
			report.Video = describe([]model.Rendition{*m.HLS.Media}, nil)
		}
	}
	return report, nil
}

func describe(rs []model.Rendition, best *model.Rendition) []RenditionInfo {
	out := make([]RenditionInfo, 0, len(rs))
	for i := range rs {
		r := &rs[i]
		est := expectedBytes(r)
		if est < 0 {
			est = 0
		}
		out = append(out, RenditionInfo{
			ID:             r.ID,
			Label:          r.Label(),
			Codec:          r.Codec,
			Container:      r.Container,
			Segments:       len(r.Segments),
			EstimatedBytes: est,
			Selected:       r == best,
		})
	}
	return out
}
