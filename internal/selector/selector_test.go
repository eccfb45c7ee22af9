package selector

import (
	"errors"
	"strings"
	"testing"

	"mediafetch/internal/manifest"
	"mediafetch/internal/model"
)

func seg(url string) []model.SegmentRef {
	return []model.SegmentRef{{URL: url}}
}

func rangeManifest(video, audio []model.Rendition) *manifest.Manifest {
	return &manifest.Manifest{Kind: manifest.KindRange, Range: &manifest.RangeManifest{Video: video, Audio: audio}}
}

func TestSelectRangePicksHighestResolution(t *testing.T) {
	m := rangeManifest(
		[]model.Rendition{
			{ID: "720", Kind: model.TrackVideo, Width: 1280, Height: 720, Bitrate: 2_000_000, Segments: seg("a")},
			{ID: "1080", Kind: model.TrackVideo, Width: 1920, Height: 1080, Bitrate: 4_000_000, Segments: seg("b")},
			{ID: "480", Kind: model.TrackVideo, Width: 854, Height: 480, Bitrate: 9_000_000, Segments: seg("c")},
		},
		[]model.Rendition{
			{ID: "a64", Kind: model.TrackAudio, Bitrate: 64_000, Segments: seg("d")},
			{ID: "a128", Kind: model.TrackAudio, Bitrate: 128_000, Segments: seg("e")},
		},
	)
	set, err := Select(m, false)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if set.Video == nil || set.Video.ID != "1080" {
		t.Fatalf("expected 1080 video, got %+v", set.Video)
	}
	if set.Audio == nil || set.Audio.ID != "a128" {
		t.Fatalf("expected a128 audio, got %+v", set.Audio)
	}
}

func TestSelectFirstDeclaredWinsTies(t *testing.T) {
	m := rangeManifest(
		[]model.Rendition{
			{ID: "first", Kind: model.TrackVideo, Width: 1280, Height: 720, Bitrate: 1_000, Segments: seg("a")},
			{ID: "second", Kind: model.TrackVideo, Width: 1280, Height: 720, Bitrate: 1_000, Segments: seg("b")},
		},
		[]model.Rendition{
			{ID: "a-first", Kind: model.TrackAudio, Bitrate: 96_000, Segments: seg("c")},
			{ID: "a-second", Kind: model.TrackAudio, Bitrate: 96_000, Segments: seg("d")},
		},
	)
	set, err := Select(m, false)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if set.Video.ID != "first" || set.Audio.ID != "a-first" {
		t.Fatalf("tie should keep first declared: video=%s audio=%s", set.Video.ID, set.Audio.ID)
	}
}

func TestSelectWidthThenBitrateBreakHeightTies(t *testing.T) {
	rs := []model.Rendition{
		{ID: "narrow", Height: 720, Width: 960, Bitrate: 5_000},
		{ID: "wide-low", Height: 720, Width: 1280, Bitrate: 1_000},
		{ID: "wide-high", Height: 720, Width: 1280, Bitrate: 2_000},
	}
	if got := BestVideo(rs); got.ID != "wide-high" {
		t.Fatalf("got %q want %q", got.ID, "wide-high")
	}
}

func TestSelectAudioOnlyOmitsVideo(t *testing.T) {
	m := rangeManifest(
		[]model.Rendition{{ID: "v", Kind: model.TrackVideo, Height: 720, Segments: seg("a")}},
		[]model.Rendition{{ID: "a", Kind: model.TrackAudio, Bitrate: 128_000, Segments: seg("b")}},
	)
	set, err := Select(m, true)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if set.Video != nil || set.Audio == nil || set.Audio.ID != "a" {
		t.Fatalf("unexpected set: %+v", set)
	}
}

func TestSelectAudioOnlyManifestInVideoMode(t *testing.T) {
	m := rangeManifest(nil, []model.Rendition{{ID: "a", Kind: model.TrackAudio, Segments: seg("b")}})
	_, err := Select(m, false)
	var none *model.NoRenditionAvailableError
	if !errors.As(err, &none) || none.Kind != model.TrackVideo {
		t.Fatalf("expected NoRenditionAvailableError for video, got %v", err)
	}
}

func TestSelectVideoOnlyManifestAudioMode(t *testing.T) {
	m := rangeManifest([]model.Rendition{{ID: "v", Kind: model.TrackVideo, Segments: seg("a")}}, nil)
	_, err := Select(m, true)
	var none *model.NoRenditionAvailableError
	if !errors.As(err, &none) || none.Kind != model.TrackAudio {
		t.Fatalf("expected NoRenditionAvailableError for audio, got %v", err)
	}
}

func TestSelectConfig(t *testing.T) {
	m := &manifest.Manifest{Kind: manifest.KindConfig, Config: &manifest.ConfigManifest{
		Progressive: []model.Rendition{
			{ID: "360p", Kind: model.TrackVideo, Height: 360, Muxed: true, Segments: seg("a")},
			{ID: "1080p", Kind: model.TrackVideo, Height: 1080, Muxed: true, Segments: seg("b")},
		},
		HLSURL: "https://hls.example/master.m3u8",
	}}
	set, err := Select(m, false)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if set.Video.ID != "1080p" || set.Audio != nil {
		t.Fatalf("unexpected set: %+v", set)
	}

	if _, err := Select(m, true); !errors.Is(err, ErrNeedsNested) {
		t.Fatalf("audio-only config should require nested manifest, got %v", err)
	}
}

func TestSelectHLS(t *testing.T) {
	master := &manifest.Manifest{Kind: manifest.KindHLS, HLS: &manifest.HLSManifest{Master: true, Variants: []manifest.Variant{{URI: "x"}}}}
	if _, err := Select(master, false); !errors.Is(err, ErrNeedsVariant) {
		t.Fatalf("master should require a variant, got %v", err)
	}

	media := &manifest.Manifest{Kind: manifest.KindHLS, HLS: &manifest.HLSManifest{
		Media: &model.Rendition{Kind: model.TrackVideo, Segments: seg("s")},
	}}
	set, err := Select(media, false)
	if err != nil || set.Video == nil {
		t.Fatalf("media playlist should yield a video track: %+v %v", set, err)
	}
	var none *model.NoRenditionAvailableError
	if _, err := Select(media, true); !errors.As(err, &none) {
		t.Fatalf("expected NoRenditionAvailableError, got %v", err)
	}
}

func threeVariants() *manifest.HLSManifest {
	return &manifest.HLSManifest{
		Master: true,
		Variants: []manifest.Variant{
			{URI: "https://h/480.m3u8", Width: 854, Height: 480, Bandwidth: 1_874_000, AudioGroup: "aud"},
			{URI: "https://h/1080.m3u8", Width: 1920, Height: 1080, Bandwidth: 6_560_000, AudioGroup: "aud"},
			{URI: "https://h/720.m3u8", Width: 1280, Height: 720, Bandwidth: 3_589_000},
		},
		AudioAlternatives: []manifest.AudioAlternative{
			{URI: "https://h/de.m3u8", GroupID: "aud", Language: "de"},
			{URI: "https://h/en.m3u8", GroupID: "aud", Language: "en", Default: true},
			{URI: "https://h/other.m3u8", GroupID: "other"},
		},
	}
}

func TestVariantsAreNumberedInDeclaredOrder(t *testing.T) {
	opts := Variants(threeVariants())
	if len(opts) != 3 {
		t.Fatalf("expected 3 options, got %d", len(opts))
	}
	if opts[1].Number != 2 || opts[1].Label() != "1920x1080  6560 kbps" {
		t.Fatalf("unexpected option: %+v label=%q", opts[1], opts[1].Label())
	}
	v, err := VariantAt(threeVariants(), 3)
	if err != nil || v.URI != "https://h/720.m3u8" {
		t.Fatalf("VariantAt(3) = %+v, %v", v, err)
	}
	_, err = VariantAt(threeVariants(), 4)
	var none *model.NoRenditionAvailableError
	if !errors.As(err, &none) || !strings.Contains(none.Reason, "out of range (1..3)") {
		t.Fatalf("expected NoRenditionAvailableError for variant 4, got %v", err)
	}
}

func TestBestVariant(t *testing.T) {
	if got := BestVariant(threeVariants()); got != 2 {
		t.Fatalf("got %d want 2", got)
	}
	if got := BestVariant(&manifest.HLSManifest{}); got != 0 {
		t.Fatalf("got %d want 0", got)
	}
}

func TestAudioForPrefersGroupDefault(t *testing.T) {
	hm := threeVariants()
	alt, ok := AudioFor(hm, hm.Variants[0])
	if !ok || alt.Language != "en" {
		t.Fatalf("expected default en alternative, got %+v ok=%v", alt, ok)
	}
	if _, ok := AudioFor(hm, hm.Variants[2]); ok {
		t.Fatalf("variant without group should have no audio alternative")
	}
	def, ok := DefaultAudio(hm)
	if !ok || def.URI != "https://h/en.m3u8" {
		t.Fatalf("unexpected default audio: %+v", def)
	}
}
