package manifest

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	"mediafetch/internal/model"
)

func parseHLS(data []byte, base *url.URL) (*HLSManifest, error) {
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return nil, &model.ManifestFormatError{Reason: "invalid HLS playlist", Err: err}
	}

	switch listType {
	case m3u8.MASTER:
		master, ok := playlist.(*m3u8.MasterPlaylist)
		if !ok {
			return nil, &model.ManifestFormatError{Reason: "unexpected master playlist type"}
		}
		return parseMaster(master, base)
	case m3u8.MEDIA:
		media, ok := playlist.(*m3u8.MediaPlaylist)
		if !ok {
			return nil, &model.ManifestFormatError{Reason: "unexpected media playlist type"}
		}
		return parseMedia(media, base, byteRangeOffsets(data))
	default:
		return nil, &model.ManifestFormatError{Reason: "unknown HLS playlist type"}
	}
}

func parseMaster(master *m3u8.MasterPlaylist, base *url.URL) (*HLSManifest, error) {
	out := &HLSManifest{Master: true}
	seenAudio := map[string]bool{}

	for _, v := range master.Variants {
		if v == nil || v.Iframe || strings.TrimSpace(v.URI) == "" {
			continue
		}
		u, err := absolute(base, v.URI)
		if err != nil {
			return nil, err
		}
		w, h := parseResolution(v.Resolution)
		out.Variants = append(out.Variants, Variant{
			URI:        u,
			Bandwidth:  int64(v.Bandwidth),
			Width:      w,
			Height:     h,
			Codecs:     v.Codecs,
			AudioGroup: v.Audio,
		})

		for _, alt := range v.Alternatives {
			if alt == nil || !strings.EqualFold(alt.Type, "AUDIO") || strings.TrimSpace(alt.URI) == "" {
				continue
			}
			au, err := absolute(base, alt.URI)
			if err != nil {
				return nil, err
			}
			key := alt.GroupId + "|" + au
			if seenAudio[key] {
				continue
			}
			seenAudio[key] = true
			out.AudioAlternatives = append(out.AudioAlternatives, AudioAlternative{
				URI:      au,
				GroupID:  alt.GroupId,
				Name:     alt.Name,
				Language: alt.Language,
				Default:  alt.Default,
			})
		}
	}

	if len(out.Variants) == 0 {
		return nil, &model.ManifestEmptyError{Dialect: "hls master"}
	}
	return out, nil
}

// byteRangeOffsets reports, per segment URI line, whether its
// EXT-X-BYTERANGE tag carried an explicit @offset. The decoder reports a
// missing offset and "@0" alike as zero.
func byteRangeOffsets(data []byte) []bool {
	var out []bool
	explicit := false
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXT-X-BYTERANGE:"):
			explicit = strings.Contains(line, "@")
		case strings.HasPrefix(line, "#"):
		default:
			out = append(out, explicit)
			explicit = false
		}
	}
	return out
}

func parseMedia(media *m3u8.MediaPlaylist, base *url.URL, explicitOffset []bool) (*HLSManifest, error) {
	if encrypted(media.Key) {
		return nil, &model.ManifestFormatError{Reason: "encrypted HLS media (EXT-X-KEY) is not supported"}
	}

	r := model.Rendition{
		Kind:      model.TrackVideo,
		Container: "ts",
		Muxed:     true,
	}

	initMap := media.Map
	var prevURI string
	var prevEnd int64
	// Fall back to guessing from the previous sub-range when the raw scan
	// disagrees with the decoder about the segment count.
	if len(explicitOffset) != int(media.Count()) {
		explicitOffset = nil
	}
	for i, seg := range media.Segments {
		if seg == nil {
			break
		}
		if encrypted(seg.Key) {
			return nil, &model.ManifestFormatError{Reason: "encrypted HLS media (EXT-X-KEY) is not supported"}
		}
		if initMap == nil && seg.Map != nil {
			initMap = seg.Map
		}
		u, err := absolute(base, seg.URI)
		if err != nil {
			return nil, err
		}
		ref := model.SegmentRef{URL: u}
		if seg.Limit > 0 {
			ref.Length = seg.Limit
			ref.Offset = seg.Offset
			// EXT-X-BYTERANGE without @offset continues the previous sub-range.
			hasOffset := ref.Offset != 0
			if explicitOffset != nil {
				hasOffset = explicitOffset[i]
			}
			if !hasOffset && u == prevURI {
				ref.Offset = prevEnd
			}
			prevEnd = ref.Offset + ref.Length
		} else {
			prevEnd = 0
		}
		prevURI = u
		r.Segments = append(r.Segments, ref)
	}

	if initMap != nil && strings.TrimSpace(initMap.URI) != "" {
		u, err := absolute(base, initMap.URI)
		if err != nil {
			return nil, err
		}
		r.Init = &model.InitSegment{Ref: &model.SegmentRef{URL: u, Offset: initMap.Offset, Length: initMap.Limit}}
		r.Container = "mp4"
	}

	if len(r.Segments) == 0 {
		return nil, &model.ManifestEmptyError{Dialect: "hls media"}
	}
	return &HLSManifest{Live: !media.Closed, Media: &r}, nil
}

func encrypted(k *m3u8.Key) bool {
	if k == nil {
		return false
	}
	method := strings.ToUpper(strings.TrimSpace(k.Method))
	return method != "" && method != "NONE"
}

func parseResolution(raw string) (int, int) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "x")
	if !ok {
		return 0, 0
	}
	wi, errW := strconv.Atoi(w)
	hi, errH := strconv.Atoi(h)
	if errW != nil || errH != nil {
		return 0, 0
	}
	return wi, hi
}

// Label renders a variant the way the picker lists it.
func (v Variant) Label() string {
	res := "audio"
	if v.Height > 0 {
		res = fmt.Sprintf("%dx%d", v.Width, v.Height)
	}
	return fmt.Sprintf("%s  %d kbps", res, v.Bandwidth/1000)
}
