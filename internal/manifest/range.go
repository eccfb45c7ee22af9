package manifest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"mediafetch/internal/model"
)

type rangeDoc struct {
	ClipID  string        `json:"clip_id"`
	BaseURL string        `json:"base_url"`
	Video   []rangeStream `json:"video"`
	Audio   []rangeStream `json:"audio"`
}

type rangeStream struct {
	ID             string         `json:"id"`
	BaseURL        string         `json:"base_url"`
	URL            string         `json:"url"`
	MimeType       string         `json:"mime_type"`
	Codecs         string         `json:"codecs"`
	Bitrate        float64        `json:"bitrate"`
	AvgBitrate     float64        `json:"avg_bitrate"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	InitSegment    string         `json:"init_segment"`
	InitSegmentURL string         `json:"init_segment_url"`
	Segments       []rangeSegment `json:"segments"`
}

// rangeSegment accepts either an object ({"url": ..., "size": ...} with an
// optional "range": "a-b") or a bare [offset, length] pair.
type rangeSegment struct {
	URL    string
	Size   int64
	Offset int64
	Length int64
}

func (s *rangeSegment) UnmarshalJSON(data []byte) error {
	t := bytes.TrimSpace(data)
	if len(t) > 0 && t[0] == '[' {
		var pair []int64
		if err := json.Unmarshal(t, &pair); err != nil {
			return fmt.Errorf("segment byte range: %w", err)
		}
		if len(pair) != 2 || pair[0] < 0 || pair[1] <= 0 {
			return fmt.Errorf("segment byte range must be [offset, length], got %v", pair)
		}
		s.Offset, s.Length = pair[0], pair[1]
		return nil
	}

	var obj struct {
		URL    string `json:"url"`
		Size   int64  `json:"size"`
		Range  string `json:"range"`
		Offset *int64 `json:"offset"`
		Length int64  `json:"length"`
	}
	if err := json.Unmarshal(t, &obj); err != nil {
		return err
	}
	s.URL = obj.URL
	s.Size = obj.Size
	switch {
	case strings.TrimSpace(obj.Range) != "":
		off, length, err := parseByteRange(obj.Range)
		if err != nil {
			return err
		}
		s.Offset, s.Length = off, length
	case obj.Length > 0:
		if obj.Offset != nil {
			s.Offset = *obj.Offset
		}
		s.Length = obj.Length
	}
	return nil
}

// parseByteRange reads an inclusive "start-end" range.
func parseByteRange(raw string) (int64, int64, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid byte range %q", raw)
	}
	a, errA := strconv.ParseInt(strings.TrimSpace(start), 10, 64)
	b, errB := strconv.ParseInt(strings.TrimSpace(end), 10, 64)
	if errA != nil || errB != nil || a < 0 || b < a {
		return 0, 0, fmt.Errorf("invalid byte range %q", raw)
	}
	return a, b - a + 1, nil
}

func parseRange(data []byte, base *url.URL) (*RangeManifest, error) {
	var doc rangeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &model.ManifestFormatError{Reason: "invalid range manifest", Err: err}
	}

	top, err := resolve(base, doc.BaseURL)
	if err != nil {
		return nil, err
	}

	out := &RangeManifest{ClipID: doc.ClipID}
	for i, s := range doc.Video {
		r, err := normalizeStream(s, top, model.TrackVideo)
		if err != nil {
			return nil, fmt.Errorf("video[%d]: %w", i, err)
		}
		if len(r.Segments) > 0 {
			out.Video = append(out.Video, r)
		}
	}
	for i, s := range doc.Audio {
		r, err := normalizeStream(s, top, model.TrackAudio)
		if err != nil {
			return nil, fmt.Errorf("audio[%d]: %w", i, err)
		}
		if len(r.Segments) > 0 {
			out.Audio = append(out.Audio, r)
		}
	}
	if len(out.Video) == 0 && len(out.Audio) == 0 {
		return nil, &model.ManifestEmptyError{Dialect: string(KindRange)}
	}
	return out, nil
}

func normalizeStream(s rangeStream, top *url.URL, kind model.TrackKind) (model.Rendition, error) {
	streamBase, err := resolve(top, s.BaseURL)
	if err != nil {
		return model.Rendition{}, err
	}

	bitrate := int64(s.Bitrate)
	if bitrate <= 0 {
		bitrate = int64(s.AvgBitrate)
	}
	r := model.Rendition{
		ID:        s.ID,
		Kind:      kind,
		Width:     s.Width,
		Height:    s.Height,
		Bitrate:   bitrate,
		Codec:     s.Codecs,
		MimeType:  s.MimeType,
		Container: containerFor(kind, s.MimeType),
	}

	if enc := strings.TrimSpace(s.InitSegment); enc != "" {
		blob, err := decodeBase64(enc)
		if err != nil {
			return model.Rendition{}, &model.ManifestFormatError{Reason: "init_segment is not valid base64", Err: err}
		}
		r.Init = &model.InitSegment{Data: blob}
	} else if ref := strings.TrimSpace(s.InitSegmentURL); ref != "" {
		u, err := absolute(streamBase, ref)
		if err != nil {
			return model.Rendition{}, err
		}
		r.Init = &model.InitSegment{Ref: &model.SegmentRef{URL: u}}
	}

	// Byte-range segments without their own url address the stream's single
	// resource: its "url" field or, failing that, its base_url.
	resource := strings.TrimSpace(s.URL)
	r.Segments = make([]model.SegmentRef, 0, len(s.Segments))
	for i, seg := range s.Segments {
		ref := strings.TrimSpace(seg.URL)
		if ref == "" {
			if seg.Length == 0 {
				return model.Rendition{}, &model.ManifestFormatError{Reason: fmt.Sprintf("segment %d has neither url nor byte range", i)}
			}
			ref = resource
		}
		u, err := absolute(streamBase, ref)
		if err != nil {
			return model.Rendition{}, err
		}
		r.Segments = append(r.Segments, model.SegmentRef{
			URL:    u,
			Offset: seg.Offset,
			Length: seg.Length,
			Size:   seg.Size,
		})
	}
	return r, nil
}

func decodeBase64(s string) ([]byte, error) {
	if blob, err := base64.StdEncoding.DecodeString(s); err == nil {
		return blob, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func containerFor(kind model.TrackKind, mime string) string {
	m := strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.Contains(m, "webm"):
		return "webm"
	case kind == model.TrackAudio:
		return "m4a"
	default:
		return "mp4"
	}
}
