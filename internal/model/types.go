package model

import (
	"fmt"
	"strings"
)

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// SegmentRef points at one chunk of media: a whole resource when Length is
// zero, otherwise the byte range [Offset, Offset+Length) of URL.
type SegmentRef struct {
	URL    string `json:"url"`
	Offset int64  `json:"offset,omitempty"`
	Length int64  `json:"length,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

func (r SegmentRef) HasRange() bool {
	return r.Length > 0
}

func (r SegmentRef) RangeHeader() string {
	if !r.HasRange() {
		return ""
	}
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
}

// ExpectedSize is the byte count a complete download must have, or 0 when
// the manifest does not say.
func (r SegmentRef) ExpectedSize() int64 {
	if r.HasRange() {
		return r.Length
	}
	return r.Size
}

// InitSegment holds codec initialization data, either inline or as a
// reference that must be downloaded before assembly.
type InitSegment struct {
	Data []byte      `json:"-"`
	Ref  *SegmentRef `json:"ref,omitempty"`
}

type Rendition struct {
	ID        string       `json:"id,omitempty"`
	Kind      TrackKind    `json:"kind"`
	Width     int          `json:"width,omitempty"`
	Height    int          `json:"height,omitempty"`
	Bitrate   int64        `json:"bitrate,omitempty"`
	Codec     string       `json:"codec,omitempty"`
	MimeType  string       `json:"mime_type,omitempty"`
	Container string       `json:"container,omitempty"`
	Muxed     bool         `json:"muxed,omitempty"`
	Segments  []SegmentRef `json:"segments"`
	Init      *InitSegment `json:"init,omitempty"`
}

func (r Rendition) Label() string {
	parts := make([]string, 0, 4)
	if r.Kind == TrackVideo && r.Height > 0 {
		if r.Width > 0 {
			parts = append(parts, fmt.Sprintf("%dx%d", r.Width, r.Height))
		} else {
			parts = append(parts, fmt.Sprintf("%dp", r.Height))
		}
	}
	if r.Bitrate > 0 {
		parts = append(parts, fmt.Sprintf("%d kbps", r.Bitrate/1000))
	}
	if r.Codec != "" {
		parts = append(parts, r.Codec)
	}
	if len(parts) == 0 {
		parts = append(parts, string(r.Kind))
	}
	return strings.Join(parts, " ")
}

// SelectedSet is the outcome of rendition selection. Either field may be nil.
type SelectedSet struct {
	Video *Rendition
	Audio *Rendition
}

func (s SelectedSet) Tracks() []*Rendition {
	out := make([]*Rendition, 0, 2)
	if s.Video != nil {
		out = append(out, s.Video)
	}
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	return out
}

type FetchResult struct {
	BytesWritten    int64                `json:"bytes_written"`
	SegmentsOK      int                  `json:"segments_ok"`
	SegmentsSkipped int                  `json:"segments_skipped"`
	SegmentsFailed  []*SegmentFetchError `json:"-"`
}

func (r FetchResult) FailedIndices() []int {
	out := make([]int, 0, len(r.SegmentsFailed))
	for _, f := range r.SegmentsFailed {
		out = append(out, f.Index)
	}
	return out
}

// Job is the persisted state of one output file's download.
type Job struct {
	SessionID string       `json:"session_id"`
	Source    string       `json:"source"`
	Output    string       `json:"output"`
	AudioOnly bool         `json:"audio_only,omitempty"`
	Phase     string       `json:"phase"`
	Reason    string       `json:"reason,omitempty"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at,omitempty"`
	Tracks    []TrackState `json:"tracks,omitempty"`
}

type TrackState struct {
	Kind         TrackKind `json:"kind"`
	RenditionID  string    `json:"rendition_id,omitempty"`
	Label        string    `json:"label"`
	Fingerprint  string    `json:"fingerprint"`
	Segments     int       `json:"segments"`
	Completed    int       `json:"completed"`
	BytesWritten int64     `json:"bytes_written"`
	Failed       []int     `json:"failed,omitempty"`
}
