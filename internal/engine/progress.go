package engine

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"mediafetch/internal/fetch"
	"mediafetch/internal/jobstore"
	"mediafetch/internal/model"
)

// trackProgress draws one byte progress bar per track.
type trackProgress struct {
	bar   *progressbar.ProgressBar
	label string
	total int
	done  atomic.Int64
}

func newTrackProgress(w io.Writer, r *model.Rendition, resumed jobstore.CompletedSet) *trackProgress {
	label := fmt.Sprintf("%s %s", r.Kind, r.Label())
	p := &trackProgress{label: label, total: len(r.Segments)}
	p.done.Store(int64(resumed.Count()))
	p.bar = progressbar.NewOptions64(
		expectedBytes(r),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(150*time.Millisecond),
		progressbar.OptionSetDescription(p.describe()),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
	if n := resumed.Bytes(); n > 0 {
		_ = p.bar.Add64(n)
	}
	return p
}

func (p *trackProgress) AddBytes(n int64) {
	_ = p.bar.Add64(n)
}

func (p *trackProgress) SegmentDone(int) {
	p.done.Add(1)
	p.bar.Describe(p.describe())
}

func (p *trackProgress) Finish() {
	_ = p.bar.Finish()
}

func (p *trackProgress) describe() string {
	return fmt.Sprintf("%s [%d/%d]", p.label, p.done.Load(), p.total)
}

// expectedBytes sums the known segment sizes, or returns -1 so the bar runs
// as a spinner when any size is unknown.
func expectedBytes(r *model.Rendition) int64 {
	var total int64
	for _, s := range r.Segments {
		n := s.ExpectedSize()
		if n <= 0 {
			return -1
		}
		total += n
	}
	if r.Init != nil {
		switch {
		case r.Init.Ref != nil && r.Init.Ref.ExpectedSize() > 0:
			total += r.Init.Ref.ExpectedSize()
		case r.Init.Ref != nil:
			return -1
		}
	}
	return total
}

var _ fetch.Reporter = (*trackProgress)(nil)
