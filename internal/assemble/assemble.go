package assemble

import (
	"fmt"
	"io"
	"os"

	"mediafetch/internal/jobstore"
	"mediafetch/internal/model"
)

// Assemble concatenates the init segment and every segment of r, in index
// order, into the track's elementary file and returns its path. Every index
// must be present in completed with a file of the recorded size.
func Assemble(trackDir string, r *model.Rendition, completed jobstore.CompletedSet) (string, error) {
	var missing []int
	for i := range r.Segments {
		if !completed.Has(i) {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		return "", &model.IncompleteSegmentSetError{Kind: r.Kind, Missing: missing}
	}
	if r.Init != nil && r.Init.Ref != nil && len(r.Init.Data) == 0 && !completed.HasInit() {
		return "", &model.IncompleteSegmentSetError{Kind: r.Kind, Failures: []*model.SegmentFetchError{{Index: -1, URL: r.Init.Ref.URL, Err: fmt.Errorf("init segment not downloaded")}}}
	}

	dst := jobstore.AssembledPath(trackDir, r)
	err := jobstore.WriteStream(dst, func(w io.Writer) error {
		switch {
		case r.Init != nil && len(r.Init.Data) > 0:
			if _, err := w.Write(r.Init.Data); err != nil {
				return fmt.Errorf("write init segment: %w", err)
			}
		case r.Init != nil && r.Init.Ref != nil:
			if err := appendFile(w, jobstore.InitPath(trackDir), completed.InitSize); err != nil {
				return &model.IncompleteSegmentSetError{Kind: r.Kind, Failures: []*model.SegmentFetchError{{Index: -1, URL: r.Init.Ref.URL, Err: err}}}
			}
		}
		for i := range r.Segments {
			if err := appendFile(w, jobstore.SegmentPath(trackDir, i), completed.Segments[i]); err != nil {
				return &model.IncompleteSegmentSetError{Kind: r.Kind, Missing: []int{i}, Failures: []*model.SegmentFetchError{{Index: i, URL: r.Segments[i].URL, Err: err}}}
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("assemble %s track: %w", r.Kind, err)
	}
	return dst, nil
}

// appendFile copies src into dst and checks that exactly want bytes came out.
func appendFile(dst io.Writer, src string, want int64) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := io.Copy(dst, f)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if n != want {
		return fmt.Errorf("%s holds %d bytes, expected %d", src, n, want)
	}
	return nil
}
