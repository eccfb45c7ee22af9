package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"mediafetch/internal/config"
	"mediafetch/internal/jobstore"
	"mediafetch/internal/logging"
	"mediafetch/internal/model"
)

const initIndex = -1

// Reporter receives progress while a track downloads. Calls come from
// several workers at once and are for display only.
type Reporter interface {
	AddBytes(n int64)
	SegmentDone(index int)
}

type nopReporter struct{}

func (nopReporter) AddBytes(int64)  {}
func (nopReporter) SegmentDone(int) {}

// Fetcher downloads the segments of one rendition into a track directory.
type Fetcher struct {
	client      *http.Client
	connections int
	retries     int
	backoff     time.Duration
	chunkSize   int
	grace       time.Duration
	idle        time.Duration
	logger      *slog.Logger
}

func New(client *http.Client, cfg config.Config, logger *slog.Logger) *Fetcher {
	cfg = config.Normalize(cfg)
	if logger == nil {
		logger = logging.Discard()
	}
	return &Fetcher{
		client:      client,
		connections: cfg.Connections,
		retries:     cfg.Retries,
		backoff:     cfg.RetryBackoff,
		chunkSize:   cfg.ChunkSize,
		grace:       cfg.GracePeriod,
		idle:        cfg.ResponseTimeout,
		logger:      logging.WithComponent(logger, "fetch"),
	}
}

// localError marks disk faults; they stop the whole track instead of being
// retried.
type localError struct{ err error }

func (e *localError) Error() string { return e.err.Error() }
func (e *localError) Unwrap() error { return e.err }

// errAborted means the attempt was cut off by cancellation, not by the server.
var errAborted = errors.New("fetch aborted")

// errStalled means the server sent nothing for the idle timeout. The attempt
// is retried like any other network fault.
var errStalled = errors.New("response stalled")

// Fetch downloads every segment of r that trackDir does not already hold.
// Segments recorded in the completion log are skipped without a request.
// Failed segments do not stop the others; they are reported together as an
// IncompleteSegmentSetError. After ctx is cancelled no new segment starts and
// requests in flight get the grace period to finish.
func (f *Fetcher) Fetch(ctx context.Context, r *model.Rendition, trackDir string, rep Reporter) (model.FetchResult, error) {
	var result model.FetchResult
	if rep == nil {
		rep = nopReporter{}
	}
	logger := logging.WithContext(ctx, f.logger).With("track", string(r.Kind))

	completed, err := jobstore.LoadCompleted(trackDir)
	if err != nil {
		return result, err
	}
	clog, err := jobstore.OpenCompletedLog(trackDir)
	if err != nil {
		return result, err
	}
	defer clog.Close()

	pending := make([]int, 0, len(r.Segments))
	for i := range r.Segments {
		if completed.Has(i) {
			result.SegmentsSkipped++
			continue
		}
		pending = append(pending, i)
	}
	if result.SegmentsSkipped > 0 {
		logger.Info("resuming track", "skipped", result.SegmentsSkipped, "pending", len(pending))
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	// Requests outlive ctx by the grace period so a segment that is nearly
	// done can still land.
	reqCtx, cancelReq := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelReq()
	graceDone := make(chan struct{})
	defer close(graceDone)
	stopGrace := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(f.grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancelReq()
		case <-graceDone:
		}
	})
	defer stopGrace()

	var written atomic.Int64

	var failures []*model.SegmentFetchError
	var failMu sync.Mutex
	fail := func(e *model.SegmentFetchError) {
		failMu.Lock()
		failures = append(failures, e)
		failMu.Unlock()
		logger.Warn("segment failed", "index", e.Index, "attempts", e.Attempts, "status", e.StatusCode, "err", e.Err)
	}

	if r.Init != nil && r.Init.Ref != nil && !completed.HasInit() {
		n, ferr := f.fetchWithRetry(ctx, reqCtx, logger, initIndex, *r.Init.Ref, jobstore.InitPath(trackDir), rep)
		var segErr *model.SegmentFetchError
		switch {
		case ferr == nil:
			if err := clog.RecordInit(n); err != nil {
				return result, err
			}
			written.Add(n)
		case errors.As(ferr, &segErr):
			fail(segErr)
		case errors.Is(ferr, errAborted):
		default:
			return result, ferr
		}
	}

	var ok atomic.Int64
	g, gctx := errgroup.WithContext(reqCtx)
	indices := make(chan int)
	g.Go(func() error {
		defer close(indices)
		for _, i := range pending {
			select {
			case indices <- i:
			case <-ctx.Done():
				return nil
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	workers := min(f.connections, max(len(pending), 1))
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range indices {
				if ctx.Err() != nil || gctx.Err() != nil {
					continue
				}
				path := jobstore.SegmentPath(trackDir, i)
				n, ferr := f.fetchWithRetry(ctx, gctx, logger, i, r.Segments[i], path, rep)
				var segErr *model.SegmentFetchError
				switch {
				case ferr == nil:
					if err := clog.RecordSegment(i, n); err != nil {
						return err
					}
					ok.Add(1)
					written.Add(n)
					rep.SegmentDone(i)
				case errors.As(ferr, &segErr):
					fail(segErr)
				case errors.Is(ferr, errAborted):
				default:
					return ferr
				}
			}
			return nil
		})
	}

	werr := g.Wait()
	result.BytesWritten = written.Load()
	result.SegmentsOK = int(ok.Load())
	sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })
	result.SegmentsFailed = failures

	if werr != nil {
		return result, fmt.Errorf("%s track: %w", r.Kind, werr)
	}
	if err := ctx.Err(); err != nil {
		logger.Info("fetch interrupted", "completed", result.SegmentsOK+result.SegmentsSkipped, "total", len(r.Segments))
		return result, err
	}
	if len(failures) > 0 {
		missing := make([]int, 0, len(failures))
		for _, fe := range failures {
			if fe.Index >= 0 {
				missing = append(missing, fe.Index)
			}
		}
		return result, &model.IncompleteSegmentSetError{Kind: r.Kind, Missing: missing, Failures: failures}
	}

	logger.Info("track fetched", "segments", len(r.Segments), "downloaded", result.SegmentsOK, "skipped", result.SegmentsSkipped, "bytes", result.BytesWritten)
	return result, nil
}

// fetchWithRetry makes up to retries+1 attempts with a linear backoff.
// userCtx decides whether to keep trying; reqCtx bounds each request.
func (f *Fetcher) fetchWithRetry(userCtx, reqCtx context.Context, logger *slog.Logger, index int, ref model.SegmentRef, path string, rep Reporter) (int64, error) {
	attempts := f.retries + 1
	var lastErr error
	var lastStatus int
	for attempt := 1; attempt <= attempts; attempt++ {
		n, status, err := f.fetchOnce(reqCtx, ref, path, rep)
		if err == nil {
			return n, nil
		}
		var local *localError
		if errors.As(err, &local) {
			return 0, local.err
		}
		if userCtx.Err() != nil || reqCtx.Err() != nil {
			return 0, errAborted
		}
		lastErr, lastStatus = err, status
		if attempt < attempts {
			logger.Debug("segment attempt failed", "index", index, "attempt", attempt, "status", status, "err", err)
			if sleepCtx(userCtx, time.Duration(attempt)*f.backoff) != nil {
				return 0, errAborted
			}
		}
	}
	return 0, &model.SegmentFetchError{
		Index:      index,
		URL:        ref.URL,
		Attempts:   attempts,
		StatusCode: lastStatus,
		Err:        lastErr,
	}
}

// fetchOnce streams one response into <path>.part and renames it into place
// once the byte count checks out.
func (f *Fetcher) fetchOnce(ctx context.Context, ref model.SegmentRef, path string, rep Reporter) (int64, int, error) {
	// Each attempt has its own context so an idle deadline can end it
	// without touching ctx. The deadline restarts after every read.
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var stalled atomic.Bool
	idle := time.AfterFunc(f.idle, func() {
		stalled.Store(true)
		cancel()
	})
	defer idle.Stop()
	stallErr := func(err error) error {
		if stalled.Load() {
			return fmt.Errorf("%w: no data for %s", errStalled, f.idle)
		}
		return err
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("build request: %w", err)
	}
	if ref.HasRange() {
		req.Header.Set("Range", ref.RangeHeader())
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, 0, stallErr(err)
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status < 200 || status > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, status, fmt.Errorf("unexpected HTTP status %s", resp.Status)
	}
	if ref.HasRange() && status != http.StatusPartialContent {
		return 0, status, fmt.Errorf("server ignored byte range %s (HTTP %d)", ref.RangeHeader(), status)
	}

	want := ref.ExpectedSize()
	if want == 0 && resp.ContentLength > 0 {
		want = resp.ContentLength
	}

	part := jobstore.PartPath(path)
	out, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, status, &localError{fmt.Errorf("create %s: %w", part, err)}
	}
	discard := func() { _ = out.Close(); _ = os.Remove(part) }

	buf := make([]byte, f.chunkSize)
	var written int64
	for {
		nr, rerr := resp.Body.Read(buf)
		if nr > 0 {
			idle.Reset(f.idle)
			nw, werr := out.Write(buf[:nr])
			written += int64(nw)
			rep.AddBytes(int64(nw))
			if werr != nil {
				discard()
				return 0, status, &localError{fmt.Errorf("write %s: %w", part, werr)}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			discard()
			return 0, status, fmt.Errorf("read body: %w", stallErr(rerr))
		}
	}
	if want > 0 && written != want {
		discard()
		return 0, status, fmt.Errorf("size mismatch: got %d bytes want %d", written, want)
	}

	if err := out.Sync(); err != nil {
		discard()
		return 0, status, &localError{fmt.Errorf("sync %s: %w", part, err)}
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(part)
		return 0, status, &localError{fmt.Errorf("close %s: %w", part, err)}
	}
	if err := os.Rename(part, path); err != nil {
		_ = os.Remove(part)
		return 0, status, &localError{fmt.Errorf("rename %s: %w", part, err)}
	}
	return written, status, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
