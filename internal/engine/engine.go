package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediafetch/internal/assemble"
	"mediafetch/internal/config"
	"mediafetch/internal/fetch"
	"mediafetch/internal/jobstore"
	"mediafetch/internal/logging"
	"mediafetch/internal/manifest"
	"mediafetch/internal/model"
	"mediafetch/internal/mux"
)

type Options struct {
	Source    string
	Output    string
	AudioOnly bool
	BaseURL   string
	Variant   int
	Chooser   VariantChooser
	Cleanup   bool
	Progress  bool
	// ProgressWriter defaults to stderr.
	ProgressWriter io.Writer
}

type TrackSummary struct {
	Kind       model.TrackKind `json:"kind"`
	Label      string          `json:"label"`
	Segments   int             `json:"segments"`
	Downloaded int             `json:"downloaded"`
	Skipped    int             `json:"skipped"`
	Bytes      int64           `json:"bytes"`
	Reset      bool            `json:"reset,omitempty"`
}

type Result struct {
	SessionID    string         `json:"session_id"`
	Output       string         `json:"output"`
	JobDir       string         `json:"job_dir"`
	ManifestKind manifest.Kind  `json:"manifest_kind"`
	Variant      int            `json:"variant,omitempty"`
	Tracks       []TrackSummary `json:"tracks"`
	Mux          mux.Result     `json:"mux"`
	BytesWritten int64          `json:"bytes_written"`
	Duration     time.Duration  `json:"duration_ns"`
	CleanedUp    bool           `json:"cleaned_up,omitempty"`
}

// Engine runs Parser -> Selector -> Fetcher -> Assembler -> Muxer for one
// output. It holds no per-download state and can be reused.
type Engine struct {
	cfg     config.Config
	client  *http.Client
	fetcher *fetch.Fetcher
	muxer   *mux.Muxer
	logger  *slog.Logger
}

func New(cfg config.Config, logger *slog.Logger) *Engine {
	cfg = config.Normalize(cfg)
	if logger == nil {
		logger = logging.Discard()
	}
	client := fetch.NewClient(cfg)
	return &Engine{
		cfg:     cfg,
		client:  client,
		fetcher: fetch.New(client, cfg, logger),
		muxer:   mux.New(cfg, logger),
		logger:  logging.WithComponent(logger, "engine"),
	}
}

func (e *Engine) Config() config.Config { return e.cfg }

// Run downloads opts.Source into opts.Output. Interrupted or failed runs
// leave the job directory in place so the same command resumes them.
func (e *Engine) Run(ctx context.Context, opts Options) (Result, error) {
	started := time.Now()
	res := Result{SessionID: uuid.NewString()}
	if strings.TrimSpace(opts.Source) == "" {
		return res, fmt.Errorf("manifest source is required")
	}
	jobDir, err := jobstore.JobDirFor(opts.Output)
	if err != nil {
		return res, err
	}
	res.Output, res.JobDir = opts.Output, jobDir

	ctx = logging.ContextWithSessionID(ctx, res.SessionID)
	logger := logging.WithContext(ctx, e.logger)

	plan, err := e.Resolve(ctx, opts)
	if err != nil {
		return res, err
	}
	res.ManifestKind, res.Variant = plan.Manifest.Kind, plan.Variant
	tracks := plan.Set.Tracks()
	for _, r := range tracks {
		logger.Info("rendition selected", "kind", string(r.Kind), "label", r.Label(), "segments", len(r.Segments))
	}

	lock, err := jobstore.AcquireJobLock(jobDir, res.SessionID)
	if err != nil {
		return res, err
	}
	defer func() { _ = lock.Release() }()

	job, err := e.openJob(jobDir, res.SessionID, opts)
	if err != nil {
		return res, err
	}
	fail := func(cause error) error {
		reason := "error"
		if errors.Is(cause, context.Canceled) {
			reason = "interrupted"
		}
		if terr := model.TransitionJobPhase(&job, model.PhaseFailed, reason); terr == nil {
			if serr := jobstore.SaveJob(jobDir, job); serr != nil {
				logger.Warn("could not persist job state", "err", serr)
			}
		}
		return cause
	}

	assembled := map[model.TrackKind]string{}
	job.Tracks = make([]model.TrackState, 0, len(tracks))
	for _, r := range tracks {
		trackDir, reset, err := jobstore.PrepareTrack(jobDir, r)
		if err != nil {
			return res, fail(err)
		}
		if reset {
			logger.Info("rendition changed since the last run; previous segments discarded", "kind", string(r.Kind))
		}
		if err := e.advance(jobDir, &job, model.PhaseFetching, string(r.Kind)); err != nil {
			return res, fail(err)
		}

		resumed, err := jobstore.LoadCompleted(trackDir)
		if err != nil {
			return res, fail(err)
		}
		var rep fetch.Reporter
		var bar *trackProgress
		if opts.Progress {
			w := opts.ProgressWriter
			if w == nil {
				w = os.Stderr
			}
			bar = newTrackProgress(w, r, resumed)
			rep = bar
		}

		fr, ferr := e.fetcher.Fetch(ctx, r, trackDir, rep)
		if bar != nil && ferr == nil {
			bar.Finish()
		}
		summary := TrackSummary{
			Kind:       r.Kind,
			Label:      r.Label(),
			Segments:   len(r.Segments),
			Downloaded: fr.SegmentsOK,
			Skipped:    fr.SegmentsSkipped,
			Bytes:      fr.BytesWritten,
			Reset:      reset,
		}
		res.Tracks = append(res.Tracks, summary)
		res.BytesWritten += fr.BytesWritten
		job.Tracks = append(job.Tracks, model.TrackState{
			Kind:         r.Kind,
			RenditionID:  r.ID,
			Label:        r.Label(),
			Fingerprint:  jobstore.Fingerprint(r),
			Segments:     len(r.Segments),
			Completed:    fr.SegmentsOK + fr.SegmentsSkipped,
			BytesWritten: fr.BytesWritten,
			Failed:       fr.FailedIndices(),
		})
		if ferr != nil {
			return res, fail(ferr)
		}
		if err := e.advance(jobDir, &job, model.PhaseFetched, string(r.Kind)); err != nil {
			return res, fail(err)
		}
	}

	for _, r := range tracks {
		trackDir := jobstore.TrackDir(jobDir, r.Kind)
		completed, err := jobstore.LoadCompleted(trackDir)
		if err != nil {
			return res, fail(err)
		}
		path, err := assemble.Assemble(trackDir, r, completed)
		if err != nil {
			return res, fail(err)
		}
		assembled[r.Kind] = path
		logger.Debug("track assembled", "kind", string(r.Kind), "path", path)
	}
	if err := e.advance(jobDir, &job, model.PhaseAssembled, ""); err != nil {
		return res, fail(err)
	}

	mr, err := e.muxer.Mux(ctx, assembled[model.TrackVideo], assembled[model.TrackAudio], opts.Output, jobDir)
	res.Mux = mr
	if err != nil {
		return res, fail(err)
	}
	if err := e.advance(jobDir, &job, model.PhaseCompleted, ""); err != nil {
		return res, err
	}
	res.Duration = time.Since(started)
	logger.Info("download complete", "output", opts.Output, "bytes", res.BytesWritten, "duration", res.Duration.Round(time.Millisecond))

	if opts.Cleanup {
		_ = lock.Release()
		if err := os.RemoveAll(jobDir); err != nil {
			logger.Warn("could not remove job directory", "dir", jobDir, "err", err)
		} else {
			res.CleanedUp = true
		}
	}
	return res, nil
}

// openJob loads job.json or starts a new one. A phase left behind by a
// crashed process is marked failed before the job resumes.
func (e *Engine) openJob(jobDir, sessionID string, opts Options) (model.Job, error) {
	job, found, err := jobstore.LoadJob(jobDir)
	if err != nil {
		return model.Job{}, err
	}
	if !found || !model.IsKnownPhase(job.Phase) {
		job = model.Job{CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	}
	switch job.Phase {
	case model.PhaseResolved, model.PhaseFetching, model.PhaseFetched, model.PhaseAssembled:
		if err := model.TransitionJobPhase(&job, model.PhaseFailed, "stale"); err != nil {
			return model.Job{}, err
		}
	}
	if job.Phase != "" {
		e.logger.Info("resuming job", "previous_phase", job.Phase, "previous_session", job.SessionID)
	}
	job.SessionID = sessionID
	job.Source = opts.Source
	job.Output = opts.Output
	job.AudioOnly = opts.AudioOnly
	if err := model.TransitionJobPhase(&job, model.PhaseResolved, ""); err != nil {
		return model.Job{}, err
	}
	if err := jobstore.SaveJob(jobDir, job); err != nil {
		return model.Job{}, err
	}
	return job, nil
}

func (e *Engine) advance(jobDir string, job *model.Job, phase, reason string) error {
	if err := model.TransitionJobPhase(job, phase, reason); err != nil {
		return err
	}
	return jobstore.SaveJob(jobDir, *job)
}
