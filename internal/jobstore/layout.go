package jobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediafetch/internal/model"
)

const (
	jobDirSuffix     = ".parts"
	jobFileName      = "job.json"
	trackFileName    = "track.json"
	completedLogName = "completed.log"
	initFileName     = "init.bin"
	muxScriptName    = "mux.sh"
	partSuffix       = ".part"
)

// JobDirFor derives the temp directory for an output file. The same output
// path always maps to the same directory so an interrupted run can resume.
func JobDirFor(outputPath string) (string, error) {
	trimmed := strings.TrimSpace(outputPath)
	if trimmed == "" {
		return "", fmt.Errorf("output path is required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve output path %s: %w", trimmed, err)
	}
	base := filepath.Base(abs)
	if base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("output path %s does not name a file", trimmed)
	}
	return filepath.Join(filepath.Dir(abs), "."+base+jobDirSuffix), nil
}

func TrackDir(jobDir string, kind model.TrackKind) string {
	return filepath.Join(jobDir, string(kind))
}

func SegmentPath(trackDir string, index int) string {
	return filepath.Join(trackDir, fmt.Sprintf("seg_%05d.bin", index))
}

func InitPath(trackDir string) string {
	return filepath.Join(trackDir, initFileName)
}

func PartPath(finalPath string) string {
	return finalPath + partSuffix
}

func AssembledPath(trackDir string, r *model.Rendition) string {
	ext := strings.TrimPrefix(strings.TrimSpace(r.Container), ".")
	if ext == "" {
		ext = "bin"
	}
	return filepath.Join(trackDir, string(r.Kind)+"."+ext)
}

func MuxScriptPath(jobDir string) string {
	return filepath.Join(jobDir, muxScriptName)
}

func JobPath(jobDir string) string {
	return filepath.Join(jobDir, jobFileName)
}

// LoadJob returns the persisted job, or ok=false when the directory has none yet.
func LoadJob(jobDir string) (model.Job, bool, error) {
	var job model.Job
	if err := ReadJSON(JobPath(jobDir), &job); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Job{}, false, nil
		}
		return model.Job{}, false, err
	}
	return job, true, nil
}

func SaveJob(jobDir string, job model.Job) error {
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return WriteJSON(JobPath(jobDir), job)
}

// RemoveJobDir deletes the temp directory of an output unless a download
// currently holds its lock.
func RemoveJobDir(outputPath string) (string, bool, error) {
	jobDir, err := JobDirFor(outputPath)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(jobDir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return jobDir, false, nil
		}
		return jobDir, false, fmt.Errorf("stat %s: %w", jobDir, err)
	}
	lock, err := AcquireJobLock(jobDir, "")
	if err != nil {
		return jobDir, false, err
	}
	_ = lock.Release()
	if err := os.RemoveAll(jobDir); err != nil {
		return jobDir, false, fmt.Errorf("remove %s: %w", jobDir, err)
	}
	return jobDir, true, nil
}
