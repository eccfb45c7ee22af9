package jobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	jobLockDirName   = ".lock"
	jobLockOwnerFile = "owner.json"
)

// JobLock keeps a second process from downloading into the same job
// directory. The lock is a directory because Mkdir is atomic everywhere.
type JobLock struct {
	lockDir string
}

type jobLockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// AcquireJobLock takes the job directory's lock. A lock left behind by a
// process on this host that no longer exists is reclaimed once.
func AcquireJobLock(jobDir, sessionID string) (JobLock, error) {
	target := strings.TrimSpace(jobDir)
	if target == "" {
		return JobLock{}, fmt.Errorf("job directory is required")
	}
	if err := Mkdir(target); err != nil {
		return JobLock{}, err
	}

	lockDir := filepath.Join(target, jobLockDirName)
	for attempt := 0; ; attempt++ {
		err := os.Mkdir(lockDir, 0o755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return JobLock{}, fmt.Errorf("acquire job lock for %s: %w", target, err)
		}
		owner, known := readLockOwner(lockDir)
		if attempt == 0 && lockIsStale(lockDir, owner, known) {
			_ = os.Remove(filepath.Join(lockDir, jobLockOwnerFile))
			_ = os.Remove(lockDir)
			continue
		}
		if known {
			return JobLock{}, fmt.Errorf(
				"job directory is locked: %s (pid=%d created_at=%s host=%s session=%s); remove %s if no other download is running",
				target, owner.PID, owner.CreatedAt, owner.Hostname, owner.SessionID, lockDir,
			)
		}
		return JobLock{}, fmt.Errorf("job directory is locked: %s", target)
	}

	owner := jobLockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
		SessionID: sessionID,
	}
	if err := WriteJSON(filepath.Join(lockDir, jobLockOwnerFile), owner); err != nil {
		_ = os.Remove(lockDir)
		return JobLock{}, fmt.Errorf("write job lock owner for %s: %w", target, err)
	}
	return JobLock{lockDir: lockDir}, nil
}

func readLockOwner(lockDir string) (jobLockOwner, bool) {
	var owner jobLockOwner
	if err := ReadJSON(filepath.Join(lockDir, jobLockOwnerFile), &owner); err != nil {
		return jobLockOwner{}, false
	}
	return owner, owner.PID > 0 && owner.CreatedAt != ""
}

// ownerlessLockAge is how long a lock directory may exist without an owner
// file before it counts as abandoned.
const ownerlessLockAge = time.Minute

func lockIsStale(lockDir string, owner jobLockOwner, known bool) bool {
	if !known {
		info, err := os.Stat(lockDir)
		return err == nil && time.Since(info.ModTime()) > ownerlessLockAge
	}
	if owner.Hostname != hostnameOrUnknown() {
		return false
	}
	return !processAlive(owner.PID)
}

// processAlive reports false only when the OS says the pid is gone.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH)
}

func (l JobLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, jobLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release job lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
