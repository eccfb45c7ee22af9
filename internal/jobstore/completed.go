package jobstore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CompletedSet is the resume state of one track, rebuilt from completed.log.
// It is loaded before workers start and only read while they run.
type CompletedSet struct {
	InitSize int64
	Segments map[int]int64
}

func (s CompletedSet) Has(index int) bool {
	_, ok := s.Segments[index]
	return ok
}

func (s CompletedSet) HasInit() bool {
	return s.InitSize >= 0
}

func (s CompletedSet) Count() int {
	return len(s.Segments)
}

func (s CompletedSet) Bytes() int64 {
	var total int64
	for _, n := range s.Segments {
		total += n
	}
	if s.InitSize > 0 {
		total += s.InitSize
	}
	return total
}

func emptyCompletedSet() CompletedSet {
	return CompletedSet{InitSize: -1, Segments: map[int]int64{}}
}

// LoadCompleted reads the completion log of a track directory. A record only
// counts when its file is still present with the recorded size; a torn final
// line from a crash is ignored.
func LoadCompleted(trackDir string) (CompletedSet, error) {
	set := emptyCompletedSet()
	f, err := os.Open(filepath.Join(trackDir, completedLogName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return set, nil
		}
		return set, fmt.Errorf("open completion log in %s: %w", trackDir, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		switch {
		case len(fields) == 2 && fields[0] == "init":
			size, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil || size < 0 {
				continue
			}
			if fileHasSize(InitPath(trackDir), size) {
				set.InitSize = size
			}
		case len(fields) == 3 && fields[0] == "seg":
			index, errI := strconv.Atoi(fields[1])
			size, errS := strconv.ParseInt(fields[2], 10, 64)
			if errI != nil || errS != nil || index < 0 || size < 0 {
				continue
			}
			if fileHasSize(SegmentPath(trackDir, index), size) {
				set.Segments[index] = size
			} else {
				delete(set.Segments, index)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return set, fmt.Errorf("read completion log in %s: %w", trackDir, err)
	}
	return set, nil
}

func fileHasSize(path string, size int64) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Size() == size
}

// CompletedLog appends one line per finished segment. Every record goes out in
// a single write on an O_APPEND descriptor, so concurrent workers never
// interleave partial lines.
type CompletedLog struct {
	f *os.File
}

func OpenCompletedLog(trackDir string) (*CompletedLog, error) {
	if err := Mkdir(trackDir); err != nil {
		return nil, err
	}
	path := filepath.Join(trackDir, completedLogName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open completion log %s: %w", path, err)
	}
	return &CompletedLog{f: f}, nil
}

func (l *CompletedLog) RecordSegment(index int, size int64) error {
	return l.write("seg " + strconv.Itoa(index) + " " + strconv.FormatInt(size, 10) + "\n")
}

func (l *CompletedLog) RecordInit(size int64) error {
	return l.write("init " + strconv.FormatInt(size, 10) + "\n")
}

func (l *CompletedLog) write(record string) error {
	if _, err := l.f.Write([]byte(record)); err != nil {
		return fmt.Errorf("append completion record: %w", err)
	}
	return nil
}

func (l *CompletedLog) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}
