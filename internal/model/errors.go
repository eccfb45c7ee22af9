package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type ManifestFormatError struct {
	Reason string
	Err    error
}

func (e *ManifestFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unrecognized manifest: %s: %v", e.Reason, e.Err)
	}
	return "unrecognized manifest: " + e.Reason
}

func (e *ManifestFormatError) Unwrap() error { return e.Err }

type ManifestEmptyError struct {
	Dialect string
}

func (e *ManifestEmptyError) Error() string {
	return fmt.Sprintf("%s manifest has no usable renditions", e.Dialect)
}

type NoRenditionAvailableError struct {
	Kind   TrackKind
	Reason string
}

func (e *NoRenditionAvailableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("no %s rendition available: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("no %s rendition available", e.Kind)
}

// SegmentFetchError is the terminal failure of one segment after all
// retries were spent. Index is -1 for the init segment.
type SegmentFetchError struct {
	Index      int
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *SegmentFetchError) Error() string {
	var b strings.Builder
	if e.Index < 0 {
		fmt.Fprintf(&b, "init segment failed after %d attempt(s)", e.Attempts)
	} else {
		fmt.Fprintf(&b, "segment %d failed after %d attempt(s)", e.Index, e.Attempts)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *SegmentFetchError) Unwrap() error { return e.Err }

type IncompleteSegmentSetError struct {
	Kind     TrackKind
	Missing  []int
	Failures []*SegmentFetchError
}

func (e *IncompleteSegmentSetError) Error() string {
	missing := append([]int(nil), e.Missing...)
	sort.Ints(missing)
	shown := missing
	if len(shown) > 20 {
		shown = shown[:20]
	}
	idx := make([]string, 0, len(shown))
	for _, i := range shown {
		idx = append(idx, strconv.Itoa(i))
	}
	msg := fmt.Sprintf("%s track incomplete: %d segment(s) missing [%s", e.Kind, len(missing), strings.Join(idx, ", "))
	if len(missing) > len(shown) {
		msg += ", ..."
	}
	msg += "]"
	if len(e.Failures) > 0 {
		msg += "; first failure: " + e.Failures[0].Error()
	}
	return msg
}

type MuxToolMissingError struct {
	Tool       string
	ScriptPath string
	Err        error
}

func (e *MuxToolMissingError) Error() string {
	msg := fmt.Sprintf("mux tool %q not found on PATH", e.Tool)
	if e.ScriptPath != "" {
		msg += fmt.Sprintf(" (mux command saved to %s)", e.ScriptPath)
	}
	return msg
}

func (e *MuxToolMissingError) Unwrap() error { return e.Err }

type MuxFailedError struct {
	ExitCode    int
	Command     string
	Diagnostics string
	Err         error
}

func (e *MuxFailedError) Error() string {
	msg := fmt.Sprintf("mux failed with exit code %d", e.ExitCode)
	if d := strings.TrimSpace(e.Diagnostics); d != "" {
		msg += "\n" + d
	}
	return msg
}

func (e *MuxFailedError) Unwrap() error { return e.Err }
