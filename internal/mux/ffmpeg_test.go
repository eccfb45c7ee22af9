package mux

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediafetch/internal/config"
	"mediafetch/internal/model"
)

func installFakeFFmpeg(t *testing.T, script string) string {
	t.Helper()
	fakeBin := filepath.Join(t.TempDir(), "bin")
	if err := os.MkdirAll(fakeBin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fakeBin, "ffmpeg"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", fakeBin+":"+os.Getenv("PATH"))
	return fakeBin
}

func writeTrack(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMuxBothTracksRunsStreamCopy(t *testing.T) {
	installFakeFFmpeg(t, `#!/usr/bin/env bash
set -euo pipefail
for last; do :; done
printf '%s\n' "$*" > "$last"
`)
	work := t.TempDir()
	video := writeTrack(t, work, "video.mp4", "V")
	audio := writeTrack(t, work, "audio.m4a", "A")
	output := filepath.Join(t.TempDir(), "output.mp4")

	res, err := New(config.Default(), nil).Mux(context.Background(), video, audio, output, work)
	if err != nil {
		t.Fatalf("mux failed: %v", err)
	}
	if res.ExitCode != 0 || len(res.Command) == 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	args := string(got)
	for _, want := range []string{"-i " + video, "-i " + audio, "-map 0:v:0", "-map 1:a:0", "-c copy", "-y"} {
		if !strings.Contains(args, want) {
			t.Fatalf("ffmpeg args missing %q: %s", want, args)
		}
	}
	if _, err := os.Stat(filepath.Join(work, "muxed.mp4")); !os.IsNotExist(err) {
		t.Fatalf("temporary mux output should be moved away")
	}
}

func TestMuxSingleTrackMovesWithoutSubprocess(t *testing.T) {
	installFakeFFmpeg(t, `#!/usr/bin/env bash
echo "should not run" >&2
exit 9
`)
	work := t.TempDir()
	audio := writeTrack(t, work, "audio.m4a", "AUDIO")
	output := filepath.Join(t.TempDir(), "output.m4a")

	res, err := New(config.Default(), nil).Mux(context.Background(), "", audio, output, work)
	if err != nil {
		t.Fatalf("single-track mux failed: %v", err)
	}
	if len(res.Command) != 0 {
		t.Fatalf("no command should run: %+v", res)
	}
	got, _ := os.ReadFile(output)
	if string(got) != "AUDIO" {
		t.Fatalf("output content mismatch: %q", got)
	}
	if _, err := os.Stat(audio); !os.IsNotExist(err) {
		t.Fatalf("source should be moved, not copied")
	}
}

func TestMuxFailureCarriesExitCodeAndDiagnostics(t *testing.T) {
	installFakeFFmpeg(t, `#!/usr/bin/env bash
echo "Invalid data found when processing input" >&2
exit 1
`)
	work := t.TempDir()
	video := writeTrack(t, work, "video.mp4", "V")
	audio := writeTrack(t, work, "audio.m4a", "A")
	output := filepath.Join(t.TempDir(), "output.mp4")

	_, err := New(config.Default(), nil).Mux(context.Background(), video, audio, output, work)
	var failed *model.MuxFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected MuxFailedError, got %v", err)
	}
	if failed.ExitCode != 1 || !strings.Contains(failed.Diagnostics, "Invalid data") {
		t.Fatalf("unexpected failure: %+v", failed)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Fatalf("output must not exist after a failed mux")
	}
}

func TestMuxSurvivesOverlongOutputLine(t *testing.T) {
	installFakeFFmpeg(t, `#!/usr/bin/env bash
head -c 2000000 /dev/zero | tr '\0' x >&2
exit 1
`)
	work := t.TempDir()
	video := writeTrack(t, work, "video.mp4", "V")
	audio := writeTrack(t, work, "audio.m4a", "A")
	output := filepath.Join(t.TempDir(), "output.mp4")

	done := make(chan error, 1)
	go func() {
		_, err := New(config.Default(), nil).Mux(context.Background(), video, audio, output, work)
		done <- err
	}()
	var err error
	select {
	case err = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("mux blocked on a stderr line longer than the scanner limit")
	}
	var failed *model.MuxFailedError
	if !errors.As(err, &failed) || failed.ExitCode != 1 {
		t.Fatalf("expected MuxFailedError with exit 1, got %v", err)
	}
}

func TestMuxMissingToolSavesScript(t *testing.T) {
	cfg := config.Default()
	cfg.FFmpegPath = "ffmpeg-not-installed-here"
	work := t.TempDir()
	video := writeTrack(t, work, "video.mp4", "V")
	audio := writeTrack(t, work, "audio.m4a", "A")
	output := filepath.Join(t.TempDir(), "my video.mp4")

	_, err := New(cfg, nil).Mux(context.Background(), video, audio, output, work)
	var missing *model.MuxToolMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MuxToolMissingError, got %v", err)
	}
	script, err := os.ReadFile(missing.ScriptPath)
	if err != nil {
		t.Fatalf("mux script not written: %v", err)
	}
	if !strings.Contains(string(script), "'"+output+"'") {
		t.Fatalf("output path should be shell-quoted in script:\n%s", script)
	}
	if _, err := os.Stat(video); err != nil {
		t.Fatalf("assembled tracks must be kept for a later mux: %v", err)
	}
}

func TestDiagnosticsAreBounded(t *testing.T) {
	var b strings.Builder
	line := strings.Repeat("x", 1000)
	for i := 0; i < 20; i++ {
		appendLimited(&b, line)
	}
	if b.Len() != maxDiagnostics {
		t.Fatalf("got %d bytes want %d", b.Len(), maxDiagnostics)
	}
}

func TestDependencyStatus(t *testing.T) {
	installFakeFFmpeg(t, "#!/bin/sh\nexit 0\n")
	if report := DependencyStatus("ffmpeg"); !report.FFmpegFound || report.FFmpegPath == "" {
		t.Fatalf("fake ffmpeg not found: %+v", report)
	}
	if report := DependencyStatus("ffmpeg-not-installed-here"); report.FFmpegFound {
		t.Fatalf("missing tool reported as found")
	}
}
