package mux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alessio/shellescape"

	"mediafetch/internal/config"
	"mediafetch/internal/jobstore"
	"mediafetch/internal/logging"
	"mediafetch/internal/model"
)

const maxDiagnostics = 8192

type DependencyReport struct {
	FFmpegFound bool   `json:"ffmpeg_found"`
	FFmpegPath  string `json:"ffmpeg_path,omitempty"`
}

func DependencyStatus(bin string) DependencyReport {
	report := DependencyReport{}
	if path, err := exec.LookPath(bin); err == nil {
		report.FFmpegFound = true
		report.FFmpegPath = path
	}
	return report
}

// Result describes one run of the external tool. A single-track mux moves
// the file and leaves Command empty.
type Result struct {
	ExitCode    int      `json:"exit_code"`
	Command     []string `json:"command,omitempty"`
	Diagnostics string   `json:"diagnostics,omitempty"`
}

type Muxer struct {
	bin    string
	logger *slog.Logger
}

func New(cfg config.Config, logger *slog.Logger) *Muxer {
	bin := strings.TrimSpace(cfg.FFmpegPath)
	if bin == "" {
		bin = config.DefaultFFmpegPath
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Muxer{bin: bin, logger: logging.WithComponent(logger, "mux")}
}

// Mux produces output from the elementary files. With both tracks it runs a
// stream copy into workDir and moves the result; with one track it only
// moves the file. Output is never touched until the final move.
func (m *Muxer) Mux(ctx context.Context, video, audio, output, workDir string) (Result, error) {
	switch {
	case video == "" && audio == "":
		return Result{}, fmt.Errorf("nothing to mux: no assembled tracks")
	case video == "" || audio == "":
		src := video
		if src == "" {
			src = audio
		}
		if err := jobstore.MoveFile(src, output); err != nil {
			return Result{}, err
		}
		m.logger.Info("track moved to output", "output", output)
		return Result{}, nil
	}

	if _, err := exec.LookPath(m.bin); err != nil {
		script := jobstore.MuxScriptPath(workDir)
		if werr := writeScript(script, m.command(video, audio, output)); werr != nil {
			m.logger.Warn("could not save mux command", "path", script, "err", werr)
			script = ""
		}
		return Result{}, &model.MuxToolMissingError{Tool: m.bin, ScriptPath: script, Err: err}
	}

	ext := filepath.Ext(output)
	if ext == "" {
		ext = ".mp4"
	}
	tmp := filepath.Join(workDir, "muxed"+ext)
	_ = os.Remove(tmp)
	res, err := m.Run(ctx, muxArgs(video, audio, tmp))
	if err != nil {
		_ = os.Remove(tmp)
		return res, err
	}
	if err := jobstore.MoveFile(tmp, output); err != nil {
		return res, err
	}
	m.logger.Info("muxed", "output", output)
	return res, nil
}

func muxArgs(video, audio, out string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c", "copy",
		out,
	}
}

func (m *Muxer) command(video, audio, output string) []string {
	return append([]string{m.bin}, muxArgs(video, audio, output)...)
}

// Run executes the tool once and waits for it. stdout and stderr are kept up
// to 8 KiB each for diagnostics.
func (m *Muxer) Run(ctx context.Context, args []string) (Result, error) {
	res := Result{Command: append([]string{m.bin}, args...)}
	quoted := shellescape.QuoteCommand(res.Command)
	m.logger.Debug("running", "command", quoted)

	cmd := exec.CommandContext(ctx, m.bin, args...)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return res, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return res, fmt.Errorf("setup stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return res, &model.MuxToolMissingError{Tool: m.bin, Err: err}
		}
		return res, fmt.Errorf("start %s: %w", m.bin, err)
	}

	var outBuf, errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup
	read := func(b *strings.Builder, r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			mu.Lock()
			appendLimited(b, scanner.Text())
			mu.Unlock()
		}
		// A line past the scanner limit ends Scan early; keep the pipe
		// drained so the tool never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, r)
	}
	wg.Add(2)
	go read(&outBuf, stdoutPipe)
	go read(&errBuf, stderrPipe)
	wg.Wait()

	waitErr := cmd.Wait()
	res.Diagnostics = strings.TrimSpace(strings.TrimSpace(errBuf.String()) + "\n" + strings.TrimSpace(outBuf.String()))
	if waitErr == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	res.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	return res, &model.MuxFailedError{
		ExitCode:    res.ExitCode,
		Command:     quoted,
		Diagnostics: res.Diagnostics,
		Err:         waitErr,
	}
}

func appendLimited(b *strings.Builder, line string) {
	if b.Len() >= maxDiagnostics {
		return
	}
	toWrite := line + "\n"
	if remain := maxDiagnostics - b.Len(); len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}

// writeScript saves a runnable copy of the mux command.
func writeScript(path string, command []string) error {
	body := "#!/bin/sh\n# ffmpeg was not found when this download finished; run this script once it is installed.\n" +
		"exec " + shellescape.QuoteCommand(command) + "\n"
	if err := jobstore.WriteBytes(path, []byte(body)); err != nil {
		return err
	}
	return os.Chmod(path, 0o755)
}
