package engine

import (
	"errors"
	"os"
	"strings"

	"mediafetch/internal/config"
	"mediafetch/internal/jobstore"
	"mediafetch/internal/mux"
)

type DoctorOptions struct {
	SettingsPath string
	// OutputDir is where downloads will be written; defaults to the working directory.
	OutputDir  string
	FFmpegPath string
}

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func Doctor(opts DoctorOptions) DoctorResult {
	bin := strings.TrimSpace(opts.FFmpegPath)
	if bin == "" {
		bin = config.DefaultFFmpegPath
	}
	checks := make([]DoctorCheck, 0, 3)

	dep := mux.DependencyStatus(bin)
	checks = append(checks, DoctorCheck{
		Name:    "dependency:ffmpeg",
		OK:      dep.FFmpegFound,
		Message: dependencyMessage(dep.FFmpegFound, dep.FFmpegPath, bin),
	})

	settingsOK, settingsMessage := checkSettings(opts.SettingsPath)
	checks = append(checks, DoctorCheck{
		Name:    "config:settings",
		OK:      settingsOK,
		Message: settingsMessage,
	})

	outDir := strings.TrimSpace(opts.OutputDir)
	if outDir == "" {
		outDir = "."
	}
	dirOK, dirMessage := ensureWritableDir(outDir)
	checks = append(checks, DoctorCheck{
		Name:    "directory:output",
		OK:      dirOK,
		Message: dirMessage,
	})

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return DoctorResult{OK: ok, Checks: checks}
}

func dependencyMessage(ok bool, path, name string) string {
	if ok {
		return name + " found at " + path
	}
	return name + " not found on PATH; two-track downloads will save mux.sh instead of muxing"
}

func checkSettings(path string) (bool, string) {
	p := strings.TrimSpace(path)
	if p == "" {
		return true, "no settings file configured"
	}
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return true, p + " not present; using defaults"
	}
	if _, err := config.ReadSettings(p); err != nil {
		return false, err.Error()
	}
	return true, p + " readable"
}

func ensureWritableDir(path string) (bool, string) {
	if err := jobstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, ".mediafetch-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, path + " writable"
}
