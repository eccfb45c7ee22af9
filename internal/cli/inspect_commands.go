package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"mediafetch/internal/config"
	"mediafetch/internal/engine"
	"mediafetch/internal/jobstore"
)

func runProbe(args []string) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	var rt runtimeFlags
	rt.register(fs, true)
	baseURL := fs.String("base-url", "", "override the base URL used to resolve relative segment URLs")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if err := requireArgs(fs, positional, "<manifest_source>"); err != nil {
		return err
	}
	cfg, logger, err := rt.load(fs)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	report, err := engine.New(cfg, logger).Probe(ctx, positional[0], strings.TrimSpace(*baseURL))
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(report)
	}

	fmt.Printf("source: %s\n", report.Source)
	fmt.Printf("kind: %s\n", report.Kind)
	if report.ClipID != "" {
		fmt.Printf("clip_id: %s\n", report.ClipID)
	}
	if report.Title != "" {
		fmt.Printf("title: %s\n", report.Title)
	}
	if report.Live {
		fmt.Println("live: true (playlist has no end marker; only listed segments are fetched)")
	}
	printRenditions("video", report.Video)
	printRenditions("audio", report.Audio)
	if len(report.Variants) > 0 {
		fmt.Println("variants:")
		for _, v := range report.Variants {
			marker := " "
			if v.Number == report.BestVariant {
				marker = "*"
			}
			fmt.Printf(" %s %d) %s  %s\n", marker, v.Number, v.Label(), v.Codecs)
		}
	}
	for _, a := range report.AudioAlternatives {
		fmt.Printf("audio_alternative: group=%s name=%s language=%s default=%t\n", a.GroupID, a.Name, a.Language, a.Default)
	}
	if report.DASHURL != "" {
		fmt.Printf("dash_url: %s\n", report.DASHURL)
	}
	if report.HLSURL != "" {
		fmt.Printf("hls_url: %s\n", report.HLSURL)
	}
	return nil
}

func printRenditions(kind string, rs []engine.RenditionInfo) {
	if len(rs) == 0 {
		return
	}
	fmt.Printf("%s:\n", kind)
	for _, r := range rs {
		marker := " "
		if r.Selected {
			marker = "*"
		}
		size := "size unknown"
		if r.EstimatedBytes > 0 {
			size = "~" + humanize.IBytes(uint64(r.EstimatedBytes))
		}
		fmt.Printf(" %s %s  %s  segments=%d  %s\n", marker, r.Label, r.Codec, r.Segments, size)
	}
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	var rt runtimeFlags
	rt.register(fs, false)
	outputDir := fs.String("output-dir", ".", "directory downloads will be written to")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if err := requireArgs(fs, positional); err != nil {
		return err
	}

	settingsPath := strings.TrimSpace(rt.configPath)
	if settingsPath == "" {
		settingsPath = config.DefaultSettingsPath()
	}
	ffmpeg := config.DefaultFFmpegPath
	if cfg, _, err := rt.load(fs); err == nil {
		ffmpeg = cfg.FFmpegPath
	}

	result := engine.Doctor(engine.DoctorOptions{
		SettingsPath: settingsPath,
		OutputDir:    *outputDir,
		FFmpegPath:   ffmpeg,
	})
	if *jsonOut {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		for _, c := range result.Checks {
			status := okStyle.Render("ok  ")
			if !c.OK {
				status = errorStyle.Render("FAIL")
			}
			fmt.Printf("%s %-18s %s\n", status, c.Name, c.Message)
		}
	}
	if !result.OK {
		return errors.New("doctor found problems")
	}
	return nil
}

func runClean(args []string) error {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	fs.SetOutput(flag.CommandLine.Output())
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if err := requireArgs(fs, positional, "<output_path>"); err != nil {
		return err
	}

	dir, removed, err := jobstore.RemoveJobDir(positional[0])
	if err != nil {
		return err
	}
	if removed {
		fmt.Printf("removed %s\n", dir)
	} else {
		fmt.Printf("nothing to clean (%s does not exist)\n", dir)
	}
	return nil
}
