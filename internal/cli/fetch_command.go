package cli

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"mediafetch/internal/config"
	"mediafetch/internal/engine"
	"mediafetch/internal/logging"
)

// headerFlags collects repeated --header "Name: value" arguments.
type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(v string) error {
	if _, _, err := config.ParseHeader(v); err != nil {
		return err
	}
	*h = append(*h, v)
	return nil
}

// runtimeFlags are the settings every command that touches the network or
// ffmpeg accepts on top of the settings file and environment.
type runtimeFlags struct {
	configPath  string
	connections int
	retries     int
	referer     string
	userAgent   string
	proxy       string
	headers     headerFlags
	logLevel    string
	logFormat   string
}

func (f *runtimeFlags) register(fs *flag.FlagSet, network bool) {
	fs.StringVar(&f.configPath, "config", "", "settings file path (default "+config.DefaultSettingsPath()+")")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug|info|warn|error")
	fs.StringVar(&f.logFormat, "log-format", "", "log format: text|json")
	if !network {
		return
	}
	fs.IntVar(&f.connections, "connections", 0, fmt.Sprintf("parallel segment requests (default %d)", config.DefaultConnections))
	fs.IntVar(&f.retries, "retries", -1, fmt.Sprintf("extra attempts per segment (default %d)", config.DefaultRetries))
	fs.StringVar(&f.referer, "referer", "", "Referer header sent with every request")
	fs.StringVar(&f.userAgent, "user-agent", "", "User-Agent header sent with every request")
	fs.StringVar(&f.proxy, "proxy", "", "proxy URL (http, https or socks5) for all requests")
	fs.Var(&f.headers, "header", `extra request header "Name: value" (repeatable)`)
}

// load layers defaults < settings file < environment < flags.
func (f *runtimeFlags) load(fs *flag.FlagSet) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(config.LoadOptions{
		SettingsPath: f.configPath,
		DotEnvPaths:  []string{".env"},
	})
	if err != nil {
		return config.Config{}, nil, err
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "connections":
			cfg.Connections = f.connections
		case "retries":
			cfg.Retries = f.retries
		case "referer":
			cfg.Referer = f.referer
		case "user-agent":
			cfg.UserAgent = f.userAgent
		case "proxy":
			cfg.Proxy = f.proxy
		case "log-level":
			cfg.LogLevel = f.logLevel
		case "log-format":
			cfg.LogFormat = f.logFormat
		}
	})
	for _, raw := range f.headers {
		name, value, _ := config.ParseHeader(raw)
		cfg.Headers[name] = value
	}
	cfg = config.Normalize(cfg)
	if _, err := cfg.ProxyURL(); err != nil {
		return config.Config{}, nil, usageErrorf("%v", err)
	}
	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	var rt runtimeFlags
	rt.register(fs, true)
	audioOnly := fs.Bool("audio-only", false, "download only the best audio rendition")
	baseURL := fs.String("base-url", "", "override the base URL used to resolve relative segment URLs")
	variant := fs.Int("variant", 0, "HLS master playlist variant number (1-based); skips the picker")
	cleanup := fs.Bool("cleanup", false, "remove the temp directory after a successful download")
	noProgress := fs.Bool("no-progress", false, "disable progress bars")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintln(out, "Usage: mediafetch [fetch] [flags] <manifest_source> <output_path>")
		fmt.Fprintln(out)
		fs.PrintDefaults()
	}

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if err := requireArgs(fs, positional, "<manifest_source>", "<output_path>"); err != nil {
		return err
	}
	if *variant < 0 {
		return usageErrorf("--variant must be a positive number")
	}

	cfg, logger, err := rt.load(fs)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	opts := engine.Options{
		Source:    positional[0],
		Output:    positional[1],
		AudioOnly: *audioOnly,
		BaseURL:   strings.TrimSpace(*baseURL),
		Variant:   *variant,
		Cleanup:   *cleanup,
		Progress:  !*noProgress && !*jsonOut,
	}
	if *variant == 0 && stdinIsTTY() && !*jsonOut {
		opts.Chooser = pickerChooser{}
	}

	result, err := engine.New(cfg, logger).Run(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "interrupted; rerun the same command to resume")
		}
		return err
	}

	if *jsonOut {
		return printJSON(result)
	}
	printFetchSummary(result)
	return nil
}

func printFetchSummary(r engine.Result) {
	fmt.Println(okStyle.Render("done") + " " + r.Output)
	fmt.Printf("session_id: %s\n", r.SessionID)
	fmt.Printf("manifest: %s\n", r.ManifestKind)
	if r.Variant > 0 {
		fmt.Printf("variant: %d\n", r.Variant)
	}
	for _, t := range r.Tracks {
		fmt.Printf("%s: %s  segments=%d downloaded=%d resumed=%d  %s\n",
			t.Kind, t.Label, t.Segments, t.Downloaded, t.Skipped, humanize.IBytes(uint64(t.Bytes)))
	}
	fmt.Printf("downloaded: %s in %s\n", humanize.IBytes(uint64(r.BytesWritten)), r.Duration.Round(time.Millisecond))
	if r.CleanedUp {
		fmt.Printf("removed temp directory %s\n", r.JobDir)
	} else {
		fmt.Printf("temp directory: %s (remove with 'mediafetch clean %s')\n", r.JobDir, r.Output)
	}
}
