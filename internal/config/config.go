package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is read once at startup and treated as immutable for the run.
type Config struct {
	Connections     int
	Retries         int
	RetryBackoff    time.Duration
	ChunkSize       int
	ResponseTimeout time.Duration
	ManifestTimeout time.Duration
	GracePeriod     time.Duration
	UserAgent       string
	Referer         string
	Headers         map[string]string
	// Proxy is an http(s) or socks5 URL; empty uses the environment proxy.
	Proxy           string
	FFmpegPath      string
	LogLevel        string
	LogFormat       string
}

// Settings is the on-disk JSON shape. Zero values mean "not set".
type Settings struct {
	Connections        int               `json:"connections,omitempty"`
	Retries            *int              `json:"retries,omitempty"`
	RetryBackoffMillis int               `json:"retry_backoff_ms,omitempty"`
	ResponseTimeoutSec int               `json:"response_timeout_seconds,omitempty"`
	GracePeriodSec     int               `json:"grace_period_seconds,omitempty"`
	UserAgent          string            `json:"user_agent,omitempty"`
	Referer            string            `json:"referer,omitempty"`
	Headers            map[string]string `json:"headers,omitempty"`
	Proxy              string            `json:"proxy,omitempty"`
	FFmpegPath         string            `json:"ffmpeg_path,omitempty"`
	LogLevel           string            `json:"log_level,omitempty"`
	LogFormat          string            `json:"log_format,omitempty"`
}

type LoadOptions struct {
	SettingsPath string
	DotEnvPaths  []string
	LookupEnv    func(string) (string, bool)
}

func Default() Config {
	return Config{
		Connections:     DefaultConnections,
		Retries:         DefaultRetries,
		RetryBackoff:    DefaultRetryBackoff,
		ChunkSize:       DefaultChunkSize,
		ResponseTimeout: DefaultResponseTimeout,
		ManifestTimeout: DefaultManifestTimeout,
		GracePeriod:     DefaultGracePeriod,
		UserAgent:       DefaultUserAgent,
		Headers:         map[string]string{},
		FFmpegPath:      DefaultFFmpegPath,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
	}
}

func DefaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || strings.TrimSpace(dir) == "" {
		return filepath.Join(".mediafetch", "settings.json")
	}
	return filepath.Join(dir, "mediafetch", "settings.json")
}

// Load layers defaults, the settings file, and the environment. Flags are
// applied by the caller afterwards, followed by Normalize.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	settingsPath := strings.TrimSpace(opts.SettingsPath)
	if settingsPath == "" {
		settingsPath = DefaultSettingsPath()
	}
	settings, err := ReadSettings(settingsPath)
	if err != nil {
		return Config{}, err
	}
	cfg = cfg.WithSettings(settings)

	if err := loadDotEnv(opts.DotEnvPaths); err != nil {
		return Config{}, err
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg, err = cfg.WithEnv(lookup)
	if err != nil {
		return Config{}, err
	}
	return Normalize(cfg), nil
}

func ReadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
	}
	var s Settings
	if err := decodeStrict(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

func (c Config) WithSettings(s Settings) Config {
	out := c.clone()
	if s.Connections > 0 {
		out.Connections = s.Connections
	}
	if s.Retries != nil {
		out.Retries = *s.Retries
	}
	if s.RetryBackoffMillis > 0 {
		out.RetryBackoff = time.Duration(s.RetryBackoffMillis) * time.Millisecond
	}
	if s.ResponseTimeoutSec > 0 {
		out.ResponseTimeout = time.Duration(s.ResponseTimeoutSec) * time.Second
	}
	if s.GracePeriodSec > 0 {
		out.GracePeriod = time.Duration(s.GracePeriodSec) * time.Second
	}
	if v := strings.TrimSpace(s.UserAgent); v != "" {
		out.UserAgent = v
	}
	if v := strings.TrimSpace(s.Referer); v != "" {
		out.Referer = v
	}
	for k, v := range s.Headers {
		out.Headers[http.CanonicalHeaderKey(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(s.Proxy); v != "" {
		out.Proxy = v
	}
	if v := strings.TrimSpace(s.FFmpegPath); v != "" {
		out.FFmpegPath = v
	}
	if v := strings.TrimSpace(s.LogLevel); v != "" {
		out.LogLevel = v
	}
	if v := strings.TrimSpace(s.LogFormat); v != "" {
		out.LogFormat = v
	}
	return out
}

func (c Config) WithEnv(lookup func(string) (string, bool)) (Config, error) {
	out := c.clone()
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get("CONNECTIONS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %sCONNECTIONS %q", EnvPrefix, v)
		}
		out.Connections = n
	}
	if v, ok := get("RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %sRETRIES %q", EnvPrefix, v)
		}
		out.Retries = n
	}
	if v, ok := get("USER_AGENT"); ok {
		out.UserAgent = v
	}
	if v, ok := get("REFERER"); ok {
		out.Referer = v
	}
	if v, ok := get("PROXY"); ok {
		out.Proxy = v
	}
	if v, ok := get("FFMPEG"); ok {
		out.FFmpegPath = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		out.LogLevel = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		out.LogFormat = v
	}
	return out, nil
}

func Normalize(raw Config) Config {
	norm := raw.clone()
	if norm.Connections <= 0 {
		norm.Connections = DefaultConnections
	}
	if norm.Connections > MaxConnections {
		norm.Connections = MaxConnections
	}
	if norm.Retries < 0 {
		norm.Retries = 0
	}
	if norm.Retries > MaxRetries {
		norm.Retries = MaxRetries
	}
	if norm.RetryBackoff < 0 {
		norm.RetryBackoff = DefaultRetryBackoff
	}
	if norm.ChunkSize <= 0 {
		norm.ChunkSize = DefaultChunkSize
	}
	if norm.ResponseTimeout <= 0 {
		norm.ResponseTimeout = DefaultResponseTimeout
	}
	if norm.ManifestTimeout <= 0 {
		norm.ManifestTimeout = DefaultManifestTimeout
	}
	if norm.GracePeriod < 0 {
		norm.GracePeriod = DefaultGracePeriod
	}
	norm.UserAgent = strings.TrimSpace(norm.UserAgent)
	if norm.UserAgent == "" {
		norm.UserAgent = DefaultUserAgent
	}
	norm.Referer = strings.TrimSpace(norm.Referer)
	norm.Proxy = strings.TrimSpace(norm.Proxy)
	norm.FFmpegPath = strings.TrimSpace(norm.FFmpegPath)
	if norm.FFmpegPath == "" {
		norm.FFmpegPath = DefaultFFmpegPath
	}
	norm.LogLevel = strings.ToLower(strings.TrimSpace(norm.LogLevel))
	if norm.LogLevel == "" {
		norm.LogLevel = DefaultLogLevel
	}
	norm.LogFormat = strings.ToLower(strings.TrimSpace(norm.LogFormat))
	if norm.LogFormat != "json" {
		norm.LogFormat = DefaultLogFormat
	}
	return norm
}

// ProxyURL parses Proxy. It returns nil when no proxy is configured.
func (c Config) ProxyURL() (*url.URL, error) {
	raw := strings.TrimSpace(c.Proxy)
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("invalid proxy %q: scheme must be http, https or socks5", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy %q: missing host", raw)
	}
	return u, nil
}

// ParseHeader splits a "Name: value" flag argument.
func ParseHeader(raw string) (string, string, error) {
	name, value, ok := strings.Cut(raw, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", fmt.Errorf("invalid header %q (expected \"Name: value\")", raw)
	}
	return http.CanonicalHeaderKey(name), strings.TrimSpace(value), nil
}

func (c Config) clone() Config {
	out := c
	out.Headers = make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		out.Headers[k] = v
	}
	return out
}

func loadDotEnv(paths []string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
