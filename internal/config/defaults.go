package config

import "time"

const (
	DefaultConnections     = 8
	MaxConnections         = 64
	DefaultRetries         = 3
	MaxRetries             = 10
	DefaultRetryBackoff    = time.Second
	DefaultChunkSize       = 128 * 1024
	DefaultResponseTimeout = 15 * time.Second
	DefaultManifestTimeout = 10 * time.Second
	DefaultGracePeriod     = 5 * time.Second
	DefaultFFmpegPath      = "ffmpeg"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"

	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	EnvPrefix = "MEDIAFETCH_"
)
