package fetch

import (
	"net/http"

	"mediafetch/internal/config"
)

// headerTransport adds the configured request headers unless the caller set
// them already.
type headerTransport struct {
	headers http.Header
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	for k, vs := range t.headers {
		if out.Header.Get(k) != "" {
			continue
		}
		for _, v := range vs {
			out.Header.Add(k, v)
		}
	}
	return t.base.RoundTrip(out)
}

// NewClient builds the one HTTP client used for manifests and segments.
// file:// URLs are served from the local filesystem. An invalid proxy is
// reported by config.Config.ProxyURL before the client is built, so here it
// falls back to the environment proxy.
func NewClient(cfg config.Config) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if u, err := cfg.ProxyURL(); err == nil && u != nil {
		base.Proxy = http.ProxyURL(u)
	}
	base.MaxIdleConnsPerHost = cfg.Connections
	base.ResponseHeaderTimeout = cfg.ResponseTimeout
	base.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))

	return &http.Client{Transport: &headerTransport{headers: requestHeaders(cfg), base: base}}
}

func requestHeaders(cfg config.Config) http.Header {
	h := http.Header{}
	for k, v := range cfg.Headers {
		h.Set(k, v)
	}
	if cfg.UserAgent != "" {
		h.Set("User-Agent", cfg.UserAgent)
	}
	if cfg.Referer != "" {
		h.Set("Referer", cfg.Referer)
	}
	return h
}
