package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxDocumentBytes = 64 << 20

// Document loads a manifest from an http(s) URL, a file:// URI or a local
// path. It returns the bytes and the absolute URL that relative references
// in them resolve against.
func Document(ctx context.Context, client *http.Client, source string, timeout time.Duration) ([]byte, string, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return nil, "", fmt.Errorf("manifest source is required")
	}

	if !hasURLScheme(src) {
		abs, err := filepath.Abs(src)
		if err != nil {
			return nil, "", fmt.Errorf("resolve manifest path %s: %w", src, err)
		}
		data, err := readLimited(abs)
		if err != nil {
			return nil, "", err
		}
		return data, FileURL(abs), nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build manifest request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch manifest %s: %w", src, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetch manifest %s: unexpected HTTP status %s", src, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read manifest %s: %w", src, err)
	}
	if len(data) > maxDocumentBytes {
		return nil, "", fmt.Errorf("manifest %s exceeds %d bytes", src, maxDocumentBytes)
	}

	final := src
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return data, final, nil
}

// FileURL converts an absolute local path into a file:// URL.
func FileURL(absPath string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(absPath)}).String()
}

func hasURLScheme(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	// A single letter is a Windows drive, not a scheme.
	return len(u.Scheme) > 1
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("manifest %s exceeds %d bytes", path, maxDocumentBytes)
	}
	return data, nil
}
