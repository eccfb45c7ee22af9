package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"mediafetch/internal/model"
)

type Kind string

const (
	KindRange  Kind = "range"
	KindConfig Kind = "config"
	KindHLS    Kind = "hls"
)

// Manifest is a closed union: exactly one of Range, Config or HLS is set,
// matching Kind.
type Manifest struct {
	Kind   Kind
	Source string
	Range  *RangeManifest
	Config *ConfigManifest
	HLS    *HLSManifest
}

type RangeManifest struct {
	ClipID string
	Video  []model.Rendition
	Audio  []model.Rendition
}

// ConfigManifest is the legacy player config. Progressive files already carry
// audio; HLSURL and DASHURL point at nested manifests the caller may follow.
type ConfigManifest struct {
	VideoID     string
	Title       string
	Progressive []model.Rendition
	HLSURL      string
	DASHURL     string
}

type HLSManifest struct {
	Master            bool
	Live              bool
	Variants          []Variant
	AudioAlternatives []AudioAlternative
	Media             *model.Rendition
}

type Variant struct {
	URI        string
	Bandwidth  int64
	Width      int
	Height     int
	Codecs     string
	AudioGroup string
}

type AudioAlternative struct {
	URI      string `json:"uri"`
	GroupID  string `json:"group_id"`
	Name     string `json:"name,omitempty"`
	Language string `json:"language,omitempty"`
	Default  bool   `json:"default,omitempty"`
}

// Parse classifies data and normalizes it. source is the URL the bytes came
// from (or the file:// URI of a local copy) and anchors relative references.
// Parse never touches the network.
func Parse(data []byte, source string) (*Manifest, error) {
	base, err := parseBase(source)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return nil, &model.ManifestFormatError{Reason: "empty input"}
	}

	if trimmed[0] == '{' {
		var top map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &top); err != nil {
			return nil, &model.ManifestFormatError{Reason: "invalid JSON", Err: err}
		}
		switch {
		case isJSONArray(top["video"]) || isJSONArray(top["audio"]):
			rm, err := parseRange(trimmed, base)
			if err != nil {
				return nil, err
			}
			return &Manifest{Kind: KindRange, Source: source, Range: rm}, nil
		case hasConfigFiles(top):
			cm, err := parseConfig(trimmed, base)
			if err != nil {
				return nil, err
			}
			return &Manifest{Kind: KindConfig, Source: source, Config: cm}, nil
		default:
			return nil, &model.ManifestFormatError{Reason: "JSON has neither video/audio arrays nor request.files"}
		}
	}

	if bytes.HasPrefix(trimmed, []byte("#EXTM3U")) {
		hm, err := parseHLS(trimmed, base)
		if err != nil {
			return nil, err
		}
		return &Manifest{Kind: KindHLS, Source: source, HLS: hm}, nil
	}

	return nil, &model.ManifestFormatError{Reason: "input is neither JSON nor an #EXTM3U playlist"}
}

func isJSONArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}

func hasConfigFiles(top map[string]json.RawMessage) bool {
	raw, ok := top["request"]
	if !ok {
		return false
	}
	var req map[string]json.RawMessage
	if err := json.Unmarshal(raw, &req); err != nil {
		return false
	}
	files := bytes.TrimSpace(req["files"])
	return len(files) > 0 && files[0] == '{'
}

func parseBase(source string) (*url.URL, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, nil
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, &model.ManifestFormatError{Reason: fmt.Sprintf("invalid source URL %q", trimmed), Err: err}
	}
	return u, nil
}

// resolve applies ref on top of base. A nil base leaves ref as parsed.
func resolve(base *url.URL, ref string) (*url.URL, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, &model.ManifestFormatError{Reason: fmt.Sprintf("invalid URL reference %q", ref), Err: err}
	}
	if base == nil {
		return r, nil
	}
	return base.ResolveReference(r), nil
}

// absolute resolves ref and insists on a fetchable result.
func absolute(base *url.URL, ref string) (string, error) {
	u, err := resolve(base, ref)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() {
		return "", &model.ManifestFormatError{Reason: fmt.Sprintf("relative URL %q has no base (use --base-url)", ref)}
	}
	return u.String(), nil
}
