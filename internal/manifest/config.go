package manifest

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"mediafetch/internal/model"
)

type configDoc struct {
	Video struct {
		ID    json.RawMessage `json:"id"`
		Title string          `json:"title"`
	} `json:"video"`
	Request struct {
		Files struct {
			Progressive []progressiveFile `json:"progressive"`
			HLS         cdnSet            `json:"hls"`
			DASH        cdnSet            `json:"dash"`
		} `json:"files"`
	} `json:"request"`
}

type progressiveFile struct {
	URL     string  `json:"url"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Quality string  `json:"quality"`
	Mime    string  `json:"mime"`
	FPS     float64 `json:"fps"`
}

type cdnSet struct {
	DefaultCDN string              `json:"default_cdn"`
	CDNs       map[string]cdnEntry `json:"cdns"`
}

type cdnEntry struct {
	URL    string `json:"url"`
	AVCURL string `json:"avc_url"`
}

func parseConfig(data []byte, base *url.URL) (*ConfigManifest, error) {
	var doc configDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &model.ManifestFormatError{Reason: "invalid player config", Err: err}
	}

	out := &ConfigManifest{
		VideoID: strings.Trim(strings.TrimSpace(string(doc.Video.ID)), `"`),
		Title:   strings.TrimSpace(doc.Video.Title),
	}
	if out.VideoID == "null" {
		out.VideoID = ""
	}

	files := doc.Request.Files
	for _, p := range files.Progressive {
		if strings.TrimSpace(p.URL) == "" {
			continue
		}
		u, err := absolute(base, p.URL)
		if err != nil {
			return nil, err
		}
		out.Progressive = append(out.Progressive, model.Rendition{
			ID:        p.Quality,
			Kind:      model.TrackVideo,
			Width:     p.Width,
			Height:    p.Height,
			MimeType:  p.Mime,
			Container: "mp4",
			Muxed:     true,
			Segments:  []model.SegmentRef{{URL: u}},
		})
	}

	var err error
	if out.HLSURL, err = pickCDN(files.HLS, base, false); err != nil {
		return nil, err
	}
	if out.DASHURL, err = pickCDN(files.DASH, base, true); err != nil {
		return nil, err
	}

	if len(out.Progressive) == 0 && out.HLSURL == "" && out.DASHURL == "" {
		return nil, &model.ManifestEmptyError{Dialect: string(KindConfig)}
	}
	return out, nil
}

// pickCDN returns the default CDN's URL, else the alphabetically first one so
// the choice is stable. For DASH the avc_url (a range playlist) is preferred.
func pickCDN(set cdnSet, base *url.URL, preferAVC bool) (string, error) {
	if len(set.CDNs) == 0 {
		return "", nil
	}
	entry, ok := set.CDNs[set.DefaultCDN]
	if !ok {
		names := make([]string, 0, len(set.CDNs))
		for name := range set.CDNs {
			names = append(names, name)
		}
		sort.Strings(names)
		entry = set.CDNs[names[0]]
	}
	ref := entry.URL
	if preferAVC && strings.TrimSpace(entry.AVCURL) != "" {
		ref = entry.AVCURL
	}
	if strings.TrimSpace(ref) == "" {
		return "", nil
	}
	return absolute(base, ref)
}
