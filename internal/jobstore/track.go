package jobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"mediafetch/internal/model"
)

type trackMeta struct {
	Kind        model.TrackKind `json:"kind"`
	RenditionID string          `json:"rendition_id,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	Segments    int             `json:"segments"`
	CreatedAt   string          `json:"created_at"`
}

// Fingerprint identifies a rendition across runs. Query strings are left out
// because signed CDN tokens change between manifest fetches while the media
// stays the same.
func Fingerprint(r *model.Rendition) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%dx%d|%d|%d\n", r.Kind, r.ID, r.Codec, r.Width, r.Height, r.Bitrate, len(r.Segments))
	if r.Init != nil {
		if r.Init.Ref != nil {
			fmt.Fprintf(h, "init|%s|%d|%d\n", stableURL(r.Init.Ref.URL), r.Init.Ref.Offset, r.Init.Ref.Length)
		} else {
			fmt.Fprintf(h, "init|%d\n", len(r.Init.Data))
			h.Write(r.Init.Data)
		}
	}
	for _, seg := range r.Segments {
		fmt.Fprintf(h, "%s|%d|%d\n", stableURL(seg.URL), seg.Offset, seg.Length)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func stableURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Scheme + "://" + u.Host + u.EscapedPath()
}

// PrepareTrack returns the track directory for r. Leftovers from a different
// rendition are wiped so their segments are never mixed into this one.
func PrepareTrack(jobDir string, r *model.Rendition) (string, bool, error) {
	dir := TrackDir(jobDir, r.Kind)
	fp := Fingerprint(r)
	metaPath := filepath.Join(dir, trackFileName)

	var existing trackMeta
	if err := ReadJSON(metaPath, &existing); err == nil && existing.Fingerprint == fp {
		return dir, false, nil
	}

	reset := false
	if _, statErr := os.Stat(dir); statErr == nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return "", false, fmt.Errorf("reset track directory %s: %w", dir, rmErr)
		}
		reset = true
	}
	if err := Mkdir(dir); err != nil {
		return "", false, err
	}
	meta := trackMeta{
		Kind:        r.Kind,
		RenditionID: r.ID,
		Fingerprint: fp,
		Segments:    len(r.Segments),
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := WriteJSON(metaPath, meta); err != nil {
		return "", false, err
	}
	return dir, reset, nil
}
