package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mediafetch/internal/config"
	"mediafetch/internal/jobstore"
	"mediafetch/internal/model"
	"mediafetch/internal/selector"
)

type mediaServer struct {
	*httptest.Server
	mu     sync.Mutex
	routes map[string][]byte
	deny   map[string]bool
	hits   map[string]int
}

func newMediaServer(t *testing.T) *mediaServer {
	t.Helper()
	s := &mediaServer{routes: map[string][]byte{}, deny: map[string]bool{}, hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		body, ok := s.routes[r.URL.Path]
		denied := s.deny[r.URL.Path]
		s.mu.Unlock()
		switch {
		case denied:
			http.Error(w, "token expired", http.StatusForbidden)
		case !ok:
			http.NotFound(w, r)
		default:
			http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(body))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *mediaServer) add(path string, body []byte) {
	s.mu.Lock()
	s.routes[path] = body
	s.mu.Unlock()
}

func (s *mediaServer) hitsWithPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for p, n := range s.hits {
		if strings.HasPrefix(p, prefix) {
			total += n
		}
	}
	return total
}

// addSegments registers n segment bodies under dir and returns their
// concatenation and the JSON segment list.
func (s *mediaServer) addSegments(dir string, n int) ([]byte, string) {
	var all bytes.Buffer
	entries := make([]string, 0, n)
	for i := 0; i < n; i++ {
		body := []byte(fmt.Sprintf("<%s#%d>", dir, i))
		s.add(fmt.Sprintf("/media/%s/seg-%d.m4s", dir, i), body)
		all.Write(body)
		entries = append(entries, fmt.Sprintf(`{"url": "seg-%d.m4s", "size": %d}`, i, len(body)))
	}
	return all.Bytes(), "[" + strings.Join(entries, ",") + "]"
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.RetryBackoff = time.Millisecond
	cfg.GracePeriod = 50 * time.Millisecond
	return New(cfg, nil)
}

func installFakeFFmpeg(t *testing.T) {
	t.Helper()
	fakeBin := filepath.Join(t.TempDir(), "bin")
	if err := os.MkdirAll(fakeBin, 0o755); err != nil {
		t.Fatal(err)
	}
	// -hide_banner -loglevel error -y -i VIDEO -i AUDIO ... OUT
	script := `#!/usr/bin/env bash
set -euo pipefail
for last; do :; done
cat "$6" "$8" > "$last"
`
	if err := os.WriteFile(filepath.Join(fakeBin, "ffmpeg"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", fakeBin+":"+os.Getenv("PATH"))
}

func hidePATH(t *testing.T) {
	t.Helper()
	t.Setenv("PATH", t.TempDir())
}

var initBlob = []byte("VINIT")

// rangeFixture serves a two-quality range manifest with one audio track.
func rangeFixture(t *testing.T) (*mediaServer, []byte, []byte) {
	t.Helper()
	srv := newMediaServer(t)
	_, segs720 := srv.addSegments("v720", 2)
	all1080, segs1080 := srv.addSegments("v1080", 3)
	allAudio, segsAudio := srv.addSegments("a128", 2)
	srv.add("/media/a128/init.mp4", []byte("AINIT"))

	doc := fmt.Sprintf(`{
  "clip_id": "clip",
  "base_url": "../media/",
  "video": [
    {"id": "720", "base_url": "v720/", "width": 1280, "height": 720, "bitrate": 2000000, "init_segment": %q, "segments": %s},
    {"id": "1080", "base_url": "v1080/", "width": 1920, "height": 1080, "bitrate": 4000000, "init_segment": %q, "segments": %s}
  ],
  "audio": [
    {"id": "a128", "base_url": "a128/", "avg_bitrate": 128000, "init_segment_url": "init.mp4", "segments": %s}
  ]
}`, base64.StdEncoding.EncodeToString(initBlob), segs720, base64.StdEncoding.EncodeToString(initBlob), segs1080, segsAudio)
	srv.add("/clip/playlist.json", []byte(doc))

	video := append(append([]byte(nil), initBlob...), all1080...)
	audio := append([]byte("AINIT"), allAudio...)
	return srv, video, audio
}

func TestRunRangeManifestMuxesBestTracks(t *testing.T) {
	installFakeFFmpeg(t)
	srv, video, audio := rangeFixture(t)
	output := filepath.Join(t.TempDir(), "output.mp4")

	res, err := testEngine(t).Run(context.Background(), Options{Source: srv.URL + "/clip/playlist.json", Output: output})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	want := append(append([]byte(nil), video...), audio...)
	if !bytes.Equal(got, want) {
		t.Fatalf("output mismatch:\n got %q\nwant %q", got, want)
	}
	if n := srv.hitsWithPrefix("/media/v720/"); n != 0 {
		t.Fatalf("lower quality rendition was requested %d times", n)
	}
	if len(res.Tracks) != 2 || res.Tracks[0].Downloaded != 3 || res.Tracks[1].Downloaded != 2 {
		t.Fatalf("unexpected track summaries: %+v", res.Tracks)
	}

	job, ok, err := jobstore.LoadJob(res.JobDir)
	if err != nil || !ok {
		t.Fatalf("job.json missing: ok=%v err=%v", ok, err)
	}
	if job.Phase != model.PhaseCompleted || job.SessionID != res.SessionID {
		t.Fatalf("unexpected job state: %+v", job)
	}
}

func TestRunSecondTimeFetchesNoSegments(t *testing.T) {
	installFakeFFmpeg(t)
	srv, _, _ := rangeFixture(t)
	output := filepath.Join(t.TempDir(), "output.mp4")
	opts := Options{Source: srv.URL + "/clip/playlist.json", Output: output}

	if _, err := testEngine(t).Run(context.Background(), opts); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	before := srv.hitsWithPrefix("/media/")

	res, err := testEngine(t).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if after := srv.hitsWithPrefix("/media/"); after != before {
		t.Fatalf("second run made %d media request(s)", after-before)
	}
	for _, tr := range res.Tracks {
		if tr.Downloaded != 0 || tr.Skipped != tr.Segments {
			t.Fatalf("expected every segment skipped: %+v", tr)
		}
	}
}

func TestRunAudioOnlyRenamesWithoutMuxer(t *testing.T) {
	srv, _, audio := rangeFixture(t)
	hidePATH(t)
	output := filepath.Join(t.TempDir(), "output.m4a")

	res, err := testEngine(t).Run(context.Background(), Options{Source: srv.URL + "/clip/playlist.json", Output: output, AudioOnly: true})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	got, _ := os.ReadFile(output)
	if !bytes.Equal(got, audio) {
		t.Fatalf("output mismatch:\n got %q\nwant %q", got, audio)
	}
	if len(res.Mux.Command) != 0 {
		t.Fatalf("audio-only run should not invoke a subprocess: %+v", res.Mux)
	}
	if n := srv.hitsWithPrefix("/media/v"); n != 0 {
		t.Fatalf("video segments requested in audio-only mode: %d", n)
	}
}

func TestRunPersistentSegmentFailureStopsBeforeAssembly(t *testing.T) {
	srv := newMediaServer(t)
	_, segs := srv.addSegments("v", 20)
	srv.mu.Lock()
	srv.deny["/media/v/seg-7.m4s"] = true
	srv.mu.Unlock()
	srv.add("/clip/playlist.json", []byte(fmt.Sprintf(`{"base_url": "../media/", "video": [{"id": "v", "base_url": "v/", "height": 720, "segments": %s}], "audio": []}`, segs)))
	output := filepath.Join(t.TempDir(), "output.mp4")

	res, err := testEngine(t).Run(context.Background(), Options{Source: srv.URL + "/clip/playlist.json", Output: output})
	var incomplete *model.IncompleteSegmentSetError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteSegmentSetError, got %v", err)
	}
	if len(incomplete.Missing) != 1 || incomplete.Missing[0] != 7 {
		t.Fatalf("missing mismatch: %v", incomplete.Missing)
	}
	if n := srv.hitsWithPrefix("/media/v/seg-7.m4s"); n != 4 {
		t.Fatalf("segment 7 requested %d times, want 4", n)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Fatalf("output must not exist")
	}
	r := &model.Rendition{Kind: model.TrackVideo, Container: "mp4"}
	if _, err := os.Stat(jobstore.AssembledPath(jobstore.TrackDir(res.JobDir, model.TrackVideo), r)); !os.IsNotExist(err) {
		t.Fatalf("assembly must not run after a failed fetch")
	}
	job, _, _ := jobstore.LoadJob(res.JobDir)
	if job.Phase != model.PhaseFailed || len(job.Tracks) != 1 || job.Tracks[0].Completed != 19 {
		t.Fatalf("unexpected job state: %+v", job)
	}
}

func hlsFixture(t *testing.T) *mediaServer {
	t.Helper()
	srv := newMediaServer(t)
	srv.add("/hls/master.m3u8", []byte(`#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=6560000,RESOLUTION=1920x1080
v1080/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=3589000,RESOLUTION=1280x720
v720/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1874000,RESOLUTION=854x480
v480/index.m3u8
`))
	for _, q := range []string{"v1080", "v720", "v480"} {
		srv.add("/hls/"+q+"/index.m3u8", []byte(`#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:6.0,
a.ts
#EXTINF:6.0,
b.ts
#EXT-X-ENDLIST
`))
		srv.add("/hls/"+q+"/a.ts", []byte(q+"-a|"))
		srv.add("/hls/"+q+"/b.ts", []byte(q+"-b|"))
	}
	return srv
}

func TestRunHLSVariantChoiceFetchesOnlyThatVariant(t *testing.T) {
	srv := hlsFixture(t)
	hidePATH(t)
	output := filepath.Join(t.TempDir(), "output.ts")

	res, err := testEngine(t).Run(context.Background(), Options{Source: srv.URL + "/hls/master.m3u8", Output: output, Variant: 2})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Variant != 2 {
		t.Fatalf("variant mismatch: %d", res.Variant)
	}
	if srv.hitsWithPrefix("/hls/v1080/") != 0 || srv.hitsWithPrefix("/hls/v480/") != 0 {
		t.Fatalf("other variants were requested")
	}
	if srv.hitsWithPrefix("/hls/v720/") != 3 {
		t.Fatalf("expected playlist plus two segments for 720p, got %d", srv.hitsWithPrefix("/hls/v720/"))
	}
	got, _ := os.ReadFile(output)
	if string(got) != "v720-a|v720-b|" {
		t.Fatalf("output mismatch: %q", got)
	}
}

func TestRunHLSVariantOutOfRangeHasNoRendition(t *testing.T) {
	srv := hlsFixture(t)
	output := filepath.Join(t.TempDir(), "output.ts")

	_, err := testEngine(t).Run(context.Background(), Options{Source: srv.URL + "/hls/master.m3u8", Output: output, Variant: 9})
	var none *model.NoRenditionAvailableError
	if !errors.As(err, &none) {
		t.Fatalf("expected NoRenditionAvailableError, got %v", err)
	}
	if srv.hitsWithPrefix("/hls/v") != 0 {
		t.Fatalf("no variant playlist should be requested")
	}
}

func TestRunHLSChooserIsAskedWithoutVariantFlag(t *testing.T) {
	srv := hlsFixture(t)
	output := filepath.Join(t.TempDir(), "output.ts")

	var offered []selector.VariantOption
	chooser := ChooserFunc(func(_ context.Context, options []selector.VariantOption) (int, error) {
		offered = options
		return 3, nil
	})
	if _, err := testEngine(t).Run(context.Background(), Options{Source: srv.URL + "/hls/master.m3u8", Output: output, Chooser: chooser}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(offered) != 3 || offered[0].Label() != "1920x1080  6560 kbps" {
		t.Fatalf("unexpected options: %+v", offered)
	}
	got, _ := os.ReadFile(output)
	if string(got) != "v480-a|v480-b|" {
		t.Fatalf("output mismatch: %q", got)
	}
}

func TestRunHLSWithoutChooserUsesBestVariant(t *testing.T) {
	srv := hlsFixture(t)
	output := filepath.Join(t.TempDir(), "output.ts")
	res, err := testEngine(t).Run(context.Background(), Options{Source: srv.URL + "/hls/master.m3u8", Output: output})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Variant != 1 {
		t.Fatalf("expected best variant 1, got %d", res.Variant)
	}
}

func TestRunConfigFollowsDASHRangePlaylistForAudio(t *testing.T) {
	srv, _, audio := rangeFixture(t)
	srv.add("/video/1/config", []byte(fmt.Sprintf(`{
  "video": {"id": 1, "title": "Clip"},
  "request": {"files": {
    "progressive": [{"url": "https://unused.example/p.mp4", "height": 360, "width": 640}],
    "dash": {"default_cdn": "a", "cdns": {"a": {"url": "%[1]s/clip/master.mpd", "avc_url": "%[1]s/clip/playlist.json"}}}
  }}
}`, srv.URL)))
	output := filepath.Join(t.TempDir(), "output.m4a")

	res, err := testEngine(t).Run(context.Background(), Options{Source: srv.URL + "/video/1/config", Output: output, AudioOnly: true})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.ManifestKind != "range" {
		t.Fatalf("expected nested range manifest, got %s", res.ManifestKind)
	}
	got, _ := os.ReadFile(output)
	if !bytes.Equal(got, audio) {
		t.Fatalf("output mismatch: %q", got)
	}
}

func TestRunLocalManifestWithBaseURL(t *testing.T) {
	srv := newMediaServer(t)
	all, segs := srv.addSegments("local", 3)
	manifestPath := filepath.Join(t.TempDir(), "playlist.json")
	doc := fmt.Sprintf(`{"video": [{"id": "v", "base_url": "local/", "height": 480, "segments": %s}], "audio": []}`, segs)
	if err := os.WriteFile(manifestPath, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(t.TempDir(), "output.mp4")

	if _, err := testEngine(t).Run(context.Background(), Options{Source: manifestPath, BaseURL: srv.URL + "/media/", Output: output, Cleanup: true}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	got, _ := os.ReadFile(output)
	if !bytes.Equal(got, all) {
		t.Fatalf("output mismatch: %q", got)
	}
	jobDir, _ := jobstore.JobDirFor(output)
	if _, err := os.Stat(jobDir); !os.IsNotExist(err) {
		t.Fatalf("--cleanup should remove %s", jobDir)
	}
}

func TestRunRejectsConcurrentDownloadOfSameOutput(t *testing.T) {
	srv, _, _ := rangeFixture(t)
	output := filepath.Join(t.TempDir(), "output.mp4")
	jobDir, _ := jobstore.JobDirFor(output)
	lock, err := jobstore.AcquireJobLock(jobDir, "other")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lock.Release() }()

	_, err = testEngine(t).Run(context.Background(), Options{Source: srv.URL + "/clip/playlist.json", Output: output})
	if err == nil || !strings.Contains(err.Error(), "locked") {
		t.Fatalf("expected lock error, got %v", err)
	}
}

func TestProbeListsRenditions(t *testing.T) {
	srv, _, _ := rangeFixture(t)
	report, err := testEngine(t).Probe(context.Background(), srv.URL+"/clip/playlist.json", "")
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if report.Kind != "range" || len(report.Video) != 2 || len(report.Audio) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Video[0].Selected || !report.Video[1].Selected {
		t.Fatalf("1080p should be marked selected: %+v", report.Video)
	}
	if report.Video[1].EstimatedBytes == 0 {
		t.Fatalf("estimated size should come from segment sizes")
	}
	if srv.hitsWithPrefix("/media/") != 0 {
		t.Fatalf("probe must not download media")
	}
}

func TestDoctorReportsMissingFFmpeg(t *testing.T) {
	hidePATH(t)
	res := Doctor(DoctorOptions{OutputDir: t.TempDir(), SettingsPath: filepath.Join(t.TempDir(), "missing.json")})
	if res.OK {
		t.Fatalf("doctor should fail without ffmpeg: %+v", res)
	}
	for _, c := range res.Checks {
		if c.Name != "dependency:ffmpeg" && !c.OK {
			t.Fatalf("unexpected failing check: %+v", c)
		}
	}
}
