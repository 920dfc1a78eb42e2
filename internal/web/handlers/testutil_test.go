package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/face-organizer/internal/config"
	"github.com/kozaktomas/face-organizer/internal/detector"
	"github.com/kozaktomas/face-organizer/internal/logging"
	"github.com/kozaktomas/face-organizer/internal/organizer"
	"github.com/kozaktomas/face-organizer/internal/reference"
)

// stubDetector returns the same faces for every image.
type stubDetector struct {
	faces      []detector.Face
	prepareErr error
	gate       chan struct{} // when set, Detect waits for it
	ready      atomic.Bool
}

func (d *stubDetector) Prepare(ctx context.Context) error {
	if d.prepareErr != nil {
		return d.prepareErr
	}
	d.ready.Store(true)
	return nil
}

func (d *stubDetector) Ready() bool {
	return d.ready.Load()
}

func (d *stubDetector) Detect(ctx context.Context, img image.Image) ([]detector.Face, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.faces, nil
}

func aliceDetector() *stubDetector {
	return &stubDetector{faces: []detector.Face{{Embedding: []float32{1, 0, 0}, BBox: []float64{0, 0, 2, 2}, DetScore: 0.9}}}
}

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Defaults: config.Defaults{
			Threshold: config.ThresholdDefaults{Default: 0.5, Min: 0.3, Max: 0.9},
		},
	}
}

func testReferences(t *testing.T) *reference.Set {
	t.Helper()
	set, err := reference.NewSet([]reference.Identity{
		{Name: "alice", Vector: []float32{1, 0, 0}},
		{Name: "bob", Vector: []float32{0, 1, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return set
}

func newTestManager(t *testing.T, det detector.Detector, refs *reference.Set) *organizer.Manager {
	t.Helper()
	return organizer.NewManager(organizer.Options{
		Detector:   det,
		References: refs,
		Workers:    2,
		Logger:     logging.Discard(),
	})
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pngBytes(t), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(strings.NewReader(rec.Body.String())).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func waitManager(t *testing.T, m *organizer.Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("job did not finish: %v", err)
	}
}
