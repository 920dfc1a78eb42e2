package organizer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/face-organizer/internal/detector"
	"github.com/kozaktomas/face-organizer/internal/facecache"
	"github.com/kozaktomas/face-organizer/internal/logging"
	"github.com/kozaktomas/face-organizer/internal/reference"
	"github.com/kozaktomas/face-organizer/internal/scanner"
)

// Photo codes read back by fakeDetector from the red channel of the first pixel.
const (
	codeNobody   = 0
	codeAlice    = 1
	codeBob      = 2
	codeBoth     = 3
	codePortrait = 4 // alice, but only visible when the image is taller than wide
	codeBroken   = 9
)

var (
	aliceVec    = []float32{1, 0, 0}
	bobVec      = []float32{0, 1, 0}
	strangerVec = []float32{0, 0, 1}
)

type fakeDetector struct {
	prepareErr error
	prepared   atomic.Int32
	calls      atomic.Int32

	// when gate is set, calls after the first blockAfter wait for it
	gate       chan struct{}
	blockAfter int32
}

func (d *fakeDetector) Prepare(ctx context.Context) error {
	d.prepared.Add(1)
	return d.prepareErr
}

func (d *fakeDetector) Detect(ctx context.Context, img image.Image) ([]detector.Face, error) {
	n := d.calls.Add(1)
	if d.gate != nil && n > d.blockAfter {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r, _, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	switch r >> 8 {
	case codeAlice:
		return []detector.Face{{Embedding: aliceVec}}, nil
	case codeBob:
		return []detector.Face{{Embedding: bobVec}}, nil
	case codeBoth:
		return []detector.Face{{Embedding: aliceVec}, {Embedding: bobVec}}, nil
	case codePortrait:
		b := img.Bounds()
		if b.Dy() > b.Dx() {
			return []detector.Face{{Embedding: []float32{0.9, 0, 0.1}}}, nil
		}
		return []detector.Face{{Embedding: strangerVec}}, nil
	case codeBroken:
		return nil, errors.New("detector exploded")
	}
	return nil, nil
}

func testReferences(t *testing.T) *reference.Set {
	t.Helper()
	set, err := reference.NewSet([]reference.Identity{
		{Name: "alice", Vector: aliceVec},
		{Name: "bob", Vector: bobVec},
	})
	if err != nil {
		t.Fatal(err)
	}
	return set
}

func writePhoto(t *testing.T, dir, name string, code uint8, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: code, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestManager(t *testing.T, det detector.Detector, opts Options) *Manager {
	t.Helper()
	opts.Detector = det
	if opts.References == nil {
		opts.References = testReferences(t)
	}
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	opts.Logger = logging.Discard()
	return NewManager(opts)
}

func waitJob(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("job did not finish: %v", err)
	}
}

func assertOrganizedConsistent(t *testing.T, s ProgressSnapshot) {
	t.Helper()
	total := 0
	for _, p := range s.Persons {
		if p.PhotoCount != len(p.Photos) {
			t.Errorf("person %s: photo_count %d but %d photos", p.Name, p.PhotoCount, len(p.Photos))
		}
		total += len(p.Photos)
	}
	if total != s.Progress.Organized {
		t.Errorf("organized %d but %d photo matches recorded", s.Progress.Organized, total)
	}
}

func start(t *testing.T, m *Manager, req StartRequest) string {
	t.Helper()
	id, err := m.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return id
}

func TestManager_OrganizesPhotos(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "sorted")
	writePhoto(t, in, "alice.png", codeAlice, 4, 4)
	writePhoto(t, in, "group.png", codeBoth, 4, 4)
	writePhoto(t, in, "nested/bob.png", codeBob, 4, 4)
	writePhoto(t, in, "nobody.png", codeNobody, 4, 4)
	if err := os.WriteFile(filepath.Join(in, "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	det := &fakeDetector{}
	m := newTestManager(t, det, Options{})
	id := start(t, m, StartRequest{InputPath: in, OutputPath: out, Threshold: 0.5})
	if id == "" {
		t.Fatal("expected job id")
	}
	waitJob(t, m)

	snap := m.Progress()
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", snap.Status, snap.Error)
	}
	if snap.JobID != id {
		t.Errorf("expected job id %s, got %s", id, snap.JobID)
	}
	if snap.Progress.Total != 4 || snap.Progress.Scanned != 4 {
		t.Errorf("expected 4/4 scanned, got %d/%d", snap.Progress.Scanned, snap.Progress.Total)
	}
	if snap.Progress.Organized != 4 {
		t.Errorf("expected 4 organized, got %d", snap.Progress.Organized)
	}
	if snap.Progress.CurrentFile != "" || snap.Progress.CurrentPerson != "" {
		t.Errorf("expected current fields cleared, got %+v", snap.Progress)
	}
	if snap.Active {
		t.Error("expected inactive after completion")
	}
	assertOrganizedConsistent(t, snap)

	if len(snap.Persons) != 2 || snap.Persons[0].Name != "alice" || snap.Persons[1].Name != "bob" {
		t.Fatalf("unexpected persons %+v", snap.Persons)
	}
	for _, p := range snap.Persons {
		if p.PhotoCount != 2 {
			t.Errorf("expected 2 photos for %s, got %d", p.Name, p.PhotoCount)
		}
		for _, ph := range p.Photos {
			if _, err := os.Stat(ph.NewPath); err != nil {
				t.Errorf("missing placed file %s: %v", ph.NewPath, err)
			}
			if filepath.Dir(ph.NewPath) != filepath.Join(out, p.Name) {
				t.Errorf("photo placed outside person folder: %s", ph.NewPath)
			}
			if ph.Filename != filepath.Base(ph.OriginalPath) {
				t.Errorf("unexpected filename %s for %s", ph.Filename, ph.OriginalPath)
			}
		}
	}
	if _, err := os.Stat(filepath.Join(in, "group.png")); err != nil {
		t.Error("source photos must be copied, not moved")
	}

	res := m.Results()
	if res.TotalScanned != 4 || res.TotalOrganized != 4 || res.Status != StatusCompleted {
		t.Errorf("unexpected results %+v", res)
	}
	if det.prepared.Load() != 1 {
		t.Errorf("expected detector prepared once, got %d", det.prepared.Load())
	}
}

func TestManager_TwoPeopleInOnePhoto(t *testing.T) {
	in := t.TempDir()
	writePhoto(t, in, "group.png", codeBoth, 4, 4)

	m := newTestManager(t, &fakeDetector{}, Options{})
	start(t, m, StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5})
	waitJob(t, m)

	res := m.Results()
	if res.TotalOrganized != 2 {
		t.Fatalf("expected two matches, got %d", res.TotalOrganized)
	}
	seen := map[string]bool{}
	for _, p := range res.Persons {
		for _, ph := range p.Photos {
			seen[ph.PersonName] = true
		}
	}
	if !seen["alice"] || !seen["bob"] {
		t.Errorf("expected matches for alice and bob, got %v", seen)
	}
}

func TestManager_CollisionsAcrossFolders(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writePhoto(t, in, "a/photo.png", codeAlice, 4, 4)
	writePhoto(t, in, "b/photo.png", codeAlice, 4, 5)

	m := newTestManager(t, &fakeDetector{}, Options{})
	start(t, m, StartRequest{InputPath: in, OutputPath: out, Threshold: 0.5})
	waitJob(t, m)

	for _, name := range []string{"photo.png", "photo_1.png"} {
		if _, err := os.Stat(filepath.Join(out, "alice", name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	if got := m.Results().TotalOrganized; got != 2 {
		t.Errorf("expected 2 organized, got %d", got)
	}
}

func TestManager_AllOrientationsDedupes(t *testing.T) {
	in := t.TempDir()
	writePhoto(t, in, "sideways.png", codePortrait, 6, 3)

	det := &fakeDetector{}
	m := newTestManager(t, det, Options{})

	start(t, m, StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5})
	waitJob(t, m)
	if got := m.Results().TotalOrganized; got != 0 {
		t.Fatalf("expected no match upright, got %d", got)
	}

	start(t, m, StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5, AllOrientations: true})
	waitJob(t, m)

	res := m.Results()
	if res.TotalOrganized != 1 {
		t.Fatalf("expected exactly one match across rotations, got %d", res.TotalOrganized)
	}
	if res.Persons[0].Name != "alice" {
		t.Errorf("expected alice, got %s", res.Persons[0].Name)
	}
	if det.calls.Load() != 1+4 {
		t.Errorf("expected 5 detector calls, got %d", det.calls.Load())
	}
}

func TestManager_FailingItemsCountAsNoMatch(t *testing.T) {
	in := t.TempDir()
	writePhoto(t, in, "broken.png", codeBroken, 4, 4)
	writePhoto(t, in, "alice.png", codeAlice, 4, 4)
	if err := os.WriteFile(filepath.Join(in, "corrupt.jpg"), []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, &fakeDetector{}, Options{})
	start(t, m, StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5})
	waitJob(t, m)

	snap := m.Progress()
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if snap.Progress.Scanned != 3 || snap.Progress.Organized != 1 {
		t.Errorf("expected 3 scanned and 1 organized, got %+v", snap.Progress)
	}
}

func TestManager_ItemTimeout(t *testing.T) {
	in := t.TempDir()
	writePhoto(t, in, "a.png", codeAlice, 4, 4)
	writePhoto(t, in, "b.png", codeAlice, 4, 4)

	det := &fakeDetector{gate: make(chan struct{})}
	m := newTestManager(t, det, Options{ItemTimeout: 20 * time.Millisecond})
	start(t, m, StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5})
	waitJob(t, m)

	snap := m.Progress()
	if snap.Status != StatusCompleted || snap.Progress.Scanned != 2 || snap.Progress.Organized != 0 {
		t.Errorf("expected stalled items to count as no match, got %s %+v", snap.Status, snap.Progress)
	}
}

func TestManager_EmptyFolderFails(t *testing.T) {
	in := t.TempDir()
	if err := os.WriteFile(filepath.Join(in, "readme.md"), []byte("#"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, &fakeDetector{}, Options{})
	start(t, m, StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5})
	waitJob(t, m)

	snap := m.Progress()
	if snap.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", snap.Status)
	}
	if snap.Progress.Total != 0 {
		t.Errorf("expected total 0, got %d", snap.Progress.Total)
	}
	for _, ext := range []string{"JPG", "PNG", "TIFF"} {
		if !strings.Contains(snap.Error, ext) {
			t.Errorf("expected error to name %s, got %q", ext, snap.Error)
		}
	}
}

// Invalid requests, including a missing input folder, are rejected before a job
// exists: Start returns the error, no Failed job is recorded and the previous
// job's snapshot stays visible. An input folder that exists but holds no images
// is the Failed path, see TestManager_EmptyFolderFails.
func TestManager_StartValidation(t *testing.T) {
	in := t.TempDir()
	writePhoto(t, in, "a.png", codeAlice, 4, 4)

	tests := []struct {
		name    string
		req     StartRequest
		wantErr error
	}{
		{"missing input", StartRequest{InputPath: filepath.Join(in, "nope"), OutputPath: t.TempDir(), Threshold: 0.5}, scanner.ErrPathNotFound},
		{"threshold too high", StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 1.5}, ErrInvalidThreshold},
		{"negative threshold", StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: -0.1}, ErrInvalidThreshold},
		{"empty output", StartRequest{InputPath: in, Threshold: 0.5}, ErrInvalidOutputPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, &fakeDetector{}, Options{})
			_, err := m.Start(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if m.Status() != StatusIdle {
				t.Errorf("expected no job to be created, got %s", m.Status())
			}
		})
	}
}

func TestManager_NoReferences(t *testing.T) {
	in := t.TempDir()
	writePhoto(t, in, "a.png", codeAlice, 4, 4)

	det := &fakeDetector{}
	m := NewManager(Options{Detector: det, Logger: logging.Discard()})
	_, err := m.Start(context.Background(), StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5})
	if !errors.Is(err, ErrNoReferences) {
		t.Fatalf("expected ErrNoReferences, got %v", err)
	}
	if m.Status() != StatusFailed {
		t.Errorf("expected failed, got %s", m.Status())
	}
	if det.prepared.Load() != 0 {
		t.Error("detector must not be prepared without references")
	}
}

func TestManager_DetectorInitFailure(t *testing.T) {
	in := t.TempDir()
	writePhoto(t, in, "a.png", codeAlice, 4, 4)

	m := newTestManager(t, &fakeDetector{prepareErr: errors.New("model missing")}, Options{})
	_, err := m.Start(context.Background(), StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5})
	if !errors.Is(err, ErrDetectorInit) {
		t.Fatalf("expected ErrDetectorInit, got %v", err)
	}
	waitJob(t, m)
	snap := m.Progress()
	if snap.Status != StatusFailed || !strings.Contains(snap.Error, "model missing") {
		t.Errorf("expected failed job with message, got %s %q", snap.Status, snap.Error)
	}
}

func TestManager_LoadsEmbeddingsDirOnStart(t *testing.T) {
	in := t.TempDir()
	writePhoto(t, in, "a.png", codeBob, 4, 4)
	refs := t.TempDir()
	if err := os.WriteFile(filepath.Join(refs, "bob.json"), []byte("[0, 1, 0]"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(Options{Detector: &fakeDetector{}, Logger: logging.Discard()})
	start(t, m, StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5, EmbeddingsDir: refs})
	waitJob(t, m)

	if m.References().Len() != 1 {
		t.Errorf("expected references loaded from dir, got %d", m.References().Len())
	}
	if got := m.Results().TotalOrganized; got != 1 {
		t.Errorf("expected bob matched, got %d", got)
	}
}

func TestManager_ConflictWhileRunning(t *testing.T) {
	in := t.TempDir()
	writePhoto(t, in, "a.png", codeAlice, 4, 4)
	writePhoto(t, in, "b.png", codeBob, 4, 4)

	det := &fakeDetector{gate: make(chan struct{})}
	m := newTestManager(t, det, Options{})
	first := start(t, m, StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5})

	_, err := m.Start(context.Background(), StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5})
	if !errors.Is(err, ErrJobActive) {
		t.Fatalf("expected ErrJobActive, got %v", err)
	}
	snap := m.Progress()
	if snap.JobID != first || snap.Status != StatusActive {
		t.Errorf("first job must be untouched, got %s %s", snap.JobID, snap.Status)
	}

	if _, err := m.LoadReferences(t.TempDir()); !errors.Is(err, ErrJobActive) {
		t.Errorf("expected reload to be rejected, got %v", err)
	}
	if err := m.SetReferences(nil); !errors.Is(err, ErrJobActive) {
		t.Errorf("expected reference swap to be rejected, got %v", err)
	}

	close(det.gate)
	waitJob(t, m)
	if m.Status() != StatusCompleted {
		t.Fatalf("expected completed, got %s", m.Status())
	}

	second := start(t, m, StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5})
	if second == first {
		t.Error("expected a fresh job id")
	}
	waitJob(t, m)
}

func TestManager_Cancel(t *testing.T) {
	in := t.TempDir()
	for _, name := range []string{"01", "02", "03", "04", "05", "06", "07", "08", "09", "10", "11", "12"} {
		writePhoto(t, in, name+".png", codeAlice, 4, 4)
	}

	det := &fakeDetector{gate: make(chan struct{}), blockAfter: 3}
	m := newTestManager(t, det, Options{Workers: 2})

	if m.RequestCancel() {
		t.Error("expected cancel to report nothing running")
	}

	start(t, m, StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5})

	deadline := time.Now().Add(5 * time.Second)
	for m.Progress().Progress.Scanned < 3 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for first photos")
		}
		time.Sleep(5 * time.Millisecond)
	}
	before := m.Progress()
	assertOrganizedConsistent(t, before)

	if !m.RequestCancel() {
		t.Fatal("expected cancel to be accepted")
	}
	close(det.gate)
	waitJob(t, m)

	after := m.Progress()
	if after.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", after.Status)
	}
	if after.Progress.Scanned >= 12 {
		t.Errorf("expected scanning to stop early, scanned %d", after.Progress.Scanned)
	}
	if after.Progress.Organized < before.Progress.Organized {
		t.Errorf("organized decreased from %d to %d", before.Progress.Organized, after.Progress.Organized)
	}
	assertOrganizedConsistent(t, after)

	time.Sleep(20 * time.Millisecond)
	if later := m.Progress(); later.Progress.Scanned != after.Progress.Scanned {
		t.Errorf("scanned kept moving after cancel: %d -> %d", after.Progress.Scanned, later.Progress.Scanned)
	}
	if res := m.Results(); res.TotalOrganized != after.Progress.Organized {
		t.Errorf("results must stay queryable after cancel, got %d", res.TotalOrganized)
	}
	if m.RequestCancel() {
		t.Error("expected cancel on a finished job to report nothing running")
	}
}

func TestManager_Events(t *testing.T) {
	in := t.TempDir()
	writePhoto(t, in, "a.png", codeAlice, 4, 4)
	writePhoto(t, in, "b.png", codeBoth, 4, 4)

	m := newTestManager(t, &fakeDetector{}, Options{})
	ch := m.Events().AddListener()
	defer m.Events().RemoveListener(ch)

	id := start(t, m, StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5})

	var types []string
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-ch:
			if ev.JobID != id {
				t.Errorf("event for unexpected job %s", ev.JobID)
			}
			types = append(types, ev.Type)
			done = ev.Type == EventCompleted
		case <-timeout:
			t.Fatalf("timed out, got events %v", types)
		}
	}

	counts := map[string]int{}
	for _, ty := range types {
		counts[ty]++
	}
	if types[0] != EventStarted {
		t.Errorf("expected started first, got %v", types)
	}
	if counts[EventMatch] != 3 || counts[EventProgress] != 2 {
		t.Errorf("unexpected event counts %v", counts)
	}
}

func TestManager_DetectionCache(t *testing.T) {
	in := t.TempDir()
	writePhoto(t, in, "a/same.png", codeAlice, 4, 4)
	writePhoto(t, in, "b/same.png", codeAlice, 4, 4)

	cache, err := facecache.New("")
	if err != nil {
		t.Fatal(err)
	}
	det := &fakeDetector{}
	m := newTestManager(t, det, Options{Workers: 1, Cache: cache})
	start(t, m, StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5})
	waitJob(t, m)

	if det.calls.Load() != 1 {
		t.Errorf("expected identical photos to share one detection, got %d calls", det.calls.Load())
	}
	if got := m.Results().TotalOrganized; got != 2 {
		t.Errorf("expected both copies organized, got %d", got)
	}
}

func TestPoolSize(t *testing.T) {
	if got := poolSize(100); got != 8 {
		t.Errorf("expected cap 8, got %d", got)
	}
	if got := poolSize(3); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	if got := poolSize(0); got < 1 || got > 8 {
		t.Errorf("expected hardware concurrency within cap, got %d", got)
	}
}
