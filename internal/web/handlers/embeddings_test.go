package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/face-organizer/internal/logging"
	"github.com/kozaktomas/face-organizer/internal/organizer"
)

func TestEmbeddingsHandler_List(t *testing.T) {
	m := newTestManager(t, aliceDetector(), testReferences(t))
	h := NewEmbeddingsHandler(m, logging.Discard())

	tests := []struct {
		name string
		url  string
		want []string
	}{
		{"all", "/api/v1/embeddings", []string{"alice", "bob"}},
		{"filtered", "/api/v1/embeddings?q=ALI", []string{"alice"}},
		{"no match", "/api/v1/embeddings?q=zed", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.List(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))

			var resp EmbeddingsResponse
			decodeBody(t, rec, &resp)
			if resp.Count != len(tt.want) || len(resp.Persons) != len(tt.want) {
				t.Fatalf("expected %v, got %+v", tt.want, resp)
			}
			for i := range tt.want {
				if resp.Persons[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, resp.Persons)
				}
			}
		})
	}
}

func TestEmbeddingsHandler_ListEmpty(t *testing.T) {
	m := newTestManager(t, aliceDetector(), nil)
	h := NewEmbeddingsHandler(m, logging.Discard())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/embeddings", nil))
	if rec.Body.String() != "{\"persons\":[],\"count\":0}\n" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestEmbeddingsHandler_Load(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{"carol.json": "[0, 0, 1]", "dave.json": "[1, 1, 0]"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	m := newTestManager(t, aliceDetector(), testReferences(t))
	h := NewEmbeddingsHandler(m, logging.Discard())

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"missing dir field", map[string]string{}, http.StatusBadRequest},
		{"not found", LoadEmbeddingsRequest{EmbeddingsDir: filepath.Join(dir, "nope")}, http.StatusBadRequest},
		{"loaded", LoadEmbeddingsRequest{EmbeddingsDir: dir}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Load(rec, jsonRequest(t, http.MethodPost, "/api/v1/embeddings", tt.body))
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}

	names := m.References().Names()
	if len(names) != 2 || names[0] != "carol" || names[1] != "dave" {
		t.Errorf("expected the set to be replaced, got %v", names)
	}
}

func TestEmbeddingsHandler_LoadInvalidBody(t *testing.T) {
	m := newTestManager(t, aliceDetector(), testReferences(t))
	h := NewEmbeddingsHandler(m, logging.Discard())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/embeddings", nil)
	h.Load(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestEmbeddingsHandler_LoadWhileRunning(t *testing.T) {
	in := t.TempDir()
	writePNG(t, in, "a.png")
	det := aliceDetector()
	det.gate = make(chan struct{})
	m := newTestManager(t, det, testReferences(t))

	if _, err := m.Start(t.Context(), organizer.StartRequest{InputPath: in, OutputPath: t.TempDir(), Threshold: 0.5}); err != nil {
		t.Fatal(err)
	}
	defer waitManager(t, m)
	defer close(det.gate)

	h := NewEmbeddingsHandler(m, logging.Discard())
	rec := httptest.NewRecorder()
	h.Load(rec, jsonRequest(t, http.MethodPost, "/api/v1/embeddings", LoadEmbeddingsRequest{EmbeddingsDir: t.TempDir()}))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}
