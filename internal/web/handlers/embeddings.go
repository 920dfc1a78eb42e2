package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-organizer/internal/organizer"
	"github.com/kozaktomas/face-organizer/internal/reference"
)

// EmbeddingsHandler lists and reloads the reference identities.
type EmbeddingsHandler struct {
	manager *organizer.Manager
	logger  *slog.Logger
}

// NewEmbeddingsHandler creates a new embeddings handler.
func NewEmbeddingsHandler(m *organizer.Manager, logger *slog.Logger) *EmbeddingsHandler {
	return &EmbeddingsHandler{manager: m, logger: logger}
}

// EmbeddingsResponse lists the loaded identities.
type EmbeddingsResponse struct {
	Persons []string `json:"persons"`
	Count   int      `json:"count"`
}

// LoadEmbeddingsRequest represents a request to load a reference directory.
type LoadEmbeddingsRequest struct {
	EmbeddingsDir string `json:"embeddings_dir"`
}

// List returns the loaded identity names, optionally filtered by ?q= (diacritics-insensitive).
func (h *EmbeddingsHandler) List(w http.ResponseWriter, r *http.Request) {
	persons := h.manager.References().Names()
	if q := r.URL.Query().Get("q"); q != "" {
		persons = reference.FilterNames(persons, q)
	}
	if persons == nil {
		persons = []string{}
	}
	respondJSON(w, http.StatusOK, EmbeddingsResponse{Persons: persons, Count: len(persons)})
}

// Load replaces the reference set with the contents of a directory.
func (h *EmbeddingsHandler) Load(w http.ResponseWriter, r *http.Request) {
	var req LoadEmbeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	req.EmbeddingsDir = strings.TrimSpace(req.EmbeddingsDir)
	if req.EmbeddingsDir == "" {
		respondError(w, http.StatusBadRequest, "embeddings_dir is required")
		return
	}

	count, err := h.manager.LoadReferences(req.EmbeddingsDir)
	if err != nil {
		h.logger.Warn("failed to load embeddings", "dir", sanitizeForLog(req.EmbeddingsDir), "error", err)
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		respondError(w, status, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"loaded":  count,
		"persons": h.manager.References().Names(),
	})
}
