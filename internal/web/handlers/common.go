package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-organizer/internal/organizer"
	"github.com/kozaktomas/face-organizer/internal/placement"
	"github.com/kozaktomas/face-organizer/internal/reference"
	"github.com/kozaktomas/face-organizer/internal/scanner"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps orchestration errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, organizer.ErrJobActive), errors.Is(err, placement.ErrRootLocked):
		return http.StatusConflict
	case errors.Is(err, scanner.ErrPathNotFound),
		errors.Is(err, reference.ErrDirNotFound),
		errors.Is(err, organizer.ErrNoReferences),
		errors.Is(err, organizer.ErrInvalidThreshold),
		errors.Is(err, organizer.ErrInvalidOutputPath):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
