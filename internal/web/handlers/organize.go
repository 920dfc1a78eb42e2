package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/face-organizer/internal/config"
	"github.com/kozaktomas/face-organizer/internal/organizer"
)

// OrganizeHandler handles organize job endpoints.
type OrganizeHandler struct {
	config  *config.Config
	manager *organizer.Manager
	logger  *slog.Logger
}

// NewOrganizeHandler creates a new organize handler.
func NewOrganizeHandler(cfg *config.Config, m *organizer.Manager, logger *slog.Logger) *OrganizeHandler {
	return &OrganizeHandler{config: cfg, manager: m, logger: logger}
}

// OrganizeStartRequest represents a request to start organizing.
type OrganizeStartRequest struct {
	InputFolder          string   `json:"input_folder"`
	OutputFolder         string   `json:"output_folder"`
	Threshold            *float64 `json:"threshold,omitempty"`
	EmbeddingsDir        string   `json:"embeddings_dir,omitempty"`
	CheckAllOrientations bool     `json:"check_all_orientations"`
}

// Start starts a new organize job.
func (h *OrganizeHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req OrganizeStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.InputFolder == "" || req.OutputFolder == "" {
		respondError(w, http.StatusBadRequest, "input_folder and output_folder are required")
		return
	}

	threshold := h.config.Defaults.Threshold.Default
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	jobID, err := h.manager.Start(r.Context(), organizer.StartRequest{
		InputPath:       req.InputFolder,
		OutputPath:      req.OutputFolder,
		Threshold:       threshold,
		AllOrientations: req.CheckAllOrientations,
		EmbeddingsDir:   req.EmbeddingsDir,
	})
	if err != nil {
		h.logger.Warn("organize request rejected", "input", sanitizeForLog(req.InputFolder), "error", err)
		respondError(w, statusForError(err), err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(organizer.StatusActive),
	})
}

// Progress returns a snapshot of the current job.
func (h *OrganizeHandler) Progress(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.manager.Progress())
}

// Results returns the photos organized by the current job.
func (h *OrganizeHandler) Results(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.manager.Results())
}

// Cancel asks the running job to stop.
func (h *OrganizeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.manager.RequestCancel() {
		respondError(w, http.StatusNotFound, "no organize job is running")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// Events streams job events via SSE until the job ends or the client disconnects.
func (h *OrganizeHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	events := h.manager.Events()
	eventCh := events.AddListener()
	defer events.RemoveListener(eventCh)

	snapshot := h.manager.Progress()
	sendSSEEvent(w, flusher, "status", snapshot)
	if !snapshot.Active {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if isTerminalEvent(event.Type) {
				return
			}
		}
	}
}
