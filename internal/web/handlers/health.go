package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-organizer/internal/config"
	"github.com/kozaktomas/face-organizer/internal/detector"
	"github.com/kozaktomas/face-organizer/internal/organizer"
)

// readiness is implemented by detectors that can tell whether they are prepared.
type readiness interface {
	Ready() bool
}

// HealthHandler reports whether the organizer can take work.
type HealthHandler struct {
	config   *config.Config
	manager  *organizer.Manager
	detector detector.Detector
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(cfg *config.Config, m *organizer.Manager, d detector.Detector) *HealthHandler {
	return &HealthHandler{config: cfg, manager: m, detector: d}
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status           string           `json:"status"`
	EmbeddingsLoaded int              `json:"embeddings_loaded"`
	DetectorReady    bool             `json:"detector_ready"`
	JobStatus        organizer.Status `json:"job_status"`
	ThresholdDefault float64          `json:"threshold_default"`
	ThresholdMin     float64          `json:"threshold_min"`
	ThresholdMax     float64          `json:"threshold_max"`
}

// Check handles the health check endpoint.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ready := false
	if rd, ok := h.detector.(readiness); ok {
		ready = rd.Ready()
	}
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		EmbeddingsLoaded: h.manager.References().Len(),
		DetectorReady:    ready,
		JobStatus:        h.manager.Status(),
		ThresholdDefault: h.config.Defaults.Threshold.Default,
		ThresholdMin:     h.config.Defaults.Threshold.Min,
		ThresholdMax:     h.config.Defaults.Threshold.Max,
	})
}
