package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kozaktomas/face-organizer/internal/constants"
	"github.com/kozaktomas/face-organizer/internal/detector"
	"github.com/kozaktomas/face-organizer/internal/imageio"
	"github.com/kozaktomas/face-organizer/internal/organizer"
	"github.com/kozaktomas/face-organizer/internal/reference"
)

// IdentifyHandler reports the closest reference identities for the faces of one image.
type IdentifyHandler struct {
	manager  *organizer.Manager
	detector detector.Detector
	logger   *slog.Logger
}

// NewIdentifyHandler creates a new identify handler.
func NewIdentifyHandler(m *organizer.Manager, d detector.Detector, logger *slog.Logger) *IdentifyHandler {
	return &IdentifyHandler{manager: m, detector: d, logger: logger}
}

// IdentifiedFace is one detected face and its nearest identities.
type IdentifiedFace struct {
	FaceIndex int                  `json:"face_index"`
	BBox      []float64            `json:"bbox,omitempty"`
	DetScore  float64              `json:"det_score,omitempty"`
	Matches   []reference.Neighbor `json:"matches"`
}

// Identify handles a multipart upload ("file", optional "k").
func (h *IdentifyHandler) Identify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	k := constants.DefaultIdentifyLimit
	if s := r.FormValue("k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = min(n, constants.MaxIdentifyLimit)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	img, err := imageio.Decode(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unsupported or corrupt image")
		return
	}

	refs := h.manager.References()
	if refs.Len() == 0 {
		respondError(w, http.StatusBadRequest, organizer.ErrNoReferences.Error())
		return
	}

	if err := h.detector.Prepare(r.Context()); err != nil {
		h.logger.Error("face detector not available", "error", err)
		respondError(w, http.StatusInternalServerError, organizer.ErrDetectorInit.Error())
		return
	}
	faces, err := h.detector.Detect(r.Context(), img)
	if err != nil {
		h.logger.Error("face detection failed", "error", err)
		respondError(w, http.StatusInternalServerError, "face detection failed")
		return
	}

	index := refs.Index()
	result := make([]IdentifiedFace, 0, len(faces))
	for i, f := range faces {
		result = append(result, IdentifiedFace{
			FaceIndex: i,
			BBox:      f.BBox,
			DetScore:  f.DetScore,
			Matches:   index.Nearest(f.Embedding, k),
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"faces":       result,
		"faces_count": len(result),
	})
}
