// Package detector talks to the face detection and embedding capability.
package detector

import (
	"context"
	"image"
)

// Face is a single detected face.
type Face struct {
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox,omitempty"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score,omitempty"`
}

// Detector finds faces in an upright image and returns one embedding per face.
// Prepare must succeed before Detect is called; it is idempotent.
// Implementations are safe for concurrent use once prepared.
type Detector interface {
	Prepare(ctx context.Context) error
	Detect(ctx context.Context, img image.Image) ([]Face, error)
}

// Embeddings extracts the embedding vectors of faces.
func Embeddings(faces []Face) [][]float32 {
	out := make([][]float32, 0, len(faces))
	for _, f := range faces {
		out = append(out, f.Embedding)
	}
	return out
}
