package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-organizer/internal/constants"
	"github.com/kozaktomas/face-organizer/internal/imageio"
)

const (
	defaultDetectorURL = "http://localhost:8000"
	prepareAttempts    = 5
	prepareDelay       = time.Second
)

// ErrNotReady is returned by Detect before Prepare succeeded.
var ErrNotReady = errors.New("face detector not prepared")

// HTTPDetector computes face embeddings using the embedding server.
type HTTPDetector struct {
	baseURL      string
	maxImageSize int
	client       *http.Client

	prepareMu sync.Mutex // serializes Prepare
	ready     atomic.Bool
	mu        sync.Mutex
	model     string
}

// NewHTTPDetector creates a detector for the embedding server at baseURL.
func NewHTTPDetector(baseURL string, maxImageSize int) *HTTPDetector {
	if baseURL == "" {
		baseURL = defaultDetectorURL
	}
	if maxImageSize <= 0 {
		maxImageSize = constants.MaxImageSize
	}
	return &HTTPDetector{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		maxImageSize: maxImageSize,
		client:       &http.Client{},
	}
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int `json:"faces_count"`
	Faces      []struct {
		FaceIndex int       `json:"face_index"`
		Dim       int       `json:"dim"`
		Embedding []float32 `json:"embedding"`
		BBox      []float64 `json:"bbox"`
		DetScore  float64   `json:"det_score"`
	} `json:"faces"`
	Model string `json:"model"`
}

// healthResponse represents the readiness payload of the embedding server
type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// Prepare waits until the embedding server reports healthy. The model warm-up on the
// server side can take several seconds, so a few attempts are made before giving up.
func (d *HTTPDetector) Prepare(ctx context.Context) error {
	d.prepareMu.Lock()
	defer d.prepareMu.Unlock()
	if d.ready.Load() {
		return nil
	}

	var lastErr error
	for attempt := range prepareAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("waiting for detector: %w", ctx.Err())
			case <-time.After(prepareDelay):
			}
		}
		health, err := d.health(ctx)
		if err == nil {
			d.mu.Lock()
			d.model = health.Model
			d.mu.Unlock()
			d.ready.Store(true)
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("detector at %s not ready after %d attempts: %w", d.baseURL, prepareAttempts, lastErr)
}

func (d *HTTPDetector) health(ctx context.Context) (*healthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var health healthResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &health); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	if health.Status != "" && health.Status != "ok" {
		return nil, fmt.Errorf("detector status %q", health.Status)
	}
	return &health, nil
}

// Ready reports whether Prepare has succeeded.
func (d *HTTPDetector) Ready() bool {
	return d.ready.Load()
}

// Model returns the model name reported by the server, empty before Prepare.
func (d *HTTPDetector) Model() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.model
}

// Detect detects faces and computes their embeddings.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	if !d.Ready() {
		return nil, ErrNotReady
	}

	data, err := imageio.EncodeJPEG(img, d.maxImageSize)
	if err != nil {
		return nil, err
	}
	body, err := d.postMultipartImage(ctx, "/embed/face", data)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]Face, 0, len(faceResp.Faces))
	for _, f := range faceResp.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		faces = append(faces, Face{Embedding: f.Embedding, BBox: f.BBox, DetScore: f.DetScore})
	}
	return faces, nil
}

// postMultipartImage posts JPEG data as the "file" form field to the given endpoint.
func (d *HTTPDetector) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
