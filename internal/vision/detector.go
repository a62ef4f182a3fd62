// Package vision holds the HTTP clients for the external computer-vision
// collaborators: the shape-detection model and the image-ops service
// (crop, line detection, document rendering and plain text extraction).
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/civilworks/drainscan/internal/geometry"
	"github.com/civilworks/drainscan/internal/models"
)

// Detection is one raw shape-detector candidate, in the coordinate space
// of the submitted image.
type Detection struct {
	Kind       models.SymbolKind
	Box        geometry.BBox
	Confidence float64
}

// Detector calls the external shape-detection model service.
type Detector struct {
	BaseURL    string
	httpClient *http.Client
}

// NewDetector creates a detector client. An empty baseURL falls back to
// DETECTOR_SERVICE_URL, then to localhost.
func NewDetector(baseURL string) *Detector {
	if baseURL == "" {
		baseURL = os.Getenv("DETECTOR_SERVICE_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	return &Detector{
		BaseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// detectResponse mirrors the model service reply.
type detectResponse struct {
	Objects []struct {
		Class       string  `json:"class"`
		Confidence  float64 `json:"confidence"`
		BoundingBox struct {
			X1     float64 `json:"x1"`
			Y1     float64 `json:"y1"`
			X2     float64 `json:"x2"`
			Y2     float64 `json:"y2"`
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		} `json:"bounding_box"`
		Points [][]float64 `json:"points,omitempty"`
	} `json:"objects"`
}

// Detect submits an image and returns every candidate the model reports,
// unfiltered. Class names outside the known symbol set come back as
// SymbolUnknown and are dropped later by the type whitelist.
func (d *Detector) Detect(ctx context.Context, image []byte) ([]Detection, error) {
	body, contentType, err := imageForm(image)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/analyze/detect", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create detect request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call shape detector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("shape detector returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode detector response: %w", err)
	}

	detections := make([]Detection, 0, len(parsed.Objects))
	for _, obj := range parsed.Objects {
		box := geometry.Rect(obj.BoundingBox.X1, obj.BoundingBox.Y1, obj.BoundingBox.Width, obj.BoundingBox.Height)
		if box.Width == 0 && box.Height == 0 {
			box = geometry.Rect(obj.BoundingBox.X1, obj.BoundingBox.Y1,
				obj.BoundingBox.X2-obj.BoundingBox.X1, obj.BoundingBox.Y2-obj.BoundingBox.Y1)
		}
		for _, p := range obj.Points {
			if len(p) == 2 {
				box.Polygon = append(box.Polygon, geometry.Point{X: p[0], Y: p[1]})
			}
		}
		detections = append(detections, Detection{
			Kind:       models.ParseSymbolKind(obj.Class),
			Box:        box,
			Confidence: obj.Confidence,
		})
	}
	return detections, nil
}

// imageForm wraps image bytes into the multipart body the python
// collaborators expect.
func imageForm(image []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "page.png")
	if err != nil {
		return nil, "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("failed to write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
