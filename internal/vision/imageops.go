package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"github.com/civilworks/drainscan/internal/geometry"
)

// ImageOps calls the external image-processing service. Cropping has an
// in-process fallback so guided detection keeps working when the service
// is unreachable.
type ImageOps struct {
	BaseURL    string
	httpClient *http.Client
}

// NewImageOps creates an image-ops client. An empty baseURL falls back
// to IMAGE_SERVICE_URL, then to localhost.
func NewImageOps(baseURL string) *ImageOps {
	if baseURL == "" {
		baseURL = os.Getenv("IMAGE_SERVICE_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}
	return &ImageOps{
		BaseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Crop extracts the box region from the page image. On any service
// failure it falls back to decoding and cropping locally.
func (o *ImageOps) Crop(ctx context.Context, img []byte, box geometry.BBox) ([]byte, error) {
	box.Normalize()
	cropped, err := o.cropRemote(ctx, img, box)
	if err == nil {
		return cropped, nil
	}
	slog.Warn("Remote crop failed, cropping locally", "err", err)
	return cropLocal(img, box)
}

func (o *ImageOps) cropRemote(ctx context.Context, img []byte, box geometry.BBox) ([]byte, error) {
	params := url.Values{}
	params.Set("x", strconv.Itoa(int(box.X)))
	params.Set("y", strconv.Itoa(int(box.Y)))
	params.Set("width", strconv.Itoa(int(box.Width)))
	params.Set("height", strconv.Itoa(int(box.Height)))

	var parsed struct {
		CroppedImage string `json:"croppedImage"`
	}
	if err := o.postImage(ctx, "/crop-image?"+params.Encode(), img, &parsed); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(parsed.CroppedImage)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cropped image: %w", err)
	}
	return data, nil
}

// cropLocal decodes the page and crops it in process, used when the
// image service is down.
func cropLocal(img []byte, box geometry.BBox) ([]byte, error) {
	decoded, err := imaging.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("failed to decode page image: %w", err)
	}
	rect := image.Rect(int(box.X), int(box.Y), int(box.X+box.Width), int(box.Y+box.Height))
	cropped := imaging.Crop(decoded, rect)

	var buf bytes.Buffer
	if err := png.Encode(&buf, cropped); err != nil {
		return nil, fmt.Errorf("failed to encode cropped image: %w", err)
	}
	return buf.Bytes(), nil
}

// DetectLines asks the service for straight raster edges. Failures yield
// an empty slice: pipe verification is advisory only.
func (o *ImageOps) DetectLines(ctx context.Context, img []byte) []geometry.Segment {
	var parsed struct {
		Lines []struct {
			StartPoint geometry.Point `json:"startPoint"`
			EndPoint   geometry.Point `json:"endPoint"`
		} `json:"lines"`
	}
	if err := o.postImage(ctx, "/detect-lines", img, &parsed); err != nil {
		slog.Warn("Line detection unavailable, skipping raster verification", "err", err)
		return nil
	}
	segments := make([]geometry.Segment, 0, len(parsed.Lines))
	for _, l := range parsed.Lines {
		segments = append(segments, geometry.Segment{Start: l.StartPoint, End: l.EndPoint})
	}
	return segments
}

// RenderPage rasterizes one page of the uploaded document to PNG.
func (o *ImageOps) RenderPage(ctx context.Context, pdf []byte, pageNum int) ([]byte, error) {
	var parsed struct {
		Image string `json:"image"`
	}
	path := "/render-pdf?page=" + strconv.Itoa(pageNum)
	if err := o.postImage(ctx, path, pdf, &parsed); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(parsed.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rendered page: %w", err)
	}
	return data, nil
}

// ExtractText pulls raw text from the uploaded document. Last tier of
// the recognition fallback chain.
func (o *ImageOps) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := o.postImage(ctx, "/extract-text", pdf, &parsed); err != nil {
		return "", err
	}
	return parsed.Text, nil
}

func (o *ImageOps) postImage(ctx context.Context, path string, payload []byte, out any) error {
	body, contentType, err := imageForm(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create image-ops request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call image-ops service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("image-ops service returned status %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode image-ops response: %w", err)
	}
	return nil
}
