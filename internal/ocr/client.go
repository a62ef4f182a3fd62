package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Client talks to the external text-recognition service.
type Client struct {
	BaseURL    string
	httpClient *http.Client
}

// NewClient creates an OCR client. An empty baseURL falls back to the
// OCR_SERVICE_URL environment variable, then to localhost.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("OCR_SERVICE_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8002"
	}
	return &Client{
		BaseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// ExtractImage runs structured recognition on a rendered page image.
func (c *Client) ExtractImage(ctx context.Context, image []byte) (*Result, error) {
	return c.post(ctx, "/ocr", image, "image/png")
}

// ExtractDocument runs recognition directly on the raw uploaded document.
// Slower than ExtractImage; used when the rendered page cannot be read.
func (c *Client) ExtractDocument(ctx context.Context, pdf []byte) (*Result, error) {
	return c.post(ctx, "/ocr/document", pdf, "application/pdf")
}

func (c *Client) post(ctx context.Context, path string, payload []byte, contentType string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call OCR service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("OCR service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode OCR response: %w", err)
	}
	for pi := range result.Pages {
		for li := range result.Pages[pi].Lines {
			result.Pages[pi].Lines[li].Box.Normalize()
			for wi := range result.Pages[pi].Lines[li].Words {
				result.Pages[pi].Lines[li].Words[wi].Box.Normalize()
			}
		}
	}
	return &result, nil
}

// PlainTextExtractor recovers raw text from the uploaded document. The
// image-ops service satisfies this; it is the last recognition fallback.
type PlainTextExtractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// Service wraps the recognition client with the three-tier fallback
// chain: structured OCR on the rendered page, OCR on the raw document,
// then plain text extraction. Each tier's failure is logged and falls
// through; only total failure returns an error.
type Service struct {
	client    *Client
	plainText PlainTextExtractor
}

// NewService creates the fallback-chain recognition service.
func NewService(client *Client, plainText PlainTextExtractor) *Service {
	return &Service{client: client, plainText: plainText}
}

// Extract runs the fallback chain for one session.
func (s *Service) Extract(ctx context.Context, pageImage, pdf []byte) (*Result, error) {
	if len(pageImage) > 0 {
		result, err := s.client.ExtractImage(ctx, pageImage)
		if err == nil {
			return result, nil
		}
		slog.Warn("Structured OCR failed, trying raw document", "err", err)
	}

	result, err := s.client.ExtractDocument(ctx, pdf)
	if err == nil {
		return result, nil
	}
	slog.Warn("Document OCR failed, falling back to plain text", "err", err)

	text, err := s.plainText.ExtractText(ctx, pdf)
	if err != nil {
		return nil, fmt.Errorf("all text extraction strategies failed: %w", err)
	}
	slog.Info("Recovered plain text without positions", "length", len(text))
	return FromPlainText(text), nil
}
