package detect

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/civilworks/drainscan/internal/geometry"
	"github.com/civilworks/drainscan/internal/models"
	"github.com/civilworks/drainscan/internal/ocr"
	"github.com/civilworks/drainscan/internal/vision"
)

// ErrNoLabels signals that guided detection cannot run because OCR found
// no structure labels; the orchestrator falls back to a whole-image pass.
var ErrNoLabels = errors.New("no structure labels available for guided detection")

// Cropper extracts a region of the page image.
type Cropper interface {
	Crop(ctx context.Context, img []byte, box geometry.BBox) ([]byte, error)
}

// ShapeDetector returns raw symbol candidates for an image.
type ShapeDetector interface {
	Detect(ctx context.Context, img []byte) ([]vision.Detection, error)
}

// GuidedDetector focuses the external shape detector on search windows
// around OCR-recognized structure labels instead of the whole page.
type GuidedDetector struct {
	cropper  Cropper
	detector ShapeDetector
	settings Settings
}

// NewGuidedDetector wires the detector to its collaborators.
func NewGuidedDetector(cropper Cropper, detector ShapeDetector, settings Settings) *GuidedDetector {
	return &GuidedDetector{cropper: cropper, detector: detector, settings: settings}
}

// Detect crops a search window around every structure label (optionally
// restricted to the allow-list, matched ignoring case and hyphens), runs
// the shape detector on each crop concurrently, and returns all
// candidates translated back to page coordinates and tagged with the
// label that produced them. Window failures are logged and skipped; only
// a complete absence of labels is an error.
func (g *GuidedDetector) Detect(ctx context.Context, page []byte, imgW, imgH float64, labels []ocr.StructureLabel, allow []string) ([]models.DetectedSymbol, error) {
	margin := g.settings.SearchMargin
	if len(allow) > 0 {
		labels = filterByAllowList(labels, allow)
		// Trusted labels get a tighter window to cut false positives.
		margin = g.settings.SearchMarginStrict
	}
	targets := make([]ocr.StructureLabel, 0, len(labels))
	for _, l := range labels {
		if l.Box.Valid() {
			targets = append(targets, l)
		}
	}
	if len(targets) == 0 {
		return nil, ErrNoLabels
	}

	workers := g.settings.DetectWorkers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)

	var (
		mu      sync.Mutex
		symbols []models.DetectedSymbol
		wg      sync.WaitGroup
	)
	for _, label := range targets {
		wg.Add(1)
		go func(label ocr.StructureLabel) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			window := label.Box.Expand(margin, imgW, imgH)
			crop, err := g.cropper.Crop(ctx, page, window)
			if err != nil {
				slog.Warn("Failed to crop search window", "label", label.Text, "err", err)
				return
			}
			detections, err := g.detector.Detect(ctx, crop)
			if err != nil {
				slog.Warn("Shape detection failed for window", "label", label.Text, "err", err)
				return
			}

			found := make([]models.DetectedSymbol, 0, len(detections))
			for _, d := range detections {
				found = append(found, models.DetectedSymbol{
					ID:          uuid.NewString(),
					Kind:        d.Kind,
					Box:         d.Box.Translate(window.X, window.Y),
					Confidence:  d.Confidence,
					SourceLabel: label.Text,
				})
			}

			mu.Lock()
			symbols = append(symbols, found...)
			mu.Unlock()
		}(label)
	}
	wg.Wait()

	slog.Info("Guided detection finished", "labels", len(targets), "candidates", len(symbols))
	return symbols, nil
}

// DetectWholeImage runs the detector once over the entire page, used
// when no labels exist or the guided pass accepted nothing.
func (g *GuidedDetector) DetectWholeImage(ctx context.Context, page []byte) ([]models.DetectedSymbol, error) {
	detections, err := g.detector.Detect(ctx, page)
	if err != nil {
		return nil, err
	}
	symbols := make([]models.DetectedSymbol, 0, len(detections))
	for _, d := range detections {
		symbols = append(symbols, models.DetectedSymbol{
			ID:         uuid.NewString(),
			Kind:       d.Kind,
			Box:        d.Box,
			Confidence: d.Confidence,
		})
	}
	return symbols, nil
}

func filterByAllowList(labels []ocr.StructureLabel, allow []string) []ocr.StructureLabel {
	allowed := make(map[string]bool, len(allow))
	for _, a := range allow {
		allowed[ocr.NormalizeTag(a)] = true
	}
	var out []ocr.StructureLabel
	for _, l := range labels {
		if allowed[l.Normalized] {
			out = append(out, l)
		}
	}
	return out
}
