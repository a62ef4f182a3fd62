package detect

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civilworks/drainscan/internal/geometry"
	"github.com/civilworks/drainscan/internal/models"
	"github.com/civilworks/drainscan/internal/ocr"
	"github.com/civilworks/drainscan/internal/vision"
)

// fakeCropper records the windows it was asked for and returns a marker
// payload the fake detector can see.
type fakeCropper struct {
	mu      sync.Mutex
	windows []geometry.BBox
	err     error
}

func (f *fakeCropper) Crop(_ context.Context, _ []byte, box geometry.BBox) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.windows = append(f.windows, box)
	return []byte("crop"), nil
}

type fakeDetector struct {
	detections []vision.Detection
	err        error
}

func (f *fakeDetector) Detect(context.Context, []byte) ([]vision.Detection, error) {
	return f.detections, f.err
}

func TestGuidedDetectTranslatesToPageCoordinates(t *testing.T) {
	s := DefaultSettings()
	cropper := &fakeCropper{}
	detector := &fakeDetector{detections: []vision.Detection{{
		Kind:       models.SymbolDoubleRectangle,
		Box:        geometry.Rect(5, 8, 40, 40),
		Confidence: 0.9,
	}}}
	g := NewGuidedDetector(cropper, detector, s)

	labels := []ocr.StructureLabel{label("S-1", 500, 400, 20, 20)}
	symbols, err := g.Detect(context.Background(), []byte("page"), 2000, 1500, labels, nil)
	require.NoError(t, err)
	require.Len(t, symbols, 1)

	// Window starts at label box minus the search margin.
	window := geometry.Rect(500, 400, 20, 20).Expand(s.SearchMargin, 2000, 1500)
	assert.Equal(t, window.X+5, symbols[0].Box.X)
	assert.Equal(t, window.Y+8, symbols[0].Box.Y)
	assert.Equal(t, "S-1", symbols[0].SourceLabel)
	assert.NotEmpty(t, symbols[0].ID)
}

func TestGuidedDetectNoLabels(t *testing.T) {
	g := NewGuidedDetector(&fakeCropper{}, &fakeDetector{}, DefaultSettings())
	_, err := g.Detect(context.Background(), []byte("page"), 100, 100, nil, nil)
	assert.ErrorIs(t, err, ErrNoLabels)
}

func TestGuidedDetectAllowListFiltersAndTightensMargin(t *testing.T) {
	s := DefaultSettings()
	cropper := &fakeCropper{}
	g := NewGuidedDetector(cropper, &fakeDetector{}, s)

	labels := []ocr.StructureLabel{
		label("S-1", 500, 400, 20, 20),
		label("M-2", 900, 800, 20, 20),
	}
	// Hyphen placement and case must not matter.
	_, err := g.Detect(context.Background(), []byte("page"), 2000, 1500, labels, []string{"s1"})
	require.NoError(t, err)

	require.Len(t, cropper.windows, 1)
	want := geometry.Rect(500, 400, 20, 20).Expand(s.SearchMarginStrict, 2000, 1500)
	assert.Equal(t, want, cropper.windows[0])
}

func TestGuidedDetectAllowListWithNoMatchIsNoLabels(t *testing.T) {
	g := NewGuidedDetector(&fakeCropper{}, &fakeDetector{}, DefaultSettings())
	labels := []ocr.StructureLabel{label("S-1", 500, 400, 20, 20)}
	_, err := g.Detect(context.Background(), []byte("page"), 2000, 1500, labels, []string{"Z-9"})
	assert.ErrorIs(t, err, ErrNoLabels)
}

func TestGuidedDetectWindowFailuresAreSkipped(t *testing.T) {
	cropper := &fakeCropper{err: errors.New("service down")}
	g := NewGuidedDetector(cropper, &fakeDetector{}, DefaultSettings())

	labels := []ocr.StructureLabel{label("S-1", 500, 400, 20, 20)}
	symbols, err := g.Detect(context.Background(), []byte("page"), 2000, 1500, labels, nil)
	require.NoError(t, err)
	assert.Empty(t, symbols)
}

func TestGuidedDetectFansOutAllLabels(t *testing.T) {
	s := DefaultSettings()
	s.DetectWorkers = 2
	cropper := &fakeCropper{}
	detector := &fakeDetector{detections: []vision.Detection{{
		Kind: models.SymbolCircleGrid, Box: geometry.Rect(0, 0, 30, 30), Confidence: 0.9,
	}}}
	g := NewGuidedDetector(cropper, detector, s)

	var labels []ocr.StructureLabel
	for i := 0; i < 8; i++ {
		labels = append(labels, label("S-1", float64(i)*200, 100, 20, 20))
	}
	symbols, err := g.Detect(context.Background(), []byte("page"), 4000, 1000, labels, nil)
	require.NoError(t, err)
	assert.Len(t, symbols, 8)
	assert.Len(t, cropper.windows, 8)
}

func TestDetectWholeImagePropagatesDetectorError(t *testing.T) {
	g := NewGuidedDetector(&fakeCropper{}, &fakeDetector{err: errors.New("down")}, DefaultSettings())
	_, err := g.DetectWholeImage(context.Background(), []byte("page"))
	assert.Error(t, err)
}
