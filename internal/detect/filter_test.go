package detect

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civilworks/drainscan/internal/geometry"
	"github.com/civilworks/drainscan/internal/models"
	"github.com/civilworks/drainscan/internal/ocr"
)

func label(text string, x, y, w, h float64) ocr.StructureLabel {
	return ocr.StructureLabel{
		Text:       text,
		Normalized: ocr.NormalizeTag(text),
		Box:        geometry.Rect(x, y, w, h),
		Confidence: 0.95,
	}
}

func candidate(kind models.SymbolKind, x, y, w, h, conf float64) models.DetectedSymbol {
	return models.DetectedSymbol{Kind: kind, Box: geometry.Rect(x, y, w, h), Confidence: conf}
}

func TestFilterConfidenceFloorIsAbsolute(t *testing.T) {
	s := DefaultSettings()
	labels := []ocr.StructureLabel{label("S-1", 100, 100, 20, 20)}
	// Perfect size, right next to its label, but just under the floor.
	cand := candidate(models.SymbolDoubleRectangle, 90, 85, 40, 40, s.MinConfidence-0.01)

	accepted, diags := Filter([]models.DetectedSymbol{cand}, FilterOptions{Labels: labels, RequireProximity: true}, s)
	assert.Empty(t, accepted)
	assert.Equal(t, 1, diags.Rejections[StageConfidence])
}

func TestFilterKeepsSymbolNearLabel(t *testing.T) {
	labels := []ocr.StructureLabel{label("S-1", 100, 100, 20, 20)}
	cand := candidate(models.SymbolDoubleRectangle, 90, 85, 40, 40, 0.9)

	accepted, diags := Filter([]models.DetectedSymbol{cand}, FilterOptions{Labels: labels, RequireProximity: true}, DefaultSettings())
	require.Len(t, accepted, 1)
	assert.Equal(t, "S-1", accepted[0].NearestLabel)
	assert.Equal(t, 1, diags.Accepted)
}

func TestFilterRejectsOversizedHighConfidence(t *testing.T) {
	labels := []ocr.StructureLabel{label("S-1", 100, 100, 20, 20)}
	cand := candidate(models.SymbolDoubleRectangle, 0, 0, 500, 500, 0.95)

	accepted, diags := Filter([]models.DetectedSymbol{cand}, FilterOptions{Labels: labels, RequireProximity: true}, DefaultSettings())
	assert.Empty(t, accepted)
	assert.Equal(t, 1, diags.Rejections[StageSize])
}

func TestFilterRejectsUnknownKind(t *testing.T) {
	cand := candidate(models.SymbolUnknown, 90, 85, 40, 40, 0.99)
	accepted, diags := Filter([]models.DetectedSymbol{cand}, FilterOptions{}, DefaultSettings())
	assert.Empty(t, accepted)
	assert.Equal(t, 1, diags.Rejections[StageType])
}

func TestFilterRejectsExtremeAspectRatio(t *testing.T) {
	labels := []ocr.StructureLabel{label("S-1", 100, 100, 20, 20)}
	// A text-line shaped box: 120x12.
	cand := candidate(models.SymbolDoubleRectangle, 80, 100, 120, 12, 0.9)

	accepted, diags := Filter([]models.DetectedSymbol{cand}, FilterOptions{Labels: labels, RequireProximity: true}, DefaultSettings())
	assert.Empty(t, accepted)
	assert.Equal(t, 1, diags.Rejections[StageAspect])
}

func TestFilterRejectsNonCompactLargeArea(t *testing.T) {
	labels := []ocr.StructureLabel{label("S-1", 100, 100, 20, 20)}
	// 150x60: area 9000 over the compact floor, ratio 0.4 under the minimum.
	cand := candidate(models.SymbolDoubleRectangle, 60, 80, 150, 60, 0.9)

	accepted, diags := Filter([]models.DetectedSymbol{cand}, FilterOptions{Labels: labels, RequireProximity: true}, DefaultSettings())
	assert.Empty(t, accepted)
	assert.Equal(t, 1, diags.Rejections[StageCompactness])
}

func TestFilterTextOverlapExclusion(t *testing.T) {
	s := DefaultSettings()
	labels := []ocr.StructureLabel{label("S-1", 100, 100, 20, 20)}
	words := []ocr.Word{
		{Text: "NOTES", Box: geometry.Rect(95, 90, 30, 12), Confidence: 0.9},
	}
	cand := candidate(models.SymbolDoubleRectangle, 90, 85, 40, 40, 0.9)

	accepted, diags := Filter([]models.DetectedSymbol{cand}, FilterOptions{Labels: labels, Words: words, RequireProximity: true}, s)
	assert.Empty(t, accepted)
	assert.Equal(t, 1, diags.Rejections[StageTextOverlap])

	// The candidate's own structure tag must not disqualify it.
	words = []ocr.Word{
		{Text: "S-1", Box: geometry.Rect(100, 100, 20, 20), Confidence: 0.9},
	}
	accepted, _ = Filter([]models.DetectedSymbol{cand}, FilterOptions{Labels: labels, Words: words, RequireProximity: true}, s)
	assert.Len(t, accepted, 1)
}

func TestFilterNoiseTokensUseLargerRadius(t *testing.T) {
	s := DefaultSettings()
	labels := []ocr.StructureLabel{label("S-1", 100, 100, 20, 20)}
	// An elevation number 25px away from the candidate center: outside
	// the normal radius but inside the noise-token radius.
	cand := candidate(models.SymbolDoubleRectangle, 90, 85, 40, 40, 0.9)
	center := cand.Box.Center()
	words := []ocr.Word{
		{Text: "12.5", Box: geometry.Rect(center.X+25-2, center.Y-2, 4, 4), Confidence: 0.9},
	}

	accepted, diags := Filter([]models.DetectedSymbol{cand}, FilterOptions{Labels: labels, Words: words, RequireProximity: true}, s)
	assert.Empty(t, accepted)
	assert.Equal(t, 1, diags.Rejections[StageTextOverlap])
}

func TestFilterClusteringExclusion(t *testing.T) {
	labels := []ocr.StructureLabel{label("S-1", 100, 100, 20, 20)}
	a := candidate(models.SymbolDoubleRectangle, 90, 85, 40, 40, 0.95)
	b := candidate(models.SymbolDoubleRectangle, 100, 95, 40, 40, 0.9)

	accepted, diags := Filter([]models.DetectedSymbol{a, b}, FilterOptions{Labels: labels, RequireProximity: true}, DefaultSettings())
	assert.Len(t, accepted, 1)
	assert.Equal(t, 1, diags.Rejections[StageClustering])
}

func TestFilterProximityRejectionAndStrictBound(t *testing.T) {
	s := DefaultSettings()
	labels := []ocr.StructureLabel{label("S-1", 500, 500, 20, 20)}
	// 120px from the label: inside the default bound, outside the strict one.
	cand := candidate(models.SymbolDoubleRectangle, 370, 480, 40, 40, 0.9)

	accepted, _ := Filter([]models.DetectedSymbol{cand}, FilterOptions{Labels: labels, RequireProximity: true}, s)
	assert.Len(t, accepted, 1)

	accepted, diags := Filter([]models.DetectedSymbol{cand}, FilterOptions{Labels: labels, RequireProximity: true, Strict: true}, s)
	assert.Empty(t, accepted)
	assert.Equal(t, 1, diags.Rejections[StageProximity])
}

func TestFilterBoostsInsteadOfRejectingWithoutProximity(t *testing.T) {
	s := DefaultSettings()
	labels := []ocr.StructureLabel{label("S-1", 100, 100, 20, 20)}
	near := candidate(models.SymbolDoubleRectangle, 90, 85, 40, 40, 0.9)
	far := candidate(models.SymbolCircleGrid, 900, 900, 40, 40, 0.92)

	accepted, _ := Filter([]models.DetectedSymbol{near, far}, FilterOptions{Labels: labels, RequireProximity: false}, s)
	require.Len(t, accepted, 2)
	assert.Greater(t, accepted[0].Confidence, 0.9)
	assert.Equal(t, 0.92, accepted[1].Confidence)
}

func TestFilterHigherFloorWithoutLabels(t *testing.T) {
	s := DefaultSettings()
	cand := candidate(models.SymbolDoubleRectangle, 90, 85, 40, 40, 0.85)

	accepted, diags := Filter([]models.DetectedSymbol{cand}, FilterOptions{}, s)
	assert.Empty(t, accepted)
	assert.Equal(t, 1, diags.Rejections[StageConfidence])

	cand.Confidence = 0.95
	accepted, _ = Filter([]models.DetectedSymbol{cand}, FilterOptions{}, s)
	assert.Len(t, accepted, 1)
}

func TestFilterSkipsInvalidBoxes(t *testing.T) {
	labels := []ocr.StructureLabel{label("S-1", 100, 100, 20, 20)}
	cand := models.DetectedSymbol{Kind: models.SymbolDoubleRectangle, Confidence: 0.95}

	accepted, diags := Filter([]models.DetectedSymbol{cand}, FilterOptions{Labels: labels, RequireProximity: true}, DefaultSettings())
	assert.Empty(t, accepted)
	assert.Equal(t, 1, diags.Rejections[StageInvalidBox])
}

func TestFilterSkipGeometryKeepsConfidentCandidates(t *testing.T) {
	cand := models.DetectedSymbol{Kind: models.SymbolOval, Confidence: 0.95}
	accepted, _ := Filter([]models.DetectedSymbol{cand}, FilterOptions{SkipGeometry: true}, DefaultSettings())
	assert.Len(t, accepted, 1)
}

func TestFilterCapTruncatesByLabelDistance(t *testing.T) {
	s := DefaultSettings()
	s.MaxSymbols = 2
	s.MinSymbolSpacing = 1 // keep the clustering stage out of the way
	labels := []ocr.StructureLabel{label("S-1", 0, 0, 20, 20)}

	var cands []models.DetectedSymbol
	for i := 0; i < 4; i++ {
		cands = append(cands, candidate(models.SymbolDoubleRectangle, float64(i)*60, 20, 40, 40, 0.9))
	}
	accepted, diags := Filter(cands, FilterOptions{Labels: labels, RequireProximity: false}, s)
	require.Len(t, accepted, 2)
	assert.Equal(t, 2, diags.Rejections[StageCap])
	// The two closest to the label survive.
	for _, sym := range accepted {
		assert.Less(t, sym.Box.Center().X, 130.0, fmt.Sprintf("unexpected survivor at %+v", sym.Box))
	}
}
