package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civilworks/drainscan/internal/models"
)

func TestDeduplicateKeepsHigherConfidence(t *testing.T) {
	a := candidate(models.SymbolDoubleRectangle, 50, 50, 30, 30, 0.85)
	b := candidate(models.SymbolDoubleRectangle, 52, 52, 30, 30, 0.90)

	kept := Deduplicate([]models.DetectedSymbol{a, b}, DefaultSettings())
	require.Len(t, kept, 1)
	assert.Equal(t, 0.90, kept[0].Confidence)
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	symbols := []models.DetectedSymbol{
		candidate(models.SymbolDoubleRectangle, 50, 50, 30, 30, 0.85),
		candidate(models.SymbolDoubleRectangle, 52, 52, 30, 30, 0.90),
		candidate(models.SymbolCircleGrid, 300, 300, 28, 28, 0.88),
		candidate(models.SymbolOval, 600, 100, 36, 24, 0.92),
	}
	s := DefaultSettings()

	once := Deduplicate(symbols, s)
	twice := Deduplicate(once, s)
	assert.Equal(t, once, twice)
}

func TestDeduplicateDifferentKindsAtSameSpotByOverlap(t *testing.T) {
	// Same location, different kinds: still duplicates via the overlap
	// rule because the boxes cover each other almost entirely.
	a := candidate(models.SymbolDoubleRectangle, 50, 50, 30, 30, 0.9)
	b := candidate(models.SymbolCircleGrid, 51, 51, 30, 30, 0.85)

	kept := Deduplicate([]models.DetectedSymbol{a, b}, DefaultSettings())
	require.Len(t, kept, 1)
	assert.Equal(t, models.SymbolDoubleRectangle, kept[0].Kind)
}

func TestDeduplicateKeepsDistinctSymbols(t *testing.T) {
	a := candidate(models.SymbolDoubleRectangle, 50, 50, 30, 30, 0.9)
	b := candidate(models.SymbolDoubleRectangle, 300, 300, 30, 30, 0.9)

	kept := Deduplicate([]models.DetectedSymbol{a, b}, DefaultSettings())
	assert.Len(t, kept, 2)
}

func TestDeduplicateNearbyButDifferentSizes(t *testing.T) {
	// Close centers, same kind, but area differs beyond the ratio and
	// the overlap stays under half of the larger box.
	a := candidate(models.SymbolDoubleRectangle, 50, 50, 60, 60, 0.9)
	b := candidate(models.SymbolDoubleRectangle, 105, 55, 24, 24, 0.85)

	kept := Deduplicate([]models.DetectedSymbol{a, b}, DefaultSettings())
	assert.Len(t, kept, 2)
}
