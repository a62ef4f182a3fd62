package detect

import (
	"math"
	"sort"

	"github.com/civilworks/drainscan/internal/models"
)

// Deduplicate merges near-duplicate detections produced by overlapping
// search windows. Candidates are visited in descending confidence order,
// so a duplicate always loses to an equal-or-better instance already
// kept. Idempotent.
func Deduplicate(symbols []models.DetectedSymbol, s Settings) []models.DetectedSymbol {
	if len(symbols) < 2 {
		return symbols
	}
	sorted := make([]models.DetectedSymbol, len(symbols))
	copy(sorted, symbols)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	var kept []models.DetectedSymbol
	for _, cand := range sorted {
		dup := false
		for _, k := range kept {
			if isDuplicate(cand, k, s) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, cand)
		}
	}
	return kept
}

func isDuplicate(a, b models.DetectedSymbol, s Settings) bool {
	overlap := a.Box.Intersection(b.Box)
	if overlap > 0.5*a.Box.Area() || overlap > 0.5*b.Box.Area() {
		return true
	}
	if a.Kind != b.Kind {
		return false
	}
	if a.Box.Center().Distance(b.Box.Center()) >= s.DedupeCenterDistance {
		return false
	}
	areaA, areaB := a.Box.Area(), b.Box.Area()
	larger := math.Max(areaA, areaB)
	if larger == 0 {
		return true
	}
	return math.Abs(areaA-areaB)/larger < s.DedupeAreaRatio
}
