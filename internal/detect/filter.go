package detect

import (
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/civilworks/drainscan/internal/geometry"
	"github.com/civilworks/drainscan/internal/models"
	"github.com/civilworks/drainscan/internal/ocr"
)

// Filter stage names, used as diagnostics keys.
const (
	StageInvalidBox  = "invalid_box"
	StageConfidence  = "confidence"
	StageType        = "type"
	StageSize        = "size"
	StageAspect      = "aspect_ratio"
	StageCompactness = "compactness"
	StageTextOverlap = "text_overlap"
	StageClustering  = "clustering"
	StageProximity   = "proximity"
	StageCap         = "cap"
)

// Diagnostics records how many candidates each filter stage rejected.
type Diagnostics struct {
	Input      int            `json:"input" yaml:"input"`
	Accepted   int            `json:"accepted" yaml:"accepted"`
	Rejections map[string]int `json:"rejections" yaml:"rejections"`
}

func (d *Diagnostics) reject(stage string) {
	if d.Rejections == nil {
		d.Rejections = make(map[string]int)
	}
	d.Rejections[stage]++
}

// FilterOptions carries the per-run context the filter needs beyond the
// candidates themselves.
type FilterOptions struct {
	// Labels are the structure tags found by OCR; empty means detection
	// ran without guidance.
	Labels []ocr.StructureLabel
	// Words is the full OCR word list, used by the text-overlap stage.
	Words []ocr.Word
	// RequireProximity rejects candidates far from every label. The
	// whole-image fallback disables it and boosts near-label candidates
	// instead.
	RequireProximity bool
	// Strict applies the tighter size and distance bounds used when the
	// caller supplied a label allow-list.
	Strict bool
	// SkipGeometry limits filtering to confidence and type checks, for
	// text-only sessions whose words carry no positions.
	SkipGeometry bool
}

// pure numbers and elevation shorthand frequently misdetected as symbols
var (
	numberPattern = regexp.MustCompile(`^\d+([.,]\d+)?%?$`)
	noiseTokens   = map[string]bool{"FL": true, "GL": true, "INV": true, "TOP": true, "BL": true}
)

func isNoiseToken(text string) bool {
	text = strings.ToUpper(strings.TrimSpace(text))
	return numberPattern.MatchString(text) || strings.Contains(text, "%") || noiseTokens[text]
}

// Filter runs every candidate through the sequential predicate pipeline
// and returns the survivors plus per-stage rejection counts. It never
// fails: malformed candidates are skipped, not errors.
func Filter(candidates []models.DetectedSymbol, opts FilterOptions, s Settings) ([]models.DetectedSymbol, Diagnostics) {
	diags := Diagnostics{Input: len(candidates)}

	minConfidence := s.MinConfidence
	if len(opts.Labels) == 0 {
		// Without any label context the model has to be very sure.
		minConfidence = s.MinConfidenceNoLabels
	}
	maxSize := s.MaxSymbolSize
	labelDistance := s.MaxLabelDistance
	if opts.Strict {
		maxSize = s.MaxSymbolSizeStrict
		labelDistance = s.MaxLabelDistanceStrict
	}

	var accepted []models.DetectedSymbol
	for _, cand := range candidates {
		if cand.Confidence < minConfidence {
			diags.reject(StageConfidence)
			continue
		}
		if cand.Kind == models.SymbolUnknown {
			diags.reject(StageType)
			continue
		}
		if opts.SkipGeometry {
			accepted = append(accepted, cand)
			continue
		}
		if !cand.Box.Valid() {
			slog.Debug("Skipping candidate without geometry", "kind", cand.Kind, "confidence", cand.Confidence)
			diags.reject(StageInvalidBox)
			continue
		}
		cand.Box.Normalize()

		if !passSize(cand.Box, s, maxSize) {
			diags.reject(StageSize)
			continue
		}
		if ar := cand.Box.AspectRatio(); ar < s.MinAspectRatio || ar > s.MaxAspectRatio {
			diags.reject(StageAspect)
			continue
		}
		if cand.Box.Area() > s.CompactAreaFloor && cand.Box.Compactness() < s.MinCompactness {
			diags.reject(StageCompactness)
			continue
		}
		if overlapsText(cand.Box, opts.Words, s) {
			diags.reject(StageTextOverlap)
			continue
		}
		if tooCloseToAccepted(cand.Box.Center(), accepted, s.MinSymbolSpacing) {
			diags.reject(StageClustering)
			continue
		}

		if len(opts.Labels) > 0 {
			label, dist := nearestLabel(cand.Box.Center(), opts.Labels)
			if opts.RequireProximity {
				if dist > labelDistance {
					diags.reject(StageProximity)
					continue
				}
				cand.NearestLabel = label.Text
			} else if dist <= s.MaxLabelDistance {
				cand.NearestLabel = label.Text
				cand.Confidence = math.Min(1, cand.Confidence+s.ProximityBoost*(1-dist/s.MaxLabelDistance))
			}
		}

		accepted = append(accepted, cand)
	}

	accepted = capSymbols(accepted, opts.Labels, s.MaxSymbols, &diags)
	diags.Accepted = len(accepted)
	return accepted, diags
}

func passSize(box geometry.BBox, s Settings, maxSize float64) bool {
	if box.Width < s.MinSymbolSize || box.Height < s.MinSymbolSize {
		return false
	}
	if box.Width > maxSize || box.Height > maxSize {
		return false
	}
	area := box.Area()
	return area >= s.MinSymbolArea && area <= s.MaxSymbolArea
}

// overlapsText rejects candidates sitting on general drawing text. Words
// that are themselves structure tags never disqualify a candidate, and
// known noise tokens are checked at the larger radius because they are
// the most common source of false positives.
func overlapsText(box geometry.BBox, words []ocr.Word, s Settings) bool {
	center := box.Center()
	for _, w := range words {
		if !w.Box.Valid() || ocr.IsStructureTag(w.Text, s.MarkerToken) {
			continue
		}
		radius := s.TextExclusionRadius
		if isNoiseToken(w.Text) {
			radius = s.NoiseTokenRadius
		}
		if center.Distance(w.Box.Center()) < radius {
			return true
		}
		if overlap := box.Intersection(w.Box); overlap > 0 {
			smaller := math.Min(box.Area(), w.Box.Area())
			if smaller > 0 && overlap/smaller > s.MaxTextOverlap {
				return true
			}
		}
	}
	return false
}

// tooCloseToAccepted catches repeated dash and tick patterns misread as
// symbol rows: real structures never sit within a symbol width of each
// other.
func tooCloseToAccepted(center geometry.Point, accepted []models.DetectedSymbol, spacing float64) bool {
	for _, a := range accepted {
		if center.Distance(a.Box.Center()) < spacing {
			return true
		}
	}
	return false
}

func nearestLabel(p geometry.Point, labels []ocr.StructureLabel) (ocr.StructureLabel, float64) {
	best := labels[0]
	bestDist := math.Inf(1)
	for _, l := range labels {
		if !l.Box.Valid() {
			continue
		}
		if d := p.Distance(l.Box.Center()); d < bestDist {
			best = l
			bestDist = d
		}
	}
	return best, bestDist
}

// capSymbols applies the sanity cap: closest-to-label first with
// confidence as the tie break, or pure confidence when no labels exist.
func capSymbols(symbols []models.DetectedSymbol, labels []ocr.StructureLabel, limit int, diags *Diagnostics) []models.DetectedSymbol {
	if limit <= 0 || len(symbols) <= limit {
		return symbols
	}
	dist := func(sym models.DetectedSymbol) float64 {
		if len(labels) == 0 {
			return 0
		}
		_, d := nearestLabel(sym.Box.Center(), labels)
		return d
	}
	sort.SliceStable(symbols, func(i, j int) bool {
		di, dj := dist(symbols[i]), dist(symbols[j])
		if di != dj {
			return di < dj
		}
		return symbols[i].Confidence > symbols[j].Confidence
	})
	for range symbols[limit:] {
		diags.reject(StageCap)
	}
	return symbols[:limit]
}
