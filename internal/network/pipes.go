// Package network reconstructs pipe runs from the repeating line-marker
// labels printed along them: markers are grouped by collinearity, each
// group gets a least-squares fitted segment, segments are optionally
// verified against raster-detected edges and merged where they touch.
package network

import (
	"log/slog"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/civilworks/drainscan/internal/detect"
	"github.com/civilworks/drainscan/internal/geometry"
	"github.com/civilworks/drainscan/internal/models"
	"github.com/civilworks/drainscan/internal/ocr"
)

// Reconstructor turns marker positions into a pipe network.
type Reconstructor struct {
	settings detect.Settings
}

// New creates a reconstructor with the given thresholds.
func New(settings detect.Settings) *Reconstructor {
	return &Reconstructor{settings: settings}
}

// Reconstruct runs the full pipeline: collinear grouping, line fitting,
// advisory raster verification, segment merging and the final
// reliability filter. rasterLines may be empty; verification is then
// skipped. materials annotate pipes with the nearest VU-style
// specification word.
func (r *Reconstructor) Reconstruct(markers []models.LineMarkerLabel, rasterLines []geometry.Segment, materials []ocr.MaterialWord) []models.Pipe {
	groups := r.GroupCollinear(markers)

	pipes := make([]models.Pipe, 0, len(groups))
	for _, group := range groups {
		segment := r.FitSegment(group)
		pipes = append(pipes, models.Pipe{
			ID:         uuid.NewString(),
			Segment:    segment,
			Markers:    group,
			Confidence: meanConfidence(group),
			Verified:   r.verify(segment, rasterLines),
		})
	}

	pipes = r.MergePipes(pipes)

	var kept []models.Pipe
	for _, p := range pipes {
		if len(p.Markers) < 2 && p.Segment.Length() > r.settings.MaxShortRun {
			// A long run evidenced by a single marker is unreliable.
			slog.Debug("Dropping long single-marker pipe", "length", p.Segment.Length())
			continue
		}
		p.Specification = r.nearestMaterial(p.Segment, materials)
		kept = append(kept, p)
	}
	slog.Info("Pipe reconstruction finished", "markers", len(markers), "pipes", len(kept))
	return kept
}

// GroupCollinear partitions markers into collinearity groups. Every
// unordered pair defines a candidate line that collects all unused
// markers within the perpendicular tolerance; the first pair to form a
// group removes its members from the pool. A final leftover marker
// becomes a singleton group.
func (r *Reconstructor) GroupCollinear(markers []models.LineMarkerLabel) [][]models.LineMarkerLabel {
	pool := make([]models.LineMarkerLabel, len(markers))
	copy(pool, markers)

	var groups [][]models.LineMarkerLabel
	for len(pool) >= 2 {
		group := []models.LineMarkerLabel{pool[0], pool[1]}
		rest := pool[2:]

		var leftover []models.LineMarkerLabel
		for _, m := range rest {
			d := geometry.PerpendicularDistance(m.Center, pool[0].Center, pool[1].Center)
			if d < r.settings.CollinearTolerance {
				group = append(group, m)
			} else {
				leftover = append(leftover, m)
			}
		}
		groups = append(groups, group)
		pool = leftover
	}
	for _, m := range pool {
		groups = append(groups, []models.LineMarkerLabel{m})
	}
	return groups
}

// FitSegment fits a line segment through a marker group. Singletons get
// a short horizontal placeholder; near-zero x-variance groups are
// treated as vertical runs; everything else is least squares.
func (r *Reconstructor) FitSegment(group []models.LineMarkerLabel) geometry.Segment {
	ext := r.settings.SegmentExtension
	if len(group) == 1 {
		c := group[0].Center
		half := r.settings.ShortRunLength / 2
		return geometry.Segment{
			Start: geometry.Point{X: c.X - half, Y: c.Y},
			End:   geometry.Point{X: c.X + half, Y: c.Y},
		}
	}

	xs := make([]float64, len(group))
	ys := make([]float64, len(group))
	for i, m := range group {
		xs[i] = m.Center.X
		ys[i] = m.Center.Y
	}

	if stat.Variance(xs, nil) < r.settings.VerticalEpsilon {
		// Degenerate for regression on x: a vertical run.
		x := stat.Mean(xs, nil)
		minY, maxY := ys[0], ys[0]
		for _, y := range ys[1:] {
			minY = math.Min(minY, y)
			maxY = math.Max(maxY, y)
		}
		return geometry.Segment{
			Start: geometry.Point{X: x, Y: minY - ext},
			End:   geometry.Point{X: x, Y: maxY + ext},
		}
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)

	// Project every marker onto the fitted line and keep the two
	// mutually furthest projections as the core endpoints.
	norm := math.Hypot(1, beta)
	dir := geometry.Point{X: 1 / norm, Y: beta / norm}
	origin := geometry.Point{X: 0, Y: alpha}

	minT, maxT := math.Inf(1), math.Inf(-1)
	for i := range xs {
		t := (xs[i]-origin.X)*dir.X + (ys[i]-origin.Y)*dir.Y
		minT = math.Min(minT, t)
		maxT = math.Max(maxT, t)
	}
	minT -= ext
	maxT += ext
	return geometry.Segment{
		Start: geometry.Point{X: origin.X + minT*dir.X, Y: origin.Y + minT*dir.Y},
		End:   geometry.Point{X: origin.X + maxT*dir.X, Y: origin.Y + maxT*dir.Y},
	}
}

// verify checks a fitted segment against independently detected raster
// edges: similar orientation and nearby endpoints. Purely advisory.
func (r *Reconstructor) verify(segment geometry.Segment, rasterLines []geometry.Segment) bool {
	for _, line := range rasterLines {
		if geometry.AngleDelta(segment, line) > r.settings.AngleTolerance {
			continue
		}
		if endpointGap(segment, line) < r.settings.EndpointTolerance {
			return true
		}
	}
	return false
}

// endpointGap returns the larger of the two gaps in the best pairing of
// segment endpoints.
func endpointGap(a, b geometry.Segment) float64 {
	straight := math.Max(a.Start.Distance(b.Start), a.End.Distance(b.End))
	crossed := math.Max(a.Start.Distance(b.End), a.End.Distance(b.Start))
	return math.Min(straight, crossed)
}

// MergePipes repeatedly joins pipes whose closest endpoints are within
// the connection distance, until no pair qualifies. Merging keeps the
// two mutually furthest endpoints, concatenates markers and averages
// confidence; the result is independent of merge order.
func (r *Reconstructor) MergePipes(pipes []models.Pipe) []models.Pipe {
	merged := make([]models.Pipe, len(pipes))
	copy(merged, pipes)

	for {
		found := false
		for i := 0; i < len(merged) && !found; i++ {
			for j := i + 1; j < len(merged); j++ {
				if closestEndpoints(merged[i].Segment, merged[j].Segment) >= r.settings.ConnectionDistance {
					continue
				}
				merged[i] = mergePair(merged[i], merged[j])
				merged = append(merged[:j], merged[j+1:]...)
				found = true
				break
			}
		}
		if !found {
			return merged
		}
	}
}

func closestEndpoints(a, b geometry.Segment) float64 {
	best := a.Start.Distance(b.Start)
	for _, d := range []float64{
		a.Start.Distance(b.End),
		a.End.Distance(b.Start),
		a.End.Distance(b.End),
	} {
		best = math.Min(best, d)
	}
	return best
}

func mergePair(a, b models.Pipe) models.Pipe {
	points := []geometry.Point{a.Segment.Start, a.Segment.End, b.Segment.Start, b.Segment.End}
	var p1, p2 geometry.Point
	maxDist := -1.0
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			if d := points[i].Distance(points[j]); d > maxDist {
				maxDist = d
				p1, p2 = points[i], points[j]
			}
		}
	}
	return models.Pipe{
		ID:         a.ID,
		Segment:    geometry.Segment{Start: p1, End: p2},
		Markers:    append(append([]models.LineMarkerLabel{}, a.Markers...), b.Markers...),
		Confidence: (a.Confidence + b.Confidence) / 2,
		Verified:   a.Verified || b.Verified,
	}
}

func (r *Reconstructor) nearestMaterial(segment geometry.Segment, materials []ocr.MaterialWord) string {
	mid := segment.Midpoint()
	best := ""
	bestDist := r.settings.MaxLabelDistance
	for _, m := range materials {
		if !m.Box.Valid() {
			continue
		}
		if d := mid.Distance(m.Box.Center()); d <= bestDist {
			best = m.Text
			bestDist = d
		}
	}
	return best
}

func meanConfidence(group []models.LineMarkerLabel) float64 {
	if len(group) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range group {
		sum += m.Confidence
	}
	return sum / float64(len(group))
}
