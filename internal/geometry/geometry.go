// Package geometry provides the point, segment and bounding-box math used
// by symbol filtering and pipe reconstruction. All coordinates are in
// pixels of the rendered drawing, origin top-left.
package geometry

import "math"

// Point is a position on the rendered page.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance to q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Segment is a straight line segment between two points.
type Segment struct {
	Start Point `json:"start"`
	End   Point `json:"end"`
}

// Length returns the segment length.
func (s Segment) Length() float64 {
	return s.Start.Distance(s.End)
}

// Midpoint returns the segment midpoint.
func (s Segment) Midpoint() Point {
	return Point{X: (s.Start.X + s.End.X) / 2, Y: (s.Start.Y + s.End.Y) / 2}
}

// Angle returns the segment orientation in degrees, normalized to [0, 180).
// Parallel segments compare equal regardless of direction.
func (s Segment) Angle() float64 {
	deg := math.Atan2(s.End.Y-s.Start.Y, s.End.X-s.Start.X) * 180 / math.Pi
	deg = math.Mod(deg+180, 180)
	return deg
}

// AngleDelta returns the smallest angular difference in degrees between
// the orientations of two segments, in [0, 90].
func AngleDelta(a, b Segment) float64 {
	d := math.Abs(a.Angle() - b.Angle())
	if d > 90 {
		d = 180 - d
	}
	return d
}

// PerpendicularDistance returns the distance from p to the infinite line
// through a and b. Degenerate lines (a == b) fall back to point distance.
func PerpendicularDistance(p, a, b Point) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	n := math.Hypot(dx, dy)
	if n == 0 {
		return p.Distance(a)
	}
	return math.Abs(dy*p.X-dx*p.Y+b.X*a.Y-b.Y*a.X) / n
}

// BBox locates a detection or OCR word on the page. Detectors report
// either a 4-point polygon or an axis-aligned rectangle; at least one
// representation must be present before geometric filtering runs.
type BBox struct {
	Polygon []Point `json:"polygon,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// Rect builds an axis-aligned BBox.
func Rect(x, y, w, h float64) BBox {
	return BBox{X: x, Y: y, Width: w, Height: h}
}

// Valid reports whether the box carries usable geometry.
func (b BBox) Valid() bool {
	return (b.Width > 0 && b.Height > 0) || len(b.Polygon) >= 4
}

// Normalize fills the rectangle fields from the polygon when only the
// polygon was supplied. It is a no-op for boxes that already have extent.
func (b *BBox) Normalize() {
	if b.Width > 0 && b.Height > 0 {
		return
	}
	if len(b.Polygon) < 4 {
		return
	}
	minX, minY := b.Polygon[0].X, b.Polygon[0].Y
	maxX, maxY := minX, minY
	for _, p := range b.Polygon[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	b.X, b.Y = minX, minY
	b.Width, b.Height = maxX-minX, maxY-minY
}

// Center returns the box center. Polygon-only boxes are normalized first.
func (b BBox) Center() Point {
	b.Normalize()
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Area returns the rectangle area.
func (b BBox) Area() float64 {
	b.Normalize()
	return b.Width * b.Height
}

// Intersection returns the overlapping area of two boxes, zero when they
// are disjoint.
func (b BBox) Intersection(o BBox) float64 {
	b.Normalize()
	o.Normalize()
	w := math.Min(b.X+b.Width, o.X+o.Width) - math.Max(b.X, o.X)
	h := math.Min(b.Y+b.Height, o.Y+o.Height) - math.Max(b.Y, o.Y)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Expand grows the box by margin on every side, clamped to the image
// bounds [0,0,imgW,imgH]. Used to turn a label box into a search window.
func (b BBox) Expand(margin, imgW, imgH float64) BBox {
	b.Normalize()
	x := math.Max(0, b.X-margin)
	y := math.Max(0, b.Y-margin)
	x2 := math.Min(imgW, b.X+b.Width+margin)
	y2 := math.Min(imgH, b.Y+b.Height+margin)
	return Rect(x, y, x2-x, y2-y)
}

// Translate shifts the box (and its polygon, if any) by dx, dy. Used to
// map crop-space detections back to page coordinates.
func (b BBox) Translate(dx, dy float64) BBox {
	b.Normalize()
	out := Rect(b.X+dx, b.Y+dy, b.Width, b.Height)
	if len(b.Polygon) > 0 {
		out.Polygon = make([]Point, len(b.Polygon))
		for i, p := range b.Polygon {
			out.Polygon[i] = Point{X: p.X + dx, Y: p.Y + dy}
		}
	}
	return out
}

// AspectRatio returns width/height, zero for degenerate boxes.
func (b BBox) AspectRatio() float64 {
	b.Normalize()
	if b.Height == 0 {
		return 0
	}
	return b.Width / b.Height
}

// Compactness returns short side / long side, in [0,1]; 1 is square.
func (b BBox) Compactness() float64 {
	b.Normalize()
	long := math.Max(b.Width, b.Height)
	if long == 0 {
		return 0
	}
	return math.Min(b.Width, b.Height) / long
}
