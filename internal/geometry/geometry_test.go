package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBBoxNormalizeFromPolygon(t *testing.T) {
	b := BBox{Polygon: []Point{{10, 20}, {50, 20}, {50, 60}, {10, 60}}}
	b.Normalize()

	assert.Equal(t, 10.0, b.X)
	assert.Equal(t, 20.0, b.Y)
	assert.Equal(t, 40.0, b.Width)
	assert.Equal(t, 40.0, b.Height)
	assert.Equal(t, Point{30, 40}, b.Center())
}

func TestBBoxValid(t *testing.T) {
	tests := []struct {
		name string
		box  BBox
		want bool
	}{
		{"rect only", Rect(0, 0, 10, 10), true},
		{"polygon only", BBox{Polygon: []Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}, true},
		{"empty", BBox{}, false},
		{"zero extent", Rect(5, 5, 0, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBBoxExpandClampsToImage(t *testing.T) {
	b := Rect(10, 10, 20, 20).Expand(50, 100, 80)

	assert.Equal(t, 0.0, b.X)
	assert.Equal(t, 0.0, b.Y)
	assert.Equal(t, 80.0, b.X+b.Width)
	assert.Equal(t, 80.0, b.Y+b.Height)
}

func TestBBoxTranslate(t *testing.T) {
	b := BBox{Polygon: []Point{{0, 0}, {4, 0}, {4, 4}, {0, 4}}}
	got := b.Translate(100, 200)

	assert.Equal(t, Point{102, 202}, got.Center())
	assert.Equal(t, Point{100, 200}, got.Polygon[0])
}

func TestBBoxIntersection(t *testing.T) {
	a := Rect(0, 0, 10, 10)
	b := Rect(5, 5, 10, 10)
	assert.Equal(t, 25.0, a.Intersection(b))
	assert.Equal(t, 25.0, b.Intersection(a))
	assert.Equal(t, 0.0, a.Intersection(Rect(20, 20, 5, 5)))
}

func TestPerpendicularDistance(t *testing.T) {
	// Horizontal line y=10.
	d := PerpendicularDistance(Point{5, 14}, Point{0, 10}, Point{20, 10})
	assert.InDelta(t, 4.0, d, 1e-9)

	// Degenerate line collapses to point distance.
	d = PerpendicularDistance(Point{3, 4}, Point{0, 0}, Point{0, 0})
	assert.InDelta(t, 5.0, d, 1e-9)
}

func TestSegmentAngle(t *testing.T) {
	horiz := Segment{Point{0, 0}, Point{10, 0}}
	vert := Segment{Point{0, 0}, Point{0, 10}}
	rev := Segment{Point{10, 0}, Point{0, 0}}

	assert.InDelta(t, 0.0, horiz.Angle(), 1e-9)
	assert.InDelta(t, 90.0, vert.Angle(), 1e-9)
	assert.InDelta(t, 90.0, AngleDelta(horiz, vert), 1e-9)
	// Direction must not matter.
	assert.InDelta(t, 0.0, AngleDelta(horiz, rev), 1e-9)
}

func TestCompactness(t *testing.T) {
	assert.InDelta(t, 1.0, Rect(0, 0, 30, 30).Compactness(), 1e-9)
	assert.InDelta(t, 0.1, Rect(0, 0, 300, 30).Compactness(), 1e-9)
	assert.True(t, math.IsNaN(Rect(0, 0, 0, 0).Compactness()) == false)
}
