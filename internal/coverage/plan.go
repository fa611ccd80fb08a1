// Package coverage turns a survey polygon and a photo footprint into an
// ordered waypoint plan.
//
// Polygons with three or more vertices are covered by a boustrophedon
// ("lawn-mower") sweep of horizontal lanes. Two vertices are a line transect,
// one vertex is a hold position and an empty polygon is no plan at all.
package coverage

import (
	"log"
	"math"

	"github.com/golang/geo/r2"

	"subsurvey/internal/geom"
)

// laneTolerance lets the last scan-line land exactly on max-y despite
// accumulated floating point error.
const laneTolerance = 1e-9

// MaxSteps bounds the subdivisions along each axis of a sweep and along a
// transect. Spacing finer than extent/MaxSteps is widened to that.
const MaxSteps = 256

// Plan is an immutable, ordered waypoint sequence.
type Plan struct {
	waypoints []r2.Point
	total     int
}

// NewPlan copies waypoints into a Plan. TotalPlanned is frozen at len(waypoints).
func NewPlan(waypoints []r2.Point) Plan {
	wp := append([]r2.Point(nil), waypoints...)
	return Plan{waypoints: wp, total: len(wp)}
}

// Len returns the number of waypoints.
func (p Plan) Len() int { return len(p.waypoints) }

// TotalPlanned is the waypoint count captured when the plan was generated.
func (p Plan) TotalPlanned() int { return p.total }

// At returns waypoint i. It panics if i is out of range, like a slice index.
func (p Plan) At(i int) r2.Point { return p.waypoints[i] }

// Waypoints returns a copy of the waypoint sequence.
func (p Plan) Waypoints() []r2.Point {
	return append([]r2.Point(nil), p.waypoints...)
}

// Equal reports whether both plans hold the same waypoints in the same order.
func (p Plan) Equal(o Plan) bool {
	return PolygonsEqual(p.waypoints, o.waypoints)
}

// PolygonsEqual compares two vertex lists element-wise.
func PolygonsEqual(a, b []r2.Point) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Generate builds the coverage plan for poly with one photo covering
// footprintM2 square metres.
func Generate(poly []r2.Point, footprintM2 float64) Plan {
	switch {
	case len(poly) == 0:
		return Plan{}
	case len(poly) == 1:
		return NewPlan(poly[:1])
	case !geom.Finite(poly):
		return NewPlan(nil)
	case len(poly) == 2:
		return NewPlan(transect(poly[0], poly[1], footprintM2))
	default:
		return NewPlan(sweep(poly, footprintM2))
	}
}

// LaneSpacing returns the distance between adjacent lanes for a footprint,
// or 0 when the footprint is not positive.
func LaneSpacing(footprintM2 float64) float64 {
	if footprintM2 <= 0 || math.IsNaN(footprintM2) || math.IsInf(footprintM2, 0) {
		return 0
	}
	return math.Sqrt(footprintM2)
}

// TraverseSpeed is the speed (m/s) at which consecutive photos taken every
// photoInterval seconds neither overlap nor leave gaps. ok is false when
// either input is not positive.
func TraverseSpeed(footprintM2, photoInterval float64) (speed float64, ok bool) {
	step := LaneSpacing(footprintM2)
	if step <= 0 || photoInterval <= 0 || math.IsNaN(photoInterval) || math.IsInf(photoInterval, 0) {
		return 0, false
	}
	return step / photoInterval, true
}

func transect(a, b r2.Point, footprintM2 float64) []r2.Point {
	d := b.Sub(a)
	length := d.Norm()
	if length == 0 {
		return []r2.Point{a}
	}
	step := LaneSpacing(footprintM2)
	if step <= 0 {
		step = length
	}
	step = clampSpacing(step, length)
	n := int(math.Ceil(length / step))
	if n < 1 {
		n = 1
	}
	if n > MaxSteps {
		n = MaxSteps
	}
	out := make([]r2.Point, 0, n+1)
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		out = append(out, a.Add(d.Mul(t)))
	}
	return out
}

func sweep(poly []r2.Point, footprintM2 float64) []r2.Point {
	box := geom.Bounds(poly)
	size := box.Size()

	spacing := LaneSpacing(footprintM2)
	if spacing <= 0 {
		spacing = math.Max(size.X, size.Y)
	}
	if spacing <= 0 {
		// Every vertex is the same point.
		return []r2.Point{geom.Centroid(poly)}
	}
	spacing = clampSpacing(spacing, math.Max(size.X, size.Y))

	segments := int(math.Ceil(size.X / spacing))
	if segments < 1 {
		segments = 1
	}
	if segments > MaxSteps {
		segments = MaxSteps
	}

	var out []r2.Point
	leftToRight := true
	for lane := 0; ; lane++ {
		y := box.Y.Lo + float64(lane)*spacing
		if y > box.Y.Hi+laneTolerance {
			break
		}
		from, to := box.X.Lo, box.X.Hi
		if !leftToRight {
			from, to = to, from
		}
		for i := 0; i <= segments; i++ {
			t := float64(i) / float64(segments)
			p := r2.Point{X: from + t*(to-from), Y: y}
			if geom.Contains(poly, p) {
				out = append(out, p)
			}
		}
		leftToRight = !leftToRight
	}

	if len(out) == 0 {
		return []r2.Point{geom.Centroid(poly)}
	}
	return out
}

// clampSpacing widens spacing so extent is split into at most MaxSteps parts.
func clampSpacing(spacing, extent float64) float64 {
	floor := extent / MaxSteps
	if spacing >= floor {
		return spacing
	}
	log.Printf("coverage: spacing %.6gm too fine for extent %.6gm; using %.6gm", spacing, extent, floor)
	return floor
}
