// Package geom holds the planar geometry used by the coverage planner.
//
// Coordinates are metres in a local frame. All functions are total: degenerate
// input yields a defined default instead of an error.
package geom

import (
	"math"

	"github.com/golang/geo/r2"
)

// edgeEpsilon is added to an edge's y-span in Contains so horizontal edges
// never divide by zero. Points exactly on an edge may land either way.
const edgeEpsilon = 1e-9

// Area returns the unsigned shoelace area of poly. Fewer than 3 vertices is 0.
func Area(poly []r2.Point) float64 {
	if len(poly) < 3 {
		return 0
	}
	sum := 0.0
	j := len(poly) - 1
	for i := range poly {
		sum += poly[j].X*poly[i].Y - poly[i].X*poly[j].Y
		j = i
	}
	return math.Abs(sum) / 2
}

// Contains reports whether p lies inside poly using the even-odd rule.
func Contains(poly []r2.Point, p r2.Point) bool {
	inside := false
	j := len(poly) - 1
	for i := range poly {
		a, b := poly[i], poly[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			xCross := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y+edgeEpsilon) + a.X
			if p.X < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Bounds returns the axis-aligned bounding box of poly.
// An empty polygon yields the zero Rect.
func Bounds(poly []r2.Point) r2.Rect {
	return r2.RectFromPoints(poly...)
}

// Centroid returns the mean of the vertices (not the area centroid).
func Centroid(poly []r2.Point) r2.Point {
	if len(poly) == 0 {
		return r2.Point{}
	}
	var sum r2.Point
	for _, p := range poly {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(poly)))
}

// Finite reports whether every vertex has finite coordinates.
func Finite(poly []r2.Point) bool {
	for _, p := range poly {
		if math.IsNaN(p.X) || math.IsInf(p.X, 0) || math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
			return false
		}
	}
	return true
}
