package coverage

import (
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r2"

	"subsurvey/internal/geom"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestGenerate_Empty(t *testing.T) {
	p := Generate(nil, 1)
	if p.Len() != 0 || p.TotalPlanned() != 0 {
		t.Fatalf("len=%d total=%d want 0", p.Len(), p.TotalPlanned())
	}
}

func TestGenerate_SinglePointHolds(t *testing.T) {
	p := Generate([]r2.Point{{X: 3, Y: 4}}, 1)
	if p.Len() != 1 {
		t.Fatalf("len=%d want 1", p.Len())
	}
	if got := p.At(0); got != (r2.Point{X: 3, Y: 4}) {
		t.Fatalf("wp=%v want (3,4)", got)
	}
}

func TestGenerate_TransectInclusive(t *testing.T) {
	p := Generate([]r2.Point{{X: 0, Y: 0}, {X: 10, Y: 0}}, 1)
	if p.Len() != 11 {
		t.Fatalf("len=%d want 11", p.Len())
	}
	for i := 0; i < p.Len(); i++ {
		wp := p.At(i)
		if !near(wp.X, float64(i)) || wp.Y != 0 {
			t.Fatalf("wp[%d]=%v want (%d,0)", i, wp, i)
		}
	}
	if p.TotalPlanned() != 11 {
		t.Fatalf("total=%d want 11", p.TotalPlanned())
	}
}

func TestGenerate_TransectWithoutFootprintIsEndpoints(t *testing.T) {
	p := Generate([]r2.Point{{X: 1, Y: 1}, {X: 4, Y: 5}}, 0)
	if p.Len() != 2 {
		t.Fatalf("len=%d want 2", p.Len())
	}
	if p.At(0) != (r2.Point{X: 1, Y: 1}) || p.At(1) != (r2.Point{X: 4, Y: 5}) {
		t.Fatalf("wps=%v", p.Waypoints())
	}
}

func TestGenerate_TransectUnevenStepRoundsUp(t *testing.T) {
	// length 5, step 2 => ceil(2.5)=3 sub-segments, 4 points, equal spacing.
	p := Generate([]r2.Point{{X: 0, Y: 0}, {X: 0, Y: 5}}, 4)
	if p.Len() != 4 {
		t.Fatalf("len=%d want 4", p.Len())
	}
	if !near(p.At(1).Y, 5.0/3.0) || !near(p.At(3).Y, 5) {
		t.Fatalf("wps=%v", p.Waypoints())
	}
}

func TestGenerate_ZeroLengthTransect(t *testing.T) {
	p := Generate([]r2.Point{{X: 2, Y: 2}, {X: 2, Y: 2}}, 1)
	if p.Len() != 1 || p.At(0) != (r2.Point{X: 2, Y: 2}) {
		t.Fatalf("wps=%v", p.Waypoints())
	}
}

func TestGenerate_SweepStaysInsideConvexPolygons(t *testing.T) {
	polys := map[string][]r2.Point{
		"square":   {{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}, {X: 0, Y: 4}},
		"triangle": {{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 5, Y: 8}},
		"diamond":  {{X: 0, Y: -5}, {X: 5, Y: 0}, {X: 0, Y: 5}, {X: -5, Y: 0}},
		"skewed":   {{X: 1, Y: 1}, {X: 9, Y: 2}, {X: 11, Y: 7}, {X: 2, Y: 6}},
	}
	for name, poly := range polys {
		t.Run(name, func(t *testing.T) {
			p := Generate(poly, 0.5)
			if p.Len() == 0 {
				t.Fatalf("expected waypoints")
			}
			for i, wp := range p.Waypoints() {
				if !geom.Contains(poly, wp) {
					t.Fatalf("wp[%d]=%v outside polygon", i, wp)
				}
			}
		})
	}
}

func TestGenerate_SweepAlternatesDirection(t *testing.T) {
	poly := []r2.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}, {X: 0, Y: 4}}
	p := Generate(poly, 1)
	if p.Len() < 9 {
		t.Fatalf("len=%d want >= 9", p.Len())
	}

	lanes := map[float64][]float64{}
	var order []float64
	for _, wp := range p.Waypoints() {
		if _, ok := lanes[wp.Y]; !ok {
			order = append(order, wp.Y)
		}
		lanes[wp.Y] = append(lanes[wp.Y], wp.X)
	}
	for i := 1; i < len(order); i++ {
		if order[i] <= order[i-1] {
			t.Fatalf("lanes not ascending: %v", order)
		}
	}
	for i, y := range order {
		xs := lanes[y]
		for k := 1; k < len(xs); k++ {
			// Lane 0 (y=0) runs left to right, lane 1 right to left, ...
			lane := int(math.Round(y))
			if lane%2 == 0 && xs[k] <= xs[k-1] {
				t.Fatalf("lane %d (y=%v) not left-to-right: %v", i, y, xs)
			}
			if lane%2 == 1 && xs[k] >= xs[k-1] {
				t.Fatalf("lane %d (y=%v) not right-to-left: %v", i, y, xs)
			}
		}
	}
}

func TestGenerate_DegenerateSweepFallsBackToCentroid(t *testing.T) {
	poly := []r2.Point{{X: 0, Y: 0}, {X: 5, Y: 0}, {X: 10, Y: 0}}
	p := Generate(poly, 1)
	if p.Len() != 1 {
		t.Fatalf("len=%d want 1 (%v)", p.Len(), p.Waypoints())
	}
	if got := p.At(0); !near(got.X, 5) || got.Y != 0 {
		t.Fatalf("centroid=%v want (5,0)", got)
	}
}

func TestGenerate_CoincidentVerticesFallBackToCentroid(t *testing.T) {
	poly := []r2.Point{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}
	p := Generate(poly, 0)
	if p.Len() != 1 || p.At(0) != (r2.Point{X: 1, Y: 1}) {
		t.Fatalf("wps=%v", p.Waypoints())
	}
}

func TestGenerate_NoFootprintUsesBoxSpacing(t *testing.T) {
	poly := []r2.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 2}, {X: 0, Y: 2}}
	p := Generate(poly, 0)
	// Spacing = max(4,2) = 4: one lane at y=0 with samples x=0 and x=4.
	for _, wp := range p.Waypoints() {
		if wp.Y != 0 {
			t.Fatalf("unexpected lane y=%v", wp.Y)
		}
	}
	if p.Len() == 0 {
		t.Fatalf("expected at least one waypoint")
	}
}

func TestGenerate_NonFiniteIsEmpty(t *testing.T) {
	p := Generate([]r2.Point{{X: 0, Y: 0}, {X: math.NaN(), Y: 1}, {X: 1, Y: 1}}, 1)
	if p.Len() != 0 {
		t.Fatalf("len=%d want 0", p.Len())
	}
}

func TestPlan_WaypointsIsACopy(t *testing.T) {
	src := []r2.Point{{X: 1, Y: 2}}
	p := NewPlan(src)
	src[0] = r2.Point{X: 9, Y: 9}
	wps := p.Waypoints()
	wps[0] = r2.Point{X: 7, Y: 7}
	if p.At(0) != (r2.Point{X: 1, Y: 2}) {
		t.Fatalf("plan mutated: %v", p.At(0))
	}
}

func TestTraverseSpeed(t *testing.T) {
	v, ok := TraverseSpeed(4, 2)
	if !ok || !near(v, 1) {
		t.Fatalf("speed=%v ok=%v want 1 true", v, ok)
	}
	if _, ok := TraverseSpeed(0, 5); ok {
		t.Fatalf("zero footprint should be undefined")
	}
	if _, ok := TraverseSpeed(1, 0); ok {
		t.Fatalf("zero interval should be undefined")
	}
	if _, ok := TraverseSpeed(-1, 5); ok {
		t.Fatalf("negative footprint should be undefined")
	}
}

func TestGenerate_TinyFootprintIsBounded(t *testing.T) {
	square := []r2.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}
	line := []r2.Point{{X: 0, Y: 0}, {X: 100, Y: 0}}

	done := make(chan [2]Plan, 1)
	go func() { done <- [2]Plan{Generate(square, 1e-8), Generate(line, 1e-8)} }()

	var plans [2]Plan
	select {
	case plans = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Generate did not finish for a tiny footprint")
	}
	sweep, transect := plans[0], plans[1]
	if limit := (MaxSteps + 1) * (MaxSteps + 1); sweep.Len() == 0 || sweep.Len() > limit {
		t.Fatalf("sweep len=%d want 1..%d", sweep.Len(), limit)
	}
	if transect.Len() != MaxSteps+1 {
		t.Fatalf("transect len=%d want %d", transect.Len(), MaxSteps+1)
	}
	if last := transect.At(transect.Len() - 1); !near(last.X, 100) {
		t.Fatalf("transect end=%v want (100,0)", last)
	}
}
