package geometry

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

const epsilon = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < epsilon }

// straight is a horizontal line from (0,0) to (100,0) with a vertex every 10px.
func straight() Polyline {
	return Polyline{{0, 0}, {100, 0}}.Densify(10)
}

func TestNearestForward(t *testing.T) {
	pl := straight()

	for _, tt := range []struct {
		name     string
		q        Point
		hint     int
		wantIdx  int
		wantDist float64
	}{
		{
			name:     "exactly on a vertex",
			q:        Point{30, 0},
			wantIdx:  3,
			wantDist: 0,
		},
		{
			name:     "between vertices rounds to the lower on a tie",
			q:        Point{35, 0},
			wantIdx:  3,
			wantDist: 5,
		},
		{
			name:     "beyond the end",
			q:        Point{150, 0},
			wantIdx:  10,
			wantDist: 50,
		},
		{
			name:     "before the start",
			q:        Point{-20, 0},
			wantIdx:  0,
			wantDist: 20,
		},
		{
			name:     "far off the corridor",
			q:        Point{50, 300},
			wantIdx:  5,
			wantDist: 300,
		},
		{
			name:     "hint forbids going backwards",
			q:        Point{10, 0},
			hint:     6,
			wantIdx:  6,
			wantDist: 50,
		},
		{
			name:     "hint past the end is clamped",
			q:        Point{0, 0},
			hint:     1000,
			wantIdx:  10,
			wantDist: 100,
		},
		{
			name:     "negative hint is treated as zero",
			q:        Point{20, 3},
			hint:     -5,
			wantIdx:  2,
			wantDist: 3,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			idx, dist := NearestForward(pl, tt.q, tt.hint)
			if idx != tt.wantIdx {
				t.Errorf("wanted index %d, got: %d", tt.wantIdx, idx)
			}

			if !near(dist, tt.wantDist) {
				t.Errorf("wanted distance %v, got: %v", tt.wantDist, dist)
			}
		})
	}
}

func TestNearestForwardEmpty(t *testing.T) {
	idx, dist := NearestForward(nil, Point{1, 1}, 0)
	if idx != -1 || !math.IsInf(dist, 1) {
		t.Errorf("wanted (-1, +Inf), got: (%d, %v)", idx, dist)
	}
}

func TestNearestForwardSingleVertex(t *testing.T) {
	idx, dist := NearestForward(Polyline{{3, 4}}, Point{0, 0}, 7)
	if idx != 0 || !near(dist, 5) {
		t.Errorf("wanted (0, 5), got: (%d, %v)", idx, dist)
	}
}

func TestNearestInRange(t *testing.T) {
	pl := straight()

	idx, dist := NearestInRange(pl, Point{90, 0}, 2, 4)
	if idx != 4 || !near(dist, 50) {
		t.Errorf("wanted (4, 50), got: (%d, %v)", idx, dist)
	}

	idx, _ = NearestInRange(pl, Point{90, 0}, 2, 999)
	if idx != 9 {
		t.Errorf("wanted clamped range to reach index 9, got: %d", idx)
	}
}

func TestPointSegmentDistance(t *testing.T) {
	for _, tt := range []struct {
		name string
		p    Point
		a, b Point
		want float64
	}{
		{"perpendicular", Point{5, 5}, Point{0, 0}, Point{10, 0}, 5},
		{"past b", Point{13, 4}, Point{0, 0}, Point{10, 0}, 5},
		{"before a", Point{-3, -4}, Point{0, 0}, Point{10, 0}, 5},
		{"degenerate segment", Point{3, 4}, Point{0, 0}, Point{0, 0}, 5},
		{"on segment", Point{7, 0}, Point{0, 0}, Point{10, 0}, 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := PointSegmentDistance(tt.p, tt.a, tt.b); !near(got, tt.want) {
				t.Errorf("wanted %v, got: %v", tt.want, got)
			}
		})
	}
}

func TestPolylineDistance(t *testing.T) {
	pl := Polyline{{0, 0}, {10, 0}, {10, 10}}

	if got := pl.Distance(Point{15, 5}); !near(got, 5) {
		t.Errorf("wanted 5, got: %v", got)
	}

	if got := (Polyline{}).Distance(Point{}); !math.IsInf(got, 1) {
		t.Errorf("wanted +Inf for empty polyline, got: %v", got)
	}

	if got := (Polyline{{3, 4}}).Distance(Point{}); !near(got, 5) {
		t.Errorf("wanted 5 for single vertex, got: %v", got)
	}
}

func TestDensify(t *testing.T) {
	controls := Polyline{{0, 0}, {30, 0}, {30, 7}}
	dense := controls.Densify(4)

	if !near(dense.Length(), controls.Length()) {
		t.Errorf("densify changed the arc length: %v != %v", dense.Length(), controls.Length())
	}

	if dense[0] != controls[0] || dense[len(dense)-1] != controls[len(controls)-1] {
		t.Error("densify moved the endpoints")
	}

	cornerKept := false
	for i := 1; i < len(dense); i++ {
		if d := dense[i-1].Distance(dense[i]); d > 4+epsilon {
			t.Errorf("segment %d is %v long, wanted <= 4", i, d)
		}
		if dense[i] == controls[1] {
			cornerKept = true
		}
	}

	if !cornerKept {
		t.Error("densify dropped the corner vertex")
	}
}

func TestCumulativeAndIndexAtArc(t *testing.T) {
	pl := straight()
	cums := pl.Cumulative()

	if len(cums) != len(pl) || cums[0] != 0 || !near(cums[len(cums)-1], 100) {
		t.Fatalf("bad cumulative lengths: %v", cums)
	}

	for _, tt := range []struct {
		arc  float64
		want int
	}{
		{-5, 0},
		{0, 0},
		{9.99, 0},
		{10, 1},
		{55, 5},
		{100.5, 10},
		{500, 10},
	} {
		if got := IndexAtArc(cums, tt.arc); got != tt.want {
			t.Errorf("IndexAtArc(%v) = %d, want %d", tt.arc, got, tt.want)
		}
	}
}

func TestTurnAngle(t *testing.T) {
	if got := TurnAngle(Point{0, 0}, Point{1, 0}, Point{2, 0}); !near(got, 0) {
		t.Errorf("collinear points turned by %v", got)
	}

	if got := TurnAngle(Point{0, 0}, Point{1, 0}, Point{1, 1}); !near(got, math.Pi/2) {
		t.Errorf("wanted a right angle, got: %v", got)
	}

	// crossing the -pi/pi seam must not report a near full circle
	if got := TurnAngle(Point{0, 0}, Point{-1, 0.01}, Point{-2, -0.01}); got > 0.1 {
		t.Errorf("seam crossing reported %v radians", got)
	}
}

func TestPointJSON(t *testing.T) {
	data, err := json.Marshal(Point{1.5, 2})
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "[1.5,2]" {
		t.Errorf("wanted [1.5,2], got: %s", data)
	}

	for _, tt := range []struct {
		name string
		in   string
		err  error
	}{
		{"ok", "[1,2]", nil},
		{"too short", "[1]", ErrBadPoint},
		{"object", `{"x":1}`, ErrBadPoint},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var p Point
			if err := json.Unmarshal([]byte(tt.in), &p); !errors.Is(err, tt.err) {
				t.Errorf("wanted %v, got: %v", tt.err, err)
			}
		})
	}
}

func TestRound(t *testing.T) {
	if got := (Point{1.23456, -7.891}).Round(2); got != (Point{1.23, -7.89}) {
		t.Errorf("wanted (1.23, -7.89), got: %v", got)
	}
}
