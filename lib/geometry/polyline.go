package geometry

import (
	"math"
	"sort"
)

// Polyline is an ordered chain of vertices from the start of a path to its
// end.
type Polyline []Point

// Cumulative returns the arc length from the first vertex to each vertex.
// The first entry is always zero.
func (pl Polyline) Cumulative() []float64 {
	if len(pl) == 0 {
		return nil
	}

	result := make([]float64, len(pl))
	for i := 1; i < len(pl); i++ {
		result[i] = result[i-1] + pl[i-1].Distance(pl[i])
	}

	return result
}

// Length is the total arc length of the polyline.
func (pl Polyline) Length() float64 {
	var total float64
	for i := 1; i < len(pl); i++ {
		total += pl[i-1].Distance(pl[i])
	}

	return total
}

// Bounds returns the smallest rectangle holding every vertex.
func (pl Polyline) Bounds() Bounds {
	if len(pl) == 0 {
		return Bounds{}
	}

	b := Bounds{Min: pl[0], Max: pl[0]}
	for _, p := range pl[1:] {
		b.Min.X = math.Min(b.Min.X, p.X)
		b.Min.Y = math.Min(b.Min.Y, p.Y)
		b.Max.X = math.Max(b.Max.X, p.X)
		b.Max.Y = math.Max(b.Max.Y, p.Y)
	}

	return b
}

// Translate shifts every vertex by d.
func (pl Polyline) Translate(d Point) Polyline {
	result := make(Polyline, len(pl))
	for i, p := range pl {
		result[i] = p.Add(d)
	}

	return result
}

// Distance returns the shortest distance from p to any segment of the
// polyline. A single vertex polyline measures to that vertex and an empty
// one is infinitely far away.
func (pl Polyline) Distance(p Point) float64 {
	switch len(pl) {
	case 0:
		return math.Inf(1)
	case 1:
		return p.Distance(pl[0])
	}

	best := math.Inf(1)
	for i := 1; i < len(pl); i++ {
		if d := PointSegmentDistance(p, pl[i-1], pl[i]); d < best {
			best = d
		}
	}

	return best
}

// NearestForward finds the vertex closest to q among the vertices at or
// after hint. Hints below zero are treated as zero and hints past the end
// are clamped to the last vertex, so the returned index is never less than
// min(max(hint, 0), len(pl)-1). Ties resolve to the lower index. An empty
// polyline returns (-1, +Inf).
func NearestForward(pl Polyline, q Point, hint int) (int, float64) {
	if len(pl) == 0 {
		return -1, math.Inf(1)
	}

	hint = max(0, min(hint, len(pl)-1))

	bestIdx, bestDist := hint, q.Distance(pl[hint])
	for i := hint + 1; i < len(pl); i++ {
		if d := q.Distance(pl[i]); d < bestDist {
			bestIdx, bestDist = i, d
		}
	}

	return bestIdx, bestDist
}

// NearestInRange is NearestForward limited to the vertices in [from, to].
// Bounds are clamped to the polyline.
func NearestInRange(pl Polyline, q Point, from, to int) (int, float64) {
	if len(pl) == 0 {
		return -1, math.Inf(1)
	}

	from = max(0, min(from, len(pl)-1))
	to = max(from, min(to, len(pl)-1))

	return NearestForward(pl[:to+1], q, from)
}

// IndexAtArc returns the index of the last vertex whose cumulative arc
// length does not exceed arc. cums must come from Cumulative.
func IndexAtArc(cums []float64, arc float64) int {
	if len(cums) == 0 {
		return -1
	}

	// first index with cums[i] > arc, minus one
	i := sort.Search(len(cums), func(i int) bool { return cums[i] > arc })
	return max(0, i-1)
}

// Densify splits every segment into equal steps no longer than spacing.
// Original vertices are kept exactly, so corners survive and the arc length
// is unchanged.
func (pl Polyline) Densify(spacing float64) Polyline {
	if len(pl) < 2 || spacing <= 0 {
		result := make(Polyline, len(pl))
		copy(result, pl)
		return result
	}

	result := Polyline{pl[0]}
	for i := 1; i < len(pl); i++ {
		a, b := pl[i-1], pl[i]
		steps := max(1, int(math.Ceil(a.Distance(b)/spacing)))
		for s := 1; s < steps; s++ {
			result = append(result, a.Lerp(b, float64(s)/float64(steps)))
		}
		result = append(result, b)
	}

	return result
}
