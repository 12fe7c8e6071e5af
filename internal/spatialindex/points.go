// Package spatialindex adapts gonum.org/v1/gonum/spatial/kdtree to plain
// []r3.Vector inputs, and adds the radius-search and single-nearest-point
// wrapping logic gonum's kdtree package does not provide natively. Both the
// loop-closure neighbor index and the point-cloud sensor's correspondence
// search build on this shared adapter.
package spatialindex

import (
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// point adapts a 3D vector plus its original slice index into gonum's
// kdtree.Comparable contract.
type point struct {
	vec r3.Vector
	row int
}

func (p point) at(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.vec.X
	case 1:
		return p.vec.Y
	default:
		return p.vec.Z
	}
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.at(d) - c.(point).at(d)
}

func (p point) Dims() int { return 3 }

func (p point) Distance(c kdtree.Comparable) float64 {
	o := c.(point)
	dx, dy, dz := p.vec.X-o.vec.X, p.vec.Y-o.vec.Y, p.vec.Z-o.vec.Z
	return dx*dx + dy*dy + dz*dz
}

type points []point

func (p points) Index(i int) kdtree.Comparable         { return p[i] }
func (p points) Len() int                              { return len(p) }
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }
func (p points) Pivot(d kdtree.Dim) int {
	sort.Slice(p, func(i, j int) bool { return p[i].at(d) < p[j].at(d) })
	return len(p) / 2
}

// Tree is a KD-index over a fixed set of points, letting callers map a query
// result back to the original slice index it came from.
type Tree struct {
	tree *kdtree.Tree
	n    int
}

// Build constructs a Tree over the given points. The Tree is a disposable
// snapshot: it does not track subsequent mutation of vecs.
func Build(vecs []r3.Vector) *Tree {
	pts := make(points, len(vecs))
	for i, v := range vecs {
		pts[i] = point{vec: v, row: i}
	}
	t := &Tree{n: len(vecs)}
	if len(pts) > 0 {
		t.tree = kdtree.New(pts, false)
	}
	return t
}

// Len returns the number of points in the tree.
func (t *Tree) Len() int { return t.n }

// Nearest returns the row index of the closest indexed point to q, its
// squared distance, and whether the tree is non-empty.
func (t *Tree) Nearest(q r3.Vector) (row int, distSq float64, ok bool) {
	if t.tree == nil {
		return 0, 0, false
	}
	nearest, dist := t.tree.Nearest(point{vec: q})
	return nearest.(point).row, dist, true
}

// Match pairs a query result's original row index with its squared
// distance from the query point.
type Match struct {
	Row    int
	DistSq float64
}

// WithinRadius returns every indexed point within Euclidean distance radius
// of q, nearest first. Wraps kdtree.NewDistKeeper, since the package exposes
// nearest-neighbor primitives rather than a native radius query.
func (t *Tree) WithinRadius(q r3.Vector, radius float64) []Match {
	if t.tree == nil || radius <= 0 {
		return nil
	}
	keeper := kdtree.NewDistKeeper(radius * radius)
	t.tree.NearestSet(keeper, point{vec: q})

	out := make([]Match, len(keeper.Heap))
	for i, cd := range keeper.Heap {
		out[i] = Match{Row: cd.Comparable.(point).row, DistSq: cd.Dist}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistSq < out[j].DistSq })
	return out
}

// KNN returns the k indexed points nearest to q, nearest first. Wraps
// kdtree.NewNKeeper, used by the point-cloud sensor to estimate each point's
// local surface covariance from its neighborhood.
func (t *Tree) KNN(q r3.Vector, k int) []Match {
	if t.tree == nil || k <= 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	t.tree.NearestSet(keeper, point{vec: q})

	out := make([]Match, len(keeper.Heap))
	for i, cd := range keeper.Heap {
		out[i] = Match{Row: cd.Comparable.(point).row, DistSq: cd.Dist}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistSq < out[j].DistSq })
	return out
}
