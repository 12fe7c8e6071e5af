// Package neighbor provides a KD-tree-backed spatial index over vertex
// translations, used by the graph mapper to discover loop-closure
// candidates in sub-linear time. Grounded on GraphMapper.cpp's
// buildNeighborIndex/getNearbyVertices, which used a FLANN KD-tree; this
// implementation uses gonum.org/v1/gonum/spatial/kdtree via the shared
// internal/spatialindex adapter, a dependency already pulled in by
// spatialmath's use of the gonum module.
package neighbor

import (
	"github.com/golang/geo/r3"

	"github.com/slam3d/graphmapper/internal/spatialindex"
	"github.com/slam3d/graphmapper/posegraph"
)

// Index is a disposable KD-tree cache over vertex translations. It is
// rebuilt on demand before every loop-closure query; callers must not reuse
// a stale Index across an intervening Build, per the neighbor index
// component's design.
type Index struct {
	tree     *spatialindex.Tree
	vertices []*posegraph.Vertex
}

// Build gathers the translations of the given vertices and constructs a
// fresh KD-index over them.
func Build(vertices []*posegraph.Vertex) *Index {
	vecs := make([]r3.Vector, len(vertices))
	ordered := make([]*posegraph.Vertex, len(vertices))
	for i, v := range vertices {
		vecs[i] = v.CorrectedPose.Translation()
		ordered[i] = v
	}
	return &Index{tree: spatialindex.Build(vecs), vertices: ordered}
}

// RadiusSearch returns every indexed vertex within Euclidean distance
// radius of the given point, nearest first.
func (idx *Index) RadiusSearch(center r3.Vector, radius float64) []*posegraph.Vertex {
	matches := idx.tree.WithinRadius(center, radius)
	out := make([]*posegraph.Vertex, len(matches))
	for i, m := range matches {
		out[i] = idx.vertices[m.Row]
	}
	return out
}
