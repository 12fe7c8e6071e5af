package posegraph

import (
	"sort"
	"sync/atomic"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/multi"
)

// PoseGraph is a directed multigraph of Vertex nodes linked by Edge lines,
// backed by gonum.org/v1/gonum/graph/multi.DirectedGraph — a real multigraph
// implementation, needed because two vertices may legitimately be linked by
// more than one edge (a sequential edge and, later, a loop-closure match
// edge). Vertex ids are stable and monotonically increasing for the lifetime
// of the graph; there is no removal API, matching spec.md's append-only
// lifecycle.
type PoseGraph struct {
	g *multi.DirectedGraph

	nextVertexID uint64
	nextEdgeID   uint64

	// firstVertex is the fixed, world-frame anchor: the first vertex ever
	// inserted. At most one vertex is ever designated fixed.
	firstVertex *Vertex
}

// New returns an empty PoseGraph.
func New() *PoseGraph {
	return &PoseGraph{g: multi.NewDirectedGraph()}
}

// AddVertex assigns v a fresh graph-scoped id and inserts it into the graph.
// The first vertex ever added becomes the fixed anchor, retrievable with
// FirstVertex.
func (pg *PoseGraph) AddVertex(v *Vertex) {
	v.id = atomic.AddUint64(&pg.nextVertexID, 1) - 1
	pg.g.AddNode(v)
	if pg.firstVertex == nil {
		pg.firstVertex = v
	}
}

// FirstVertex returns the fixed anchor vertex, or nil if the graph is empty.
func (pg *PoseGraph) FirstVertex() *Vertex {
	return pg.firstVertex
}

// AddEdge assigns e a fresh edge id and inserts it into the graph. Both e's
// endpoints must already have been added with AddVertex.
func (pg *PoseGraph) AddEdge(e *Edge) {
	e.id = atomic.AddUint64(&pg.nextEdgeID, 1) - 1
	pg.g.SetLine(e)
}

// Vertex returns the vertex with the given id, or nil if none exists.
func (pg *PoseGraph) Vertex(id int64) *Vertex {
	n := pg.g.Node(id)
	if n == nil {
		return nil
	}
	return n.(*Vertex)
}

// Vertices returns every vertex in the graph in ascending id order, which is
// the order they were added in.
func (pg *PoseGraph) Vertices() []*Vertex {
	nodes := graph.NodesOf(pg.g.Nodes())
	out := make([]*Vertex, len(nodes))
	for i, n := range nodes {
		out[i] = n.(*Vertex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// EdgesOf returns every edge incident to the given vertex, in either
// direction and in the order the edges were added, matching the original GraphMapper.cpp's
// getEdgeIterator(vertex) semantics (used by linkToNeighbors to find
// previously-matched neighbors).
func (pg *PoseGraph) EdgesOf(vertexID int64) []*Edge {
	var out []*Edge
	for _, to := range graph.NodesOf(pg.g.From(vertexID)) {
		for _, l := range graph.LinesOf(pg.g.Lines(vertexID, to.ID())) {
			out = append(out, l.(*Edge))
		}
	}
	for _, from := range graph.NodesOf(pg.g.To(vertexID)) {
		for _, l := range graph.LinesOf(pg.g.Lines(from.ID(), vertexID)) {
			out = append(out, l.(*Edge))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// VerticesFromSensor returns every vertex whose measurement was produced by
// the named sensor, grounded on GraphMapper.cpp's getVerticesFromSensor.
func (pg *PoseGraph) VerticesFromSensor(sensorName string) []*Vertex {
	var out []*Vertex
	for _, v := range pg.Vertices() {
		if v.SensorName() == sensorName {
			out = append(out, v)
		}
	}
	return out
}

// EdgesFromSensor returns every edge produced by the named sensor. The
// original C++ getEdgesFromSensor ignored its sensor argument and returned
// every edge in the graph — a latent bug flagged in spec.md §9. This
// implementation actually filters.
func (pg *PoseGraph) EdgesFromSensor(sensorName string) []*Edge {
	var out []*Edge
	for _, v := range pg.Vertices() {
		for _, e := range pg.EdgesOf(v.ID()) {
			if e.Sensor == sensorName && e.SourceVertex() == v {
				out = append(out, e)
			}
		}
	}
	return out
}
