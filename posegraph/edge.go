package posegraph

import (
	"gonum.org/v1/gonum/graph"

	"github.com/slam3d/graphmapper/spatialmath"
)

// Edge labels, matching the reserved set from spec.md's data model.
const (
	LabelOdometry = "odom"
	LabelSequential = "seq"
	LabelMatch = "match"
)

// SensorOdometry is the reserved sensor name used for odometry-only edges.
const SensorOdometry = "Odometry"

// Edge is a directed constraint from a source vertex to a target vertex. It
// implements gonum's graph.Line (not just graph.Edge) because the pose graph
// is a multigraph: two vertices may be linked by more than one edge (e.g. an
// "odom" edge and later a "match" edge from a loop closure), each needing its
// own identity distinct from the endpoint node IDs.
type Edge struct {
	id uint64

	from *Vertex
	to   *Vertex

	// Transform is the relative pose observation: target expressed in the
	// source vertex's frame.
	Transform spatialmath.Transform
	// Covariance is the uncertainty of Transform.
	Covariance spatialmath.Covariance
	// Sensor is the name of the sensor that produced this edge, or the
	// reserved SensorOdometry label.
	Sensor string
	// Label is one of LabelOdometry, LabelSequential or LabelMatch.
	Label string
}

// NewEdge constructs an Edge from source to target. The edge is not part of
// any graph until passed to PoseGraph.AddEdge.
func NewEdge(from, to *Vertex, t spatialmath.Transform, cov spatialmath.Covariance, sensorName, label string) *Edge {
	return &Edge{from: from, to: to, Transform: t, Covariance: cov, Sensor: sensorName, Label: label}
}

// From implements graph.Line.
func (e *Edge) From() graph.Node { return e.from }

// To implements graph.Line.
func (e *Edge) To() graph.Node { return e.to }

// ReversedLine implements graph.Line.
func (e *Edge) ReversedLine() graph.Line {
	reversed := *e
	reversed.from, reversed.to = e.to, e.from
	return &reversed
}

// ID implements graph.Line.
func (e *Edge) ID() int64 { return int64(e.id) }

// SourceVertex returns the edge's source vertex.
func (e *Edge) SourceVertex() *Vertex { return e.from }

// TargetVertex returns the edge's target vertex.
func (e *Edge) TargetVertex() *Vertex { return e.to }
