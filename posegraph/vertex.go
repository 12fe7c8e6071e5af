// Package posegraph implements the directed multigraph of estimated robot
// poses (vertices) linked by rigid-body transform constraints (edges), the
// data model at the heart of the pose-graph mapper.
package posegraph

import (
	"github.com/slam3d/graphmapper/measurement"
	"github.com/slam3d/graphmapper/spatialmath"
)

// Vertex represents a robot pose at one instant. It implements gonum's
// graph.Node interface directly (ID()), so the pose graph never needs to
// downcast a generic base-graph vertex type the way the original C++
// implementation did with boost::dynamic_pointer_cast — see DESIGN.md.
type Vertex struct {
	id uint64

	// Name is a human label, typically "<robot>:<sensor>".
	Name string
	// Measurement is a non-owning reference to the Measurement that
	// justified this vertex.
	Measurement *measurement.Handle
	// CorrectedPose is the current best estimate in the world frame,
	// mutated by the solver on each Optimize call.
	CorrectedPose spatialmath.Transform
}

// ID implements gonum's graph.Node.
func (v *Vertex) ID() int64 {
	return int64(v.id)
}

// SensorName returns the sensor name of the measurement that produced this
// vertex.
func (v *Vertex) SensorName() string {
	if v.Measurement == nil {
		return ""
	}
	return v.Measurement.Get().SensorName()
}
