// Package external declares the collaborator interfaces the graph mapper
// depends on but does not implement: the nonlinear graph-optimization
// back-end and the odometry source. Per SPEC_FULL.md §1, their internals are
// explicitly out of scope for this core.
package external

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/slam3d/graphmapper/spatialmath"
)

// Correction is a single post-optimization pose update for one graph vertex.
type Correction struct {
	VertexID int64
	Pose     spatialmath.Transform
}

// Solver is the nonlinear least-squares pose-graph optimization back-end.
// Grounded on Solver.hpp's addNode/addConstraint/setFixed/compute/
// getCorrections contract, inferred from its call sites in GraphMapper.cpp.
type Solver interface {
	// AddNode registers a new pose-graph node with its initial pose
	// estimate.
	AddNode(id int64, initial spatialmath.Transform)
	// AddConstraint registers a relative-pose edge between two existing
	// nodes.
	AddConstraint(sourceID, targetID int64, t spatialmath.Transform, cov spatialmath.Covariance)
	// SetFixed marks a node as the gauge-freedom anchor. Exactly one call
	// is expected per solver instance.
	SetFixed(id int64)
	// Compute runs optimization to completion, returning false on
	// numerical failure.
	Compute(ctx context.Context) (bool, error)
	// Corrections returns the post-optimization poses for every node that
	// moved.
	Corrections() []Correction
}

// Odometry is a cumulative pose estimate derived from low-level motion
// sensors, queried by timestamp. Grounded on Odometry.hpp's
// getOdometricPose, inferred from its call site in GraphMapper.cpp.
type Odometry interface {
	// OdometricPose returns the odometric pose at the given timestamp.
	OdometricPose(ctx context.Context, at time.Time) (spatialmath.Transform, error)
}

// ErrOdometryUnavailable is returned by an Odometry implementation when the
// requested timestamp falls outside its available window, matching the
// original's OdometryException.
var ErrOdometryUnavailable = errors.New("odometry: timestamp outside available window")
