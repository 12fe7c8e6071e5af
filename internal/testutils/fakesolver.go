// Package testutils provides injection doubles for the external.Solver and
// external.Odometry collaborators, grounded on the function-field injection
// pattern in the teacher's testutils/inject package (fields default to a
// sensible behavior when unset, rather than requiring every test to supply
// every callback).
package testutils

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/slam3d/graphmapper/external"
	"github.com/slam3d/graphmapper/spatialmath"
)

// edgeConstraint is a translation-only relative-pose constraint between two
// nodes, as recorded by AddConstraint.
type edgeConstraint struct {
	from, to int64
	delta    r3.Vector
}

// Solver is a real (not merely mocked) least-squares pose-graph solver
// good enough for tests: it relaxes every non-fixed node's translation
// toward the average of its neighbors' constraint-implied positions, which
// converges to the same fixed point as the normal equations for a graph of
// translation-only relative constraints. Rotations are passed through
// unchanged from each node's initial pose.
type Solver struct {
	// Iterations bounds the relaxation loop; defaults to 200 if zero.
	Iterations int
	// FailCompute, if true, makes Compute report solver failure without
	// changing any node.
	FailCompute bool

	nodes map[int64]spatialmath.Transform
	order []int64
	edges []edgeConstraint

	fixed    int64
	hasFixed bool

	corrections []external.Correction
}

// NewSolver returns an empty Solver.
func NewSolver() *Solver {
	return &Solver{nodes: make(map[int64]spatialmath.Transform)}
}

// AddNode implements external.Solver.
func (s *Solver) AddNode(id int64, initial spatialmath.Transform) {
	if _, exists := s.nodes[id]; !exists {
		s.order = append(s.order, id)
	}
	s.nodes[id] = initial
}

// AddConstraint implements external.Solver.
func (s *Solver) AddConstraint(sourceID, targetID int64, t spatialmath.Transform, cov spatialmath.Covariance) {
	s.edges = append(s.edges, edgeConstraint{from: sourceID, to: targetID, delta: t.Translation()})
}

// SetFixed implements external.Solver.
func (s *Solver) SetFixed(id int64) {
	s.fixed = id
	s.hasFixed = true
}

// Compute implements external.Solver.
func (s *Solver) Compute(ctx context.Context) (bool, error) {
	if s.FailCompute {
		return false, nil
	}
	if !s.hasFixed {
		return false, errors.New("testutils: solver has no fixed node")
	}

	positions := make(map[int64]r3.Vector, len(s.nodes))
	for id, t := range s.nodes {
		positions[id] = t.Translation()
	}

	iterations := s.Iterations
	if iterations <= 0 {
		iterations = 200
	}

	for iter := 0; iter < iterations; iter++ {
		for _, id := range s.order {
			if id == s.fixed {
				continue
			}
			var sum r3.Vector
			count := 0
			for _, e := range s.edges {
				switch id {
				case e.to:
					sum = sum.Add(positions[e.from].Add(e.delta))
					count++
				case e.from:
					sum = sum.Add(positions[e.to].Sub(e.delta))
					count++
				}
			}
			if count == 0 {
				continue
			}
			positions[id] = sum.Mul(1.0 / float64(count))
		}
	}

	s.corrections = s.corrections[:0]
	for _, id := range s.order {
		original := s.nodes[id]
		corrected := spatialmath.NewTransform(original.Row(0), original.Row(1), original.Row(2), positions[id])
		s.corrections = append(s.corrections, external.Correction{VertexID: id, Pose: corrected})
	}
	return true, nil
}

// Corrections implements external.Solver.
func (s *Solver) Corrections() []external.Correction {
	return s.corrections
}
