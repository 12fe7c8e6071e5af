package sensor

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/slam3d/graphmapper/measurement"
	"github.com/slam3d/graphmapper/pointcloud"
	"github.com/slam3d/graphmapper/posegraph"
	"github.com/slam3d/graphmapper/spatialmath"
)

func planeCloud() pointcloud.Cloud {
	c := pointcloud.New()
	for x := -1.0; x <= 1.0; x += 0.1 {
		for y := -1.0; y <= 1.0; y += 0.1 {
			c.Add(r3.Vector{X: x, Y: y, Z: 0.01 * (x*x + y*y)})
		}
	}
	return c
}

func pointCloudMeasurement(c pointcloud.Cloud) *measurement.PointCloudMeasurement {
	return measurement.NewPointCloudMeasurement(time.Now(), "robot", "lidar", c)
}

func TestCalculateTransformRejectsWrongMeasurementType(t *testing.T) {
	s := NewPointCloudSensor("lidar", DefaultICPConfig(), golog.NewTestLogger(t))
	src := pointCloudMeasurement(planeCloud())

	other := measurement.NewPointCloudMeasurement(time.Now(), "r", "s", pointcloud.New())
	_, err := s.CalculateTransform(context.Background(), src, badMeasurement{other.Base}, spatialmath.IdentityTransform())
	test.That(t, err, test.ShouldEqual, ErrBadMeasurementType)
}

// badMeasurement is a Measurement implementation that is deliberately not a
// *measurement.PointCloudMeasurement, exercising the type-assertion guard.
type badMeasurement struct {
	measurement.Base
}

func TestCalculateTransformRejectsSparseClouds(t *testing.T) {
	cfg := DefaultICPConfig()
	s := NewPointCloudSensor("lidar", cfg, golog.NewTestLogger(t))

	sparse := pointcloud.NewFromPoints([]r3.Vector{{X: 0}, {X: 1}})
	src := pointCloudMeasurement(sparse)
	tgt := pointCloudMeasurement(sparse)

	_, err := s.CalculateTransform(context.Background(), src, tgt, spatialmath.IdentityTransform())
	test.That(t, err, test.ShouldEqual, ErrNoMatch)
}

func TestCalculateTransformRecoversKnownTranslation(t *testing.T) {
	cfg := DefaultICPConfig()
	cfg.VoxelLeafSize = 0.02
	cfg.MaximumIterations = 30
	cfg.MaxFitnessScore = 10
	s := NewPointCloudSensor("lidar", cfg, golog.NewTestLogger(t))

	base := planeCloud()
	shift := r3.Vector{X: 0.2, Y: -0.1, Z: 0}
	shifted := pointcloud.Transform(base, spatialmath.NewTransform(
		r3.Vector{X: 1}, r3.Vector{Y: 1}, r3.Vector{Z: 1}, shift,
	))

	src := pointCloudMeasurement(base)
	tgt := pointCloudMeasurement(shifted)

	result, err := s.CalculateTransform(context.Background(), src, tgt, spatialmath.IdentityTransform())
	test.That(t, err, test.ShouldBeNil)

	// Registering the shifted target against the source should recover a
	// transform whose inverse translation lands close to the applied shift.
	recovered := result.Transform.Translation()
	dist := recovered.Sub(shift.Mul(-1)).Norm()
	test.That(t, dist, test.ShouldBeLessThan, 0.5)

	status := s.LastRegistrationStatus()
	test.That(t, status.Iterations, test.ShouldBeGreaterThan, 0)
}

func TestCalculateTransformRejectsExhaustedNonConvergence(t *testing.T) {
	cfg := DefaultICPConfig()
	cfg.VoxelLeafSize = 0.02
	// Epsilons of zero can never be beaten by a non-negative step, and a
	// single outer iteration leaves no room to break out early, so the loop
	// always runs to exhaustion without ever setting converged. A generous
	// MaxFitnessScore isolates the !converged gate: identical clouds fit
	// almost perfectly, so the fitness-score check alone would have let
	// this registration through.
	cfg.MaximumIterations = 1
	cfg.TransformationEpsilon = 0
	cfg.RotationEpsilon = 0
	cfg.EuclideanFitnessEpsilon = 0
	cfg.MaxFitnessScore = 1000
	s := NewPointCloudSensor("lidar", cfg, golog.NewTestLogger(t))

	base := planeCloud()
	src := pointCloudMeasurement(base)
	tgt := pointCloudMeasurement(base)

	_, err := s.CalculateTransform(context.Background(), src, tgt, spatialmath.IdentityTransform())
	test.That(t, err, test.ShouldEqual, ErrNoMatch)

	status := s.LastRegistrationStatus()
	test.That(t, status.Converged, test.ShouldBeFalse)
	test.That(t, status.Iterations, test.ShouldEqual, 1)
	test.That(t, status.FitnessScore, test.ShouldBeLessThan, cfg.MaxFitnessScore)
}

func TestAccumulatedCloudMergesVertexClouds(t *testing.T) {
	s := NewPointCloudSensor("lidar", DefaultICPConfig(), golog.NewTestLogger(t))

	cloud := pointcloud.NewFromPoints([]r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}})
	handle := measurement.NewHandle(pointCloudMeasurement(cloud))

	v := &posegraph.Vertex{Measurement: handle, CorrectedPose: spatialmath.IdentityTransform()}

	merged := s.AccumulatedCloud([]*posegraph.Vertex{v}, 0.5)
	test.That(t, merged.Size(), test.ShouldBeGreaterThan, 0)
}

func TestFiniteTransformDetectsNonFinite(t *testing.T) {
	bad := spatialmath.NewTransform(
		r3.Vector{X: math.NaN()}, r3.Vector{Y: 1}, r3.Vector{Z: 1}, r3.Vector{},
	)
	test.That(t, finiteTransform(bad), test.ShouldBeFalse)
	test.That(t, finiteTransform(spatialmath.IdentityTransform()), test.ShouldBeTrue)
}
