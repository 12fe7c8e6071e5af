package mapper_test

import (
	"context"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/slam3d/graphmapper/internal/testutils"
	"github.com/slam3d/graphmapper/mapper"
	"github.com/slam3d/graphmapper/measurement"
	"github.com/slam3d/graphmapper/posegraph"
	"github.com/slam3d/graphmapper/sensor"
	"github.com/slam3d/graphmapper/spatialmath"
)

func translationTransform(v r3.Vector) spatialmath.Transform {
	return spatialmath.NewTransform(r3.Vector{X: 1}, r3.Vector{Y: 1}, r3.Vector{Z: 1}, v)
}

func reading(sensorName string) measurement.Measurement {
	return measurement.NewBase(time.Now(), "robot", sensorName)
}

// perfectMatchSensor always reports the caller's own guess as the answer,
// simulating an ICP sensor that perfectly confirms whatever odometry
// proposed.
func perfectMatchSensor(name string) *testutils.Sensor {
	return &testutils.Sensor{
		SensorName: name,
		CalculateTransformFunc: func(ctx context.Context, source, target measurement.Measurement, guess spatialmath.Transform) (sensor.TransformWithCovariance, error) {
			return sensor.TransformWithCovariance{Transform: guess, Covariance: spatialmath.IdentityCovariance()}, nil
		},
	}
}

func TestFirstReadingAcceptance(t *testing.T) {
	m := mapper.New(mapper.DefaultMapperConfig(), golog.NewTestLogger(t))
	m.SetOdometry(&testutils.Odometry{})
	m.RegisterSensor(perfectMatchSensor("lidar"))

	ok, err := m.AddReading(context.Background(), reading("lidar"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(m.Graph().Vertices()), test.ShouldEqual, 1)
	test.That(t, m.CurrentPose(), test.ShouldResemble, spatialmath.IdentityTransform())
	test.That(t, len(m.Graph().EdgesOf(m.Graph().Vertices()[0].ID())), test.ShouldEqual, 0)
}

func TestMotionGating(t *testing.T) {
	cfg := mapper.DefaultMapperConfig()
	cfg.MinTranslation = 0.5
	cfg.MinRotation = 0.1
	m := mapper.New(cfg, golog.NewTestLogger(t))
	m.RegisterSensor(perfectMatchSensor("lidar"))

	translations := []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5}
	odom := &testutils.Odometry{
		OdometricPoseFunc: func(ctx context.Context, at time.Time) (spatialmath.Transform, error) {
			return translationTransform(r3.Vector{X: translations[0]}), nil
		},
	}
	m.SetOdometry(odom)

	for i := 0; i < 5; i++ {
		odom.OdometricPoseFunc = func(x float64) func(context.Context, time.Time) (spatialmath.Transform, error) {
			return func(ctx context.Context, at time.Time) (spatialmath.Transform, error) {
				return translationTransform(r3.Vector{X: x}), nil
			}
		}(translations[i])
		ok, err := m.AddReading(context.Background(), reading("lidar"))
		test.That(t, err, test.ShouldBeNil)
		if i == 0 {
			test.That(t, ok, test.ShouldBeTrue)
		}
	}
	test.That(t, len(m.Graph().Vertices()), test.ShouldEqual, 1)

	odom.OdometricPoseFunc = func(ctx context.Context, at time.Time) (spatialmath.Transform, error) {
		return translationTransform(r3.Vector{X: translations[5]}), nil
	}
	ok, err := m.AddReading(context.Background(), reading("lidar"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(m.Graph().Vertices()), test.ShouldEqual, 2)
}

func TestOdometryOnlyLinking(t *testing.T) {
	cfg := mapper.DefaultMapperConfig()
	cfg.AddOdometryEdges = true
	cfg.MinTranslation = 0.1
	cfg.MinRotation = 0.05
	m := mapper.New(cfg, golog.NewTestLogger(t))

	noMatchSensor := &testutils.Sensor{SensorName: "lidar"}
	m.RegisterSensor(noMatchSensor)

	odom := &testutils.Odometry{
		OdometricPoseFunc: func(ctx context.Context, at time.Time) (spatialmath.Transform, error) {
			return spatialmath.IdentityTransform(), nil
		},
	}
	m.SetOdometry(odom)

	ok, err := m.AddReading(context.Background(), reading("lidar"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)

	odom.OdometricPoseFunc = func(ctx context.Context, at time.Time) (spatialmath.Transform, error) {
		return translationTransform(r3.Vector{X: 1}), nil
	}
	ok, err = m.AddReading(context.Background(), reading("lidar"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)

	vertices := m.Graph().Vertices()
	test.That(t, len(vertices), test.ShouldEqual, 2)

	var odomEdges, seqEdges int
	for _, e := range m.Graph().EdgesOf(vertices[1].ID()) {
		switch e.Label {
		case posegraph.LabelOdometry:
			odomEdges++
		case posegraph.LabelSequential:
			seqEdges++
		}
	}
	test.That(t, odomEdges, test.ShouldEqual, 1)
	test.That(t, seqEdges, test.ShouldEqual, 0)
}

func TestUnregisteredSensorRejection(t *testing.T) {
	m := mapper.New(mapper.DefaultMapperConfig(), golog.NewTestLogger(t))

	ok, err := m.AddReading(context.Background(), reading("unregistered"))
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, errors.Is(err, mapper.ErrUnknownSensor), test.ShouldBeTrue)
	test.That(t, len(m.Graph().Vertices()), test.ShouldEqual, 0)
}

func TestZeroOdometryDeltaProducesAtMostOneVertex(t *testing.T) {
	cfg := mapper.DefaultMapperConfig()
	cfg.MinTranslation = 0.2
	cfg.MinRotation = 0.1
	m := mapper.New(cfg, golog.NewTestLogger(t))
	m.SetOdometry(&testutils.Odometry{})
	m.RegisterSensor(perfectMatchSensor("lidar"))

	for i := 0; i < 5; i++ {
		_, err := m.AddReading(context.Background(), reading("lidar"))
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, len(m.Graph().Vertices()), test.ShouldEqual, 1)
}

func TestAddingSameMeasurementTwiceDoesNotCrash(t *testing.T) {
	m := mapper.New(mapper.DefaultMapperConfig(), golog.NewTestLogger(t))
	m.SetOdometry(&testutils.Odometry{})
	m.RegisterSensor(perfectMatchSensor("lidar"))

	meas := reading("lidar")
	_, err := m.AddReading(context.Background(), meas)
	test.That(t, err, test.ShouldBeNil)
	_, err = m.AddReading(context.Background(), meas)
	test.That(t, err, test.ShouldBeNil)
}

func TestLoopClosureAndOptimize(t *testing.T) {
	cfg := mapper.DefaultMapperConfig()
	cfg.NeighborRadius = 5
	cfg.MinTranslation = 0.05
	cfg.MinRotation = 0.01
	m := mapper.New(cfg, golog.NewTestLogger(t))

	solver := testutils.NewSolver()
	m.SetSolver(solver)

	// Matching the closing reading against the first one reports identity,
	// contradicting odometry; every other registration confirms its guess.
	var firstID, closingID uint64
	fs := &testutils.Sensor{SensorName: "lidar"}
	fs.CalculateTransformFunc = func(ctx context.Context, source, target measurement.Measurement, guess spatialmath.Transform) (sensor.TransformWithCovariance, error) {
		if source.ID() == firstID && target.ID() == closingID {
			return sensor.TransformWithCovariance{Transform: spatialmath.IdentityTransform(), Covariance: spatialmath.IdentityCovariance()}, nil
		}
		return sensor.TransformWithCovariance{Transform: guess, Covariance: spatialmath.IdentityCovariance()}, nil
	}
	m.RegisterSensor(fs)

	corners := []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 2, Y: 0, Z: 0},
		{X: 2, Y: 2, Z: 0},
		{X: 0, Y: 2, Z: 0},
		{X: 0.3, Y: 0.2, Z: 0}, // near the start, with closure error
	}
	odom := &testutils.Odometry{}
	m.SetOdometry(odom)

	for i, corner := range corners {
		c := corner
		odom.OdometricPoseFunc = func(ctx context.Context, at time.Time) (spatialmath.Transform, error) {
			return translationTransform(c), nil
		}
		meas := reading("lidar")
		if i == 0 {
			firstID = meas.ID()
		}
		if i == len(corners)-1 {
			closingID = meas.ID()
		}
		ok, err := m.AddReading(context.Background(), meas)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ok, test.ShouldBeTrue)
	}

	vertices := m.Graph().Vertices()
	last := vertices[len(vertices)-1]
	first := vertices[0]

	var matchEdge *posegraph.Edge
	for _, e := range m.Graph().EdgesOf(last.ID()) {
		if e.Label == posegraph.LabelMatch && e.SourceVertex().ID() == first.ID() {
			matchEdge = e
		}
	}
	test.That(t, matchEdge, test.ShouldNotBeNil)

	preSourcePose := matchEdge.SourceVertex().CorrectedPose
	preTargetPose := matchEdge.TargetVertex().CorrectedPose
	preResidual := matchEdge.Transform.Translation().
		Sub(preTargetPose.Translation().Sub(preSourcePose.Translation())).Norm()

	ok, err := m.Optimize(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)

	postResidual := matchEdge.Transform.Translation().
		Sub(matchEdge.TargetVertex().CorrectedPose.Translation().Sub(matchEdge.SourceVertex().CorrectedPose.Translation())).Norm()

	test.That(t, postResidual, test.ShouldBeLessThan, preResidual)
	// The fixed (first) vertex never moves.
	test.That(t, first.CorrectedPose.Translation(), test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: 0})
}

func TestAddExternalReadingAddsVertexEvenWithUnregisteredSensor(t *testing.T) {
	m := mapper.New(mapper.DefaultMapperConfig(), golog.NewTestLogger(t))

	pose := translationTransform(r3.Vector{X: 3, Y: 1, Z: 0})
	ok, err := m.AddExternalReading(context.Background(), reading("unregistered"), pose)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)

	vertices := m.Graph().Vertices()
	test.That(t, len(vertices), test.ShouldEqual, 1)
	test.That(t, vertices[0].CorrectedPose, test.ShouldResemble, pose)
	// No sensor was registered to perform loop closure, so no edge exists.
	test.That(t, len(m.Graph().EdgesOf(vertices[0].ID())), test.ShouldEqual, 0)
}

func TestAddExternalReadingLinksToNeighborsWhenSensorKnown(t *testing.T) {
	cfg := mapper.DefaultMapperConfig()
	cfg.NeighborRadius = 5
	m := mapper.New(cfg, golog.NewTestLogger(t))
	m.RegisterSensor(perfectMatchSensor("lidar"))

	_, err := m.AddExternalReading(context.Background(), reading("lidar"), spatialmath.IdentityTransform())
	test.That(t, err, test.ShouldBeNil)

	pose := translationTransform(r3.Vector{X: 0.5})
	ok, err := m.AddExternalReading(context.Background(), reading("lidar"), pose)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)

	vertices := m.Graph().Vertices()
	test.That(t, len(vertices), test.ShouldEqual, 2)
	test.That(t, len(m.Graph().EdgesOf(vertices[1].ID())), test.ShouldEqual, 1)
}

func TestVertexIDsAreMonotonic(t *testing.T) {
	m := mapper.New(mapper.DefaultMapperConfig(), golog.NewTestLogger(t))
	odom := &testutils.Odometry{}
	m.SetOdometry(odom)
	m.RegisterSensor(perfectMatchSensor("lidar"))

	var lastID int64 = -1
	for i := 0; i < 4; i++ {
		x := float64(i)
		odom.OdometricPoseFunc = func(ctx context.Context, at time.Time) (spatialmath.Transform, error) {
			return translationTransform(r3.Vector{X: x}), nil
		}
		_, err := m.AddReading(context.Background(), reading("lidar"))
		test.That(t, err, test.ShouldBeNil)
	}
	for _, v := range m.Graph().Vertices() {
		test.That(t, v.ID() > lastID, test.ShouldBeTrue)
		lastID = v.ID()
	}
}
