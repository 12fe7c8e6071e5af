package testutils

import (
	"context"

	"github.com/slam3d/graphmapper/measurement"
	"github.com/slam3d/graphmapper/sensor"
	"github.com/slam3d/graphmapper/spatialmath"
)

// Sensor is a function-field injection double for sensor.Sensor.
// CalculateTransformFunc defaults to returning sensor.ErrNoMatch, so a test
// that only cares about odometry-only linking doesn't need to script every
// call.
type Sensor struct {
	SensorName             string
	CalculateTransformFunc func(ctx context.Context, source, target measurement.Measurement, guess spatialmath.Transform) (sensor.TransformWithCovariance, error)
}

// Name implements sensor.Sensor.
func (s *Sensor) Name() string { return s.SensorName }

// CalculateTransform implements sensor.Sensor.
func (s *Sensor) CalculateTransform(
	ctx context.Context,
	source, target measurement.Measurement,
	guess spatialmath.Transform,
) (sensor.TransformWithCovariance, error) {
	if s.CalculateTransformFunc == nil {
		return sensor.TransformWithCovariance{}, sensor.ErrNoMatch
	}
	return s.CalculateTransformFunc(ctx, source, target, guess)
}
