// Package sensor defines the polymorphic contract by which heterogeneous
// sensors produce pairwise transform-with-covariance constraints, plus a
// name-keyed registry, and the concrete generalized-ICP point-cloud sensor.
package sensor

import (
	"context"

	"github.com/pkg/errors"

	"github.com/slam3d/graphmapper/measurement"
	"github.com/slam3d/graphmapper/spatialmath"
)

// ErrBadMeasurementType is returned when a measurement handed to a sensor is
// not of that sensor's expected payload type.
var ErrBadMeasurementType = errors.New("sensor: measurement is not of the expected payload type")

// ErrNoMatch is returned when pairwise registration cannot produce a
// reliable estimate: non-convergence, a non-finite result, or a fitness
// score (mean squared correspondence distance) above the configured
// maximum.
var ErrNoMatch = errors.New("sensor: registration did not converge to a reliable match")

// TransformWithCovariance is the result of a successful registration: a
// relative transform plus its uncertainty.
type TransformWithCovariance struct {
	Transform  spatialmath.Transform
	Covariance spatialmath.Covariance
}

// Sensor is the capability interface every registered sensor implements.
// Grounded on Sensor.hpp's calculateTransform/getName contract, inferred
// from GraphMapper::registerSensor and GraphMapper::addReading's use of
// mSensors.at(name)->calculateTransform(...).
type Sensor interface {
	// CalculateTransform registers target against source, given an initial
	// guess transform (target expressed in source's frame), and returns the
	// relative transform and its covariance. Fails with
	// ErrBadMeasurementType or ErrNoMatch.
	CalculateTransform(ctx context.Context, source, target measurement.Measurement, guess spatialmath.Transform) (TransformWithCovariance, error)
	// Name returns the sensor's stable registry key.
	Name() string
}

// Registry is a name-keyed collection of sensors, owned by the mapper.
// Grounded on GraphMapper::registerSensor's SensorList map with
// duplicate-name rejection.
type Registry struct {
	sensors map[string]Sensor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sensors: make(map[string]Sensor)}
}

// Register inserts s into the registry keyed by s.Name(). Returns false (and
// leaves the registry unchanged) if a sensor with that name is already
// registered — matching the original's "logged, not fatal" duplicate
// handling; callers should log the returned false themselves.
func (r *Registry) Register(s Sensor) bool {
	if _, exists := r.sensors[s.Name()]; exists {
		return false
	}
	r.sensors[s.Name()] = s
	return true
}

// Get returns the sensor registered under name, or (nil, false) if none is
// registered.
func (r *Registry) Get(name string) (Sensor, bool) {
	s, ok := r.sensors[name]
	return s, ok
}
