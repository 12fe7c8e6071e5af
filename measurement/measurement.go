// Package measurement defines the abstract sensor reading contract vertices
// are built from, plus a reference-counted Handle that replaces the raw,
// externally-owned pointer the original C++ Measurement used (see
// SPEC_FULL.md §9, "Measurement ownership").
package measurement

import (
	"sync/atomic"
	"time"
)

// idCounter assigns monotonically increasing unique ids across all
// measurements in a process, matching the "monotonically assigned unique id"
// requirement in spec.md's data model.
var idCounter uint64

// NextID returns a fresh, process-wide unique measurement id.
func NextID() uint64 {
	return atomic.AddUint64(&idCounter, 1)
}

// Measurement is a single timestamped sensor reading. Concrete
// implementations (e.g. PointCloudMeasurement) carry sensor-specific
// payload.
type Measurement interface {
	// ID is the measurement's monotonically assigned unique id.
	ID() uint64
	// Timestamp is when the measurement was taken.
	Timestamp() time.Time
	// RobotName is the human-readable name of the robot that produced this
	// measurement.
	RobotName() string
	// SensorName is the registered name of the sensor that produced this
	// measurement.
	SensorName() string
}

// Base is embedded by concrete Measurement types to implement the common
// identity fields.
type Base struct {
	id        uint64
	timestamp time.Time
	robot     string
	sensor    string
}

// NewBase constructs a Base with a freshly assigned unique id.
func NewBase(timestamp time.Time, robot, sensor string) Base {
	return Base{id: NextID(), timestamp: timestamp, robot: robot, sensor: sensor}
}

// ID implements Measurement.
func (b Base) ID() uint64 { return b.id }

// Timestamp implements Measurement.
func (b Base) Timestamp() time.Time { return b.timestamp }

// RobotName implements Measurement.
func (b Base) RobotName() string { return b.robot }

// SensorName implements Measurement.
func (b Base) SensorName() string { return b.sensor }

// Handle is a reference-counted, non-owning reference to an externally-owned
// Measurement. A Vertex holds a Handle rather than a raw Measurement or
// pointer: this makes explicit and enforceable the "measurement must
// outlive graph" contract the original C++ left implicit in a raw pointer.
// The mapper never releases handles itself (the graph is append-only for
// the process lifetime, per spec.md's Non-goals), but a caller that wants to
// free a large measurement payload (e.g. a point cloud) once no vertex needs
// it anymore can do so safely by checking the remaining count that Release
// returns.
type Handle struct {
	m       Measurement
	retains int32
}

// NewHandle wraps m in a Handle with an initial retain count of 1.
func NewHandle(m Measurement) *Handle {
	return &Handle{m: m, retains: 1}
}

// Retain increments the handle's reference count and returns it for
// chaining, e.g. when a second vertex is built from the same measurement
// (external readings can reuse a measurement already known to the mapper).
func (h *Handle) Retain() *Handle {
	atomic.AddInt32(&h.retains, 1)
	return h
}

// Release decrements the handle's reference count, returning the count
// remaining. It never frees the underlying Measurement itself — that
// remains the caller's responsibility, consistent with "measurements are
// externally owned" in spec.md's data model.
func (h *Handle) Release() int32 {
	return atomic.AddInt32(&h.retains, -1)
}

// Get returns the wrapped Measurement.
func (h *Handle) Get() Measurement {
	return h.m
}
