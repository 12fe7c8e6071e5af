// Package mapper implements the pose-graph mapper: the incremental state
// machine that decides when to add vertices, which edges to create, and how
// to maintain the current pose estimate under noisy odometry and
// non-deterministic sensor matching. Grounded 1:1 on
// original_source/src/GraphMapper.cpp's addReading/addExternalReading
// decision procedure.
package mapper

import (
	"context"
	"fmt"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/slam3d/graphmapper/external"
	"github.com/slam3d/graphmapper/measurement"
	"github.com/slam3d/graphmapper/neighbor"
	"github.com/slam3d/graphmapper/posegraph"
	"github.com/slam3d/graphmapper/sensor"
	"github.com/slam3d/graphmapper/spatialmath"
)

// ErrUnknownSensor is returned by AddReading when a measurement names a
// sensor that has not been registered.
var ErrUnknownSensor = errors.New("mapper: unknown sensor")

// Config holds the mapper's tunable behavior.
type Config struct {
	// NeighborRadius is the loop-closure search radius, in meters.
	NeighborRadius float64
	// MinTranslation and MinRotation are the motion-gating thresholds: a
	// candidate pose delta below both is rejected.
	MinTranslation float64
	MinRotation    float64
	// AddOdometryEdges, when true, adds the reading's new vertex at the
	// odometry pose and connects it by an "odom" edge before attempting
	// sequential sensor matching.
	AddOdometryEdges bool
	// MaxLoopClosureLinks caps the number of loop-closure edges added per
	// reading. The original fixed this at 5 inline.
	MaxLoopClosureLinks int
}

// DefaultMapperConfig returns the mapper tunables the original GraphMapper
// shipped as its defaults (GraphMapper.cpp:72-74).
func DefaultMapperConfig() Config {
	return Config{
		NeighborRadius:      1.0,
		MinTranslation:      0.5,
		MinRotation:         0.1,
		AddOdometryEdges:    false,
		MaxLoopClosureLinks: 5,
	}
}

// GraphMapper is the core SLAM state machine. It is not safe for concurrent
// use: the pose graph, neighbor index, sensor registry, and mapper state
// form one shared mutable unit that callers must serialize access to,
// matching §5's single-threaded cooperative scheduling model.
type GraphMapper struct {
	config Config
	logger golog.Logger

	graph    *posegraph.PoseGraph
	sensors  *sensor.Registry
	solver   external.Solver
	odometry external.Odometry

	currentPose       spatialmath.Transform
	lastVertex        *posegraph.Vertex
	firstVertex       *posegraph.Vertex
	lastOdometricPose spatialmath.Transform
}

// New constructs an empty GraphMapper. Attach a solver and/or odometry
// source with SetSolver/SetOdometry before use if the deployment has them;
// both are optional collaborators.
func New(config Config, logger golog.Logger) *GraphMapper {
	return &GraphMapper{
		config:      config,
		logger:      logger,
		graph:       posegraph.New(),
		sensors:     sensor.NewRegistry(),
		currentPose: spatialmath.IdentityTransform(),
	}
}

// SetSolver attaches the nonlinear pose-graph optimization back-end.
func (m *GraphMapper) SetSolver(s external.Solver) { m.solver = s }

// SetOdometry attaches the odometry source consulted on every AddReading.
func (m *GraphMapper) SetOdometry(o external.Odometry) { m.odometry = o }

// Graph returns the underlying pose graph, for read access (graph dumps,
// diagnostics).
func (m *GraphMapper) Graph() *posegraph.PoseGraph { return m.graph }

// CurrentPose returns the mapper's running best estimate in the world
// frame.
func (m *GraphMapper) CurrentPose() spatialmath.Transform { return m.currentPose }

// RegisterSensor inserts s into the sensor registry keyed by its name.
// Returns false if a sensor by that name is already registered.
func (m *GraphMapper) RegisterSensor(s sensor.Sensor) bool {
	ok := m.sensors.Register(s)
	if !ok {
		m.logger.Errorw("sensor already registered", "sensor", s.Name())
	}
	return ok
}

// RegisterSensors registers a batch of sensors, aggregating every
// duplicate-name failure into a single error rather than aborting after the
// first.
func (m *GraphMapper) RegisterSensors(sensors ...sensor.Sensor) error {
	var errs error
	for _, s := range sensors {
		if !m.RegisterSensor(s) {
			errs = multierr.Append(errs, errors.Errorf("mapper: sensor %q already registered", s.Name()))
		}
	}
	return errs
}

// AddReading runs the core decision procedure for a single sensor reading:
// sensor lookup, odometry query, motion gating, sequential matching, and
// loop closure. Returns false (with a nil error) when the reading is
// rejected for a routine reason (unregistered sensor returns a non-nil
// error; below motion-gating threshold or NoMatch-without-odometry-edge
// return false, nil).
func (m *GraphMapper) AddReading(ctx context.Context, meas measurement.Measurement) (bool, error) {
	s, ok := m.sensors.Get(meas.SensorName())
	if !ok {
		m.logger.Errorw("rejecting reading: sensor not registered", "sensor", meas.SensorName())
		return false, ErrUnknownSensor
	}

	var odomPose spatialmath.Transform
	haveOdometry := m.odometry != nil
	if haveOdometry {
		var err error
		odomPose, err = m.odometry.OdometricPose(ctx, meas.Timestamp())
		if err != nil {
			m.logger.Warnw("rejecting reading: odometry unavailable", "sensor", meas.SensorName(), "error", err)
			return false, err
		}
	}

	if m.lastVertex == nil {
		v := m.addVertex(spatialmath.IdentityTransform(), measurement.NewHandle(meas))
		m.logger.Infow("accepted first reading", "vertex", v.ID())
		m.currentPose = spatialmath.IdentityTransform()
		m.lastVertex = v
		if haveOdometry {
			m.lastOdometricPose = odomPose
		}
		return true, nil
	}

	current := m.currentPose
	if haveOdometry {
		odomDelta := spatialmath.Orthogonalize(m.lastOdometricPose.Inverse().Compose(odomPose))
		current = m.lastVertex.CorrectedPose.Compose(odomDelta)
		m.logger.Debugw("odometry delta computed",
			"translation", spatialmath.Distance(odomDelta), "rotation", odomDelta.RotationAngle())
		if !m.checkMinDistance(odomDelta) {
			m.logger.Debugw("rejecting reading: below motion-gating threshold")
			return false, nil
		}
	}

	var newVertex *posegraph.Vertex
	if m.config.AddOdometryEdges {
		pose := spatialmath.Orthogonalize(current)
		newVertex = m.addVertex(pose, measurement.NewHandle(meas))
		m.addEdge(m.lastVertex, newVertex, m.lastVertex.CorrectedPose.Inverse().Compose(pose), spatialmath.IdentityCovariance(),
			posegraph.SensorOdometry, posegraph.LabelOdometry)
		current = pose
		m.logger.Infow("added odometry edge", "from", m.lastVertex.ID(), "to", newVertex.ID())
	}

	guess := m.lastVertex.CorrectedPose.Inverse().Compose(current)
	twc, err := s.CalculateTransform(ctx, m.lastVertex.Measurement.Get(), meas, guess)
	switch {
	case err == nil:
		current = spatialmath.Orthogonalize(m.lastVertex.CorrectedPose.Compose(twc.Transform))
		if newVertex == nil {
			if !m.checkMinDistance(twc.Transform) {
				m.logger.Debugw("rejecting reading: sequential match below motion-gating threshold")
				return false, nil
			}
			newVertex = m.addVertex(current, measurement.NewHandle(meas))
		}
		m.addEdge(m.lastVertex, newVertex, twc.Transform, twc.Covariance, s.Name(), posegraph.LabelSequential)
		m.logger.Infow("added sequential edge", "from", m.lastVertex.ID(), "to", newVertex.ID())
	case errors.Is(err, sensor.ErrNoMatch):
		if newVertex == nil {
			m.logger.Warnw("rejecting reading: no sequential match and no odometry edge", "sensor", s.Name())
			return false, nil
		}
		m.logger.Debugw("no sequential match; odometry edge already recorded motion", "sensor", s.Name())
	default:
		return false, err
	}

	m.currentPose = current
	m.linkToNeighbors(ctx, s, newVertex)

	m.lastVertex = newVertex
	if haveOdometry {
		m.lastOdometricPose = odomPose
	}
	return true, nil
}

// AddExternalReading unconditionally adds a vertex at the given pose — used
// for bootstrapping or multi-robot contributions where a pose is known
// externally — then runs loop closure alone: no sequential edge, no state
// updates beyond vertex/edge insertion. The vertex is added even when meas
// names a sensor that isn't registered; only loop-closure linking (which
// needs a sensor to perform registration) is skipped in that case, mirroring
// GraphMapper.cpp's addExternalReading, which always calls addVertex and
// only guards the linking step on the sensor lookup.
func (m *GraphMapper) AddExternalReading(ctx context.Context, meas measurement.Measurement, pose spatialmath.Transform) (bool, error) {
	v := m.addVertex(spatialmath.Orthogonalize(pose), measurement.NewHandle(meas))
	m.logger.Infow("accepted external reading", "vertex", v.ID())

	s, ok := m.sensors.Get(meas.SensorName())
	if !ok {
		m.logger.Errorw("skipping loop closure for external reading: sensor not registered", "sensor", meas.SensorName())
		return true, nil
	}
	m.linkToNeighbors(ctx, s, v)
	return true, nil
}

// Optimize hands the pose graph to the configured solver and applies the
// resulting corrections. Requires a solver; returns false if none is
// attached or the solver reports failure. On success, refreshes
// currentPose from lastVertex.
func (m *GraphMapper) Optimize(ctx context.Context) (bool, error) {
	if m.solver == nil {
		return false, errors.New("mapper: no solver attached")
	}
	ok, err := m.solver.Compute(ctx)
	if err != nil {
		return false, errors.Wrap(err, "mapper: solver compute failed")
	}
	if !ok {
		m.logger.Warnw("solver reported failure; poses unchanged")
		return false, nil
	}

	for _, c := range m.solver.Corrections() {
		v := m.graph.Vertex(c.VertexID)
		if v == nil {
			continue
		}
		v.CorrectedPose = c.Pose
	}
	if m.lastVertex != nil {
		m.currentPose = m.lastVertex.CorrectedPose
	}
	return true, nil
}

// checkMinDistance rejects (returns false) iff both the translation and the
// wrapped rotation angle of T fall below the configured thresholds.
func (m *GraphMapper) checkMinDistance(t spatialmath.Transform) bool {
	translation := spatialmath.Distance(t)
	rotation := t.RotationAngle()
	if rotation < 0 {
		rotation = -rotation
	}
	if translation < m.config.MinTranslation && rotation < m.config.MinRotation {
		return false
	}
	return true
}

func (m *GraphMapper) addVertex(pose spatialmath.Transform, handle *measurement.Handle) *posegraph.Vertex {
	isFirst := m.firstVertex == nil
	v := &posegraph.Vertex{
		Name:          fmt.Sprintf("%s:%s", handle.Get().RobotName(), handle.Get().SensorName()),
		Measurement:   handle,
		CorrectedPose: pose,
	}
	m.graph.AddVertex(v)
	if m.solver != nil {
		m.solver.AddNode(v.ID(), pose)
		if isFirst {
			m.solver.SetFixed(v.ID())
		}
	}
	if isFirst {
		m.firstVertex = v
	}
	m.logger.Infow("added vertex", "id", v.ID(), "name", v.Name)
	return v
}

func (m *GraphMapper) addEdge(from, to *posegraph.Vertex, t spatialmath.Transform, cov spatialmath.Covariance, sensorName, label string) *posegraph.Edge {
	e := posegraph.NewEdge(from, to, t, cov, sensorName, label)
	m.graph.AddEdge(e)
	if m.solver != nil {
		m.solver.AddConstraint(from.ID(), to.ID(), t, cov)
	}
	return e
}

// linkToNeighbors rebuilds the neighbor index over vertices produced by s,
// then attempts registration against every candidate within
// Config.NeighborRadius of newVertex, excluding newVertex itself and any
// candidate already linked to it by an edge from this same sensor. Stops
// after Config.MaxLoopClosureLinks successes.
func (m *GraphMapper) linkToNeighbors(ctx context.Context, s sensor.Sensor, newVertex *posegraph.Vertex) {
	index := neighbor.Build(m.graph.VerticesFromSensor(s.Name()))
	candidates := index.RadiusSearch(newVertex.CorrectedPose.Translation(), m.config.NeighborRadius)
	m.logger.Debugw("loop-closure candidates found", "count", len(candidates), "sensor", s.Name())

	linked := 0
	for _, candidate := range candidates {
		if linked >= m.config.MaxLoopClosureLinks {
			break
		}
		if candidate.ID() == newVertex.ID() {
			continue
		}

		if linkedSensor, alreadyLinked := m.edgeSensorBetween(candidate, newVertex, s.Name()); alreadyLinked {
			if linkedSensor == s.Name() {
				continue
			}
			m.logger.Warnw("loop-closure candidate already linked by a different sensor",
				"candidate", candidate.ID(), "vertex", newVertex.ID(), "sensor", linkedSensor)
		}

		guess := candidate.CorrectedPose.Inverse().Compose(newVertex.CorrectedPose)
		twc, err := s.CalculateTransform(ctx, candidate.Measurement.Get(), newVertex.Measurement.Get(), guess)
		if err != nil {
			if !errors.Is(err, sensor.ErrNoMatch) {
				m.logger.Debugw("loop-closure registration error", "candidate", candidate.ID(), "error", err)
			}
			continue
		}
		m.addEdge(candidate, newVertex, twc.Transform, twc.Covariance, s.Name(), posegraph.LabelMatch)
		m.logger.Infow("added loop-closure edge", "from", candidate.ID(), "to", newVertex.ID())
		linked++
	}
}

// edgeSensorBetween reports whether an edge (in either direction) links a
// and b. It returns sensorName if any such edge was produced by that sensor,
// and otherwise the sensor name of the first such edge.
func (m *GraphMapper) edgeSensorBetween(a, b *posegraph.Vertex, sensorName string) (string, bool) {
	found, linked := "", false
	for _, e := range m.graph.EdgesOf(a.ID()) {
		if e.SourceVertex().ID() == b.ID() || e.TargetVertex().ID() == b.ID() {
			if e.Sensor == sensorName {
				return e.Sensor, true
			}
			if !linked {
				found, linked = e.Sensor, true
			}
		}
	}
	return found, linked
}
