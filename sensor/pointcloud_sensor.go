package sensor

import (
	"context"
	"math"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/optimize"

	"github.com/slam3d/graphmapper/internal/spatialindex"
	"github.com/slam3d/graphmapper/measurement"
	"github.com/slam3d/graphmapper/pointcloud"
	"github.com/slam3d/graphmapper/posegraph"
	"github.com/slam3d/graphmapper/spatialmath"
)

// surfaceCovarianceEpsilon is added to every diagonal of a point's estimated
// local surface covariance, matching PCL GICP's gicp_epsilon_ default: it
// keeps a flat local neighborhood's covariance from being singular along its
// normal direction.
const surfaceCovarianceEpsilon = 0.001

// minCorrespondences is the fewest point pairs the inner optimizer is
// trusted to fit a 6-dof update from.
const minCorrespondences = 6

// Config holds the tunables of the generalized-ICP registration used by
// PointCloudSensor, grounded on the constructor parameters of the original
// PointCloudSensor and named after their PCL GICP counterparts.
type Config struct {
	// VoxelLeafSize is the voxel edge length both clouds are downsampled to
	// before registration.
	VoxelLeafSize float64
	// MaxCorrespondenceDistance rejects a nearest-neighbor pairing whose
	// points are farther apart than this, in meters.
	MaxCorrespondenceDistance float64
	// MaximumIterations bounds the outer correspondence/refine loop.
	MaximumIterations int
	// TransformationEpsilon is the per-iteration incremental-translation norm
	// below which (together with RotationEpsilon) the outer loop is
	// considered converged.
	TransformationEpsilon float64
	// EuclideanFitnessEpsilon is the per-iteration change in mean squared
	// correspondence distance below which the outer loop is considered
	// converged.
	EuclideanFitnessEpsilon float64
	// CorrespondenceRandomness is the neighborhood size used to estimate
	// each point's local surface covariance — a PCL GICP parameter name,
	// not a subsampling rate.
	CorrespondenceRandomness int
	// MaximumOptimizerIterations bounds the inner BFGS solve run once per
	// outer iteration.
	MaximumOptimizerIterations int
	// RotationEpsilon is the per-iteration incremental-rotation angle, in
	// radians, below which the outer loop is considered converged.
	RotationEpsilon float64
	// MaxFitnessScore rejects a registration whose final mean squared
	// correspondence distance exceeds this, in meters squared.
	MaxFitnessScore float64
}

// DefaultICPConfig returns the registration tunables the original
// PointCloudSensor shipped as its defaults.
func DefaultICPConfig() Config {
	return Config{
		VoxelLeafSize:              0.05,
		MaxCorrespondenceDistance:  1.0,
		MaximumIterations:          50,
		TransformationEpsilon:      1e-8,
		EuclideanFitnessEpsilon:    1e-6,
		CorrespondenceRandomness:   20,
		MaximumOptimizerIterations: 20,
		RotationEpsilon:            2e-3,
		MaxFitnessScore:            1.0,
	}
}

// RegistrationStatus summarizes the outcome of the most recent
// CalculateTransform call, grounded on Mapper::getStatusMessage()'s report
// of the last registration's iteration count and fitness.
type RegistrationStatus struct {
	Iterations      int
	FitnessScore    float64
	Converged       bool
	Correspondences int
}

// PointCloudSensor registers point clouds against each other with
// generalized ICP, grounded on PointCloudSensor::calculateTransform. The
// original bound PCL's GICP, which in turn solved its inner per-iteration
// refinement with an internal BFGS-family optimizer; this uses
// gonum.org/v1/gonum/optimize's BFGS with a finite-difference gradient in
// its place, since binding PCL/nlopt directly would require cgo (see
// DESIGN.md).
type PointCloudSensor struct {
	name   string
	config Config
	logger golog.Logger

	mu     sync.Mutex
	status RegistrationStatus
}

// NewPointCloudSensor constructs a PointCloudSensor registered under name.
func NewPointCloudSensor(name string, config Config, logger golog.Logger) *PointCloudSensor {
	return &PointCloudSensor{name: name, config: config, logger: logger}
}

// Name implements Sensor.
func (s *PointCloudSensor) Name() string { return s.name }

// LastRegistrationStatus returns the outcome of the most recent
// CalculateTransform call, or the zero value if none has run yet or the most
// recent call rejected its inputs before any iteration ran.
func (s *PointCloudSensor) LastRegistrationStatus() RegistrationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *PointCloudSensor) recordStatus(status RegistrationStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// gicpCorrespondence is one matched point pair for the current outer
// iteration, with its combined-covariance inverse held fixed for the inner
// solve.
type gicpCorrespondence struct {
	src  r3.Vector
	tgt  r3.Vector
	minv *mat.Dense
}

// CalculateTransform implements Sensor by running generalized ICP between
// source and target's point clouds, seeded at guess.
func (s *PointCloudSensor) CalculateTransform(
	ctx context.Context,
	source, target measurement.Measurement,
	guess spatialmath.Transform,
) (TransformWithCovariance, error) {
	s.recordStatus(RegistrationStatus{})
	srcMeasurement, ok := source.(*measurement.PointCloudMeasurement)
	if !ok {
		return TransformWithCovariance{}, ErrBadMeasurementType
	}
	tgtMeasurement, ok := target.(*measurement.PointCloudMeasurement)
	if !ok {
		return TransformWithCovariance{}, ErrBadMeasurementType
	}

	cfg := s.config
	srcCloud := pointcloud.VoxelDownsample(srcMeasurement.PointCloud(), cfg.VoxelLeafSize)
	tgtCloud := pointcloud.VoxelDownsample(tgtMeasurement.PointCloud(), cfg.VoxelLeafSize)
	srcPoints := srcCloud.Points()
	tgtPoints := tgtCloud.Points()

	minPoints := cfg.CorrespondenceRandomness + 1
	if len(srcPoints) < minPoints || len(tgtPoints) < minPoints {
		s.recordStatus(RegistrationStatus{})
		return TransformWithCovariance{}, ErrNoMatch
	}

	srcTree := spatialindex.Build(srcPoints)
	tgtTree := spatialindex.Build(tgtPoints)
	srcCov := surfaceCovariances(srcPoints, srcTree, cfg.CorrespondenceRandomness)
	tgtCov := surfaceCovariances(tgtPoints, tgtTree, cfg.CorrespondenceRandomness)

	current := guess
	iterations := 0
	converged := false
	correspondenceCount := 0
	fitness := math.Inf(1)
	prevFitness := math.Inf(1)

	for iter := 0; iter < cfg.MaximumIterations; iter++ {
		select {
		case <-ctx.Done():
			s.recordStatus(RegistrationStatus{Iterations: iterations, FitnessScore: fitness, Correspondences: correspondenceCount})
			return TransformWithCovariance{}, ctx.Err()
		default:
		}
		iterations = iter + 1
		rot := current.RotationMatrix()

		correspondences := make([]gicpCorrespondence, 0, len(tgtPoints))
		sumSqDist := 0.0
		for i, p := range tgtPoints {
			moved := current.Apply(p)
			row, distSq, ok := srcTree.Nearest(moved)
			if !ok || math.Sqrt(distSq) > cfg.MaxCorrespondenceDistance {
				continue
			}
			tgtRotated := rotateCovariance(tgtCov[i], rot)
			var combined mat.Dense
			combined.Add(srcCov[row], tgtRotated)
			var minv mat.Dense
			if err := minv.Inverse(&combined); err != nil {
				continue
			}
			correspondences = append(correspondences, gicpCorrespondence{
				src: srcPoints[row], tgt: moved, minv: &minv,
			})
			sumSqDist += distSq
		}

		if len(correspondences) < minCorrespondences {
			s.recordStatus(RegistrationStatus{Iterations: iterations})
			return TransformWithCovariance{}, ErrNoMatch
		}
		correspondenceCount = len(correspondences)
		fitness = sumSqDist / float64(len(correspondences))

		cost := gicpCost(correspondences)
		problem := optimize.Problem{
			Func: cost,
			Grad: func(grad, x []float64) {
				fd.Gradient(grad, cost, x, nil)
			},
		}
		settings := &optimize.Settings{MajorIterations: cfg.MaximumOptimizerIterations}
		result, err := optimize.Minimize(problem, make([]float64, 6), settings, &optimize.BFGS{})
		if err != nil {
			s.logger.Debugw("gicp inner optimization reported an error", "iteration", iter, "error", err)
		}
		if result == nil {
			s.recordStatus(RegistrationStatus{Iterations: iterations, FitnessScore: fitness, Correspondences: correspondenceCount})
			return TransformWithCovariance{}, ErrNoMatch
		}

		delta := paramsToTransform(result.X)
		if !finiteTransform(delta) {
			s.recordStatus(RegistrationStatus{Iterations: iterations, FitnessScore: fitness, Correspondences: correspondenceCount})
			return TransformWithCovariance{}, ErrNoMatch
		}
		current = spatialmath.Orthogonalize(delta.Compose(current))

		translationStep := delta.Translation().Norm()
		rotationStep := math.Abs(delta.RotationAngle())
		fitnessStep := math.Abs(prevFitness - fitness)
		prevFitness = fitness

		if (translationStep < cfg.TransformationEpsilon && rotationStep < cfg.RotationEpsilon) ||
			fitnessStep < cfg.EuclideanFitnessEpsilon {
			converged = true
			break
		}
	}

	if !finiteTransform(current) {
		s.recordStatus(RegistrationStatus{Iterations: iterations, FitnessScore: fitness, Correspondences: correspondenceCount})
		return TransformWithCovariance{}, ErrNoMatch
	}

	status := RegistrationStatus{
		Iterations: iterations, FitnessScore: fitness, Converged: converged, Correspondences: correspondenceCount,
	}
	s.recordStatus(status)

	if !converged {
		return TransformWithCovariance{}, ErrNoMatch
	}
	if fitness > cfg.MaxFitnessScore {
		return TransformWithCovariance{}, ErrNoMatch
	}

	return TransformWithCovariance{
		Transform:  current,
		Covariance: spatialmath.ScaledIdentityCovariance(fitness),
	}, nil
}

// AccumulatedCloud returns the union of the point clouds of those given
// vertices that this sensor produced, each placed by its corrected pose and
// merged through a voxel grid of the given resolution. Grounded on
// PointCloudSensor::getAccumulatedCloud, adapted to take its vertex list as
// an argument rather than reaching into the pose graph itself, since the
// sensor does not otherwise depend on the posegraph package.
func (s *PointCloudSensor) AccumulatedCloud(vertices []*posegraph.Vertex, resolution float64) pointcloud.Cloud {
	clouds := make([]pointcloud.Cloud, 0, len(vertices))
	for _, v := range vertices {
		if v.Measurement == nil || v.SensorName() != s.name {
			continue
		}
		pm, ok := v.Measurement.Get().(*measurement.PointCloudMeasurement)
		if !ok {
			continue
		}
		clouds = append(clouds, pointcloud.Transform(pm.PointCloud(), v.CorrectedPose))
	}
	return pointcloud.VoxelDownsample(pointcloud.Concat(clouds...), resolution)
}

// gicpCost builds the Mahalanobis-weighted point-to-point cost function the
// inner solve minimizes over a 6-dof incremental transform, parameterized as
// [rotation vector (3), translation (3)].
func gicpCost(correspondences []gicpCorrespondence) func(x []float64) float64 {
	return func(x []float64) float64 {
		delta := paramsToTransform(x)
		total := 0.0
		for _, c := range correspondences {
			d := c.src.Sub(delta.Apply(c.tgt))
			total += quadForm(c.minv, d)
		}
		return total
	}
}

// paramsToTransform converts a 6-vector [rx, ry, rz, tx, ty, tz] into a rigid
// transform, treating the first three components as an axis-angle rotation
// vector.
func paramsToTransform(x []float64) spatialmath.Transform {
	rvec := r3.Vector{X: x[0], Y: x[1], Z: x[2]}
	translation := r3.Vector{X: x[3], Y: x[4], Z: x[5]}
	angle := rvec.Norm()
	if angle < 1e-12 {
		return spatialmath.NewTransform(r3.Vector{X: 1}, r3.Vector{Y: 1}, r3.Vector{Z: 1}, translation)
	}
	axis := rvec.Mul(1 / angle)
	half := angle / 2
	sinHalf := math.Sin(half)
	q := quat.Number{Real: math.Cos(half), Imag: axis.X * sinHalf, Jmag: axis.Y * sinHalf, Kmag: axis.Z * sinHalf}
	return spatialmath.NewTransformFromQuaternion(q, translation)
}

func finiteTransform(t spatialmath.Transform) bool {
	finite := func(v r3.Vector) bool {
		return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
			!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
			!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
	}
	return finite(t.Row(0)) && finite(t.Row(1)) && finite(t.Row(2)) && finite(t.Translation())
}

func quadForm(minv *mat.Dense, d r3.Vector) float64 {
	v := mat.NewVecDense(3, []float64{d.X, d.Y, d.Z})
	var mv mat.VecDense
	mv.MulVec(minv, v)
	return d.X*mv.AtVec(0) + d.Y*mv.AtVec(1) + d.Z*mv.AtVec(2)
}

func rotateCovariance(cov, rot *mat.Dense) *mat.Dense {
	var tmp, out mat.Dense
	tmp.Mul(rot, cov)
	out.Mul(&tmp, rot.T())
	return &out
}

// surfaceCovariances estimates each point's local surface covariance from
// its CorrespondenceRandomness nearest neighbors within the same cloud,
// regularized by adding surfaceCovarianceEpsilon to the diagonal. This is a
// simplified stand-in for PCL GICP's SVD eigenvalue-replacement scheme
// (which forces the two largest eigenvalues to 1 and the smallest to
// gicp_epsilon_): both guarantee a well-conditioned, positive-definite
// covariance for a locally flat neighborhood, but this version skips the
// eigendecomposition.
func surfaceCovariances(points []r3.Vector, tree *spatialindex.Tree, k int) []*mat.Dense {
	out := make([]*mat.Dense, len(points))
	for i, p := range points {
		neighbors := tree.KNN(p, k)
		if len(neighbors) < 3 {
			out[i] = isotropicCovariance(surfaceCovarianceEpsilon)
			continue
		}

		var mean r3.Vector
		for _, n := range neighbors {
			mean = mean.Add(points[n.Row])
		}
		mean = mean.Mul(1.0 / float64(len(neighbors)))

		var cxx, cxy, cxz, cyy, cyz, czz float64
		for _, n := range neighbors {
			d := points[n.Row].Sub(mean)
			cxx += d.X * d.X
			cxy += d.X * d.Y
			cxz += d.X * d.Z
			cyy += d.Y * d.Y
			cyz += d.Y * d.Z
			czz += d.Z * d.Z
		}
		m := float64(len(neighbors))
		out[i] = mat.NewDense(3, 3, []float64{
			cxx/m + surfaceCovarianceEpsilon, cxy / m, cxz / m,
			cxy / m, cyy/m + surfaceCovarianceEpsilon, cyz / m,
			cxz / m, cyz / m, czz/m + surfaceCovarianceEpsilon,
		})
	}
	return out
}

func isotropicCovariance(scale float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{scale, 0, 0, 0, scale, 0, 0, 0, scale})
}
