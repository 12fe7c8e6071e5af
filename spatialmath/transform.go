// Package spatialmath provides rigid 3D transforms and the orthogonalization and
// covariance operations the pose graph mapper needs to keep noisy, composed poses
// numerically sound.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Transform is a rigid 3D transform: a rotation followed by a translation.
// The rotation is stored as its three row vectors, matching the layout the
// orthogonalization algorithm operates on directly.
type Transform struct {
	rows        [3]r3.Vector
	translation r3.Vector
}

// IdentityTransform returns the identity rigid transform.
func IdentityTransform() Transform {
	return Transform{
		rows: [3]r3.Vector{
			{X: 1, Y: 0, Z: 0},
			{X: 0, Y: 1, Z: 0},
			{X: 0, Y: 0, Z: 1},
		},
	}
}

// NewTransform builds a Transform from a rotation matrix given as row vectors
// and a translation.
func NewTransform(rowX, rowY, rowZ, translation r3.Vector) Transform {
	return Transform{rows: [3]r3.Vector{rowX, rowY, rowZ}, translation: translation}
}

// NewTransformFromQuaternion builds a Transform from a unit quaternion rotation
// and a translation, following the same quaternion-to-matrix convention the
// teacher's spatialmath package uses for its RotationMatrix type.
func NewTransformFromQuaternion(q quat.Number, translation r3.Vector) Transform {
	n := quat.Abs(q)
	if n == 0 {
		return NewTransform(r3.Vector{X: 1}, r3.Vector{Y: 1}, r3.Vector{Z: 1}, translation)
	}
	w, x, y, z := q.Real/n, q.Imag/n, q.Jmag/n, q.Kmag/n
	rowX := r3.Vector{
		X: 1 - 2*(y*y+z*z),
		Y: 2 * (x*y - z*w),
		Z: 2 * (x*z + y*w),
	}
	rowY := r3.Vector{
		X: 2 * (x*y + z*w),
		Y: 1 - 2*(x*x+z*z),
		Z: 2 * (y*z - x*w),
	}
	rowZ := r3.Vector{
		X: 2 * (x*z - y*w),
		Y: 2 * (y*z + x*w),
		Z: 1 - 2*(x*x+y*y),
	}
	return NewTransform(rowX, rowY, rowZ, translation)
}

// Row returns the i-th row of the rotation matrix (0, 1 or 2).
func (t Transform) Row(i int) r3.Vector {
	return t.rows[i]
}

// Translation returns the translation part of the transform.
func (t Transform) Translation() r3.Vector {
	return t.translation
}

// col returns the i-th column of the rotation matrix.
func (t Transform) col(i int) r3.Vector {
	switch i {
	case 0:
		return r3.Vector{X: t.rows[0].X, Y: t.rows[1].X, Z: t.rows[2].X}
	case 1:
		return r3.Vector{X: t.rows[0].Y, Y: t.rows[1].Y, Z: t.rows[2].Y}
	default:
		return r3.Vector{X: t.rows[0].Z, Y: t.rows[1].Z, Z: t.rows[2].Z}
	}
}

func matVec(rows [3]r3.Vector, v r3.Vector) r3.Vector {
	return r3.Vector{X: rows[0].Dot(v), Y: rows[1].Dot(v), Z: rows[2].Dot(v)}
}

// Compose returns t * other: applying other's transform first, then t's.
// Matches the convention used throughout GraphMapper.cpp, e.g.
// `mCurrentPose = mLastVertex->corrected_pose * odom_dist`.
func (t Transform) Compose(other Transform) Transform {
	otherCols := [3]r3.Vector{other.col(0), other.col(1), other.col(2)}
	rowX := r3.Vector{X: matVec(t.rows, otherCols[0]).X, Y: matVec(t.rows, otherCols[1]).X, Z: matVec(t.rows, otherCols[2]).X}
	rowY := r3.Vector{X: matVec(t.rows, otherCols[0]).Y, Y: matVec(t.rows, otherCols[1]).Y, Z: matVec(t.rows, otherCols[2]).Y}
	rowZ := r3.Vector{X: matVec(t.rows, otherCols[0]).Z, Y: matVec(t.rows, otherCols[1]).Z, Z: matVec(t.rows, otherCols[2]).Z}
	translation := matVec(t.rows, other.translation).Add(t.translation)
	return NewTransform(rowX, rowY, rowZ, translation)
}

// RotationMatrix returns the rotation part of t as a dense 3x3 matrix, for
// callers (e.g. covariance propagation in the point-cloud sensor) that need
// gonum/mat linear algebra rather than row-vector dot products.
func (t Transform) RotationMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		t.rows[0].X, t.rows[0].Y, t.rows[0].Z,
		t.rows[1].X, t.rows[1].Y, t.rows[1].Z,
		t.rows[2].X, t.rows[2].Y, t.rows[2].Z,
	})
}

// Apply transforms a single point by t: rotation followed by translation.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return matVec(t.rows, p).Add(t.translation)
}

// Inverse returns the inverse rigid transform: Rᵀ and -Rᵀt.
func (t Transform) Inverse() Transform {
	rowX := t.col(0)
	rowY := t.col(1)
	rowZ := t.col(2)
	inv := [3]r3.Vector{rowX, rowY, rowZ}
	translation := matVec(inv, t.translation).Mul(-1)
	return NewTransform(rowX, rowY, rowZ, translation)
}

// Quaternion converts the rotation part of the transform to a unit quaternion,
// following the same trace-based construction the teacher's dualquaternion.go
// documents for going from a rotation matrix representation to quat.Number.
func (t Transform) Quaternion() quat.Number {
	m00, m01, m02 := t.rows[0].X, t.rows[0].Y, t.rows[0].Z
	m10, m11, m12 := t.rows[1].X, t.rows[1].Y, t.rows[1].Z
	m20, m21, m22 := t.rows[2].X, t.rows[2].Y, t.rows[2].Z

	trace := m00 + m11 + m22
	var w, x, y, z float64
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1.0)
		w = 0.25 / s
		x = (m21 - m12) * s
		y = (m02 - m20) * s
		z = (m10 - m01) * s
	case m00 > m11 && m00 > m22:
		s := 2.0 * math.Sqrt(1.0+m00-m11-m22)
		w = (m21 - m12) / s
		x = 0.25 * s
		y = (m01 + m10) / s
		z = (m02 + m20) / s
	case m11 > m22:
		s := 2.0 * math.Sqrt(1.0+m11-m00-m22)
		w = (m02 - m20) / s
		x = (m01 + m10) / s
		y = 0.25 * s
		z = (m12 + m21) / s
	default:
		s := 2.0 * math.Sqrt(1.0+m22-m00-m11)
		w = (m10 - m01) / s
		x = (m02 + m20) / s
		y = (m12 + m21) / s
		z = 0.25 * s
	}
	return quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
}

// RotationAngle returns the absolute angle of the axis-angle representation of
// the rotation, wrapped to [-pi, pi], following checkMinDistance's angle-axis
// extraction in the original GraphMapper.cpp.
func (t Transform) RotationAngle() float64 {
	q := t.Quaternion()
	denom := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	angle := 2 * math.Atan2(denom, math.Abs(q.Real))
	if q.Real < 0 {
		angle *= -1
	}
	return wrapToPi(angle)
}

func wrapToPi(rot float64) float64 {
	if rot > math.Pi {
		rot -= 2 * math.Pi
	}
	if rot < -math.Pi {
		rot += 2 * math.Pi
	}
	return rot
}

// Orthogonalize corrects numerical drift in the rotation part of t, returning a
// transform with the same translation and a rotation renormalized back toward
// SO(3). This is a direct port of the Gram-Schmidt-plus-first-order-inverse-
// square-root algorithm in GraphMapper.cpp's orthogonalize(), preserved
// verbatim (including its divergence for large initial error) per the design
// decision recorded in DESIGN.md.
func Orthogonalize(t Transform) Transform {
	x, y := t.rows[0], t.rows[1]
	errXY := x.Dot(y)

	xOrt := x.Sub(y.Mul(errXY / 2.0))
	yOrt := y.Sub(x.Mul(errXY / 2.0))
	zOrt := xOrt.Cross(yOrt)

	scale := func(v r3.Vector) r3.Vector {
		s := 0.5 * (3.0 - v.Dot(v))
		return v.Mul(s)
	}

	return NewTransform(scale(xOrt), scale(yOrt), scale(zOrt), t.translation)
}

// Distance returns the Euclidean norm of the translation part of t.
func Distance(t Transform) float64 {
	return t.translation.Norm()
}
