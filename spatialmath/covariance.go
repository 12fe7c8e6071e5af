package spatialmath

import "gonum.org/v1/gonum/mat"

// Covariance is a 6x6 symmetric positive-semidefinite matrix over the se(3)
// tangent space (translation x, y, z followed by rotation x, y, z), attached
// to a TransformWithCovariance produced by sensor registration.
type Covariance struct {
	m *mat.SymDense
}

// IdentityCovariance returns the 6x6 identity covariance, used e.g. for
// odometry edges per spec.md's addReading step 5.
func IdentityCovariance() Covariance {
	m := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		m.SetSym(i, i, 1)
	}
	return Covariance{m: m}
}

// NewCovariance wraps a 6x6 symmetric matrix. Panics if m is not 6x6, since a
// malformed covariance is a programming error at the construction site, not a
// recoverable runtime condition.
func NewCovariance(m *mat.SymDense) Covariance {
	if m.SymmetricDim() != 6 {
		panic("spatialmath: covariance must be 6x6")
	}
	return Covariance{m: m}
}

// ScaledIdentityCovariance returns scale * I(6), used by registration routines
// that only have a scalar fitness score to build a covariance from.
func ScaledIdentityCovariance(scale float64) Covariance {
	m := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		m.SetSym(i, i, scale)
	}
	return Covariance{m: m}
}

// Matrix returns the underlying 6x6 symmetric matrix.
func (c Covariance) Matrix() *mat.SymDense {
	return c.m
}
