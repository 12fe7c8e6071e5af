// Package pointcloud provides an in-memory point cloud type together with
// the voxel-downsampling and rigid-transform helpers the point-cloud sensor
// needs around its registration step. Decoding point clouds from disk is out
// of scope per SPEC_FULL.md.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// Cloud is a general purpose container of 3D points. The implementation is a
// simple slice-backed list (duplicates are kept); SLAM registration only needs geometry, unlike the
// teacher's basicPointCloud which additionally tracks per-point color/value
// data for camera pipelines.
type Cloud interface {
	// Size returns the number of points in the cloud.
	Size() int
	// Points returns the points as a slice. Callers must not mutate the
	// returned slice.
	Points() []r3.Vector
	// Add appends a point to the cloud.
	Add(p r3.Vector)
	// Bounds returns the axis-aligned bounding box of the cloud. Ok is false
	// for an empty cloud.
	Bounds() (min, max r3.Vector, ok bool)
}

type basicCloud struct {
	points []r3.Vector
	min    r3.Vector
	max    r3.Vector
	inited bool
}

// New returns an empty Cloud.
func New() Cloud {
	return NewWithCapacity(0)
}

// NewWithCapacity returns an empty Cloud preallocated for size points.
func NewWithCapacity(size int) Cloud {
	return &basicCloud{points: make([]r3.Vector, 0, size)}
}

// NewFromPoints returns a Cloud containing exactly the given points.
func NewFromPoints(points []r3.Vector) Cloud {
	c := &basicCloud{points: make([]r3.Vector, 0, len(points))}
	for _, p := range points {
		c.Add(p)
	}
	return c
}

func (c *basicCloud) Size() int {
	return len(c.points)
}

func (c *basicCloud) Points() []r3.Vector {
	return c.points
}

func (c *basicCloud) Add(p r3.Vector) {
	c.points = append(c.points, p)
	if !c.inited {
		c.min, c.max = p, p
		c.inited = true
		return
	}
	c.min = r3.Vector{X: math.Min(c.min.X, p.X), Y: math.Min(c.min.Y, p.Y), Z: math.Min(c.min.Z, p.Z)}
	c.max = r3.Vector{X: math.Max(c.max.X, p.X), Y: math.Max(c.max.Y, p.Y), Z: math.Max(c.max.Z, p.Z)}
}

func (c *basicCloud) Bounds() (r3.Vector, r3.Vector, bool) {
	if !c.inited {
		return r3.Vector{}, r3.Vector{}, false
	}
	return c.min, c.max, true
}
