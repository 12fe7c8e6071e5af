package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// voxelCoords identifies a single cell of a voxel grid, matching the
// bucketing scheme in the teacher's pointcloud/voxel.go (VoxelCoords).
type voxelCoords struct {
	i, j, k int64
}

// VoxelDownsample filters a cloud through a voxel grid of the given leaf
// size, replacing every point that falls in a cell with the centroid of the
// points in that cell. This mirrors the pcl::VoxelGrid filter used at every
// downsample() call site in the original PointCloudSensor.cpp and Mapper.cpp.
func VoxelDownsample(c Cloud, leafSize float64) Cloud {
	if leafSize <= 0 || c.Size() == 0 {
		return NewFromPoints(append([]r3.Vector(nil), c.Points()...))
	}

	min, _, ok := c.Bounds()
	if !ok {
		return New()
	}

	type accum struct {
		sum   r3.Vector
		count int
	}
	buckets := make(map[voxelCoords]*accum)
	for _, p := range c.Points() {
		key := voxelCoords{
			i: int64(math.Floor((p.X - min.X) / leafSize)),
			j: int64(math.Floor((p.Y - min.Y) / leafSize)),
			k: int64(math.Floor((p.Z - min.Z) / leafSize)),
		}
		a, found := buckets[key]
		if !found {
			a = &accum{}
			buckets[key] = a
		}
		a.sum = a.sum.Add(p)
		a.count++
	}

	out := NewWithCapacity(len(buckets))
	for _, a := range buckets {
		out.Add(a.sum.Mul(1.0 / float64(a.count)))
	}
	return out
}
