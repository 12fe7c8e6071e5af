package pointcloud

import (
	"github.com/slam3d/graphmapper/spatialmath"
)

// Transform applies a rigid transform to every point of a cloud, returning a
// new cloud. Grounded on the pcl::transformPointCloud calls throughout
// PointCloudSensor.cpp and Mapper.cpp (guess pre-shift, accumulated-cloud
// construction).
func Transform(c Cloud, t spatialmath.Transform) Cloud {
	out := NewWithCapacity(c.Size())
	for _, p := range c.Points() {
		out.Add(t.Apply(p))
	}
	return out
}

// Concat returns a new cloud containing every point from every argument, in
// order, mirroring the `*accu += *tempCloud` accumulation pattern in
// PointCloudSensor::getAccumulatedCloud.
func Concat(clouds ...Cloud) Cloud {
	size := 0
	for _, c := range clouds {
		size += c.Size()
	}
	out := NewWithCapacity(size)
	for _, c := range clouds {
		for _, p := range c.Points() {
			out.Add(p)
		}
	}
	return out
}
