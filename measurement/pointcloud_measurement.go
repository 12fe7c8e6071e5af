package measurement

import (
	"time"

	"github.com/slam3d/graphmapper/pointcloud"
)

// PointCloudMeasurement is a Measurement carrying a point cloud payload,
// grounded on PointCloudMeasurement in the original PointCloudSensor.cpp.
type PointCloudMeasurement struct {
	Base
	cloud pointcloud.Cloud
}

// NewPointCloudMeasurement constructs a PointCloudMeasurement with a freshly
// assigned unique id.
func NewPointCloudMeasurement(timestamp time.Time, robot, sensor string, cloud pointcloud.Cloud) *PointCloudMeasurement {
	return &PointCloudMeasurement{Base: NewBase(timestamp, robot, sensor), cloud: cloud}
}

// PointCloud returns the measurement's point cloud payload.
func (m *PointCloudMeasurement) PointCloud() pointcloud.Cloud {
	return m.cloud
}
