package testutils

import (
	"context"
	"time"

	"github.com/slam3d/graphmapper/spatialmath"
)

// Odometry is a function-field injection double for external.Odometry.
// OdometricPoseFunc defaults to always returning the identity transform.
type Odometry struct {
	OdometricPoseFunc func(ctx context.Context, at time.Time) (spatialmath.Transform, error)
}

// OdometricPose implements external.Odometry.
func (o *Odometry) OdometricPose(ctx context.Context, at time.Time) (spatialmath.Transform, error) {
	if o.OdometricPoseFunc == nil {
		return spatialmath.IdentityTransform(), nil
	}
	return o.OdometricPoseFunc(ctx, at)
}
