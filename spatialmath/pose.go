package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// Pose is the 6-vector small-motion parameterization produced by linearized
// alignment solvers: the first three components are a rotation vector
// (axis scaled by angle in radians), the last three a translation.
type Pose [6]float64

// NewPose assembles a pose from a rotation vector and a translation.
func NewPose(rot, tr r3.Vector) Pose {
	return Pose{rot.X, rot.Y, rot.Z, tr.X, tr.Y, tr.Z}
}

// RotationVector returns the rotation-vector half of the pose.
func (p Pose) RotationVector() r3.Vector {
	return r3.Vector{X: p[0], Y: p[1], Z: p[2]}
}

// Translation returns the translation half of the pose.
func (p Pose) Translation() r3.Vector {
	return r3.Vector{X: p[3], Y: p[4], Z: p[5]}
}

// Transform converts the pose to a rigid transform. The rotation block is the
// exponential map (Rodrigues' formula) of the rotation vector rather than its
// first-order approximation, so the block is exactly orthonormal for any
// angle and repeated composition across solver iterations cannot drift away
// from SO(3). The translation carries over directly.
func (p Pose) Transform() RigidTransform {
	wx, wy, wz := p[0], p[1], p[2]
	theta2 := wx*wx + wy*wy + wz*wz
	theta := math.Sqrt(theta2)

	// sin(t)/t and (1-cos(t))/t^2, with series expansions near zero
	var a, b float64
	if theta < 1e-9 {
		a = 1 - theta2/6
		b = 0.5 - theta2/24
	} else {
		a = math.Sin(theta) / theta
		b = (1 - math.Cos(theta)) / theta2
	}

	// R = I + a*K + b*K^2 where K is the skew-symmetric matrix of w
	rt := RigidTransform{tr: r3.Vector{X: p[3], Y: p[4], Z: p[5]}}
	rt.rot = [9]float64{
		1 - b*(wy*wy+wz*wz), b*wx*wy - a*wz, b*wx*wz + a*wy,
		b*wx*wy + a*wz, 1 - b*(wx*wx+wz*wz), b*wy*wz - a*wx,
		b*wx*wz - a*wy, b*wy*wz + a*wx, 1 - b*(wx*wx+wy*wy),
	}
	return rt
}
