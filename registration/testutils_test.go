package registration

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/cloudalign/cloudalign/pointcloud"
	"github.com/cloudalign/cloudalign/spatialmath"
)

// cubeCloud samples the surface of an axis-aligned cube of the given side
// length centered at the origin, with the given grid step per face.
func cubeCloud(t *testing.T, side, step float64) *pointcloud.PointCloud {
	t.Helper()
	half := side / 2
	var pts []r3.Vector
	for u := -half; u <= half+1e-9; u += step {
		for v := -half; v <= half+1e-9; v += step {
			pts = append(pts,
				r3.Vector{X: u, Y: v, Z: -half},
				r3.Vector{X: u, Y: v, Z: half},
				r3.Vector{X: u, Y: -half, Z: v},
				r3.Vector{X: u, Y: half, Z: v},
				r3.Vector{X: -half, Y: u, Z: v},
				r3.Vector{X: half, Y: u, Z: v},
			)
		}
	}
	return pointcloud.NewFromPoints(pts)
}

// cubeCloudWithNormals is cubeCloud with the outward face normal attached to
// every sample. The six distinct normal directions keep the point-to-plane
// normal equations full rank.
func cubeCloudWithNormals(t *testing.T, side, step float64) *pointcloud.PointCloud {
	t.Helper()
	half := side / 2
	var pts, normals []r3.Vector
	add := func(p, n r3.Vector) {
		pts = append(pts, p)
		normals = append(normals, n)
	}
	for u := -half; u <= half+1e-9; u += step {
		for v := -half; v <= half+1e-9; v += step {
			add(r3.Vector{X: u, Y: v, Z: -half}, r3.Vector{Z: -1})
			add(r3.Vector{X: u, Y: v, Z: half}, r3.Vector{Z: 1})
			add(r3.Vector{X: u, Y: -half, Z: v}, r3.Vector{Y: -1})
			add(r3.Vector{X: u, Y: half, Z: v}, r3.Vector{Y: 1})
			add(r3.Vector{X: -half, Y: u, Z: v}, r3.Vector{X: -1})
			add(r3.Vector{X: half, Y: u, Z: v}, r3.Vector{X: 1})
		}
	}
	pc := pointcloud.NewFromPoints(pts)
	test.That(t, pc.SetNormals(normals), test.ShouldBeNil)
	return pc
}

// sphereCloud samples a unit sphere with exact outward normals.
func sphereCloud(t *testing.T, n int) *pointcloud.PointCloud {
	t.Helper()
	var pts, normals []r3.Vector
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			theta := math.Pi * (float64(i) + 0.5) / float64(n)
			phi := 2 * math.Pi * float64(j) / float64(n)
			p := r3.Vector{
				X: math.Sin(theta) * math.Cos(phi),
				Y: math.Sin(theta) * math.Sin(phi),
				Z: math.Cos(theta),
			}
			pts = append(pts, p)
			normals = append(normals, p)
		}
	}
	pc := pointcloud.NewFromPoints(pts)
	test.That(t, pc.SetNormals(normals), test.ShouldBeNil)
	return pc
}

// identityCorrespondences pairs point i with point i.
func identityCorrespondences(n int) CorrespondenceSet {
	cs := CorrespondenceSet{
		Source:           make([]int, n),
		Target:           make([]int, n),
		SquaredDistances: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		cs.Source[i] = i
		cs.Target[i] = i
	}
	return cs
}

// assertNearIdentity checks that rt is within the given rotation (radians)
// and translation bounds of the identity.
func assertNearIdentity(t *testing.T, rt spatialmath.RigidTransform, rotTol, transTol float64) {
	t.Helper()
	test.That(t, rt.RotationAngle(), test.ShouldBeLessThan, rotTol)
	test.That(t, rt.Translation().Norm(), test.ShouldBeLessThan, transTol)
}
