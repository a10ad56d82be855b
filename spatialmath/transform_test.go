package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestIdentity(t *testing.T) {
	rt := NewRigidTransform()
	p := r3.Vector{X: 1, Y: -2, Z: 3}
	test.That(t, rt.TransformPoint(p), test.ShouldResemble, p)
	test.That(t, rt.RotationAngle(), test.ShouldAlmostEqual, 0)
}

func TestFromMatrixValidation(t *testing.T) {
	// valid: rotate 90 degrees about z, translate along x
	m := mat.NewDense(4, 4, []float64{
		0, -1, 0, 1,
		1, 0, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	rt, err := NewRigidTransformFromMatrix(m)
	test.That(t, err, test.ShouldBeNil)
	got := rt.TransformPoint(r3.Vector{X: 1, Y: 0, Z: 0})
	test.That(t, got.X, test.ShouldAlmostEqual, 1)
	test.That(t, got.Y, test.ShouldAlmostEqual, 1)
	test.That(t, got.Z, test.ShouldAlmostEqual, 0)

	// wrong shape
	_, err = NewRigidTransformFromMatrix(mat.NewDense(3, 3, nil))
	test.That(t, err, test.ShouldNotBeNil)

	// bad bottom row
	bad := mat.NewDense(4, 4, nil)
	bad.Set(0, 0, 1)
	bad.Set(1, 1, 1)
	bad.Set(2, 2, 1)
	bad.Set(3, 0, 1)
	bad.Set(3, 3, 1)
	_, err = NewRigidTransformFromMatrix(bad)
	test.That(t, err, test.ShouldNotBeNil)

	// reflection must be rejected
	refl := mat.NewDense(3, 3, []float64{
		-1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	_, err = NewRigidTransformFromRt(refl, r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)

	// non-orthonormal block must be rejected
	skew := mat.NewDense(3, 3, []float64{
		1, 0.1, 0,
		0, 1, 0,
		0, 0, 1,
	})
	_, err = NewRigidTransformFromRt(skew, r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestComposeInvert(t *testing.T) {
	a := NewPose(r3.Vector{X: 0.3, Y: -0.2, Z: 0.9}, r3.Vector{X: 1, Y: 2, Z: 3}).Transform()
	b := NewPose(r3.Vector{X: -0.1, Y: 0.5, Z: 0.2}, r3.Vector{X: -4, Y: 0, Z: 2}).Transform()

	p := r3.Vector{X: 0.5, Y: -1.5, Z: 2.5}
	composed := a.Compose(b).TransformPoint(p)
	sequential := a.TransformPoint(b.TransformPoint(p))
	test.That(t, composed.X, test.ShouldAlmostEqual, sequential.X)
	test.That(t, composed.Y, test.ShouldAlmostEqual, sequential.Y)
	test.That(t, composed.Z, test.ShouldAlmostEqual, sequential.Z)

	// the angle extraction via acos loses precision near identity, so check
	// the rotation block elementwise instead
	roundTrip := a.Invert().Compose(a)
	r := roundTrip.Rotation()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.
			if i == j {
				want = 1.
			}
			test.That(t, r.At(i, j), test.ShouldAlmostEqual, want, 1e-12)
		}
	}
	test.That(t, roundTrip.RotationAngle(), test.ShouldAlmostEqual, 0, 1e-7)
	test.That(t, roundTrip.Translation().Norm(), test.ShouldAlmostEqual, 0, 1e-12)
}

func TestPoseExponentialMap(t *testing.T) {
	// 90 degrees about z maps x onto y
	rt := NewPose(r3.Vector{Z: math.Pi / 2}, r3.Vector{}).Transform()
	got := rt.TransformPoint(r3.Vector{X: 1})
	test.That(t, got.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, got.Y, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, rt.RotationAngle(), test.ShouldAlmostEqual, math.Pi/2, 1e-12)

	// exponential map must land exactly on SO(3) even for large angles
	big := NewPose(r3.Vector{X: 2.0, Y: -1.3, Z: 0.7}, r3.Vector{}).Transform()
	r := big.Rotation()
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.
			if i == j {
				want = 1.
			}
			test.That(t, rtr.At(i, j), test.ShouldAlmostEqual, want, 1e-12)
		}
	}
	test.That(t, mat.Det(r), test.ShouldAlmostEqual, 1, 1e-12)

	// tiny rotations go through the series branch without NaNs
	tiny := NewPose(r3.Vector{X: 1e-12}, r3.Vector{}).Transform()
	test.That(t, tiny.RotationAngle(), test.ShouldAlmostEqual, 0, 1e-9)
}
