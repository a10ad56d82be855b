// Package spatialmath defines the rigid-body math used by point cloud
// registration: 4x4 homogeneous transforms with proper rotations, and the
// 6-vector pose parameterization produced by linearized solvers.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// orthoEpsilon bounds how far a rotation block may drift from orthonormality
// before a matrix is rejected as malformed.
const orthoEpsilon = 1e-6

// RigidTransform is a 4x4 homogeneous transform: a rotation in SO(3) in the
// upper-left 3x3 block, a translation in the last column, and [0 0 0 1] as
// the bottom row. The rotation block is always proper (determinant +1,
// orthonormal columns); constructors validate this. The zero value is not a
// valid transform, use NewRigidTransform for the identity.
type RigidTransform struct {
	rot [9]float64 // row-major
	tr  r3.Vector
}

// NewRigidTransform returns the identity transform.
func NewRigidTransform() RigidTransform {
	return RigidTransform{rot: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewRigidTransformFromRt builds a transform from a 3x3 rotation matrix and a
// translation vector, rejecting rotations that are not proper.
func NewRigidTransformFromRt(rot mat.Matrix, t r3.Vector) (RigidTransform, error) {
	r, c := rot.Dims()
	if r != 3 || c != 3 {
		return RigidTransform{}, errors.Errorf("rotation must be 3x3, got %dx%d", r, c)
	}
	rt := RigidTransform{tr: t}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rt.rot[3*i+j] = rot.At(i, j)
		}
	}
	if err := rt.checkRotation(); err != nil {
		return RigidTransform{}, err
	}
	return rt, nil
}

// NewRigidTransformFromMatrix builds a transform from a 4x4 homogeneous
// matrix, validating shape, bottom row and the rotation block.
func NewRigidTransformFromMatrix(m mat.Matrix) (RigidTransform, error) {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return RigidTransform{}, errors.Errorf("transformation must be 4x4, got %dx%d", r, c)
	}
	for j, want := range []float64{0, 0, 0, 1} {
		if math.Abs(m.At(3, j)-want) > orthoEpsilon {
			return RigidTransform{}, errors.New("transformation bottom row must be [0 0 0 1]")
		}
	}
	rt := RigidTransform{tr: r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rt.rot[3*i+j] = m.At(i, j)
		}
	}
	if err := rt.checkRotation(); err != nil {
		return RigidTransform{}, err
	}
	return rt, nil
}

func (rt RigidTransform) checkRotation() error {
	// columns must be unit length and mutually orthogonal
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			dot := rt.rot[i]*rt.rot[j] + rt.rot[3+i]*rt.rot[3+j] + rt.rot[6+i]*rt.rot[6+j]
			want := 0.
			if i == j {
				want = 1.
			}
			if math.Abs(dot-want) > orthoEpsilon {
				return errors.New("rotation block is not orthonormal")
			}
		}
	}
	if det := rt.rotDet(); det < 0 {
		return errors.Errorf("rotation block is a reflection (determinant %f)", det)
	}
	return nil
}

func (rt RigidTransform) rotDet() float64 {
	m := rt.rot
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Translation returns the translation component.
func (rt RigidTransform) Translation() r3.Vector {
	return rt.tr
}

// Rotation returns the rotation block as a new 3x3 dense matrix.
func (rt RigidTransform) Rotation() *mat.Dense {
	out := make([]float64, 9)
	copy(out, rt.rot[:])
	return mat.NewDense(3, 3, out)
}

// Matrix returns the full 4x4 homogeneous matrix.
func (rt RigidTransform) Matrix() *mat.Dense {
	m := rt.rot
	return mat.NewDense(4, 4, []float64{
		m[0], m[1], m[2], rt.tr.X,
		m[3], m[4], m[5], rt.tr.Y,
		m[6], m[7], m[8], rt.tr.Z,
		0, 0, 0, 1,
	})
}

// TransformPoint applies the transform to a point.
func (rt RigidTransform) TransformPoint(p r3.Vector) r3.Vector {
	m := rt.rot
	return r3.Vector{
		X: m[0]*p.X + m[1]*p.Y + m[2]*p.Z + rt.tr.X,
		Y: m[3]*p.X + m[4]*p.Y + m[5]*p.Z + rt.tr.Y,
		Z: m[6]*p.X + m[7]*p.Y + m[8]*p.Z + rt.tr.Z,
	}
}

// RotateVector applies only the rotation block, for directions such as
// surface normals.
func (rt RigidTransform) RotateVector(v r3.Vector) r3.Vector {
	m := rt.rot
	return r3.Vector{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

// Compose returns rt * other, the transform applying other first and rt
// second.
func (rt RigidTransform) Compose(other RigidTransform) RigidTransform {
	a, b := rt.rot, other.rot
	var out RigidTransform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.rot[3*i+j] = a[3*i]*b[j] + a[3*i+1]*b[3+j] + a[3*i+2]*b[6+j]
		}
	}
	out.tr = rt.TransformPoint(other.tr)
	return out
}

// Invert returns the inverse transform. Since the rotation is orthonormal the
// inverse is R^T and -R^T t.
func (rt RigidTransform) Invert() RigidTransform {
	m := rt.rot
	inv := RigidTransform{rot: [9]float64{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}}
	inv.tr = inv.RotateVector(rt.tr).Mul(-1)
	return inv
}

// RotationAngle returns the magnitude in radians of the rotation encoded in
// the transform, from the trace identity cos(theta) = (tr(R) - 1) / 2.
func (rt RigidTransform) RotationAngle() float64 {
	m := rt.rot
	c := (m[0] + m[4] + m[8] - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}
