package registration

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/cloudalign/cloudalign/pointcloud"
	"github.com/cloudalign/cloudalign/spatialmath"
	"github.com/cloudalign/cloudalign/utils"
)

// A TransformationEstimation turns one correspondence set into an incremental
// rigid transform moving the source toward the target. Implementations must
// return the identity for an empty set; behavior for degenerate geometry
// (fewer than three non-collinear pairs) is the caller's responsibility.
type TransformationEstimation interface {
	// ComputeTransformation estimates the incremental transform from the
	// given correspondences.
	ComputeTransformation(ctx context.Context, source, target *pointcloud.PointCloud, corres CorrespondenceSet) (spatialmath.RigidTransform, error)
	// ComputeRMSE reports the root mean squared residual of the
	// correspondences under this estimation's error metric.
	ComputeRMSE(source, target *pointcloud.PointCloud, corres CorrespondenceSet) float64
}

// PointToPoint estimates transforms by the closed-form orthogonal Procrustes
// solution: cross-covariance of the matched points, a 3x3 SVD, and a sign
// correction that forbids reflections.
type PointToPoint struct{}

// ComputeTransformation implements TransformationEstimation.
func (PointToPoint) ComputeTransformation(ctx context.Context, source, target *pointcloud.PointCloud, corres CorrespondenceSet) (spatialmath.RigidTransform, error) {
	n := corres.Len()
	if n == 0 {
		return spatialmath.NewRigidTransform(), nil
	}
	src, tgt := source.Points(), target.Points()

	// one pass accumulates the source sum (3), target sum (3) and the raw
	// outer-product sum target*source^T (9); the centered cross covariance
	// falls out afterwards
	acc, err := utils.SumReduce(ctx, n, 15, func(acc []float64, i int) {
		s := src[corres.Source[i]]
		t := tgt[corres.Target[i]]
		acc[0] += s.X
		acc[1] += s.Y
		acc[2] += s.Z
		acc[3] += t.X
		acc[4] += t.Y
		acc[5] += t.Z
		ts := [9]float64{
			t.X * s.X, t.X * s.Y, t.X * s.Z,
			t.Y * s.X, t.Y * s.Y, t.Y * s.Z,
			t.Z * s.X, t.Z * s.Y, t.Z * s.Z,
		}
		for j, v := range ts {
			acc[6+j] += v
		}
	})
	if err != nil {
		return spatialmath.NewRigidTransform(), err
	}

	fn := float64(n)
	mux := r3.Vector{X: acc[0] / fn, Y: acc[1] / fn, Z: acc[2] / fn}
	muy := r3.Vector{X: acc[3] / fn, Y: acc[4] / fn, Z: acc[5] / fn}

	// Sxy = E[t s^T] - muy mux^T
	muxv := []float64{mux.X, mux.Y, mux.Z}
	muyv := []float64{muy.X, muy.Y, muy.Z}
	sxy := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sxy.Set(i, j, acc[6+3*i+j]/fn-muyv[i]*muxv[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(sxy, mat.SVDFull); !ok {
		return spatialmath.NewRigidTransform(), errors.New("failed to factorize cross covariance")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// guard against a reflection: flip the least-significant axis when the
	// determinant product is negative so det(R) = +1
	if mat.Det(&u)*mat.Det(&v) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
	}
	var rot mat.Dense
	rot.Mul(&u, v.T())

	trans := muy.Sub(r3.Vector{
		X: rot.At(0, 0)*mux.X + rot.At(0, 1)*mux.Y + rot.At(0, 2)*mux.Z,
		Y: rot.At(1, 0)*mux.X + rot.At(1, 1)*mux.Y + rot.At(1, 2)*mux.Z,
		Z: rot.At(2, 0)*mux.X + rot.At(2, 1)*mux.Y + rot.At(2, 2)*mux.Z,
	})
	return spatialmath.NewRigidTransformFromRt(&rot, trans)
}

// ComputeRMSE implements TransformationEstimation with the Euclidean
// point-pair distance metric.
func (PointToPoint) ComputeRMSE(source, target *pointcloud.PointCloud, corres CorrespondenceSet) float64 {
	n := corres.Len()
	if n == 0 {
		return 0
	}
	src, tgt := source.Points(), target.Points()
	var sum float64
	for i := 0; i < n; i++ {
		d := src[corres.Source[i]].Sub(tgt[corres.Target[i]])
		sum += d.X*d.X + d.Y*d.Y + d.Z*d.Z
	}
	return math.Sqrt(sum / float64(n))
}

// PointToPlane estimates transforms by linearizing the point-to-plane error
// around the identity and solving the resulting 6x6 normal equations. It
// needs target normals. The per-pair Jacobian row is [p_s x n_t ; n_t] with
// residual (p_t - p_s) . n_t; the 21 upper-triangle entries of AtA and the 6
// entries of Atb are accumulated as one 27-element associative reduction, the
// system's hottest loop.
type PointToPlane struct{}

// ComputeTransformation implements TransformationEstimation.
func (PointToPlane) ComputeTransformation(ctx context.Context, source, target *pointcloud.PointCloud, corres CorrespondenceSet) (spatialmath.RigidTransform, error) {
	if !target.HasNormals() {
		return spatialmath.NewRigidTransform(), errors.New("point-to-plane estimation requires target normals")
	}
	n := corres.Len()
	if n == 0 {
		return spatialmath.NewRigidTransform(), nil
	}
	src, tgt, nrm := source.Points(), target.Points(), target.Normals()

	acc, err := utils.SumReduce(ctx, n, 27, func(acc []float64, i int) {
		s := src[corres.Source[i]]
		t := tgt[corres.Target[i]]
		nn := nrm[corres.Target[i]]

		a := [6]float64{
			nn.Z*s.Y - nn.Y*s.Z,
			nn.X*s.Z - nn.Z*s.X,
			nn.Y*s.X - nn.X*s.Y,
			nn.X,
			nn.Y,
			nn.Z,
		}
		b := (t.X-s.X)*nn.X + (t.Y-s.Y)*nn.Y + (t.Z-s.Z)*nn.Z

		for k, j := 0, 0; j < 6; j++ {
			for l := 0; l <= j; l++ {
				acc[k] += a[j] * a[l]
				k++
			}
			acc[21+j] += a[j] * b
		}
	})
	if err != nil {
		return spatialmath.NewRigidTransform(), err
	}

	ata := mat.NewSymDense(6, nil)
	atb := mat.NewVecDense(6, nil)
	for k, j := 0, 0; j < 6; j++ {
		for l := 0; l <= j; l++ {
			ata.SetSym(j, l, acc[k])
			k++
		}
		atb.SetVec(j, acc[21+j])
	}

	sol := mat.NewVecDense(6, nil)
	var chol mat.Cholesky
	if chol.Factorize(ata) {
		if err := chol.SolveVecTo(sol, atb); err != nil {
			return spatialmath.NewRigidTransform(), errors.Wrap(err, "solving point-to-plane normal equations")
		}
	} else {
		// semi-definite system, fall back to a general solve
		if err := sol.SolveVec(ata, atb); err != nil {
			return spatialmath.NewRigidTransform(), errors.Wrap(err, "solving point-to-plane normal equations")
		}
	}

	var pose spatialmath.Pose
	for i := 0; i < 6; i++ {
		pose[i] = sol.AtVec(i)
	}
	return pose.Transform(), nil
}

// ComputeRMSE implements TransformationEstimation with the point-to-plane
// metric: the pair offset projected onto the target normal. Without target
// normals the residual is undefined and reported as zero.
func (PointToPlane) ComputeRMSE(source, target *pointcloud.PointCloud, corres CorrespondenceSet) float64 {
	if !target.HasNormals() {
		return 0
	}
	n := corres.Len()
	if n == 0 {
		return 0
	}
	src, tgt, nrm := source.Points(), target.Points(), target.Normals()
	var sum float64
	for i := 0; i < n; i++ {
		d := src[corres.Source[i]].Sub(tgt[corres.Target[i]])
		r := d.Dot(nrm[corres.Target[i]])
		sum += r * r
	}
	return math.Sqrt(sum / float64(n))
}
