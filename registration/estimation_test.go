package registration

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/cloudalign/cloudalign/pointcloud"
	"github.com/cloudalign/cloudalign/spatialmath"
	"github.com/cloudalign/cloudalign/utils"
)

func TestPointToPointRecoversKnownTransform(t *testing.T) {
	source := cubeCloud(t, 1.0, 0.25)
	known := spatialmath.NewPose(
		r3.Vector{X: 0.4, Y: -0.2, Z: 0.7},
		r3.Vector{X: 0.3, Y: -1.2, Z: 0.5},
	).Transform()
	target := source.Clone()
	target.Transform(known)

	got, err := PointToPoint{}.ComputeTransformation(
		context.Background(), source, target, identityCorrespondences(source.Size()))
	test.That(t, err, test.ShouldBeNil)

	// exact correspondences of a rigid motion recover it to machine precision
	assertNearIdentity(t, got.Compose(known.Invert()), 1e-9, 1e-9)

	// and the recovered rotation is proper and orthonormal
	r := got.Rotation()
	test.That(t, mat.Det(r), test.ShouldAlmostEqual, 1, 1e-9)
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.
			if i == j {
				want = 1.
			}
			test.That(t, rtr.At(i, j), test.ShouldAlmostEqual, want, 1e-9)
		}
	}

	// RMSE of the aligned pairs is ~0
	moved := source.Clone()
	moved.Transform(got)
	rmse := PointToPoint{}.ComputeRMSE(moved, target, identityCorrespondences(source.Size()))
	test.That(t, rmse, test.ShouldAlmostEqual, 0, 1e-9)
}

func TestPointToPointEmptySet(t *testing.T) {
	source := cubeCloud(t, 1.0, 0.5)
	got, err := PointToPoint{}.ComputeTransformation(context.Background(), source, source, CorrespondenceSet{})
	test.That(t, err, test.ShouldBeNil)
	assertNearIdentity(t, got, 1e-15, 1e-15)
	test.That(t, PointToPoint{}.ComputeRMSE(source, source, CorrespondenceSet{}), test.ShouldEqual, 0)
}

func TestPointToPlaneRecoversSmallTransform(t *testing.T) {
	source := cubeCloudWithNormals(t, 1.0, 0.1)
	known := spatialmath.NewPose(
		r3.Vector{X: 0.01, Y: -0.005, Z: 0.008},
		r3.Vector{X: 0.004, Y: 0.002, Z: -0.006},
	).Transform()
	target := source.Clone()
	target.Transform(known)

	got, err := PointToPlane{}.ComputeTransformation(
		context.Background(), source, target, identityCorrespondences(source.Size()))
	test.That(t, err, test.ShouldBeNil)

	// the linearization is first-order, so recovery is approximate
	assertNearIdentity(t, got.Compose(known.Invert()), 1e-3, 1e-3)
}

func TestPointToPlaneRequiresNormals(t *testing.T) {
	source := cubeCloud(t, 1.0, 0.5)
	target := cubeCloud(t, 1.0, 0.5)
	_, err := PointToPlane{}.ComputeTransformation(
		context.Background(), source, target, identityCorrespondences(source.Size()))
	test.That(t, err, test.ShouldNotBeNil)

	// RMSE without normals is undefined and reported as zero, not fatal
	rmse := PointToPlane{}.ComputeRMSE(source, target, identityCorrespondences(source.Size()))
	test.That(t, rmse, test.ShouldEqual, 0)
}

func TestPointToPlaneEmptySet(t *testing.T) {
	source := sphereCloud(t, 6)
	got, err := PointToPlane{}.ComputeTransformation(context.Background(), source, source, CorrespondenceSet{})
	test.That(t, err, test.ShouldBeNil)
	assertNearIdentity(t, got, 1e-15, 1e-15)
}

func TestPointToPlaneRMSEMetric(t *testing.T) {
	source := sphereCloud(t, 8)
	// push every source point 0.1 outward along its own normal: the
	// point-to-plane residual is exactly 0.1 everywhere
	pts := make([]r3.Vector, source.Size())
	for i, p := range source.Points() {
		pts[i] = p.Add(source.Normals()[i].Mul(0.1))
	}
	moved := pointcloud.NewFromPoints(pts)
	rmse := PointToPlane{}.ComputeRMSE(moved, source, identityCorrespondences(source.Size()))
	test.That(t, rmse, test.ShouldAlmostEqual, 0.1, 1e-9)
}

func TestAccumulationPartitionInvariance(t *testing.T) {
	source := cubeCloudWithNormals(t, 1.0, 0.2)
	known := spatialmath.NewPose(
		r3.Vector{X: 0.01, Y: 0.02, Z: -0.01},
		r3.Vector{X: 0.005, Y: -0.003, Z: 0.002},
	).Transform()
	target := source.Clone()
	target.Transform(known)
	corres := identityCorrespondences(source.Size())

	origFactor := utils.ParallelFactor
	defer func() { utils.ParallelFactor = origFactor }()

	utils.ParallelFactor = 1
	sequential, err := PointToPlane{}.ComputeTransformation(context.Background(), source, target, corres)
	test.That(t, err, test.ShouldBeNil)

	for _, workers := range []int{2, 8, source.Size()} {
		utils.ParallelFactor = workers
		parallel, err := PointToPlane{}.ComputeTransformation(context.Background(), source, target, corres)
		test.That(t, err, test.ShouldBeNil)
		delta := parallel.Compose(sequential.Invert())
		test.That(t, delta.RotationAngle(), test.ShouldBeLessThan, 1e-9)
		test.That(t, delta.Translation().Norm(), test.ShouldBeLessThan, 1e-9)
	}

	// the same holds for the point-to-point covariance accumulation
	utils.ParallelFactor = 1
	seqP2P, err := PointToPoint{}.ComputeTransformation(context.Background(), source, target, corres)
	test.That(t, err, test.ShouldBeNil)
	utils.ParallelFactor = 8
	parP2P, err := PointToPoint{}.ComputeTransformation(context.Background(), source, target, corres)
	test.That(t, err, test.ShouldBeNil)
	delta := parP2P.Compose(seqP2P.Invert())
	test.That(t, delta.RotationAngle(), test.ShouldBeLessThan, 1e-9)
	test.That(t, delta.Translation().Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestPointToPointFitnessDenominator(t *testing.T) {
	// fitness is exactly C / N_source
	source := cubeCloud(t, 1.0, 0.25)
	target := source.Clone()
	result, err := EvaluateRegistration(context.Background(), source, target, 0.05, spatialmath.NewRigidTransform())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Fitness, test.ShouldEqual, 1)
	test.That(t, result.InlierRMSE, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, result.Correspondences.Len(), test.ShouldEqual, source.Size())

	// with extra unmatched source points the denominator stays the full
	// source count
	padded := source.Clone()
	for i := 0; i < 10; i++ {
		test.That(t, padded.Add(r3.Vector{X: 100 + float64(i), Y: 0, Z: 0}), test.ShouldBeNil)
	}
	result, err = EvaluateRegistration(context.Background(), padded, target, 0.05, spatialmath.NewRigidTransform())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Correspondences.Len(), test.ShouldEqual, source.Size())
	test.That(t, result.Fitness, test.ShouldAlmostEqual, float64(source.Size())/float64(padded.Size()), 1e-12)
}
