package pointcloud

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/cloudalign/cloudalign/utils"
)

// EstimateNormals fits a plane to each point's k nearest neighbors and stores
// the plane normal as the AttrNormals attribute. The normal of a
// neighborhood is the eigenvector of its covariance with the smallest
// eigenvalue. Orientation is resolved toward the viewpoint (typically the
// sensor origin): normals are flipped so they face it. Estimation runs
// per-point in parallel; each point's computation is independent.
func (pc *PointCloud) EstimateNormals(ctx context.Context, k int, viewpoint r3.Vector) error {
	if k < 3 {
		return errors.Errorf("normal estimation needs at least 3 neighbors, got %d", k)
	}
	if pc.Size() < k {
		return errors.Errorf("cloud of %d points is too small for %d-neighbor normal estimation", pc.Size(), k)
	}
	kd, err := BuildKDTree(pc)
	if err != nil {
		return err
	}

	normals := make([]r3.Vector, pc.Size())
	var groupErrs []error
	err = utils.GroupWorkParallel(
		ctx,
		pc.Size(),
		func(numGroups int) {
			groupErrs = make([]error, numGroups)
		},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			var groupErr error
			return func(memberNum, workNum int) {
					if groupErr != nil {
						return
					}
					n, nerr := neighborhoodNormal(pc, kd, workNum, k, viewpoint)
					if nerr != nil {
						groupErr = nerr
						return
					}
					normals[workNum] = n
				}, func() {
					groupErrs[groupNum] = groupErr
				}
		},
	)
	if err != nil {
		return err
	}
	for _, groupErr := range groupErrs {
		if groupErr != nil {
			return groupErr
		}
	}
	return pc.SetNormals(normals)
}

func neighborhoodNormal(pc *PointCloud, kd *KDTree, i, k int, viewpoint r3.Vector) (r3.Vector, error) {
	neighbors := kd.KNearestNeighbors(pc.At(i), k)

	var centroid r3.Vector
	for _, j := range neighbors {
		centroid = centroid.Add(pc.At(j))
	}
	centroid = centroid.Mul(1 / float64(len(neighbors)))

	var cov [6]float64 // xx, xy, xz, yy, yz, zz
	for _, j := range neighbors {
		d := pc.At(j).Sub(centroid)
		cov[0] += d.X * d.X
		cov[1] += d.X * d.Y
		cov[2] += d.X * d.Z
		cov[3] += d.Y * d.Y
		cov[4] += d.Y * d.Z
		cov[5] += d.Z * d.Z
	}
	sym := mat.NewSymDense(3, []float64{
		cov[0], cov[1], cov[2],
		cov[1], cov[3], cov[4],
		cov[2], cov[4], cov[5],
	})

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return r3.Vector{}, errors.Errorf("eigendecomposition failed for the neighborhood of point %d", i)
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// eigenvalues come back ascending; the first eigenvector spans the
	// direction of least variance
	n := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	if n.Norm() == 0 {
		return r3.Vector{}, errors.Errorf("degenerate neighborhood around point %d", i)
	}
	n = n.Normalize()
	if n.Dot(viewpoint.Sub(pc.At(i))) < 0 {
		n = n.Mul(-1)
	}
	return n, nil
}
