// Package registration implements multiscale Iterative Closest Point
// alignment of point clouds: correspondence search against a spatial index,
// point-to-point and point-to-plane transform estimation, and the
// convergence-driven iteration composed across a coarse-to-fine pyramid.
package registration

import (
	"context"

	"github.com/pkg/errors"

	"github.com/cloudalign/cloudalign/pointcloud"
	"github.com/cloudalign/cloudalign/utils"
)

// CorrespondenceSet pairs source point indices with their matched target
// point indices under some alignment. The slices are parallel: entry i of
// each describes the same match. Sets are produced fresh for every iteration
// of the registration loop and never persisted.
type CorrespondenceSet struct {
	Source []int
	Target []int
	// SquaredDistances holds the squared Euclidean distance of each pair.
	SquaredDistances []float64
}

// Len returns the number of correspondences.
func (cs CorrespondenceSet) Len() int {
	return len(cs.Source)
}

// FindCorrespondences matches every source point to its nearest target point
// and keeps the pair if the two are within maxDistance of each other. This is
// a bounded nearest-neighbor ("hybrid") search: one candidate per source
// point, not all points within the radius, and no mutual-nearest filtering.
// A non-positive maxDistance short-circuits to the empty set without querying
// the index. Queries run in parallel over the worker pool; results are merged
// in source order.
func FindCorrespondences(ctx context.Context, source *pointcloud.PointCloud, target *pointcloud.KDTree, maxDistance float64) (CorrespondenceSet, error) {
	if target == nil {
		return CorrespondenceSet{}, errors.New("target spatial index is not built")
	}
	if maxDistance <= 0 {
		return CorrespondenceSet{}, nil
	}

	points := source.Points()
	maxSq := maxDistance * maxDistance
	partials := make([]CorrespondenceSet, 0)
	err := utils.GroupWorkParallel(
		ctx,
		len(points),
		func(numGroups int) {
			partials = make([]CorrespondenceSet, numGroups)
		},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			local := CorrespondenceSet{
				Source:           make([]int, 0, groupSize),
				Target:           make([]int, 0, groupSize),
				SquaredDistances: make([]float64, 0, groupSize),
			}
			return func(memberNum, workNum int) {
					idx, sq := target.NearestNeighbor(points[workNum])
					if sq <= maxSq {
						local.Source = append(local.Source, workNum)
						local.Target = append(local.Target, idx)
						local.SquaredDistances = append(local.SquaredDistances, sq)
					}
				}, func() {
					partials[groupNum] = local
				}
		},
	)
	if err != nil {
		return CorrespondenceSet{}, err
	}

	total := 0
	for _, p := range partials {
		total += p.Len()
	}
	out := CorrespondenceSet{
		Source:           make([]int, 0, total),
		Target:           make([]int, 0, total),
		SquaredDistances: make([]float64, 0, total),
	}
	for _, p := range partials {
		out.Source = append(out.Source, p.Source...)
		out.Target = append(out.Target, p.Target...)
		out.SquaredDistances = append(out.SquaredDistances, p.SquaredDistances...)
	}
	return out, nil
}
