package registration

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/cloudalign/cloudalign/pointcloud"
)

func TestFindCorrespondencesHybridSearch(t *testing.T) {
	target := pointcloud.NewFromPoints([]r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 2, Y: 0, Z: 0},
	})
	kd, err := pointcloud.BuildKDTree(target)
	test.That(t, err, test.ShouldBeNil)

	source := pointcloud.NewFromPoints([]r3.Vector{
		{X: 0.1, Y: 0, Z: 0},  // near target 0
		{X: 1.05, Y: 0, Z: 0}, // near target 1
		{X: 5, Y: 0, Z: 0},    // beyond any threshold
	})

	corres, err := FindCorrespondences(context.Background(), source, kd, 0.2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, corres.Len(), test.ShouldEqual, 2)
	test.That(t, corres.Source, test.ShouldResemble, []int{0, 1})
	test.That(t, corres.Target, test.ShouldResemble, []int{0, 1})
	test.That(t, corres.SquaredDistances[0], test.ShouldAlmostEqual, 0.01, 1e-12)
	test.That(t, corres.SquaredDistances[1], test.ShouldAlmostEqual, 0.0025, 1e-12)

	// every source point matches its single nearest neighbor, not all
	// points within the radius
	corres, err = FindCorrespondences(context.Background(), source, kd, 10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, corres.Len(), test.ShouldEqual, 3)
	test.That(t, corres.Target[2], test.ShouldEqual, 2)
}

func TestFindCorrespondencesDegenerateRadius(t *testing.T) {
	target := pointcloud.NewFromPoints([]r3.Vector{{X: 0, Y: 0, Z: 0}})
	kd, err := pointcloud.BuildKDTree(target)
	test.That(t, err, test.ShouldBeNil)
	source := pointcloud.NewFromPoints([]r3.Vector{{X: 0, Y: 0, Z: 0}})

	for _, radius := range []float64{0, -1} {
		corres, err := FindCorrespondences(context.Background(), source, kd, radius)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, corres.Len(), test.ShouldEqual, 0)
	}
}

func TestFindCorrespondencesNoIndex(t *testing.T) {
	source := pointcloud.NewFromPoints([]r3.Vector{{X: 0, Y: 0, Z: 0}})
	_, err := FindCorrespondences(context.Background(), source, nil, 1)
	test.That(t, err, test.ShouldNotBeNil)
}
