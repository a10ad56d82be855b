package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// kdPoint adapts a cloud point to the k-d tree element interface while
// remembering its row index in the cloud.
type kdPoint struct {
	pos r3.Vector
	idx int
}

func (p kdPoint) coord(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.pos.X
	case 1:
		return p.pos.Y
	default:
		return p.pos.Z
	}
}

// Compare returns the signed distance of p from the plane passing through c
// and perpendicular to dimension d.
func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(kdPoint)
	return p.coord(d) - q.coord(d)
}

// Dims returns the number of dimensions described by the point.
func (p kdPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between p and c.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(kdPoint)
	d := p.pos.Sub(q.pos)
	return d.X*d.X + d.Y*d.Y + d.Z*d.Z
}

type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p kdPoints) Len() int                              { return len(p) }
func (p kdPoints) Pivot(d kdtree.Dim) int                { return kdPlane{Dim: d, kdPoints: p}.Pivot() }
func (p kdPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// kdPlane implements the sort-slicing needed for pivoting during tree
// construction.
type kdPlane struct {
	kdtree.Dim
	kdPoints
}

func (p kdPlane) Less(i, j int) bool {
	return p.kdPoints[i].coord(p.Dim) < p.kdPoints[j].coord(p.Dim)
}
func (p kdPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.kdPoints = p.kdPoints[start:end]
	return p
}
func (p kdPlane) Swap(i, j int) {
	p.kdPoints[i], p.kdPoints[j] = p.kdPoints[j], p.kdPoints[i]
}

// KDTree is a read-only spatial index over a cloud's positions. Queries are
// safe to run concurrently.
type KDTree struct {
	tree *kdtree.Tree
	size int
}

// BuildKDTree indexes the cloud's points for nearest neighbor queries. An
// empty cloud cannot be indexed; that is a configuration error, not an empty
// result.
func BuildKDTree(pc *PointCloud) (*KDTree, error) {
	if pc == nil || pc.Size() == 0 {
		return nil, errors.New("cannot build a spatial index over an empty point cloud")
	}
	pts := make(kdPoints, pc.Size())
	for i, p := range pc.Points() {
		pts[i] = kdPoint{pos: p, idx: i}
	}
	return &KDTree{tree: kdtree.New(pts, false), size: len(pts)}, nil
}

// Size returns the number of indexed points.
func (kd *KDTree) Size() int {
	return kd.size
}

// NearestNeighbor returns the row index of the indexed point closest to p and
// the squared Euclidean distance to it.
func (kd *KDTree) NearestNeighbor(p r3.Vector) (int, float64) {
	got, dist := kd.tree.Nearest(kdPoint{pos: p, idx: -1})
	return got.(kdPoint).idx, dist
}

// KNearestNeighbors returns the row indices of up to k indexed points closest
// to p, ordered nearest first.
func (kd *KDTree) KNearestNeighbors(p r3.Vector, k int) []int {
	keeper := kdtree.NewNKeeper(k)
	kd.tree.NearestSet(keeper, kdPoint{pos: p, idx: -1})
	type hit struct {
		idx  int
		dist float64
	}
	hits := make([]hit, 0, keeper.Heap.Len())
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil {
			continue
		}
		hits = append(hits, hit{idx: cd.Comparable.(kdPoint).idx, dist: cd.Dist})
	}
	out := make([]int, len(hits))
	// the keeper is a max-heap; selection sort is fine at these k
	for i := range out {
		best := 0
		for j := 1; j < len(hits); j++ {
			if hits[j].dist < hits[best].dist {
				best = j
			}
		}
		out[i] = hits[best].idx
		hits[best] = hits[len(hits)-1]
		hits = hits[:len(hits)-1]
	}
	return out
}
