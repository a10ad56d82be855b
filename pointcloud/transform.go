package pointcloud

import (
	"github.com/golang/geo/r3"

	"github.com/cloudalign/cloudalign/spatialmath"
)

// Transform applies a rigid transform to every point in place. Surface
// normals are rotated; other attributes describe point-local data and are
// left untouched. Bounds metadata is rebuilt.
func (pc *PointCloud) Transform(rt spatialmath.RigidTransform) {
	meta := NewMetaData()
	for i, p := range pc.points {
		q := rt.TransformPoint(p)
		pc.points[i] = q
		meta.Merge(q)
	}
	pc.meta = meta
	if normals, ok := pc.attrs[AttrNormals]; ok {
		for i, n := range normals {
			normals[i] = rt.RotateVector(n)
		}
	}
}

// Crop keeps only the points inside the axis-aligned box [min, max],
// rewriting every attribute so rows stay aligned.
func (pc *PointCloud) Crop(min, max r3.Vector) {
	keep := make([]int, 0, len(pc.points))
	for i, p := range pc.points {
		if p.X < min.X || p.X > max.X ||
			p.Y < min.Y || p.Y > max.Y ||
			p.Z < min.Z || p.Z > max.Z {
			continue
		}
		keep = append(keep, i)
	}
	pc.filter(keep)
}

// filter retains the rows named by keep, in order, across positions and all
// attributes, then rebuilds bounds metadata.
func (pc *PointCloud) filter(keep []int) {
	points := make([]r3.Vector, len(keep))
	meta := NewMetaData()
	for out, in := range keep {
		points[out] = pc.points[in]
		meta.Merge(points[out])
	}
	for name, vals := range pc.attrs {
		filtered := make([]r3.Vector, len(keep))
		for out, in := range keep {
			filtered[out] = vals[in]
		}
		pc.attrs[name] = filtered
	}
	pc.points = points
	pc.meta = meta
}
