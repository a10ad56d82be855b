package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// VoxelCoords stores voxel coordinates in voxel grid axes.
type VoxelCoords struct {
	I, J, K int64
}

// IsEqual tests if two VoxelCoords are the same.
func (c VoxelCoords) IsEqual(c2 VoxelCoords) bool {
	return c.I == c2.I && c.J == c2.J && c.K == c2.K
}

// GetVoxelCoordinates computes the voxel coordinates of a point, given the
// grid origin and voxel side length.
func GetVoxelCoordinates(pt, ptMin r3.Vector, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64((pt.X - ptMin.X) / voxelSize),
		J: int64((pt.Y - ptMin.Y) / voxelSize),
		K: int64((pt.Z - ptMin.Z) / voxelSize),
	}
}

// VoxelDownsample returns a new cloud with one point per occupied voxel: the
// centroid of the voxel's members. Attributes are averaged the same way so
// rows stay aligned; normals are renormalized afterwards since the mean of
// unit vectors is not unit. Output points appear in first-occupied voxel
// order, which keeps downsampling deterministic.
func (pc *PointCloud) VoxelDownsample(voxelSize float64) (*PointCloud, error) {
	if voxelSize <= 0 {
		return nil, errors.Errorf("voxel size must be positive, got %f", voxelSize)
	}
	if pc.Size() == 0 {
		return New(), nil
	}

	ptMin := r3.Vector{X: pc.meta.MinX, Y: pc.meta.MinY, Z: pc.meta.MinZ}
	bins := map[VoxelCoords]int{}
	var order []VoxelCoords
	members := make([][]int, 0)
	for i, p := range pc.points {
		c := GetVoxelCoordinates(p, ptMin, voxelSize)
		bin, ok := bins[c]
		if !ok {
			bin = len(members)
			bins[c] = bin
			order = append(order, c)
			members = append(members, nil)
		}
		members[bin] = append(members[bin], i)
	}

	out := NewWithPrealloc(len(order))
	for _, c := range order {
		var sum r3.Vector
		rows := members[bins[c]]
		for _, i := range rows {
			sum = sum.Add(pc.points[i])
		}
		if err := out.Add(sum.Mul(1 / float64(len(rows)))); err != nil {
			return nil, err
		}
	}

	for name, vals := range pc.attrs {
		avg := make([]r3.Vector, len(order))
		for bin, c := range order {
			var sum r3.Vector
			rows := members[bins[c]]
			for _, i := range rows {
				sum = sum.Add(vals[i])
			}
			mean := sum.Mul(1 / float64(len(rows)))
			if name == AttrNormals && mean.Norm() > 0 {
				mean = mean.Normalize()
			}
			avg[bin] = mean
		}
		if err := out.SetAttribute(name, avg); err != nil {
			return nil, err
		}
	}
	return out, nil
}
