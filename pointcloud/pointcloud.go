// Package pointcloud defines a point cloud and the operations registration
// needs from one: rigid transforms, cropping, voxel downsampling, spatial
// indexing and surface normal estimation.
//
// A cloud is an ordered collection of 3D positions plus optional named
// per-point attributes. Every attribute stays row-aligned with the positions:
// attribute i always describes point i, and every filtering or resampling
// operation rewrites all attributes together.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Well-known attribute names.
const (
	// AttrNormals holds unit surface normals; it is rotated by rigid
	// transforms while other attributes are carried through unchanged.
	AttrNormals = "normals"
	// AttrColors holds RGB colors with components in [0,1].
	AttrColors = "colors"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasNormals bool
	HasColors  bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns bounds metadata ready to merge points into.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge folds a point's position into the bounds.
func (meta *MetaData) Merge(v r3.Vector) {
	if v.X > meta.MaxX {
		meta.MaxX = v.X
	}
	if v.Y > meta.MaxY {
		meta.MaxY = v.Y
	}
	if v.Z > meta.MaxZ {
		meta.MaxZ = v.Z
	}
	if v.X < meta.MinX {
		meta.MinX = v.X
	}
	if v.Y < meta.MinY {
		meta.MinY = v.Y
	}
	if v.Z < meta.MinZ {
		meta.MinZ = v.Z
	}
}

// PointCloud is an ordered, index-addressed collection of points with named
// row-aligned vector attributes.
type PointCloud struct {
	points []r3.Vector
	attrs  map[string][]r3.Vector
	meta   MetaData
}

// New returns an empty PointCloud.
func New() *PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty PointCloud with capacity for size points.
func NewWithPrealloc(size int) *PointCloud {
	return &PointCloud{
		points: make([]r3.Vector, 0, size),
		attrs:  map[string][]r3.Vector{},
		meta:   NewMetaData(),
	}
}

// NewFromPoints returns a PointCloud over the given positions. The slice is
// taken over, not copied.
func NewFromPoints(points []r3.Vector) *PointCloud {
	pc := &PointCloud{
		points: points,
		attrs:  map[string][]r3.Vector{},
		meta:   NewMetaData(),
	}
	for _, p := range points {
		pc.meta.Merge(p)
	}
	return pc
}

// Size returns the number of points in the cloud.
func (pc *PointCloud) Size() int {
	return len(pc.points)
}

// MetaData returns meta data.
func (pc *PointCloud) MetaData() MetaData {
	meta := pc.meta
	_, meta.HasNormals = pc.attrs[AttrNormals]
	_, meta.HasColors = pc.attrs[AttrColors]
	return meta
}

// At returns the position of point i.
func (pc *PointCloud) At(i int) r3.Vector {
	return pc.points[i]
}

// Points returns the underlying position slice. Callers must treat it as
// read-only; mutating it bypasses metadata and attribute bookkeeping.
func (pc *PointCloud) Points() []r3.Vector {
	return pc.points
}

// Add appends a point. Appending to a cloud that already carries attributes
// would break row alignment and is refused.
func (pc *PointCloud) Add(p r3.Vector) error {
	if len(pc.attrs) > 0 {
		return errors.New("cannot append points to a cloud with attributes; rebuild the attributes instead")
	}
	pc.points = append(pc.points, p)
	pc.meta.Merge(p)
	return nil
}

// SetAttribute stores a named per-point attribute. The slice is taken over,
// not copied, and must have exactly one row per point.
func (pc *PointCloud) SetAttribute(name string, values []r3.Vector) error {
	if len(values) != len(pc.points) {
		return errors.Errorf("attribute %q has %d rows for %d points", name, len(values), len(pc.points))
	}
	pc.attrs[name] = values
	return nil
}

// Attribute returns the named attribute, if present.
func (pc *PointCloud) Attribute(name string) ([]r3.Vector, bool) {
	vals, ok := pc.attrs[name]
	return vals, ok
}

// RemoveAttribute drops the named attribute if present.
func (pc *PointCloud) RemoveAttribute(name string) {
	delete(pc.attrs, name)
}

// HasNormals reports whether the cloud carries surface normals.
func (pc *PointCloud) HasNormals() bool {
	_, ok := pc.attrs[AttrNormals]
	return ok
}

// Normals returns the surface normals, or nil if absent.
func (pc *PointCloud) Normals() []r3.Vector {
	return pc.attrs[AttrNormals]
}

// SetNormals stores unit surface normals for the cloud.
func (pc *PointCloud) SetNormals(normals []r3.Vector) error {
	return pc.SetAttribute(AttrNormals, normals)
}

// Clone returns a deep copy of the cloud and all its attributes.
func (pc *PointCloud) Clone() *PointCloud {
	out := &PointCloud{
		points: append([]r3.Vector(nil), pc.points...),
		attrs:  make(map[string][]r3.Vector, len(pc.attrs)),
		meta:   pc.meta,
	}
	for name, vals := range pc.attrs {
		out.attrs[name] = append([]r3.Vector(nil), vals...)
	}
	return out
}
