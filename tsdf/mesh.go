package tsdf

import (
	"image/color"

	"github.com/golang/geo/r3"
)

// Mesh is an indexed triangle mesh extracted from a volume. Triangles wind
// counterclockwise seen from outside the surface, so cross(v1-v0, v2-v0)
// points out of the scanned geometry.
type Mesh struct {
	Vertices  []r3.Vector
	Triangles [][3]int
	// Colors holds one color per vertex; it is nil when the volume never saw
	// color frames.
	Colors []color.NRGBA
	// Normals is filled by ComputeNormals.
	Normals []r3.Vector
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices)
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Triangles)
}

// ComputeNormals fills per-vertex normals by averaging the normals of all
// triangles sharing each vertex, weighted by triangle area.
func (m *Mesh) ComputeNormals() {
	normals := make([]r3.Vector, len(m.Vertices))
	for _, tri := range m.Triangles {
		v0 := m.Vertices[tri[0]]
		v1 := m.Vertices[tri[1]]
		v2 := m.Vertices[tri[2]]
		// cross product magnitude carries the area weighting
		n := v1.Sub(v0).Cross(v2.Sub(v0))
		normals[tri[0]] = normals[tri[0]].Add(n)
		normals[tri[1]] = normals[tri[1]].Add(n)
		normals[tri[2]] = normals[tri[2]].Add(n)
	}
	for i, n := range normals {
		if n.Norm() > 0 {
			normals[i] = n.Normalize()
		}
	}
	m.Normals = normals
}
