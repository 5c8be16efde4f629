package pweld

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Mesh is an indexed triangle mesh. Vertices are addressed by their dense
// position in Vertices; Triangles holds ordered triples of vertex indices.
// Normals and colors are optional per-vertex attributes that travel with
// the vertex through clustering. All attribute slices, when non-empty,
// have the same length as Vertices (or Triangles for TriangleNormals).
type Mesh struct {
	Vertices  []r3.Vec
	Triangles [][3]int32

	// VertexNormals and VertexColors are optional. Colors are RGB in [0, 1].
	VertexNormals []r3.Vec
	VertexColors  []r3.Vec

	// TriangleNormals and AdjacencyList are derived data, populated on
	// demand by ComputeTriangleNormals and ComputeAdjacencyList.
	TriangleNormals []r3.Vec
	AdjacencyList   []map[int32]struct{}
}

// HasVertexNormals reports whether every vertex carries a normal.
func (m *Mesh) HasVertexNormals() bool {
	return len(m.Vertices) > 0 && len(m.VertexNormals) == len(m.Vertices)
}

// HasVertexColors reports whether every vertex carries a color.
func (m *Mesh) HasVertexColors() bool {
	return len(m.Vertices) > 0 && len(m.VertexColors) == len(m.Vertices)
}

// HasTriangleNormals reports whether every triangle carries a normal.
func (m *Mesh) HasTriangleNormals() bool {
	return len(m.Triangles) > 0 && len(m.TriangleNormals) == len(m.Triangles)
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	c := &Mesh{
		Vertices:        append([]r3.Vec(nil), m.Vertices...),
		Triangles:       append([][3]int32(nil), m.Triangles...),
		VertexNormals:   append([]r3.Vec(nil), m.VertexNormals...),
		VertexColors:    append([]r3.Vec(nil), m.VertexColors...),
		TriangleNormals: append([]r3.Vec(nil), m.TriangleNormals...),
	}
	if m.AdjacencyList != nil {
		c.AdjacencyList = make([]map[int32]struct{}, len(m.AdjacencyList))
		for i, adj := range m.AdjacencyList {
			c.AdjacencyList[i] = make(map[int32]struct{}, len(adj))
			for k := range adj {
				c.AdjacencyList[i][k] = struct{}{}
			}
		}
	}
	return c
}

// Clear resets the mesh to empty.
func (m *Mesh) Clear() {
	*m = Mesh{}
}

// Validate checks that every triangle index refers to an existing vertex.
func (m *Mesh) Validate() error {
	n := int32(len(m.Vertices))
	for ti, tri := range m.Triangles {
		for _, v := range tri {
			if v < 0 || v >= n {
				return fmt.Errorf("%w: triangle %d references vertex %d outside [0, %d)",
					ErrOutOfRange, ti, v, n)
			}
		}
	}
	return nil
}

// Diameter returns the length of the diagonal of the mesh's axis-aligned
// bounding box. Zero for meshes with fewer than two vertices.
func (m *Mesh) Diameter() float64 {
	if len(m.Vertices) < 2 {
		return 0
	}
	lo := m.Vertices[0]
	hi := m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		lo.X = math.Min(lo.X, v.X)
		lo.Y = math.Min(lo.Y, v.Y)
		lo.Z = math.Min(lo.Z, v.Z)
		hi.X = math.Max(hi.X, v.X)
		hi.Y = math.Max(hi.Y, v.Y)
		hi.Z = math.Max(hi.Z, v.Z)
	}
	return r3.Norm(r3.Sub(hi, lo))
}

// ComputeTriangleNormals computes one normal per triangle from the cross
// product of its edge vectors. If normalized is true the normals are
// scaled to unit length.
func (m *Mesh) ComputeTriangleNormals(normalized bool) {
	m.TriangleNormals = make([]r3.Vec, len(m.Triangles))
	for i, tri := range m.Triangles {
		v01 := r3.Sub(m.Vertices[tri[1]], m.Vertices[tri[0]])
		v02 := r3.Sub(m.Vertices[tri[2]], m.Vertices[tri[0]])
		m.TriangleNormals[i] = r3.Cross(v01, v02)
	}
	if normalized {
		normalizeAll(m.TriangleNormals)
	}
}

// ComputeVertexNormals computes per-vertex normals by accumulating the
// (area-weighted) normals of incident triangles.
func (m *Mesh) ComputeVertexNormals(normalized bool) {
	m.ComputeTriangleNormals(false)
	m.VertexNormals = make([]r3.Vec, len(m.Vertices))
	for i, tri := range m.Triangles {
		n := m.TriangleNormals[i]
		m.VertexNormals[tri[0]] = r3.Add(m.VertexNormals[tri[0]], n)
		m.VertexNormals[tri[1]] = r3.Add(m.VertexNormals[tri[1]], n)
		m.VertexNormals[tri[2]] = r3.Add(m.VertexNormals[tri[2]], n)
	}
	if normalized {
		normalizeAll(m.VertexNormals)
		normalizeAll(m.TriangleNormals)
	}
}

// ComputeAdjacencyList builds the vertex adjacency sets implied by the
// triangle list.
func (m *Mesh) ComputeAdjacencyList() {
	m.AdjacencyList = make([]map[int32]struct{}, len(m.Vertices))
	for i := range m.AdjacencyList {
		m.AdjacencyList[i] = make(map[int32]struct{})
	}
	for _, tri := range m.Triangles {
		m.AdjacencyList[tri[0]][tri[1]] = struct{}{}
		m.AdjacencyList[tri[0]][tri[2]] = struct{}{}
		m.AdjacencyList[tri[1]][tri[0]] = struct{}{}
		m.AdjacencyList[tri[1]][tri[2]] = struct{}{}
		m.AdjacencyList[tri[2]][tri[0]] = struct{}{}
		m.AdjacencyList[tri[2]][tri[1]] = struct{}{}
	}
}

// normalizeAll scales each vector to unit length. Zero vectors are left
// untouched.
func normalizeAll(vs []r3.Vec) {
	for i, v := range vs {
		n := r3.Norm(v)
		if n > 0 {
			vs[i] = r3.Scale(1/n, v)
		}
	}
}
