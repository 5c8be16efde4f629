package pweld

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestMergeVerticesForwardAsync_MatchesSync(t *testing.T) {
	for _, workers := range []int{1, 2, 4, 8} {
		pts := randomCloud(400, 21, 1)
		tris := [][3]int32{}
		for i := 0; i+2 < len(pts); i += 3 {
			tris = append(tris, [3]int32{int32(i), int32(i + 1), int32(i + 2)})
		}

		syncMesh := &Mesh{Vertices: append([]r3.Vec(nil), pts...), Triangles: append([][3]int32{}, tris...)}
		asyncMesh := &Mesh{Vertices: append([]r3.Vec(nil), pts...), Triangles: append([][3]int32{}, tris...)}

		tree := NewKDTree(pts, 0)
		eps := 0.12
		syncMesh.MergeVerticesForward(tree, eps, workers)
		asyncMesh.MergeVerticesForwardAsync(tree, eps, workers)

		if len(asyncMesh.Vertices) != len(syncMesh.Vertices) {
			t.Fatalf("workers=%d: async %d vertices, sync %d", workers, len(asyncMesh.Vertices), len(syncMesh.Vertices))
		}
		for i := range syncMesh.Vertices {
			// Both variants fold members into the running mean in
			// ascending id order after seeding with the centroid, so the
			// results agree bitwise.
			if asyncMesh.Vertices[i] != syncMesh.Vertices[i] {
				t.Errorf("workers=%d: V'[%d] async %v, sync %v", workers, i, asyncMesh.Vertices[i], syncMesh.Vertices[i])
			}
		}
		for i := range syncMesh.Triangles {
			if asyncMesh.Triangles[i] != syncMesh.Triangles[i] {
				t.Errorf("workers=%d: T'[%d] async %v, sync %v", workers, i, asyncMesh.Triangles[i], syncMesh.Triangles[i])
			}
		}
	}
}

func TestMergeVerticesForwardAsync_TwoPairs(t *testing.T) {
	m := pairMesh()
	tree := NewKDTree(m.Vertices, 0)
	m.MergeVerticesForwardAsync(tree, 0.01, 2)

	if len(m.Vertices) != 2 {
		t.Fatalf("got %d vertices, want 2", len(m.Vertices))
	}
	if !vecApproxEqual(m.Vertices[0], r3.Vec{X: 0.0005}, 1e-12) {
		t.Errorf("V'[0] = %v, want (0.0005, 0, 0)", m.Vertices[0])
	}
	wantTris := [][3]int32{{0, 0, 1}, {0, 1, 1}}
	for i, tri := range m.Triangles {
		if tri != wantTris[i] {
			t.Errorf("T'[%d] = %v, want %v", i, tri, wantTris[i])
		}
	}
}

func TestMergeVerticesForwardAsync_SingleVertex(t *testing.T) {
	m := &Mesh{Vertices: []r3.Vec{{X: 5, Y: 5, Z: 5}}}
	tree := NewKDTree(m.Vertices, 0)
	m.MergeVerticesForwardAsync(tree, 2.0, 4)

	if len(m.Vertices) != 1 || m.Vertices[0] != (r3.Vec{X: 5, Y: 5, Z: 5}) {
		t.Errorf("got %v, want single vertex (5, 5, 5)", m.Vertices)
	}
}

func TestMergeVerticesForwardAsync_EmptyMesh(t *testing.T) {
	m := &Mesh{}
	tree := NewKDTree(m.Vertices, 0)
	m.MergeVerticesForwardAsync(tree, 0.5, 4)

	if len(m.Vertices) != 0 || len(m.Triangles) != 0 {
		t.Errorf("empty mesh changed: %d vertices, %d triangles", len(m.Vertices), len(m.Triangles))
	}
}

func TestMergeVerticesForwardAsync_Attributes(t *testing.T) {
	m := pairMesh()
	m.VertexNormals = []r3.Vec{{X: 1}, {Y: 1}, {X: 1}, {Y: 1}}
	m.VertexColors = []r3.Vec{
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: 1},
		{X: 1, Y: 1, Z: 1},
	}
	tree := NewKDTree(m.Vertices, 0)
	m.MergeVerticesForwardAsync(tree, 0.01, 3)

	if len(m.VertexNormals) != 2 || len(m.VertexColors) != 2 {
		t.Fatalf("attributes not reduced: %d normals, %d colors", len(m.VertexNormals), len(m.VertexColors))
	}
	if !vecApproxEqual(m.VertexNormals[0], r3.Vec{X: 0.5, Y: 0.5}, 1e-12) {
		t.Errorf("normal[0] = %v, want (0.5, 0.5, 0)", m.VertexNormals[0])
	}
}

func TestMergeVerticesForwardAsync_Determinism(t *testing.T) {
	pts := randomCloud(300, 22, 1)
	tree := NewKDTree(pts, 0)

	ref := &Mesh{Vertices: append([]r3.Vec(nil), pts...)}
	ref.MergeVerticesForwardAsync(tree, 0.1, 1)

	for _, workers := range []int{2, 4, 8} {
		m := &Mesh{Vertices: append([]r3.Vec(nil), pts...)}
		m.MergeVerticesForwardAsync(tree, 0.1, workers)
		if len(m.Vertices) != len(ref.Vertices) {
			t.Fatalf("workers=%d: %d vertices, want %d", workers, len(m.Vertices), len(ref.Vertices))
		}
		for i := range ref.Vertices {
			if m.Vertices[i] != ref.Vertices[i] {
				t.Errorf("workers=%d: V'[%d] = %v, want %v", workers, i, m.Vertices[i], ref.Vertices[i])
			}
		}
	}
}
