package pweld

import "gonum.org/v1/gonum/spatial/r3"

// MergeCloseVertices reduces the mesh with the sequential reference
// algorithm. Neighbourhoods are precomputed in parallel; the merge
// itself walks vertex ids in ascending order, and each not-yet-mapped
// vertex claims itself plus all of its unmapped neighbours as a new
// cluster positioned at their arithmetic mean.
//
// The cluster assignment can differ from the parallel variants when a
// vertex lies within eps of several candidate centroids; the reduction
// rate and the clustering invariants are comparable, cluster identities
// are not.
func (m *Mesh) MergeCloseVertices(tree *KDTree, eps float64, workers int) {
	workers = resolveWorkers(workers)
	n := len(m.Vertices)

	nbs := make([][]int32, n)
	parallelFor(n, workers, func(_, start, end int) {
		for i := start; i < end; i++ {
			nbs[i], _ = tree.QueryRadius(tree.At(int32(i)), eps)
		}
	})

	hasNormals := m.HasVertexNormals()
	hasColors := m.HasVertexColors()

	mapping := make([]int32, n)
	for i := range mapping {
		mapping[i] = -1
	}

	newVerts := make([]r3.Vec, 0, n)
	var newNormals, newColors []r3.Vec

	for vidx := 0; vidx < n; vidx++ {
		if mapping[vidx] >= 0 {
			continue
		}

		newID := int32(len(newVerts))
		mapping[vidx] = newID

		sum := m.Vertices[vidx]
		var normalSum, colorSum r3.Vec
		if hasNormals {
			normalSum = m.VertexNormals[vidx]
		}
		if hasColors {
			colorSum = m.VertexColors[vidx]
		}
		count := 1

		for _, nb := range nbs[vidx] {
			if nb == int32(vidx) || mapping[nb] >= 0 {
				continue
			}
			sum = r3.Add(sum, m.Vertices[nb])
			if hasNormals {
				normalSum = r3.Add(normalSum, m.VertexNormals[nb])
			}
			if hasColors {
				colorSum = r3.Add(colorSum, m.VertexColors[nb])
			}
			mapping[nb] = newID
			count++
		}

		inv := 1 / float64(count)
		newVerts = append(newVerts, r3.Scale(inv, sum))
		if hasNormals {
			newNormals = append(newNormals, r3.Scale(inv, normalSum))
		}
		if hasColors {
			newColors = append(newColors, r3.Scale(inv, colorSum))
		}
	}

	remapTriangles(m.Triangles, mapping, workers)
	m.Vertices = newVerts
	if hasNormals {
		m.VertexNormals = newNormals
	}
	if hasColors {
		m.VertexColors = newColors
	}
}
