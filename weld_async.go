package pweld

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// centroidCountStride pads each worker's centroid counter to a full
// cache line (16 32-bit slots) so concurrent increments never share a
// line.
const centroidCountStride = 16

// MergeVerticesForwardAsync reduces the mesh with the asynchronous
// variant. The convergence protocol is identical to
// MergeVerticesForward, but each worker additionally counts the
// centroids it retires in a cache-line-separated slot. An exclusive
// prefix scan over those counters then gives every worker its output
// offset without a sequential centroid-counting pass: centroids are
// emitted into the new vertex array in parallel, after which one worker
// folds the attached vertices into the centroid running means while the
// remaining workers remap triangles.
func (m *Mesh) MergeVerticesForwardAsync(tree *KDTree, eps float64, workers int) {
	workers = resolveWorkers(workers)
	n := len(m.Vertices)

	st := prepNeighbours(tree, eps, workers)
	centroidCounts := make([]int32, centroidCountStride*workers+1)
	runRounds(st, workers, centroidCounts)

	cp := make([]int32, n)
	for i := range cp {
		cp[i] = st.cp[i].Load()
	}

	// Exclusive prefix scan: slot w*stride becomes worker w's output
	// offset, the final slot the total cluster count. The zero padding
	// between slots does not disturb the partial sums.
	var run int32
	for i, v := range centroidCounts {
		centroidCounts[i] = run
		run += v
	}
	numClusters := int(centroidCounts[centroidCountStride*workers])

	hasNormals := m.HasVertexNormals()
	hasColors := m.HasVertexColors()

	newVerts := make([]r3.Vec, numClusters)
	var newNormals, newColors []r3.Vec
	if hasNormals {
		newNormals = make([]r3.Vec, numClusters)
	}
	if hasColors {
		newColors = make([]r3.Vec, numClusters)
	}
	pid2ccid := make([]int32, n)

	// Emit centroids. Chunks match the ones the counters were
	// accumulated over, so each worker's dense ids are exactly
	// [offset, offset+count).
	parallelFor(n, workers, func(w, start, end int) {
		ccid := centroidCounts[w*centroidCountStride]
		for i := start; i < end; i++ {
			if cp[i] == int32(i) {
				newVerts[ccid] = m.Vertices[i]
				if hasNormals {
					newNormals[ccid] = m.VertexNormals[i]
				}
				if hasColors {
					newColors[ccid] = m.VertexColors[i]
				}
				pid2ccid[i] = ccid
				ccid++
			}
		}
	})

	// pid2ccid is only defined for centroids here; attached vertices
	// resolve through their parent, so the triangle remap composes
	// pid2ccid[cp[t]].
	memberCounts := make([]int32, numClusters)
	for i := range memberCounts {
		memberCounts[i] = 1
	}

	fold := func() {
		for i := 0; i < n; i++ {
			if cp[i] == int32(i) {
				continue
			}
			ccid := pid2ccid[cp[i]]
			prev := memberCounts[ccid]
			inv := 1 / float64(prev+1)
			newVerts[ccid] = r3.Scale(inv, r3.Add(r3.Scale(float64(prev), newVerts[ccid]), m.Vertices[i]))
			if hasNormals {
				newNormals[ccid] = r3.Scale(inv, r3.Add(r3.Scale(float64(prev), newNormals[ccid]), m.VertexNormals[i]))
			}
			if hasColors {
				newColors[ccid] = r3.Scale(inv, r3.Add(r3.Scale(float64(prev), newColors[ccid]), m.VertexColors[i]))
			}
			memberCounts[ccid]++
		}
	}

	remap := func(teamSize int) {
		parallelFor(len(m.Triangles), teamSize, func(_, start, end int) {
			for ti := start; ti < end; ti++ {
				m.Triangles[ti][0] = pid2ccid[cp[m.Triangles[ti][0]]]
				m.Triangles[ti][1] = pid2ccid[cp[m.Triangles[ti][1]]]
				m.Triangles[ti][2] = pid2ccid[cp[m.Triangles[ti][2]]]
			}
		})
	}

	if workers > 1 {
		// The fold is logically sequential; it runs on one worker while
		// the rest of the team remaps triangles.
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			fold()
		}()
		remap(workers - 1)
		wg.Wait()
	} else {
		fold()
		remap(1)
	}

	m.Vertices = newVerts
	if hasNormals {
		m.VertexNormals = newNormals
	}
	if hasColors {
		m.VertexColors = newColors
	}
}
