package pweld

import (
	"sync"
	"sync/atomic"
)

// weldState is the shared mutable state of one welding call. cp and
// remaining are updated concurrently without locks: cp only through a
// CAS loop that enforces monotone-decreasing values, remaining only
// through atomic adds. bigger is written once during neighbour prep and
// read-only afterwards.
type weldState struct {
	cp        []atomic.Int32
	remaining []atomic.Int32
	bigger    [][]int32
}

// prepNeighbours initializes the welding state for n vertices: for each
// vertex i a single partitioned radius query yields the larger-id
// neighbour list and the count of smaller-id neighbours. cp[i] starts at
// i; remaining[i] at |N⁻(i)|-1, so vertices whose smaller-id neighbours
// are exhausted sit at zero and form the first wave of active sources.
// Write sets of the parallel iterations are disjoint.
func prepNeighbours(tree *KDTree, eps float64, workers int) *weldState {
	n := tree.NumPoints()
	st := &weldState{
		cp:        make([]atomic.Int32, n),
		remaining: make([]atomic.Int32, n),
		bigger:    make([][]int32, n),
	}

	parallelFor(n, workers, func(_, start, end int) {
		for i := start; i < end; i++ {
			bigger, smaller := tree.QueryRadiusPartitioned(tree.At(int32(i)), eps, int32(i))
			st.bigger[i] = bigger
			st.cp[i].Store(int32(i))
			st.remaining[i].Store(int32(smaller) - 1)
		}
	})

	return st
}

// runRounds drives the wavefront convergence loop until no vertex has
// unprocessed smaller-id neighbours, and returns the number of rounds.
//
// Each round: a barrier keeps stragglers from the previous round off the
// shared flag, worker 0 resets it, a second barrier makes the reset
// visible, then every worker sweeps its chunk. An active source
// (remaining == 0) retires itself, and if it is still its own parent it
// publishes its id into every larger-id neighbour whose remaining count
// is positive via a CAS-min loop. Whether or not it is a centroid, it
// decrements each larger-id neighbour's remaining count exactly once.
// A third barrier after the sweep merges the per-worker continue flags
// before anyone re-reads the shared one, so the whole team agrees on
// whether another round is needed.
//
// CAS-min makes the outcome deterministic: cp[j] converges to the
// smallest id among centroids that reached j, whatever the
// interleaving.
//
// If centroidCounts is non-nil, each worker counts the active sources in
// its chunk that were centroids at the moment they acted, writing to
// slot worker*centroidCountStride. Chunks match chunkBounds, so the
// counts align with any later pass over the same partition.
func runRounds(st *weldState, workers int, centroidCounts []int32) int {
	n := len(st.cp)
	rounds := 0

	var shouldContinue atomic.Bool
	shouldContinue.Store(true)

	bar := newBarrier(workers)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			start, end := chunkBounds(n, workers, w)

			for shouldContinue.Load() {
				bar.wait()
				if w == 0 {
					rounds++
					shouldContinue.Store(false)
				}
				bar.wait()

				local := false
				for i := start; i < end; i++ {
					ri := st.remaining[i].Load()
					if ri < 0 {
						continue // already retired
					}
					if ri > 0 {
						continue // not yet an active source
					}

					st.remaining[i].Add(-1) // retire
					isCentroid := st.cp[i].Load() == int32(i)
					if isCentroid && centroidCounts != nil {
						centroidCounts[w*centroidCountStride]++
					}

					for _, j := range st.bigger[i] {
						if isCentroid && st.remaining[j].Load() > 0 {
							desired := int32(i)
							for {
								expected := st.cp[j].Load()
								if desired >= expected {
									break
								}
								if st.cp[j].CompareAndSwap(expected, desired) {
									break
								}
							}
						}
						if st.remaining[j].Load() >= 1 {
							local = true
						}
						st.remaining[j].Add(-1)
					}
				}

				if local {
					shouldContinue.Store(true)
				}
				bar.wait()
			}
		}(w)
	}

	wg.Wait()
	return rounds
}

// ClusterParents runs the synchronous forward clustering over the points
// of tree and returns the converged parent array: cp[i] == i marks a
// centroid, any other value is the id of the centroid vertex i was
// merged into. cp[i] <= i and cp[cp[i]] == cp[i] hold on return. The
// result is identical for any workers >= 1.
func ClusterParents(tree *KDTree, eps float64, workers int) []int32 {
	workers = resolveWorkers(workers)
	st := prepNeighbours(tree, eps, workers)
	runRounds(st, workers, nil)

	cp := make([]int32, len(st.cp))
	for i := range cp {
		cp[i] = st.cp[i].Load()
	}
	return cp
}

// MergeVerticesForward reduces the mesh with the synchronous parallel
// algorithm: vertices within eps are clustered onto smallest-id
// centroids, cluster members are averaged into centroid positions (and
// normals/colors, when present), and triangles are remapped onto the
// dense output ids. tree must index m.Vertices. Degenerate triangles
// produced by the remap are retained.
func (m *Mesh) MergeVerticesForward(tree *KDTree, eps float64, workers int) {
	workers = resolveWorkers(workers)
	cp := ClusterParents(tree, eps, workers)

	newVerts, pid2ccid, _ := reduceClusters(cp, m.Vertices)
	if m.HasVertexNormals() {
		m.VertexNormals = foldAttribute(cp, pid2ccid, m.VertexNormals, len(newVerts))
	}
	if m.HasVertexColors() {
		m.VertexColors = foldAttribute(cp, pid2ccid, m.VertexColors, len(newVerts))
	}

	remapTriangles(m.Triangles, pid2ccid, workers)
	m.Vertices = newVerts
}
