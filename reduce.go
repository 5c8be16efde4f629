package pweld

import "gonum.org/v1/gonum/spatial/r3"

// reduceClusters compresses a converged parent array into dense cluster
// ids and centroid positions. Walking ids in ascending order, each
// centroid (cp[i] == i) claims the next dense id and seeds its position;
// every attached vertex folds into its centroid's running mean. The
// incremental mean bounds intermediate magnitudes; accumulation order is
// ascending vertex id.
func reduceClusters(cp []int32, verts []r3.Vec) (newVerts []r3.Vec, pid2ccid []int32, counts []int32) {
	n := len(cp)
	pid2ccid = make([]int32, n)
	newVerts = make([]r3.Vec, 0, n)
	counts = make([]int32, 0, n)

	for i := 0; i < n; i++ {
		if cp[i] == int32(i) {
			pid2ccid[i] = int32(len(newVerts))
			newVerts = append(newVerts, verts[i])
			counts = append(counts, 1)
		} else {
			ccid := pid2ccid[cp[i]]
			pid2ccid[i] = ccid
			prev := counts[ccid]
			newVerts[ccid] = r3.Scale(1/float64(prev+1),
				r3.Add(r3.Scale(float64(prev), newVerts[ccid]), verts[i]))
			counts[ccid]++
		}
	}
	return newVerts, pid2ccid, counts
}

// foldAttribute reduces a per-vertex attribute with the same walk and
// running mean as reduceClusters, so attributes land on the same dense
// ids as their positions.
func foldAttribute(cp, pid2ccid []int32, attr []r3.Vec, numClusters int) []r3.Vec {
	out := make([]r3.Vec, numClusters)
	counts := make([]int32, numClusters)

	for i := range cp {
		ccid := pid2ccid[i]
		if cp[i] == int32(i) {
			out[ccid] = attr[i]
			counts[ccid] = 1
		} else {
			ccid = pid2ccid[cp[i]]
			prev := counts[ccid]
			out[ccid] = r3.Scale(1/float64(prev+1),
				r3.Add(r3.Scale(float64(prev), out[ccid]), attr[i]))
			counts[ccid]++
		}
	}
	return out
}

// remapTriangles rewrites every triangle index through the pid-to-dense
// mapping, in parallel. Triangles that collapse to repeated indices are
// kept; culling is a downstream concern.
func remapTriangles(tris [][3]int32, pid2ccid []int32, workers int) {
	parallelFor(len(tris), workers, func(_, start, end int) {
		for ti := start; ti < end; ti++ {
			tris[ti][0] = pid2ccid[tris[ti][0]]
			tris[ti][1] = pid2ccid[tris[ti][1]]
			tris[ti][2] = pid2ccid[tris[ti][2]]
		}
	})
}
