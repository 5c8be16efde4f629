package pweld

import (
	"container/heap"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultLeafSize is the KD-tree leaf capacity used when the caller
// passes a non-positive leaf size.
const DefaultLeafSize = 40

// KDTree is a static spatial index over a set of 3D points under
// Euclidean distance. Points keep their original dense ids; the tree
// reorders an index permutation array instead of the points themselves.
//
// The tree is stored as a complete binary tree in array form:
//   - node i has children at 2*i+1 and 2*i+2
//   - node bounds are stored as a min/max corner per node
type KDTree struct {
	pts      []r3.Vec // points in original id order
	n        int
	leafSize int
	idx      []int32      // permutation: tree-order position → original id
	nodes    []kdNodeData // one entry per tree node
	minBound []r3.Vec     // per-node bounding-box min corner
	maxBound []r3.Vec     // per-node bounding-box max corner
	numNodes int
}

// kdNodeData describes one KD-tree node: the idx range it covers and
// whether it is a leaf.
type kdNodeData struct {
	start, end int32
	leaf       bool
}

// NewKDTree builds a KD-tree over pts. The slice is copied, so later
// mutation of the caller's data (such as the vertex swap after a merge)
// does not invalidate the index. leafSize <= 0 selects DefaultLeafSize.
func NewKDTree(pts []r3.Vec, leafSize int) *KDTree {
	if leafSize <= 0 {
		leafSize = DefaultLeafSize
	}

	n := len(pts)
	idx := make([]int32, n)
	for i := range idx {
		idx[i] = int32(i)
	}

	maxNodes := kdMaxNodes(n, leafSize)
	t := &KDTree{
		pts:      append([]r3.Vec(nil), pts...),
		n:        n,
		leafSize: leafSize,
		idx:      idx,
		nodes:    make([]kdNodeData, maxNodes),
		minBound: make([]r3.Vec, maxNodes),
		maxBound: make([]r3.Vec, maxNodes),
	}

	if n > 0 {
		t.buildNode(0, 0, n)
		t.numNodes = t.countNodes(0)
	}

	return t
}

// kdMaxNodes returns an upper bound on the number of nodes needed for a
// binary tree with n points and the given leaf size.
func kdMaxNodes(n, leafSize int) int {
	if n == 0 {
		return 1
	}
	leaves := (n + leafSize - 1) / leafSize
	depth := 0
	v := 1
	for v < leaves {
		v *= 2
		depth++
	}
	return (1 << (depth + 1)) - 1 + 2 // +2 for safety margin
}

// countNodes counts the nodes actually initialized by the build.
func (t *KDTree) countNodes(nodeID int) int {
	if nodeID >= len(t.nodes) {
		return 0
	}
	nd := t.nodes[nodeID]
	if nd.start == nd.end && nodeID != 0 {
		return 0
	}
	if nd.leaf {
		return 1
	}
	return 1 + t.countNodes(2*nodeID+1) + t.countNodes(2*nodeID+2)
}

// buildNode recursively builds the tree for points in idx[start:end].
func (t *KDTree) buildNode(nodeID, start, end int) {
	// Grow arrays if needed (shouldn't happen with a good upper bound).
	for nodeID >= len(t.nodes) {
		t.nodes = append(t.nodes, kdNodeData{})
		t.minBound = append(t.minBound, r3.Vec{})
		t.maxBound = append(t.maxBound, r3.Vec{})
	}

	t.computeNodeBounds(nodeID, start, end)

	count := end - start
	if count <= t.leafSize {
		t.nodes[nodeID] = kdNodeData{start: int32(start), end: int32(end), leaf: true}
		return
	}

	// Split on the dimension with greatest spread.
	spread := r3.Sub(t.maxBound[nodeID], t.minBound[nodeID])
	splitDim := 0
	maxSpread := spread.X
	if spread.Y > maxSpread {
		splitDim, maxSpread = 1, spread.Y
	}
	if spread.Z > maxSpread {
		splitDim = 2
	}

	t.sortByDimension(start, end, splitDim)
	mid := start + count/2

	t.nodes[nodeID] = kdNodeData{start: int32(start), end: int32(end)}

	t.buildNode(2*nodeID+1, start, mid)
	t.buildNode(2*nodeID+2, mid, end)
}

// computeNodeBounds computes the bounding box of points idx[start:end].
func (t *KDTree) computeNodeBounds(nodeID, start, end int) {
	lo := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for i := start; i < end; i++ {
		p := t.pts[t.idx[i]]
		lo.X = math.Min(lo.X, p.X)
		lo.Y = math.Min(lo.Y, p.Y)
		lo.Z = math.Min(lo.Z, p.Z)
		hi.X = math.Max(hi.X, p.X)
		hi.Y = math.Max(hi.Y, p.Y)
		hi.Z = math.Max(hi.Z, p.Z)
	}
	t.minBound[nodeID] = lo
	t.maxBound[nodeID] = hi
}

// sortByDimension sorts idx[start:end] by the given dimension.
func (t *KDTree) sortByDimension(start, end, dim int) {
	sub := t.idx[start:end]
	pts := t.pts
	sort.Slice(sub, func(i, j int) bool {
		return vecDim(pts[sub[i]], dim) < vecDim(pts[sub[j]], dim)
	})
}

func vecDim(v r3.Vec, dim int) float64 {
	switch dim {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// NumPoints returns the number of indexed points.
func (t *KDTree) NumPoints() int { return t.n }

// At returns the point with the given original id.
func (t *KDTree) At(i int32) r3.Vec { return t.pts[i] }

// sqDist returns the squared Euclidean distance between two points.
func sqDist(a, b r3.Vec) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return dx*dx + dy*dy + dz*dz
}

// minSqDistToNode returns a lower bound on the squared distance from q
// to any point inside the node's bounding box.
func (t *KDTree) minSqDistToNode(nodeID int, q r3.Vec) float64 {
	if nodeID >= len(t.nodes) {
		return math.Inf(1)
	}
	lo := t.minBound[nodeID]
	hi := t.maxBound[nodeID]
	var d2 float64
	for dim := 0; dim < 3; dim++ {
		v := vecDim(q, dim)
		var d float64
		if l := vecDim(lo, dim); v < l {
			d = l - v
		} else if h := vecDim(hi, dim); v > h {
			d = v - h
		}
		d2 += d * d
	}
	return d2
}

// --- KNN query ---

type knnItem struct {
	id int32
	d2 float64
}

// knnHeap is a max-heap on squared distance, keeping the k closest
// candidates seen so far with the worst at the root.
type knnHeap []knnItem

func (h knnHeap) Len() int            { return len(h) }
func (h knnHeap) Less(i, j int) bool  { return h[i].d2 > h[j].d2 }
func (h knnHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *knnHeap) Push(x interface{}) { *h = append(*h, x.(knnItem)) }
func (h *knnHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// QueryKNN returns the ids and squared distances of the k nearest points
// to q, sorted by ascending distance. Fewer than k results are returned
// when the tree holds fewer than k points.
func (t *KDTree) QueryKNN(q r3.Vec, k int) ([]int32, []float64) {
	if t.n == 0 || k <= 0 {
		return nil, nil
	}

	h := &knnHeap{}
	heap.Init(h)
	t.knnSearch(0, q, k, h)

	nResults := h.Len()
	ids := make([]int32, nResults)
	d2s := make([]float64, nResults)
	for i := nResults - 1; i >= 0; i-- {
		item := heap.Pop(h).(knnItem)
		ids[i] = item.id
		d2s[i] = item.d2
	}
	return ids, d2s
}

// knnSearch performs a single-tree KNN traversal, visiting the nearer
// child first and pruning the far child against the current k-th
// distance.
func (t *KDTree) knnSearch(nodeID int, q r3.Vec, k int, h *knnHeap) {
	if nodeID >= len(t.nodes) {
		return
	}
	node := t.nodes[nodeID]
	if node.start == node.end && nodeID != 0 {
		return // uninitialized node
	}

	if node.leaf {
		for i := node.start; i < node.end; i++ {
			id := t.idx[i]
			d2 := sqDist(q, t.pts[id])
			if h.Len() < k {
				heap.Push(h, knnItem{id: id, d2: d2})
			} else if d2 < (*h)[0].d2 {
				(*h)[0] = knnItem{id: id, d2: d2}
				heap.Fix(h, 0)
			}
		}
		return
	}

	left := 2*nodeID + 1
	right := 2*nodeID + 2

	leftD2 := t.minSqDistToNode(left, q)
	rightD2 := t.minSqDistToNode(right, q)

	nearChild, farChild, farD2 := left, right, rightD2
	if rightD2 < leftD2 {
		nearChild, farChild, farD2 = right, left, leftD2
	}

	t.knnSearch(nearChild, q, k, h)
	if h.Len() < k || (*h)[0].d2 > farD2 {
		t.knnSearch(farChild, q, k, h)
	}
}

// --- Radius queries ---

// QueryRadius returns the ids and squared distances of every point
// within eps of q (inclusive). Result order is unspecified. A negative
// eps yields an empty result.
func (t *KDTree) QueryRadius(q r3.Vec, eps float64) ([]int32, []float64) {
	if t.n == 0 || eps < 0 {
		return nil, nil
	}
	var ids []int32
	var d2s []float64
	t.radiusSearch(0, q, eps*eps, func(id int32, d2 float64) {
		ids = append(ids, id)
		d2s = append(d2s, d2)
	})
	return ids, d2s
}

// QueryRadiusPartitioned runs a single radius scan around q, partitioning
// hits by their id relative to self: ids greater than self are appended
// to bigger, ids less than or equal to self (the query vertex itself
// included) are counted into smaller. bigger is not sorted.
//
// This is the specialised query feeding the welding algorithm: smaller is
// |N⁻(self)| and bigger is N⁺(self).
func (t *KDTree) QueryRadiusPartitioned(q r3.Vec, eps float64, self int32) (bigger []int32, smaller int) {
	if t.n == 0 || eps < 0 {
		return nil, 0
	}
	t.radiusSearch(0, q, eps*eps, func(id int32, d2 float64) {
		if id > self {
			bigger = append(bigger, id)
		} else {
			smaller++
		}
	})
	return bigger, smaller
}

// radiusSearch traverses the tree, invoking emit for every point with
// squared distance to q at most eps2.
func (t *KDTree) radiusSearch(nodeID int, q r3.Vec, eps2 float64, emit func(id int32, d2 float64)) {
	if nodeID >= len(t.nodes) {
		return
	}
	node := t.nodes[nodeID]
	if node.start == node.end && nodeID != 0 {
		return
	}
	if t.minSqDistToNode(nodeID, q) > eps2 {
		return
	}

	if node.leaf {
		for i := node.start; i < node.end; i++ {
			id := t.idx[i]
			d2 := sqDist(q, t.pts[id])
			if d2 <= eps2 {
				emit(id, d2)
			}
		}
		return
	}

	t.radiusSearch(2*nodeID+1, q, eps2, emit)
	t.radiusSearch(2*nodeID+2, q, eps2, emit)
}
