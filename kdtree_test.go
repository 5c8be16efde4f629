package pweld

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func randomCloud(n int, seed int64, scale float64) []r3.Vec {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]r3.Vec, n)
	for i := range pts {
		pts[i] = r3.Vec{
			X: rng.Float64() * scale,
			Y: rng.Float64() * scale,
			Z: rng.Float64() * scale,
		}
	}
	return pts
}

// bruteRadius returns the ids within eps of q, sorted ascending.
func bruteRadius(pts []r3.Vec, q r3.Vec, eps float64) []int32 {
	var ids []int32
	for i, p := range pts {
		if sqDist(q, p) <= eps*eps {
			ids = append(ids, int32(i))
		}
	}
	return ids
}

// --- Construction tests ---

func TestKDTree_Construction_BasicProperties(t *testing.T) {
	pts := []r3.Vec{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 2, Y: 0, Z: 0},
		{X: 0, Y: 3, Z: 0},
		{X: 1, Y: 3, Z: 1},
		{X: 2, Y: 3, Z: 2},
	}
	tree := NewKDTree(pts, 2)

	if tree.NumPoints() != len(pts) {
		t.Errorf("NumPoints() = %d, want %d", tree.NumPoints(), len(pts))
	}

	// idx should be a permutation of 0..n-1.
	seen := make(map[int32]bool)
	for _, v := range tree.idx {
		if v < 0 || v >= int32(len(pts)) {
			t.Errorf("idx contains out-of-range index %d", v)
		}
		if seen[v] {
			t.Errorf("idx contains duplicate index %d", v)
		}
		seen[v] = true
	}

	// At must return points in original id order.
	for i, p := range pts {
		if tree.At(int32(i)) != p {
			t.Errorf("At(%d) = %v, want %v", i, tree.At(int32(i)), p)
		}
	}
}

func TestKDTree_Construction_LeafSizeLargerThanN(t *testing.T) {
	pts := randomCloud(5, 1, 1)
	tree := NewKDTree(pts, 100)

	if !tree.nodes[0].leaf {
		t.Error("root should be a leaf when leafSize > n")
	}
	if tree.numNodes != 1 {
		t.Errorf("numNodes = %d, want 1", tree.numNodes)
	}
}

func TestKDTree_Construction_CopiesInput(t *testing.T) {
	pts := randomCloud(10, 2, 1)
	tree := NewKDTree(pts, 4)

	orig := pts[3]
	pts[3] = r3.Vec{X: 99, Y: 99, Z: 99}
	if tree.At(3) != orig {
		t.Error("mutating the caller's slice changed the tree's points")
	}
}

func TestKDTree_Construction_Empty(t *testing.T) {
	tree := NewKDTree(nil, 0)
	if tree.NumPoints() != 0 {
		t.Errorf("NumPoints() = %d, want 0", tree.NumPoints())
	}
	ids, _ := tree.QueryKNN(r3.Vec{}, 3)
	if len(ids) != 0 {
		t.Errorf("KNN on empty tree returned %d ids", len(ids))
	}
	ids, _ = tree.QueryRadius(r3.Vec{}, 1)
	if len(ids) != 0 {
		t.Errorf("radius on empty tree returned %d ids", len(ids))
	}
}

// --- KNN tests ---

func TestKDTree_KNN_MatchesBruteForce(t *testing.T) {
	pts := randomCloud(200, 3, 10)
	tree := NewKDTree(pts, 8)

	rng := rand.New(rand.NewSource(4))
	for trial := 0; trial < 20; trial++ {
		q := r3.Vec{X: rng.Float64() * 10, Y: rng.Float64() * 10, Z: rng.Float64() * 10}
		k := 1 + rng.Intn(10)

		ids, d2s := tree.QueryKNN(q, k)
		if len(ids) != k {
			t.Fatalf("KNN returned %d results, want %d", len(ids), k)
		}

		// Distances must be sorted ascending and consistent with ids.
		for i := range ids {
			if got := sqDist(q, pts[ids[i]]); math.Abs(got-d2s[i]) > 1e-12 {
				t.Errorf("d2s[%d] = %v, recomputed %v", i, d2s[i], got)
			}
			if i > 0 && d2s[i] < d2s[i-1] {
				t.Errorf("distances not ascending at %d: %v < %v", i, d2s[i], d2s[i-1])
			}
		}

		// The k-th distance must match brute force.
		all := make([]float64, len(pts))
		for i, p := range pts {
			all[i] = sqDist(q, p)
		}
		sort.Float64s(all)
		if math.Abs(d2s[k-1]-all[k-1]) > 1e-12 {
			t.Errorf("k-th distance = %v, brute force %v", d2s[k-1], all[k-1])
		}
	}
}

func TestKDTree_KNN_KLargerThanN(t *testing.T) {
	pts := randomCloud(4, 5, 1)
	tree := NewKDTree(pts, 2)
	ids, _ := tree.QueryKNN(r3.Vec{}, 10)
	if len(ids) != 4 {
		t.Errorf("KNN with k > n returned %d results, want 4", len(ids))
	}
}

// --- Radius tests ---

func TestKDTree_Radius_MatchesBruteForce(t *testing.T) {
	pts := randomCloud(300, 6, 1)
	tree := NewKDTree(pts, 8)

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		q := r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
		eps := rng.Float64() * 0.5

		ids, d2s := tree.QueryRadius(q, eps)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		want := bruteRadius(pts, q, eps)
		if len(ids) != len(want) {
			t.Fatalf("radius(%v) returned %d hits, brute force %d", eps, len(ids), len(want))
		}
		for i := range ids {
			if ids[i] != want[i] {
				t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
			}
		}
		for i := range d2s {
			if d2s[i] > eps*eps+1e-12 {
				t.Errorf("hit outside radius: d2 = %v, eps2 = %v", d2s[i], eps*eps)
			}
		}
	}
}

func TestKDTree_Radius_InclusiveBoundary(t *testing.T) {
	pts := []r3.Vec{{X: 0}, {X: 1}}
	tree := NewKDTree(pts, 2)
	ids, _ := tree.QueryRadius(r3.Vec{X: 0}, 1.0)
	if len(ids) != 2 {
		t.Errorf("boundary point excluded: got %d hits, want 2", len(ids))
	}
}

func TestKDTree_Radius_NegativeEps(t *testing.T) {
	pts := randomCloud(10, 8, 1)
	tree := NewKDTree(pts, 4)
	ids, _ := tree.QueryRadius(pts[0], -1)
	if len(ids) != 0 {
		t.Errorf("negative eps returned %d hits, want 0", len(ids))
	}
	bigger, smaller := tree.QueryRadiusPartitioned(pts[0], -1, 0)
	if len(bigger) != 0 || smaller != 0 {
		t.Errorf("negative eps partitioned query = (%d, %d), want (0, 0)", len(bigger), smaller)
	}
}

func TestKDTree_Radius_QueryOutsideDomain(t *testing.T) {
	pts := randomCloud(50, 9, 1)
	tree := NewKDTree(pts, 8)
	q := r3.Vec{X: 100, Y: 100, Z: 100}
	ids, _ := tree.QueryRadius(q, 0.5)
	if len(ids) != 0 {
		t.Errorf("far query returned %d hits, want 0", len(ids))
	}
}

// --- Partitioned radius tests ---

func TestKDTree_RadiusPartitioned_MatchesBruteForce(t *testing.T) {
	pts := randomCloud(200, 10, 1)
	tree := NewKDTree(pts, 8)
	eps := 0.2

	for i := range pts {
		bigger, smaller := tree.QueryRadiusPartitioned(pts[i], eps, int32(i))

		all := bruteRadius(pts, pts[i], eps)
		wantSmaller := 0
		wantBigger := map[int32]bool{}
		for _, id := range all {
			if id > int32(i) {
				wantBigger[id] = true
			} else {
				wantSmaller++
			}
		}

		if smaller != wantSmaller {
			t.Errorf("vertex %d: smaller = %d, want %d", i, smaller, wantSmaller)
		}
		if len(bigger) != len(wantBigger) {
			t.Errorf("vertex %d: |bigger| = %d, want %d", i, len(bigger), len(wantBigger))
		}
		for _, id := range bigger {
			if id <= int32(i) {
				t.Errorf("vertex %d: bigger contains non-bigger id %d", i, id)
			}
			if !wantBigger[id] {
				t.Errorf("vertex %d: bigger contains unexpected id %d", i, id)
			}
		}
	}
}

func TestKDTree_RadiusPartitioned_SelfCounted(t *testing.T) {
	// An isolated vertex still counts itself in the smaller partition.
	pts := []r3.Vec{{X: 0}, {X: 100}}
	tree := NewKDTree(pts, 2)

	bigger, smaller := tree.QueryRadiusPartitioned(pts[0], 0.5, 0)
	if smaller != 1 {
		t.Errorf("smaller = %d, want 1 (self)", smaller)
	}
	if len(bigger) != 0 {
		t.Errorf("bigger = %v, want empty", bigger)
	}
}
