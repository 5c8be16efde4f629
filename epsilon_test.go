package pweld

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestFindEpsilon_ChainTarget(t *testing.T) {
	// The chain spans 4.5 units, so reducing 90% of its vertices (10 -> 1)
	// first becomes possible at eps 4.5. The search must land next to
	// that threshold, and nudging past it must give exactly one vertex.
	m := chainMesh()
	tree := NewKDTree(m.Vertices, 0)

	eps, err := FindEpsilon(m, tree, 0.9, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(eps-4.5) > epsilonStep+1e-9 {
		t.Fatalf("eps = %v, want within one step of 4.5", eps)
	}

	work := m.Clone()
	work.MergeVerticesForward(tree, eps+0.002, 2)
	if len(work.Vertices) != 1 {
		t.Errorf("merging just past the found eps left %d vertices, want 1", len(work.Vertices))
	}

	// The probe mesh itself must be untouched.
	if len(m.Vertices) != 10 {
		t.Errorf("FindEpsilon modified its input: %d vertices", len(m.Vertices))
	}
}

func TestFindEpsilon_MidpointHitsTarget(t *testing.T) {
	// Two points 0.005 apart: the rate jumps from 0 to 0.5 at 0.005,
	// inside the first linear-phase bracket, and the first binary
	// midpoint evaluates to the target exactly.
	m := &Mesh{Vertices: []r3.Vec{{X: 0}, {X: 0.005}}}
	tree := NewKDTree(m.Vertices, 0)

	eps, err := FindEpsilon(m, tree, 0.5, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate := reductionRate(m, tree, eps, 1); math.Abs(rate-0.5) > reductionRateMinError {
		t.Errorf("rate at found eps = %v, want 0.5", rate)
	}
}

func TestFindEpsilon_UnreachableTarget(t *testing.T) {
	// Two points 100 apart can never reach a 40% reduction below the
	// linear-phase ceiling.
	m := &Mesh{Vertices: []r3.Vec{{X: 0}, {X: 100}}}
	tree := NewKDTree(m.Vertices, 0)

	if _, err := FindEpsilon(m, tree, 0.4, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("err = %v, want ErrOutOfRange", err)
	}
}

func TestFindEpsilon_InvalidArguments(t *testing.T) {
	m := &Mesh{Vertices: []r3.Vec{{X: 0}, {X: 1}}}
	tree := NewKDTree(m.Vertices, 0)

	for _, target := range []float64{0, 1, -0.5, 1.5} {
		if _, err := FindEpsilon(m, tree, target, 1); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("target %v: err = %v, want ErrOutOfRange", target, err)
		}
	}

	empty := &Mesh{}
	if _, err := FindEpsilon(empty, NewKDTree(nil, 0), 0.5, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("empty mesh: err = %v, want ErrOutOfRange", err)
	}
}

func TestReductionRate_DoesNotModifyInput(t *testing.T) {
	m := &Mesh{Vertices: randomCloud(100, 31, 1)}
	tree := NewKDTree(m.Vertices, 0)

	before := append([]r3.Vec(nil), m.Vertices...)
	_ = reductionRate(m, tree, 0.3, 2)

	if len(m.Vertices) != len(before) {
		t.Fatalf("reductionRate changed vertex count")
	}
	for i := range before {
		if m.Vertices[i] != before[i] {
			t.Fatalf("reductionRate changed vertex %d", i)
		}
	}
}
