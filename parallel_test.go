package pweld

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestChunkBounds_CoversRangeDisjointly(t *testing.T) {
	for _, tc := range []struct{ n, workers int }{
		{0, 1}, {1, 4}, {7, 3}, {100, 8}, {8, 8}, {5, 16},
	} {
		covered := make([]int, tc.n)
		prevEnd := 0
		for w := 0; w < tc.workers; w++ {
			start, end := chunkBounds(tc.n, tc.workers, w)
			if start > end {
				t.Errorf("n=%d workers=%d w=%d: start %d > end %d", tc.n, tc.workers, w, start, end)
			}
			if w > 0 && start < prevEnd {
				t.Errorf("n=%d workers=%d w=%d: chunk overlaps previous", tc.n, tc.workers, w)
			}
			for i := start; i < end; i++ {
				covered[i]++
			}
			prevEnd = end
		}
		for i, c := range covered {
			if c != 1 {
				t.Errorf("n=%d workers=%d: index %d covered %d times", tc.n, tc.workers, i, c)
			}
		}
	}
}

func TestParallelFor_VisitsEveryIndexOnce(t *testing.T) {
	n := 1000
	var hits [1000]int32
	parallelFor(n, 7, func(_, start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&hits[i], 1)
		}
	})
	for i, h := range hits {
		if h != 1 {
			t.Fatalf("index %d visited %d times", i, h)
		}
	}
}

func TestBarrier_PhasesStayAligned(t *testing.T) {
	const workers = 8
	const rounds = 200

	bar := newBarrier(workers)
	var phase atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				bar.wait()
				// Between two waits, every worker must observe the same
				// phase value.
				if got := phase.Load(); got != int64(r) {
					t.Errorf("phase = %d, want %d", got, r)
				}
				bar.wait()
				phase.CompareAndSwap(int64(r), int64(r+1))
			}
		}()
	}
	wg.Wait()

	if phase.Load() != rounds {
		t.Errorf("final phase = %d, want %d", phase.Load(), rounds)
	}
}

func TestResolveWorkers(t *testing.T) {
	if got := resolveWorkers(4); got != 4 {
		t.Errorf("resolveWorkers(4) = %d", got)
	}
	if got := resolveWorkers(0); got < 1 {
		t.Errorf("resolveWorkers(0) = %d, want >= 1", got)
	}
	if got := resolveWorkers(-3); got < 1 {
		t.Errorf("resolveWorkers(-3) = %d, want >= 1", got)
	}
}
