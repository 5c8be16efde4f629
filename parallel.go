package pweld

import (
	"runtime"
	"sync"
)

// resolveWorkers maps a worker-count knob to an effective team size.
// Values <= 0 mean "use all CPUs".
func resolveWorkers(workers int) int {
	if workers <= 0 {
		return runtime.NumCPU()
	}
	return workers
}

// chunkBounds returns the half-open index range [start, end) owned by
// worker w when n items are statically partitioned into contiguous
// chunks across the team. Trailing workers may receive empty ranges.
func chunkBounds(n, workers, w int) (start, end int) {
	per := (n + workers - 1) / workers
	start = w * per
	end = start + per
	if start > n {
		start = n
	}
	if end > n {
		end = n
	}
	return start, end
}

// parallelFor runs fn once per worker over that worker's contiguous chunk
// of [0, n). Chunk boundaries are deterministic for a given (n, workers),
// so per-worker accumulations line up across separate passes.
func parallelFor(n, workers int, fn func(worker, start, end int)) {
	if workers <= 1 || n <= 1 {
		fn(0, 0, n)
		return
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start, end := chunkBounds(n, workers, w)
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			fn(w, start, end)
		}(w, start, end)
	}
	wg.Wait()
}

// barrier is a reusable synchronization point for a fixed team of
// workers. Every worker must call wait the same number of times; the
// n-th arrival releases the team and resets the barrier for reuse.
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	arrived int
	gen     uint64
}

func newBarrier(n int) *barrier {
	b := &barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait() {
	b.mu.Lock()
	gen := b.gen
	b.arrived++
	if b.arrived == b.n {
		b.arrived = 0
		b.gen++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
	b.mu.Unlock()
}
