package transform

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Batches smaller than this run on the calling goroutine.
const minParallelBatch = 8

var workerLimit atomic.Int32 // 0 selects GOMAXPROCS

// SetWorkers sets the number of goroutines used for row and column batches.
// n <= 0 restores the default of runtime.GOMAXPROCS(0).
func SetWorkers(n int) {
	if n < 0 {
		n = 0
	}
	workerLimit.Store(int32(n))
}

// Workers returns the current worker limit.
func Workers() int {
	if w := workerLimit.Load(); w > 0 {
		return int(w)
	}
	return runtime.GOMAXPROCS(0)
}

// forRanges splits [0, n) into contiguous ranges and runs fn on each,
// in parallel when the batch is large enough. Ranges never overlap.
func forRanges(n int, fn func(lo, hi int) error) error {
	w := min(Workers(), n)
	if w <= 1 || n < minParallelBatch {
		return fn(0, n)
	}

	var g errgroup.Group
	g.SetLimit(w)

	chunk := (n + w - 1) / w
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error { return fn(lo, hi) })
	}

	return g.Wait()
}
