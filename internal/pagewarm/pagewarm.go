// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package pagewarm touches every page of a freshly mmap'd anonymous
// region before it is handed to concurrent readers/writers, so the
// first real access does not stall on a page fault while other
// threads are mid-algorithm. Anonymous mappings are zero-on-first
// touch; warming pre-pays that cost, spread across a pool of workers.
package pagewarm

import (
	"os"
	"runtime"
	"sync"
)

const pageSize = 4096

// Warm touches every page backing mem, split into contiguous stripes
// handled by workers goroutines (0 or negative defaults to GOMAXPROCS).
func Warm(mem []byte, workers int) {
	if len(mem) == 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	npages := (len(mem) + pageSize - 1) / pageSize
	if npages < workers {
		workers = npages
	}
	if workers <= 1 {
		warmRange(mem)
		return
	}

	pagesPer := (npages + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * pagesPer * pageSize
		if lo >= len(mem) {
			break
		}
		hi := lo + pagesPer*pageSize
		if hi > len(mem) {
			hi = len(mem)
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			warmRange(mem[lo:hi])
		}(lo, hi)
	}
	wg.Wait()
}

// warmRange writes the existing (zero) value back into the first byte
// of every page in mem, forcing the kernel to materialize it.
func warmRange(mem []byte) {
	for i := 0; i < len(mem); i += pageSize {
		mem[i] = mem[i]
	}
}

// Getpagesize exposes the detected page size for callers that want to
// align regions themselves (e.g. for madvise).
func Getpagesize() int {
	if ps := os.Getpagesize(); ps > 0 {
		return ps
	}
	return pageSize
}
