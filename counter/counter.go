// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package counter runs a pool of worker goroutines that pull chunks
// from a streamparser.Parser, roll k-mers out of each with their own
// meriterator.Iterator, and add them to a shared grower.Grower. Worker
// count and progress logging follow muscato_screen.go's worker-pool
// shape (a fixed goroutine group plus a shared abort flag), rather
// than introducing a new concurrency pattern.
package counter

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/kshedden/kmercount/grower"
	"github.com/kshedden/kmercount/internal/abortflag"
	"github.com/kshedden/kmercount/merdna"
	"github.com/kshedden/kmercount/meriterator"
	"github.com/kshedden/kmercount/streamparser"
)

// Config controls a Run.
type Config struct {
	Workers      int
	K            int
	Canonical    bool
	ProgressEach uint64 // log progress every this many k-mers processed per worker; 0 disables
	Logger       *log.Logger

	// ShouldCount, if set, is consulted for every k-mer before it is
	// added to g; a false return skips the add entirely. Used by
	// kmerbloom to route k-mers through a bloomcount.Filter
	// pre-filter without duplicating the worker pool. Must be safe
	// for concurrent use by cfg.Workers goroutines. Nil counts
	// everything, matching kmercount's behavior.
	ShouldCount func(merdna.Mer) bool
}

// Stats reports what a Run processed.
type Stats struct {
	MersProcessed uint64
	ChunksRead    uint64
}

// Run drains parser into g, using cfg.Workers goroutines. It returns
// the first error encountered by any worker or the parser itself.
func Run(parser *streamparser.Parser, g *grower.Grower, cfg Config) (Stats, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	var abort abortflag.Flag
	var wg sync.WaitGroup
	var totalMers, totalChunks uint64

	for w := 0; w < cfg.Workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			it := meriterator.New(cfg.K, cfg.Canonical)
			var localMers uint64
			defer func() { atomic.AddUint64(&totalMers, localMers) }()

			for {
				if abort.Done() {
					return
				}
				job := parser.Get()
				if job.Empty() {
					job.Release()
					return
				}
				chunk := job.Value()
				it.Reset()
				var addErr error
				it.Each(chunk, func(m merdna.Mer) {
					if addErr != nil {
						return
					}
					if cfg.ShouldCount != nil && !cfg.ShouldCount(m) {
						return
					}
					if err := g.Add(m, 1); err != nil {
						addErr = err
						return
					}
					localMers++
					if cfg.ProgressEach > 0 && localMers%cfg.ProgressEach == 0 && cfg.Logger != nil {
						cfg.Logger.Printf("worker %d: %d k-mers processed", w, localMers)
					}
				})
				job.Release()
				atomic.AddUint64(&totalChunks, 1)
				if addErr != nil {
					abort.Set(addErr)
					return
				}
			}
		}()
	}
	wg.Wait()

	if err := parser.Err(); err != nil {
		abort.Set(err)
	}

	return Stats{MersProcessed: atomic.LoadUint64(&totalMers), ChunksRead: atomic.LoadUint64(&totalChunks)}, abort.Err()
}
