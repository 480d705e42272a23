// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package grower wraps a hasharray.HashArray with in-place doubling:
// when a Counter worker reports the table is full along its reprobe
// sequence, Grower regenerates a larger hash matrix, copies every live
// entry across, and atomically swaps the live table out from under
// concurrent readers/writers. The swap is guarded by a sync.RWMutex
// the way muscato's top-level driver guards its shared config/workflow
// globals during setup (cmd/muscato/muscato.go), generalized here to a
// live runtime barrier since growth happens mid-run rather than once
// at startup.
package grower

import (
	"errors"
	"sync"

	"github.com/kshedden/kmercount/hasharray"
	"github.com/kshedden/kmercount/merdna"
)

// ErrCapacity is returned by Add when the table is full and GrowMax
// doublings have already been performed.
var ErrCapacity = errors.New("grower: hash array at capacity, growth exhausted")

// Config controls growth policy.
type Config struct {
	hasharray.Config
	// GrowMax bounds the number of doublings Grower will perform; 0
	// means unbounded growth (spec.md's "Grow vs dump precedence" open
	// question, decided in favor of a config knob in SPEC_FULL.md §7).
	GrowMax int
	// OnGrow, if set, is called after each successful doubling with the
	// new LSize, for progress logging.
	OnGrow func(newLSize int)
}

// Grower is a growable HashArray. All exported methods are safe for
// concurrent use by many Counter goroutines.
type Grower struct {
	mu      sync.RWMutex
	cfg     Config
	table   *hasharray.HashArray
	grown   int
	seedGen int64
}

// New allocates a Grower with an initial table at cfg.LSize.
func New(cfg Config) (*Grower, error) {
	t, err := hasharray.New(cfg.Config)
	if err != nil {
		return nil, err
	}
	return &Grower{cfg: cfg, table: t, seedGen: cfg.MatrixSeed}, nil
}

// Table returns the currently live table. The returned pointer may be
// swapped out by a concurrent Grow; callers that need a stable
// snapshot for dumping should first quiesce writers.
func (g *Grower) Table() *hasharray.HashArray {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.table
}

// Add increments mer's count, growing the table in place (doubling
// LSize and rehashing) if the current table reports ErrFull and growth
// is still permitted.
func (g *Grower) Add(mer merdna.Mer, delta uint64) error {
	for {
		g.mu.RLock()
		t := g.table
		err := t.Add(mer, delta)
		g.mu.RUnlock()
		if err == nil {
			return nil
		}
		if err != hasharray.ErrFull {
			return err
		}
		if grewErr := g.grow(t); grewErr != nil {
			return grewErr
		}
		// Retry against the new table.
	}
}

// Get looks up mer in the currently live table.
func (g *Grower) Get(mer merdna.Mer) (uint64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.table.Get(mer)
}

// grow doubles the table if it is still the current one (another
// goroutine may have already grown past it) and growth budget remains.
func (g *Grower) grow(stale *hasharray.HashArray) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.table != stale {
		// Someone else already grew past this table.
		return nil
	}
	if g.cfg.GrowMax > 0 && g.grown >= g.cfg.GrowMax {
		return ErrCapacity
	}

	newCfg := g.cfg.Config
	newCfg.LSize = g.table.LSize() + 1
	g.seedGen++
	newCfg.MatrixSeed = g.seedGen

	next, err := hasharray.New(newCfg)
	if err != nil {
		return err
	}

	err = g.table.Iterate(0, g.table.Capacity(), func(c hasharray.Cell) error {
		return next.Add(c.Key, c.Count)
	})
	if err != nil {
		_ = next.Close()
		return err
	}

	old := g.table
	g.table = next
	g.grown++
	if g.cfg.OnGrow != nil {
		g.cfg.OnGrow(newCfg.LSize)
	}
	_ = old.Close()
	return nil
}

// Grown returns how many doublings have happened so far.
func (g *Grower) Grown() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.grown
}

// Close releases the currently live table's backing memory.
func (g *Grower) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.table.Close()
}
