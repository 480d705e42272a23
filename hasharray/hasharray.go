// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package hasharray is the lock-free, open-addressed hash array that
// counts k-mers: bit-packed keys, a small primary counter per slot
// with overflow into "large value" continuation cells, and quadratic
// reprobing. Every state transition is a single atomic CAS on the
// slot's backing word (bitarray.BitArray), so concurrent Add calls
// from many Counter goroutines never block each other except by
// retrying a lost CAS.
package hasharray

import (
	"errors"
	"sync/atomic"

	"github.com/kshedden/kmercount/bitarray"
	"github.com/kshedden/kmercount/hashmatrix"
	"github.com/kshedden/kmercount/merdna"
)

// Cell states, 2 bits wide.
const (
	stateEmpty = iota
	stateSet
	stateSetLarge
	stateLarge
)

// ErrFull is returned by Add when every slot in the configured
// quadratic reprobe sequence is occupied by a different key; the
// caller (Counter) must trigger a grow or a dump.
var ErrFull = errors.New("hasharray: table full along reprobe sequence")

// Config parameterizes a HashArray. PrimaryBits and LargeBits may
// differ, matching jellyfish's "small primary counter, wider overflow
// chunk" design (spec.md section 8 exercises e.g. 7-bit primary +
// 8-bit large explicitly).
type Config struct {
	LSize        int // initial capacity is 1<<LSize
	KeyBits      int // 2*k
	PrimaryBits  int // width of the in-primary counter
	LargeBits    int // width of each LARGE continuation chunk
	MaxReprobe   int // length of the quadratic reprobe table
	MatrixSeed   int64
	WarmWorkers  int // page-warming parallelism for the mmap'd backing store
}

// HashArray is the live, concurrently-mutable counting table.
type HashArray struct {
	cfg      Config
	capacity uint64
	matrix   *hashmatrix.Matrix
	cells    *bitarray.BitArray

	remBits     int
	counterBits int // physical field width shared by primary counter and large chunk
	reprobeBits int

	remShift     uint
	counterShift uint
	reprobeShift uint

	primaryMax uint64
	largeMax   uint64
	reprobeTbl []uint64

	occupied int64 // atomic count of primary slots in use, for load-factor checks
}

// New allocates a HashArray with a freshly generated hash matrix.
func New(cfg Config) (*HashArray, error) {
	m, err := hashmatrix.New(cfg.LSize, cfg.KeyBits, cfg.MatrixSeed)
	if err != nil {
		return nil, err
	}
	return newWithMatrix(cfg, m)
}

// NewWithMatrix allocates a HashArray reusing an existing matrix, whose
// LSize and key width must match cfg's.
func NewWithMatrix(cfg Config, m *hashmatrix.Matrix) (*HashArray, error) {
	return newWithMatrix(cfg, m)
}

func newWithMatrix(cfg Config, m *hashmatrix.Matrix) (*HashArray, error) {
	if cfg.MaxReprobe <= 0 {
		cfg.MaxReprobe = 126
	}
	remBits := m.RemBits
	reprobeBits := bitsNeeded(cfg.MaxReprobe)
	counterBits := cfg.PrimaryBits
	if cfg.LargeBits > counterBits {
		counterBits = cfg.LargeBits
	}
	cellWidth := 2 + remBits + counterBits + reprobeBits
	if cellWidth > 64 {
		return nil, errCellTooWide(cellWidth)
	}

	capacity := uint64(1) << uint(cfg.LSize)
	cells, err := bitarray.NewMapped(cellWidth, int(capacity), cfg.WarmWorkers)
	if err != nil {
		return nil, err
	}

	h := &HashArray{
		cfg:          cfg,
		capacity:     capacity,
		matrix:       m,
		cells:        cells,
		remBits:      remBits,
		counterBits:  counterBits,
		reprobeBits:  reprobeBits,
		remShift:     2,
		counterShift: uint(2 + remBits),
		reprobeShift: uint(2 + remBits + counterBits),
		primaryMax:   (uint64(1) << uint(cfg.PrimaryBits)) - 1,
		largeMax:     (uint64(1) << uint(cfg.LargeBits)) - 1,
	}
	h.reprobeTbl = buildReprobeTable(cfg.MaxReprobe, capacity)
	return h, nil
}

func bitsNeeded(n int) int {
	b := 0
	for (1 << uint(b)) < n {
		b++
	}
	if b == 0 {
		b = 1
	}
	return b
}

// buildReprobeTable fills a quadratic (triangular-number) reprobe
// sequence reduced mod capacity; for power-of-two capacity this visits
// capacity distinct residues before repeating.
func buildReprobeTable(n int, capacity uint64) []uint64 {
	tbl := make([]uint64, n)
	var acc uint64
	for r := 0; r < n; r++ {
		tbl[r] = acc % capacity
		acc += uint64(r + 1)
	}
	return tbl
}

func (h *HashArray) reprobeOffset(r int) uint64 {
	return h.reprobeTbl[r]
}

// Capacity returns the number of slots (1<<LSize).
func (h *HashArray) Capacity() uint64 { return h.capacity }

// LSize returns the table's address-space width.
func (h *HashArray) LSize() int { return h.cfg.LSize }

// Matrix returns the hash matrix backing this table.
func (h *HashArray) Matrix() *hashmatrix.Matrix { return h.matrix }

// Occupied returns the number of primary slots currently in use, an
// approximate load indicator. Grower does not consult it: it doubles
// when Add returns ErrFull.
func (h *HashArray) Occupied() int64 { return atomic.LoadInt64(&h.occupied) }

func cellState(cell uint64) uint64 { return cell & 3 }

func (h *HashArray) cellRemainder(cell uint64) uint64 {
	return (cell >> h.remShift) & ((uint64(1) << uint(h.remBits)) - 1)
}

func (h *HashArray) cellCounter(cell uint64) uint64 {
	if h.counterBits == 0 {
		return 0
	}
	return (cell >> h.counterShift) & ((uint64(1) << uint(h.counterBits)) - 1)
}

func (h *HashArray) cellReprobe(cell uint64) int {
	if h.reprobeBits == 0 {
		return 0
	}
	return int((cell >> h.reprobeShift) & ((uint64(1) << uint(h.reprobeBits)) - 1))
}

func (h *HashArray) packPrimary(state, remainder, counter uint64, r int) uint64 {
	return state | (remainder << h.remShift) | (counter << h.counterShift) | (uint64(r) << h.reprobeShift)
}

func (h *HashArray) packLarge(value uint64) uint64 {
	return uint64(stateLarge) | (value << h.counterShift)
}

func (h *HashArray) setCounterField(cell, counter uint64) uint64 {
	mask := ((uint64(1) << uint(h.counterBits)) - 1) << h.counterShift
	return (cell &^ mask) | ((counter << h.counterShift) & mask)
}

func (h *HashArray) setStateField(cell, state uint64) uint64 {
	return (cell &^ uint64(3)) | state
}

// Add increments mer's count by delta. It returns ErrFull if every
// slot in the reprobe sequence is occupied by a different key (the
// caller should grow the table or trigger a dump and retry).
func (h *HashArray) Add(mer merdna.Mer, delta uint64) error {
	home := h.matrix.Hash(mer)
	remainder := h.matrix.Remainder(mer)

	for r := 0; r < len(h.reprobeTbl); r++ {
		pos := (home + h.reprobeOffset(r)) % h.capacity

	retrySlot:
		cell := h.cells.Get(int(pos))
		state := cellState(cell)

		switch state {
		case stateEmpty:
			st := uint64(stateSet)
			if delta > h.primaryMax {
				st = stateSetLarge
			}
			newCell := h.packPrimary(st, remainder, clamp(delta, h.primaryMax), r)
			if _, ok := h.cells.CAS(int(pos), cell, newCell); !ok {
				goto retrySlot
			}
			if delta > h.primaryMax {
				if !h.addToLargeChain(home, r, delta-h.primaryMax) {
					return ErrFull
				}
			}
			atomic.AddInt64(&h.occupied, 1)
			return nil

		case stateSet, stateSetLarge:
			cellRem := h.cellRemainder(cell)
			cellR := h.cellReprobe(cell)
			occHome := subMod(pos, h.reprobeOffset(cellR), h.capacity)
			occKey := h.matrix.Reconstruct(occHome, cellRem)
			if !occKey.Equal(mer) {
				continue
			}
			if !h.incrementAt(int(pos), home, r, cell, delta) {
				return ErrFull
			}
			return nil

		case stateLarge:
			continue

		default:
			continue
		}
	}
	return ErrFull
}

func clamp(v, max uint64) uint64 {
	if v > max {
		return max
	}
	return v
}

func subMod(a, b, n uint64) uint64 {
	if b > a {
		return (a + n - (b % n)) % n
	}
	return (a - b) % n
}

// incrementAt adds delta to the primary counter at pos, cascading into
// the large-value continuation chain on overflow.
func (h *HashArray) incrementAt(pos int, home uint64, r int, cell uint64, delta uint64) bool {
	for {
		counter := h.cellCounter(cell)
		sum := counter + delta
		if sum <= h.primaryMax {
			newCell := h.setCounterField(cell, sum)
			if actual, ok := h.cells.CAS(pos, cell, newCell); ok {
				_ = actual
				return true
			}
			cell = h.cells.Get(pos)
			continue
		}
		overflow := sum - h.primaryMax
		satCell := h.setStateField(h.setCounterField(cell, h.primaryMax), stateSetLarge)
		if _, ok := h.cells.CAS(pos, cell, satCell); !ok {
			cell = h.cells.Get(pos)
			continue
		}
		return h.addToLargeChain(home, r, overflow)
	}
}

// addToLargeChain walks the reprobe sequence starting at r+1 looking
// for continuation cells belonging to the primary at (home, r),
// creating new LARGE cells as needed and cascading carries across
// cells when a chunk itself overflows largeMax.
func (h *HashArray) addToLargeChain(home uint64, r int, amount uint64) bool {
	c := r + 1
	carry := amount
	for c < len(h.reprobeTbl) {
		pos := (home + h.reprobeOffset(c)) % h.capacity

	retry:
		cell := h.cells.Get(int(pos))
		state := cellState(cell)

		switch state {
		case stateEmpty:
			chunk := carry & h.largeMax
			rest := carry >> uint(h.cfg.LargeBits)
			newCell := h.packLarge(chunk)
			if _, ok := h.cells.CAS(int(pos), cell, newCell); !ok {
				goto retry
			}
			if rest == 0 {
				return true
			}
			carry = rest
			c++

		case stateLarge:
			chunkVal := h.cellCounter(cell)
			sum := chunkVal + carry
			if sum <= h.largeMax {
				newCell := h.setCounterField(cell, sum)
				if _, ok := h.cells.CAS(int(pos), cell, newCell); !ok {
					goto retry
				}
				return true
			}
			newChunk := sum & h.largeMax
			rest := sum >> uint(h.cfg.LargeBits)
			newCell := h.setCounterField(cell, newChunk)
			if _, ok := h.cells.CAS(int(pos), cell, newCell); !ok {
				goto retry
			}
			carry = rest
			c++

		default:
			// Occupied by an unrelated primary or its own chain;
			// keep probing for a free large-value slot.
			c++
		}
	}
	return false
}

// Get looks up mer's current count. found is false if the key has
// never been inserted.
func (h *HashArray) Get(mer merdna.Mer) (count uint64, found bool) {
	home := h.matrix.Hash(mer)
	remainder := h.matrix.Remainder(mer)

	for r := 0; r < len(h.reprobeTbl); r++ {
		pos := (home + h.reprobeOffset(r)) % h.capacity
		cell := h.cells.Get(int(pos))
		state := cellState(cell)

		switch state {
		case stateEmpty:
			return 0, false
		case stateSet, stateSetLarge:
			cellRem := h.cellRemainder(cell)
			if cellRem != remainder {
				continue
			}
			cellR := h.cellReprobe(cell)
			occHome := subMod(pos, h.reprobeOffset(cellR), h.capacity)
			occKey := h.matrix.Reconstruct(occHome, cellRem)
			if !occKey.Equal(mer) {
				continue
			}
			total := h.cellCounter(cell)
			if state == stateSetLarge {
				total += h.sumChain(home, r)
			}
			return total, true
		default:
			continue
		}
	}
	return 0, false
}

// sumChain reads the large-value continuation chain following the
// primary at (home, r), returning the value contributed beyond the
// primary's own counter. Like addToLargeChain it skips cells occupied
// by other primaries and stops at the first EMPTY cell.
func (h *HashArray) sumChain(home uint64, r int) uint64 {
	var total uint64
	c := r + 1
	idx := 0
	for c < len(h.reprobeTbl) {
		pos := (home + h.reprobeOffset(c)) % h.capacity
		cell := h.cells.Get(int(pos))
		if cellState(cell) == stateEmpty {
			break
		}
		if cellState(cell) != stateLarge {
			c++
			continue
		}
		total += h.cellCounter(cell) << uint(idx*h.cfg.LargeBits)
		idx++
		c++
	}
	return total
}

// Cell is one decoded (key, count) pair yielded by Iterate.
type Cell struct {
	Key      merdna.Mer
	Count    uint64
	Position uint64
}

// Iterate walks slice [lo, hi) of the table in position order,
// reconstructing each primary's full key and aggregated count and
// skipping EMPTY/LARGE cells. The dumper reads the table through it;
// its sorted mode then re-sorts the cells by key.
func (h *HashArray) Iterate(lo, hi uint64, fn func(Cell) error) error {
	if hi > h.capacity {
		hi = h.capacity
	}
	for pos := lo; pos < hi; pos++ {
		cell := h.cells.Get(int(pos))
		state := cellState(cell)
		if state != stateSet && state != stateSetLarge {
			continue
		}
		cellRem := h.cellRemainder(cell)
		r := h.cellReprobe(cell)
		home := subMod(pos, h.reprobeOffset(r), h.capacity)
		key := h.matrix.Reconstruct(home, cellRem)
		total := h.cellCounter(cell)
		if state == stateSetLarge {
			total += h.sumChain(home, r)
		}
		if err := fn(Cell{Key: key, Count: total, Position: pos}); err != nil {
			return err
		}
	}
	return nil
}

// ZeroRange clears slots [lo, hi). The dumper does not call it: a dump
// leaves the table's contents in place.
func (h *HashArray) ZeroRange(lo, hi uint64) {
	h.cells.ZeroRange(int(lo), int(hi))
}

// Close releases the table's backing memory.
func (h *HashArray) Close() error {
	return h.cells.Close()
}

type errCellTooWide int

func (e errCellTooWide) Error() string {
	return "hasharray: cell width exceeds 64 bits; increase LSize or reduce PrimaryBits/LargeBits/MaxReprobe"
}
