// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package hashmatrix builds the invertible GF(2) matrix HashArray
// uses to turn a key into a bucket position without storing the full
// key: M is lsize x 2k, split into a square lsize x lsize submatrix
// M_hi acting on the key's high lsize bits and a zero submatrix M_lo
// over the low (2k-lsize) bits (which HashArray stores directly as
// the cell's key remainder, and which therefore never contributes to
// the hash). Because M_hi is constructed invertible, the high bits
// are recoverable from a cell's home bucket via M_hi's inverse alone,
// matching spec.md's "hash is an invertible binary matrix over GF(2)"
// design note.
package hashmatrix

import (
	"fmt"
	"math/bits"
	"math/rand"

	"github.com/kshedden/kmercount/merdna"
)

// Matrix is the forward hash matrix plus the precomputed inverse of
// its high-bits submatrix.
type Matrix struct {
	LSize   int // bits of table address space: capacity = 1<<LSize
	KeyBits int // 2k
	RemBits int // KeyBits - LSize, width of the stored key remainder

	rows    [][2]uint64 // LSize rows, each a KeyBits-wide mask
	hiInv   []uint64    // LSize rows, each an LSize-wide mask (M_hi^-1)
}

// New builds a random invertible matrix for the given table address
// width and key width, seeded deterministically from seed so that
// the same (lsize, keyBits, seed) always yields the same matrix. Dump
// files do not record the matrix or its seed.
func New(lsize, keyBits int, seed int64) (*Matrix, error) {
	if lsize <= 0 || lsize > 62 {
		return nil, fmt.Errorf("hashmatrix: lsize must be in 1..62, got %d", lsize)
	}
	if keyBits < lsize {
		return nil, fmt.Errorf("hashmatrix: keyBits (%d) must be >= lsize (%d)", keyBits, lsize)
	}
	rng := rand.New(rand.NewSource(seed))

	// M_hi = P * L, a permutation times a unit lower-triangular
	// matrix: always invertible over GF(2), regardless of the
	// random bits chosen below the diagonal / in the permutation.
	l := make([]uint64, lsize) // L[i] has bit i set, plus random bits below it
	for i := 0; i < lsize; i++ {
		l[i] = uint64(1) << uint(i)
		for j := 0; j < i; j++ {
			if rng.Intn(2) == 1 {
				l[i] |= uint64(1) << uint(j)
			}
		}
	}
	perm := rng.Perm(lsize)
	mhi := make([]uint64, lsize)
	for i := 0; i < lsize; i++ {
		mhi[perm[i]] = l[i]
	}

	mhiInv, err := invertGF2(mhi, lsize)
	if err != nil {
		return nil, fmt.Errorf("hashmatrix: internal error constructing invertible matrix: %w", err)
	}

	// M_lo is the zero matrix: rows only carry bits in the key's high
	// LSize columns (M_hi), never in the low RemBits columns that
	// HashArray stores directly as the cell's remainder. Hash is then
	// a pure function of the key's high bits, so Reconstruct can
	// recover them from home via hiInv alone, with no remainder
	// contribution to XOR back out first.
	remBits := keyBits - lsize
	rows := make([][2]uint64, lsize)
	for i := 0; i < lsize; i++ {
		var lo [2]uint64
		hiRow := mhi[i]
		for j := 0; j < lsize; j++ {
			if hiRow&(uint64(1)<<uint(j)) != 0 {
				setBit(&lo, remBits+j)
			}
		}
		rows[i] = lo
	}

	return &Matrix{
		LSize:   lsize,
		KeyBits: keyBits,
		RemBits: remBits,
		rows:    rows,
		hiInv:   mhiInv,
	}, nil
}

// FromRows reconstructs a Matrix from a row set (as returned by Rows)
// plus the high-bits inverse recomputed from those rows.
func FromRows(lsize, keyBits int, rows [][2]uint64) (*Matrix, error) {
	if len(rows) != lsize {
		return nil, fmt.Errorf("hashmatrix: expected %d rows, got %d", lsize, len(rows))
	}
	remBits := keyBits - lsize
	mhi := make([]uint64, lsize)
	for i, r := range rows {
		mhi[i] = bitsAt(r, remBits, lsize)
	}
	mhiInv, err := invertGF2(mhi, lsize)
	if err != nil {
		return nil, fmt.Errorf("hashmatrix: rows do not form an invertible high submatrix: %w", err)
	}
	out := &Matrix{LSize: lsize, KeyBits: keyBits, RemBits: remBits, hiInv: mhiInv}
	out.rows = append(out.rows[:0], rows...)
	return out, nil
}

// Rows exposes the forward matrix rows.
func (m *Matrix) Rows() [][2]uint64 { return m.rows }

// Equal reports whether two matrices have identical dimensions and
// rows.
func (m *Matrix) Equal(o *Matrix) bool {
	if m.LSize != o.LSize || m.KeyBits != o.KeyBits {
		return false
	}
	for i := range m.rows {
		if m.rows[i] != o.rows[i] {
			return false
		}
	}
	return true
}

func dot(a, b [2]uint64) uint64 {
	return uint64(bits.OnesCount64(a[0]&b[0])+bits.OnesCount64(a[1]&b[1])) & 1
}

// Hash computes the home bucket (an LSize-bit value) for a mer's
// packed key.
func (m *Matrix) Hash(mer merdna.Mer) uint64 {
	w := mer.Words()
	key := [2]uint64{w[0], w[1]}
	var pos uint64
	for i, row := range m.rows {
		pos |= dot(row, key) << uint(i)
	}
	return pos
}

// Remainder returns the low RemBits bits of the key, the part stored
// directly in a HashArray cell rather than recovered via the inverse
// matrix.
func (m *Matrix) Remainder(mer merdna.Mer) uint64 {
	return mer.Bits(0, m.RemBits)
}

// Reconstruct rebuilds the full key from a cell's home bucket (the
// position with the reprobe offset already subtracted back out by the
// caller) and its stored remainder.
func (m *Matrix) Reconstruct(home uint64, remainder uint64) merdna.Mer {
	var hi uint64
	for j := 0; j < m.LSize; j++ {
		hi |= (uint64(bits.OnesCount64(home&m.hiInv[j])) & 1) << uint(j)
	}
	lo0, lo1 := placeBits(remainder, m.RemBits)
	hi0, hi1 := placeBits(hi, m.LSize)
	hi0, hi1 = shiftLeft(hi0, hi1, m.RemBits)
	return merdna.FromWords(lo0|hi0, lo1|hi1)
}

func placeBits(v uint64, n int) (w0, w1 uint64) {
	if n <= 0 {
		return 0, 0
	}
	if n < 64 {
		v &= (uint64(1) << uint(n)) - 1
	}
	return v, 0
}

func shiftLeft(w0, w1 uint64, n int) (uint64, uint64) {
	if n == 0 {
		return w0, w1
	}
	if n >= 128 {
		return 0, 0
	}
	if n >= 64 {
		return 0, w0 << uint(n-64)
	}
	newW1 := (w1 << uint(n)) | (w0 >> uint(64-n))
	newW0 := w0 << uint(n)
	return newW0, newW1
}

func setBit(v *[2]uint64, pos int) {
	if pos < 64 {
		v[0] |= uint64(1) << uint(pos)
	} else if pos < 128 {
		v[1] |= uint64(1) << uint(pos-64)
	}
}

func bitsAt(v [2]uint64, offset, length int) uint64 {
	var w0, w1 uint64
	if offset >= 64 {
		w0 = v[1] >> uint(offset-64)
	} else if offset == 0 {
		w0, w1 = v[0], v[1]
	} else {
		w0 = (v[0] >> uint(offset)) | (v[1] << uint(64-offset))
		w1 = v[1] >> uint(offset)
	}
	_ = w1
	if length >= 64 {
		return w0
	}
	return w0 & ((uint64(1) << uint(length)) - 1)
}

// invertGF2 inverts an n x n matrix (n <= 64, one uint64 row = one bit
// per column) over GF(2) via Gauss-Jordan elimination with partial
// pivoting. Returns an error if the matrix is singular.
func invertGF2(rows []uint64, n int) ([]uint64, error) {
	a := make([]uint64, n)
	copy(a, rows)
	inv := make([]uint64, n)
	for i := range inv {
		inv[i] = uint64(1) << uint(i)
	}

	for col := 0; col < n; col++ {
		pivot := -1
		for r := col; r < n; r++ {
			if a[r]&(uint64(1)<<uint(col)) != 0 {
				pivot = r
				break
			}
		}
		if pivot == -1 {
			return nil, fmt.Errorf("matrix is singular at column %d", col)
		}
		a[col], a[pivot] = a[pivot], a[col]
		inv[col], inv[pivot] = inv[pivot], inv[col]

		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			if a[r]&(uint64(1)<<uint(col)) != 0 {
				a[r] ^= a[col]
				inv[r] ^= inv[col]
			}
		}
	}
	return inv, nil
}
