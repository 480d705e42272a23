// Copyright 2017, Kerby Shedden and the Muscato contributors.

package hasharray

import (
	"sync"
	"testing"

	"github.com/kshedden/kmercount/merdna"
	"github.com/stretchr/testify/require"
)

func newTestArray(t *testing.T, kk int, cfg Config) *HashArray {
	t.Helper()
	require.NoError(t, merdna.Init(kk))
	cfg.KeyBits = merdna.NBits()
	if cfg.MaxReprobe == 0 {
		cfg.MaxReprobe = 32
	}
	h, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestAddGetSingleKey(t *testing.T) {
	h := newTestArray(t, 8, Config{LSize: 6, PrimaryBits: 6, LargeBits: 6})
	mer, err := merdna.FromString("ACGTACGT")
	require.NoError(t, err)

	require.NoError(t, h.Add(mer, 1))
	count, found := h.Get(mer)
	require.True(t, found)
	require.Equal(t, uint64(1), count)

	require.NoError(t, h.Add(mer, 4))
	count, found = h.Get(mer)
	require.True(t, found)
	require.Equal(t, uint64(5), count)
}

func TestGetMissingKeyNotFound(t *testing.T) {
	h := newTestArray(t, 8, Config{LSize: 6, PrimaryBits: 6, LargeBits: 6})
	mer, err := merdna.FromString("TTTTTTTT")
	require.NoError(t, err)
	_, found := h.Get(mer)
	require.False(t, found)
}

// TestOverflowIntoLargeChain exercises the primary+large overflow path
// explicitly: a 3-bit primary (max 7) forces overflow on the 8th
// increment, with the remainder tracked in a 4-bit large continuation
// cell.
func TestOverflowIntoLargeChain(t *testing.T) {
	h := newTestArray(t, 6, Config{LSize: 8, PrimaryBits: 3, LargeBits: 4})
	mer, err := merdna.FromString("ACGTAC")
	require.NoError(t, err)

	const n = 300
	for i := 0; i < n; i++ {
		require.NoError(t, h.Add(mer, 1))
	}
	count, found := h.Get(mer)
	require.True(t, found)
	require.Equal(t, uint64(n), count)
}

func TestConcurrentAddSameKey(t *testing.T) {
	h := newTestArray(t, 10, Config{LSize: 10, PrimaryBits: 5, LargeBits: 6})
	mer, err := merdna.FromString("ACGTACGTAC")
	require.NoError(t, err)

	const goroutines = 16
	const perGoroutine = 200

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				require.NoError(t, h.Add(mer, 1))
			}
		}()
	}
	wg.Wait()

	count, found := h.Get(mer)
	require.True(t, found)
	require.Equal(t, uint64(goroutines*perGoroutine), count)
}

func TestConcurrentAddManyKeys(t *testing.T) {
	h := newTestArray(t, 10, Config{LSize: 12, PrimaryBits: 8, LargeBits: 8})

	bases := []byte("ACGT")
	mers := make([]merdna.Mer, 64)
	for i := range mers {
		s := make([]byte, 10)
		v := i
		for j := range s {
			s[j] = bases[v%4]
			v /= 4
		}
		m, err := merdna.FromString(string(s))
		require.NoError(t, err)
		mers[i] = m
	}

	var wg sync.WaitGroup
	for _, m := range mers {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				require.NoError(t, h.Add(m, 1))
			}
		}()
	}
	wg.Wait()

	for _, m := range mers {
		count, found := h.Get(m)
		require.True(t, found)
		require.Equal(t, uint64(50), count)
	}
}

func TestIterateYieldsAllInsertedKeys(t *testing.T) {
	h := newTestArray(t, 6, Config{LSize: 8, PrimaryBits: 8, LargeBits: 8})

	want := map[string]uint64{}
	for _, s := range []string{"AAAAAA", "CCCCCC", "GGGGGG", "TTTTTT", "ACGTAC"} {
		m, err := merdna.FromString(s)
		require.NoError(t, err)
		require.NoError(t, h.Add(m, 3))
		want[s] = 3
	}

	got := map[string]uint64{}
	err := h.Iterate(0, h.Capacity(), func(c Cell) error {
		got[c.Key.String()] += c.Count
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestZeroRangeClearsCells(t *testing.T) {
	h := newTestArray(t, 6, Config{LSize: 8, PrimaryBits: 8, LargeBits: 8})
	mer, err := merdna.FromString("GATTAC")
	require.NoError(t, err)
	require.NoError(t, h.Add(mer, 1))

	h.ZeroRange(0, h.Capacity())
	_, found := h.Get(mer)
	require.False(t, found)
}
