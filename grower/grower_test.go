// Copyright 2017, Kerby Shedden and the Muscato contributors.

package grower

import (
	"testing"

	"github.com/kshedden/kmercount/hasharray"
	"github.com/kshedden/kmercount/merdna"
	"github.com/stretchr/testify/require"
)

func newTestGrower(t *testing.T, kk int, lsize, growMax int) *Grower {
	t.Helper()
	require.NoError(t, merdna.Init(kk))
	g, err := New(Config{
		Config: hasharray.Config{
			LSize:       lsize,
			KeyBits:     merdna.NBits(),
			PrimaryBits: 4,
			LargeBits:   4,
			MaxReprobe:  16,
			MatrixSeed:  1,
		},
		GrowMax: growMax,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestGrowerAddGetSimple(t *testing.T) {
	g := newTestGrower(t, 8, 4, 0)
	mer, err := merdna.FromString("ACGTACGT")
	require.NoError(t, err)

	require.NoError(t, g.Add(mer, 1))
	count, found := g.Get(mer)
	require.True(t, found)
	require.Equal(t, uint64(1), count)
}

// TestGrowerGrowsWhenFull drives enough distinct keys into a tiny
// table that the reprobe sequence saturates, forcing at least one
// doubling, and checks every key's count survives the rehash.
func TestGrowerGrowsWhenFull(t *testing.T) {
	g := newTestGrower(t, 10, 3, 0) // capacity 8, unbounded growth

	bases := []byte("ACGT")
	var mers []merdna.Mer
	for i := 0; i < 40; i++ {
		s := make([]byte, 10)
		v := i
		for j := range s {
			s[j] = bases[v%4]
			v /= 4
		}
		m, err := merdna.FromString(string(s))
		require.NoError(t, err)
		mers = append(mers, m)
	}

	for _, m := range mers {
		require.NoError(t, g.Add(m, 1))
	}

	require.Greater(t, g.Grown(), 0)
	for _, m := range mers {
		count, found := g.Get(m)
		require.True(t, found)
		require.Equal(t, uint64(1), count)
	}
}

func TestGrowerReturnsCapacityErrorWhenBounded(t *testing.T) {
	require.NoError(t, merdna.Init(10))
	bounded, err := New(Config{
		Config: hasharray.Config{
			LSize:       3,
			KeyBits:     merdna.NBits(),
			PrimaryBits: 4,
			LargeBits:   4,
			MaxReprobe:  16,
			MatrixSeed:  2,
		},
		GrowMax: 1,
	})
	require.NoError(t, err)
	defer bounded.Close()

	bases := []byte("ACGT")
	var ferr error
	for i := 0; i < 200 && ferr == nil; i++ {
		s := make([]byte, 10)
		v := i
		for j := range s {
			s[j] = bases[v%4]
			v /= 4
		}
		m, merr := merdna.FromString(string(s))
		require.NoError(t, merr)
		ferr = bounded.Add(m, 1)
	}
	require.ErrorIs(t, ferr, ErrCapacity)
}
