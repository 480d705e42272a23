// Copyright 2017, Kerby Shedden and the Muscato contributors.

package bloomcount

import (
	"testing"

	"github.com/kshedden/kmercount/merdna"
	"github.com/stretchr/testify/require"
)

func TestObserveRequiresTwoOccurrencesBeforeCounting(t *testing.T) {
	require.NoError(t, merdna.Init(8))
	f := New(1000, 0.01)

	m, err := merdna.FromString("ACGTACGT")
	require.NoError(t, err)

	require.False(t, f.ShouldCount(m))

	// First occurrence: never counted.
	require.False(t, f.Observe(m))
	require.False(t, f.ShouldCount(m))

	// Second occurrence: crosses the threshold, counted from here on.
	require.True(t, f.Observe(m))
	require.True(t, f.ShouldCount(m))

	require.True(t, f.Observe(m))
}

func TestObserveDistinguishesDifferentKeys(t *testing.T) {
	require.NoError(t, merdna.Init(8))
	f := New(1000, 0.01)

	a, err := merdna.FromString("AAAAAAAA")
	require.NoError(t, err)
	b, err := merdna.FromString("TTTTTTTT")
	require.NoError(t, err)

	f.Observe(a)
	require.False(t, f.ShouldCount(b))
}

func TestFillRateIncreasesWithObservations(t *testing.T) {
	require.NoError(t, merdna.Init(8))
	f := New(2000, 0.01)
	before := f.FillRate()

	bases := "ACGT"
	for i := 0; i < 50; i++ {
		s := make([]byte, 8)
		for j := range s {
			s[j] = bases[(i+j)%4]
		}
		m, err := merdna.FromString(string(s))
		require.NoError(t, err)
		f.Observe(m)
	}

	require.Greater(t, f.FillRate(), before)
}
