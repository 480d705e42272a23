// Copyright 2017, Kerby Shedden and the Muscato contributors.

package merdna

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringRoundTrip(t *testing.T) {
	for _, k := range []int{1, 3, 5, 31, 32, 63, 64} {
		require.NoError(t, Init(k))
		for _, s := range []string{
			repeat("A", k),
			repeat("T", k),
			mix(k),
		} {
			m, err := FromString(s)
			require.NoError(t, err, "k=%d s=%s", k, s)
			require.Equal(t, s, m.String(), "k=%d", k)
		}
	}
}

func TestShiftLeft(t *testing.T) {
	require.NoError(t, Init(3))
	m := Zero()
	var ok bool
	m, ok = m.ShiftLeft('A')
	require.True(t, ok)
	m, ok = m.ShiftLeft('C')
	require.True(t, ok)
	m, ok = m.ShiftLeft('G')
	require.True(t, ok)
	require.Equal(t, "ACG", m.String())

	m, ok = m.ShiftLeft('T')
	require.True(t, ok)
	require.Equal(t, "CGT", m.String())

	_, ok = m.ShiftLeft('N')
	require.False(t, ok)
}

func TestCanonicalIdempotent(t *testing.T) {
	require.NoError(t, Init(4))
	for _, s := range []string{"ACGT", "TTTT", "AAAA", "GTAC", "CATG"} {
		m, err := FromString(s)
		require.NoError(t, err)
		c1 := m.Canonical()
		c2 := c1.Canonical()
		require.True(t, c1.Equal(c2))
	}
}

func TestCanonicalOfReverseComplementMatches(t *testing.T) {
	require.NoError(t, Init(3))
	m, err := FromString("GTA")
	require.NoError(t, err)
	rc := m.ReverseComplement()
	require.Equal(t, "TAC", rc.String())
	require.True(t, m.Canonical().Equal(rc.Canonical()))
}

func TestBinaryRoundTrip(t *testing.T) {
	for _, k := range []int{1, 31, 32, 63, 64} {
		require.NoError(t, Init(k))
		m, err := FromString(mix(k))
		require.NoError(t, err)
		b := m.MarshalBinary()
		require.Len(t, b, KeyBytes())
		m2 := UnmarshalMer(b)
		require.True(t, m.Equal(m2), "k=%d", k)
	}
}

func TestBitsSetBitsRoundTrip(t *testing.T) {
	require.NoError(t, Init(40))
	m, err := FromString(mix(40))
	require.NoError(t, err)
	lo := m.Bits(0, 30)
	hi := m.Bits(30, NBits()-30)
	rebuilt := Zero().SetBits(0, 30, lo).SetBits(30, NBits()-30, hi)
	require.True(t, m.Equal(rebuilt))
}

func repeat(s string, n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = s[0]
	}
	return string(out)
}

func mix(k int) string {
	bases := []byte("ACGT")
	out := make([]byte, k)
	for i := range out {
		out[i] = bases[i%4]
	}
	return string(out)
}
