// Copyright 2017, Kerby Shedden and the Muscato contributors.

package counter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kshedden/kmercount/grower"
	"github.com/kshedden/kmercount/hasharray"
	"github.com/kshedden/kmercount/merdna"
	"github.com/kshedden/kmercount/streamparser"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRunCountsExpectedMers(t *testing.T) {
	require.NoError(t, merdna.Init(3))
	path := writeTemp(t, "in.fa", ">r1\nACGTACGT\n")

	parser, err := streamparser.Open([]string{path}, streamparser.Options{ChunkSize: 1 << 10, K: 3}, 2)
	require.NoError(t, err)

	g, err := grower.New(grower.Config{
		Config: hasharray.Config{
			LSize:       6,
			KeyBits:     merdna.NBits(),
			PrimaryBits: 8,
			LargeBits:   8,
			MaxReprobe:  16,
			MatrixSeed:  1,
		},
	})
	require.NoError(t, err)
	defer g.Close()

	stats, err := Run(parser, g, Config{Workers: 4, K: 3, Canonical: false})
	require.NoError(t, err)
	// "ACGTACGT" yields 6 overlapping 3-mers: ACG, CGT, GTA, TAC, ACG, CGT
	require.Equal(t, uint64(6), stats.MersProcessed)

	want := map[string]uint64{"ACG": 2, "CGT": 2, "GTA": 1, "TAC": 1}
	for s, n := range want {
		m, ferr := merdna.FromString(s)
		require.NoError(t, ferr)
		count, found := g.Get(m)
		require.True(t, found, s)
		require.Equal(t, n, count, s)
	}
}
