// Copyright 2017, Kerby Shedden and the Muscato contributors.

package streamparser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func drain(t *testing.T, p *Parser) []Chunk {
	t.Helper()
	var out []Chunk
	for {
		j := p.Get()
		if j.Empty() {
			break
		}
		c := j.Value()
		out = append(out, Chunk{
			Seq:    append([]byte(nil), c.Seq...),
			Breaks: append([]int(nil), c.Breaks...),
		})
		j.Release()
	}
	require.NoError(t, p.Err())
	return out
}

// Sequence lines are read whole, so a record held on one line longer
// than ChunkSize lands in a single chunk, and the seam carried past
// the end of input does not produce a further chunk.
func TestFastaSingleRecordSmallChunk(t *testing.T) {
	path := writeTemp(t, "in.fa", ">r1\nACGTACGTAC\n")
	p, err := Open([]string{path}, Options{ChunkSize: 4, K: 3}, 2)
	require.NoError(t, err)

	chunks := drain(t, p)
	require.Len(t, chunks, 1)
	require.Equal(t, "ACGTACGTAC", string(chunks[0].Seq))
}

// A chunk boundary that falls inside a record (here inside r2) carries
// the last k-1 bytes into the next chunk.
func TestSeamCarriesAcrossChunkBoundary(t *testing.T) {
	path := writeTemp(t, "in.fa", ">r1\nAAAA\n>r2\nCCCC\n>r3\nGGGG\n")
	p, err := Open([]string{path}, Options{ChunkSize: 5, K: 3}, 2)
	require.NoError(t, err)

	chunks := drain(t, p)
	require.GreaterOrEqual(t, len(chunks), 2)
	require.Equal(t, "AAAACCCC", string(chunks[0].Seq))
	// Next chunk is seamed with the last k-1=2 bytes of the previous
	// chunk, since the previous chunk did not end on a record break.
	require.Equal(t, "CCGGGG", string(chunks[1].Seq))
}

func TestFastaMultipleRecordsMarksBreaks(t *testing.T) {
	path := writeTemp(t, "in.fa", ">r1\nACGT\n>r2\nTTTT\n")
	p, err := Open([]string{path}, Options{ChunkSize: 1 << 10, K: 3}, 2)
	require.NoError(t, err)

	chunks := drain(t, p)
	require.Len(t, chunks, 1)
	require.Equal(t, "ACGTTTTT", string(chunks[0].Seq))
	require.Equal(t, []int{3, 7}, chunks[0].Breaks)
}

func TestFastqRecordExtractsSeqLineOnly(t *testing.T) {
	path := writeTemp(t, "in.fq", "@r1\nACGT\n+\nIIII\n@r2\nGGGG\n+\nIIII\n")
	p, err := Open([]string{path}, Options{ChunkSize: 1 << 10, K: 3}, 2)
	require.NoError(t, err)

	chunks := drain(t, p)
	require.Len(t, chunks, 1)
	require.Equal(t, "ACGTGGGG", string(chunks[0].Seq))
	require.Equal(t, []int{3, 7}, chunks[0].Breaks)
}

func TestLowercaseIsUppercased(t *testing.T) {
	path := writeTemp(t, "in.fa", ">r1\nacgt\n")
	p, err := Open([]string{path}, Options{ChunkSize: 1 << 10, K: 3}, 2)
	require.NoError(t, err)

	chunks := drain(t, p)
	require.Len(t, chunks, 1)
	require.Equal(t, "ACGT", string(chunks[0].Seq))
}

func TestAmbiguityAsAMapsCodes(t *testing.T) {
	path := writeTemp(t, "in.fa", ">r1\nACRGT\n")
	p, err := Open([]string{path}, Options{ChunkSize: 1 << 10, K: 3, AmbiguityAsA: true}, 2)
	require.NoError(t, err)

	chunks := drain(t, p)
	require.Len(t, chunks, 1)
	require.Equal(t, "ACAGT", string(chunks[0].Seq))
}

func TestMultipleFilesConcatenate(t *testing.T) {
	p1 := writeTemp(t, "a.fa", ">r1\nAAAA\n")
	p2 := writeTemp(t, "b.fa", ">r2\nCCCC\n")
	p, err := Open([]string{p1, p2}, Options{ChunkSize: 1 << 10, K: 3}, 2)
	require.NoError(t, err)

	chunks := drain(t, p)
	require.Len(t, chunks, 1)
	require.Equal(t, "AAAACCCC", string(chunks[0].Seq))
}

func TestMissingFileSurfacesError(t *testing.T) {
	p, err := Open([]string{filepath.Join(t.TempDir(), "nope.fa")}, Options{ChunkSize: 16, K: 3}, 2)
	require.NoError(t, err)

	j := p.Get()
	require.True(t, j.Empty())
	require.Error(t, p.Err())
}
