// Copyright 2017, Kerby Shedden and the Muscato contributors.

package dumper

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/kshedden/kmercount/hasharray"
	"github.com/kshedden/kmercount/merdna"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *hasharray.HashArray {
	t.Helper()
	require.NoError(t, merdna.Init(4))
	h, err := hasharray.New(hasharray.Config{
		LSize:       8,
		KeyBits:     merdna.NBits(),
		PrimaryBits: 8,
		LargeBits:   8,
		MaxReprobe:  32,
		MatrixSeed:  7,
	})
	require.NoError(t, err)
	return h
}

func addMer(t *testing.T, h *hasharray.HashArray, s string, n uint64) {
	t.Helper()
	m, err := merdna.FromString(s)
	require.NoError(t, err)
	require.NoError(t, h.Add(m, n))
}

func TestDumpSortedTextIsGloballyKeySorted(t *testing.T) {
	h := newTestTable(t)
	addMer(t, h, "TTTT", 3)
	addMer(t, h, "AAAA", 1)
	addMer(t, h, "CCCC", 2)
	addMer(t, h, "GGGG", 4)

	var buf bytes.Buffer
	err := Dump(h, &buf, Options{Format: FormatText, Sorted: true, Workers: 3})
	require.NoError(t, err)

	var keys []string
	var counts []uint64
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		parts := strings.SplitN(sc.Text(), "\t", 2)
		require.Len(t, parts, 2)
		keys = append(keys, parts[0])
		n, err := strconv.ParseUint(parts[1], 10, 64)
		require.NoError(t, err)
		counts = append(counts, n)
	}
	require.Equal(t, []string{"AAAA", "CCCC", "GGGG", "TTTT"}, keys)
	require.Equal(t, []uint64{1, 2, 4, 3}, counts)
}

func TestDumpSortedBinaryRoundTrips(t *testing.T) {
	h := newTestTable(t)
	addMer(t, h, "ACGT", 5)
	addMer(t, h, "TGCA", 9)

	var buf bytes.Buffer
	require.NoError(t, Dump(h, &buf, Options{Format: FormatBinary, Sorted: true, Workers: 2, ValueBytes: 8}))

	data := buf.Bytes()
	require.True(t, bytes.HasPrefix(data, []byte(Magic)))
	data = data[len(Magic)+12:]

	kb := merdna.KeyBytes()
	rec := kb + 8
	require.Equal(t, 0, len(data)%rec)

	seen := map[string]uint64{}
	for len(data) > 0 {
		m := merdna.UnmarshalMer(data[:kb])
		var v uint64
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(data[kb+i])
		}
		seen[m.String()] = v
		data = data[rec:]
	}
	require.Equal(t, map[string]uint64{"ACGT": 5, "TGCA": 9}, seen)
}

func TestDumpRespectsMinMaxFilter(t *testing.T) {
	h := newTestTable(t)
	addMer(t, h, "AAAA", 1)
	addMer(t, h, "CCCC", 10)
	addMer(t, h, "GGGG", 100)

	var buf bytes.Buffer
	require.NoError(t, Dump(h, &buf, Options{Format: FormatText, Sorted: true, Workers: 2, Min: 5, Max: 50}))

	require.Equal(t, "CCCC\t10\n", buf.String())
}

func TestDumpRawIsPartitionedByPosition(t *testing.T) {
	h := newTestTable(t)
	addMer(t, h, "AAAA", 1)
	addMer(t, h, "CCCC", 2)
	addMer(t, h, "GGGG", 3)
	addMer(t, h, "TTTT", 4)

	var buf bytes.Buffer
	require.NoError(t, Dump(h, &buf, Options{Format: FormatText, Sorted: false, Workers: 4}))

	sc := bufio.NewScanner(&buf)
	total := uint64(0)
	count := 0
	for sc.Scan() {
		parts := strings.SplitN(sc.Text(), "\t", 2)
		n, err := strconv.ParseUint(parts[1], 10, 64)
		require.NoError(t, err)
		total += n
		count++
	}
	require.Equal(t, 4, count)
	require.Equal(t, uint64(1+2+3+4), total)
}

func TestDumpFileWritesAndIsReadable(t *testing.T) {
	h := newTestTable(t)
	addMer(t, h, "ACGT", 7)

	path := t.TempDir() + "/out.txt"
	require.NoError(t, DumpFile(h, path, Options{Format: FormatText, Sorted: true, Workers: 1}))

	var buf bytes.Buffer
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = buf.ReadFrom(f)
	require.NoError(t, err)
	require.Equal(t, "ACGT\t7\n", buf.String())
}
