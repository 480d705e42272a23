// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package dumper is SortedDumper: it snapshots a hasharray.HashArray
// to a file, either as a globally key-sorted stream (the format the
// merger consumes) or, for a faster uncoordinated snapshot, as a
// per-segment "raw" dump ordered by table position and serialized
// through internal/tokenring the way jellyfish's own sorted dumper
// hands successive hash-table position ranges to a fixed ring of
// writer threads. Output may additionally be snappy-compressed,
// matching muscato's convention of snappy-framing every intermediate
// file it writes (muscato_screen.go, cmd/muscato_prep_targets).
package dumper

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/golang/snappy"

	"github.com/kshedden/kmercount/hasharray"
	"github.com/kshedden/kmercount/internal/tokenring"
	"github.com/kshedden/kmercount/merdna"
)

// Magic identifies a kmercount binary dump file.
const Magic = "KMCD0001"

// Format selects the on-disk record encoding.
type Format int

const (
	FormatBinary Format = iota
	FormatText
)

// Options controls a Dump call.
type Options struct {
	Format     Format
	ValueBytes int  // width of the on-disk count field, binary format only (default 8)
	Snappy     bool // frame the output with snappy, matching muscato's intermediate files
	Min        uint64
	Max        uint64 // 0 means unbounded
	Workers    int
	Sorted     bool // true: globally key-sorted (for merging); false: position-ordered raw dump
}

func (o *Options) setDefaults() {
	if o.ValueBytes <= 0 {
		o.ValueBytes = 8
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Max == 0 {
		o.Max = ^uint64(0)
	}
}

// DumpFile snapshots h to path, choosing the writer by opts.
func DumpFile(h *hasharray.HashArray, path string, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dumper: create %s: %w", path, err)
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, 1<<20)
	if err := Dump(h, bw, opts); err != nil {
		return err
	}
	return bw.Flush()
}

// Dump snapshots h to w.
func Dump(h *hasharray.HashArray, w io.Writer, opts Options) error {
	opts.setDefaults()

	out := w
	var sw *snappy.Writer
	if opts.Snappy {
		sw = snappy.NewBufferedWriter(w)
		out = sw
	}

	if err := writeHeader(out, h, opts); err != nil {
		return err
	}

	var err error
	if opts.Sorted {
		err = dumpSorted(h, out, opts)
	} else {
		err = dumpRaw(h, out, opts)
	}
	if err != nil {
		return err
	}
	if sw != nil {
		return sw.Close()
	}
	return nil
}

// Header is the decoded form of a binary dump file's fixed-size
// header, shared by merger and the cmd/kmer* readers so the on-disk
// layout is only parsed in one place.
type Header struct {
	K          int
	ValueBytes int
	Sorted     bool
}

// ReadHeader reads and validates a binary dump file's magic and
// header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var hdr Header
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return hdr, fmt.Errorf("dumper: read magic: %w", err)
	}
	if string(magic) != Magic {
		return hdr, fmt.Errorf("dumper: not a kmercount dump file")
	}
	buf := make([]byte, 12)
	if _, err := io.ReadFull(r, buf); err != nil {
		return hdr, fmt.Errorf("dumper: read header: %w", err)
	}
	hdr.K = int(binary.LittleEndian.Uint32(buf[0:4]))
	hdr.ValueBytes = int(binary.LittleEndian.Uint32(buf[4:8]))
	hdr.Sorted = binary.LittleEndian.Uint32(buf[8:12])&1 != 0
	return hdr, nil
}

func writeHeader(w io.Writer, h *hasharray.HashArray, opts Options) error {
	if opts.Format != FormatBinary {
		return nil
	}
	return WriteHeader(w, merdna.K(), opts.ValueBytes, opts.Sorted)
}

// WriteHeader writes a binary dump file's magic and fixed-size
// header directly, for callers (merger's MergeFiles) that produce a
// dump-compatible stream without going through Dump.
func WriteHeader(w io.Writer, k, valueBytes int, sorted bool) error {
	if _, err := io.WriteString(w, Magic); err != nil {
		return err
	}
	hdr := make([]byte, 12)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(k))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(valueBytes))
	flags := uint32(0)
	if sorted {
		flags |= 1
	}
	binary.LittleEndian.PutUint32(hdr[8:12], flags)
	_, err := w.Write(hdr)
	return err
}

func writeRecord(w io.Writer, m merdna.Mer, count uint64, opts Options) error {
	if count < opts.Min || count > opts.Max {
		return nil
	}
	if opts.Format == FormatText {
		_, err := fmt.Fprintf(w, "%s\t%d\n", m.String(), count)
		return err
	}
	if _, err := w.Write(m.MarshalBinary()); err != nil {
		return err
	}
	vb := make([]byte, opts.ValueBytes)
	v := count
	for i := 0; i < opts.ValueBytes; i++ {
		vb[i] = byte(v)
		v >>= 8
	}
	_, err := w.Write(vb)
	return err
}

// dumpRaw splits the table's position range into opts.Workers
// segments, each iterated and written by its own goroutine, handed
// off to the next in strict segment order through a token ring so the
// file ends up ordered by table position even though the segments are
// produced concurrently.
func dumpRaw(h *hasharray.HashArray, w io.Writer, opts Options) error {
	n := opts.Workers
	cap := h.Capacity()
	seg := (cap + uint64(n) - 1) / uint64(n)
	ring := tokenring.New(n)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		lo := uint64(i) * seg
		hi := lo + seg
		if hi > cap {
			hi = cap
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lo >= hi {
				ring.Wait(i)
				ring.Pass(i)
				return
			}
			var cells []hasharray.Cell
			errs[i] = h.Iterate(lo, hi, func(c hasharray.Cell) error {
				cells = append(cells, c)
				return nil
			})
			ring.Wait(i)
			if errs[i] == nil {
				for _, c := range cells {
					if err := writeRecord(w, c.Key, c.Count, opts); err != nil {
						errs[i] = err
						break
					}
				}
			}
			ring.Pass(i)
		}()
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// dumpSorted extracts every live cell in opts.Workers parallel,
// locally-sorted batches, then performs a single k-way merge over
// those batches (container/heap) so the output file is globally
// ordered by key -- the format the merger's sorted-file assumption
// requires, independent of this table's particular hash matrix or
// bucket layout (which would not be comparable across separately
// grown tables; see DESIGN.md).
func dumpSorted(h *hasharray.HashArray, w io.Writer, opts Options) error {
	n := opts.Workers
	cap := h.Capacity()
	seg := (cap + uint64(n) - 1) / uint64(n)

	batches := make([][]hasharray.Cell, n)
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		lo := uint64(i) * seg
		hi := lo + seg
		if hi > cap {
			hi = cap
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lo >= hi {
				return
			}
			var cells []hasharray.Cell
			errs[i] = h.Iterate(lo, hi, func(c hasharray.Cell) error {
				cells = append(cells, c)
				return nil
			})
			sort.Slice(cells, func(a, b int) bool { return cells[a].Key.Less(cells[b].Key) })
			batches[i] = cells
		}()
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return e
		}
	}

	mh := make(mergeHeap, 0, n)
	for i, b := range batches {
		if len(b) > 0 {
			mh = append(mh, &cursor{batch: b, idx: 0, src: i})
		}
	}
	heap.Init(&mh)
	for mh.Len() > 0 {
		c := mh[0]
		cell := c.batch[c.idx]
		if err := writeRecord(w, cell.Key, cell.Count, opts); err != nil {
			return err
		}
		c.idx++
		if c.idx < len(c.batch) {
			heap.Fix(&mh, 0)
		} else {
			heap.Pop(&mh)
		}
	}
	return nil
}

type cursor struct {
	batch []hasharray.Cell
	idx   int
	src   int
}

type mergeHeap []*cursor

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	ki, kj := h[i].batch[h[i].idx].Key, h[j].batch[h[j].idx].Key
	if ki.Equal(kj) {
		return h[i].src < h[j].src
	}
	return ki.Less(kj)
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*cursor)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
