// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package merger performs a k-way merge of sorted dumper binary files,
// folding the count of every key that appears in more than one file
// according to a selected Fold (SUM/MIN/MAX), or, in Jaccard mode,
// accumulating the intersection/union set sizes needed to report a
// Jaccard similarity index between the input files' key sets instead
// of writing a merged stream. Every input file must have been written
// by dumper.Dump with Options.Sorted = true: the merge only makes
// sense across files that share the same total order on keys, which
// dumper's sorted mode guarantees independent of any one file's
// source hash matrix (see DESIGN.md).
package merger

import (
	"bufio"
	"container/heap"
	"fmt"
	"io"
	"os"

	"github.com/kshedden/kmercount/dumper"
	"github.com/kshedden/kmercount/merdna"
)

// Fold selects how counts for the same key across multiple input
// files are combined.
type Fold int

const (
	FoldSum Fold = iota
	FoldMin
	FoldMax
	FoldJaccard
)

// Options controls a Merge.
type Options struct {
	Fold       Fold
	ValueBytes int // output count field width in bytes; SUM saturates at this width rather than overflowing
}

func (o *Options) setDefaults() {
	if o.ValueBytes <= 0 {
		o.ValueBytes = 8
	}
}

// Result reports what a Merge produced.
type Result struct {
	RecordsWritten uint64
	Intersection   uint64 // FoldJaccard only: number of keys present in every input file
	Union          uint64 // FoldJaccard only: number of distinct keys across all input files
	Jaccard        float64
}

// cursorState mirrors spec.md's READY -> EXHAUSTED per-file state
// machine: a cursor is READY as long as it holds an unread record,
// and flips to EXHAUSTED the moment its file runs out.
type cursorState int

const (
	cursorReady cursorState = iota
	cursorExhausted
)

type fileCursor struct {
	idx        int
	r          *bufio.Reader
	f          *os.File
	valueBytes int
	keyBytes   int
	state      cursorState
	key        merdna.Mer
	count      uint64
}

func openCursor(idx int, path string) (*fileCursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("merger: open %s: %w", path, err)
	}
	r := bufio.NewReaderSize(f, 1<<20)

	hdr, err := dumper.ReadHeader(r)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("merger: %s: %w", path, err)
	}
	if hdr.K != merdna.K() {
		f.Close()
		return nil, fmt.Errorf("merger: %s: k=%d does not match configured k=%d", path, hdr.K, merdna.K())
	}

	c := &fileCursor{idx: idx, r: r, f: f, valueBytes: hdr.ValueBytes, keyBytes: merdna.KeyBytes()}
	if err := c.advance(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// advance reads the next record into the cursor, or marks it
// EXHAUSTED at EOF.
func (c *fileCursor) advance() error {
	kb := make([]byte, c.keyBytes)
	if _, err := io.ReadFull(c.r, kb); err != nil {
		if err == io.EOF {
			c.state = cursorExhausted
			return nil
		}
		return fmt.Errorf("merger: read key: %w", err)
	}
	vb := make([]byte, c.valueBytes)
	if _, err := io.ReadFull(c.r, vb); err != nil {
		return fmt.Errorf("merger: read value: %w", err)
	}
	var v uint64
	for i := c.valueBytes - 1; i >= 0; i-- {
		v = v<<8 | uint64(vb[i])
	}
	c.key = merdna.UnmarshalMer(kb)
	c.count = v
	c.state = cursorReady
	return nil
}

func (c *fileCursor) close() { c.f.Close() }

// cursorHeap orders ready cursors by key, breaking ties by file index
// so the merge visits duplicate keys across files in a stable order.
type cursorHeap []*fileCursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	if h[i].key.Equal(h[j].key) {
		return h[i].idx < h[j].idx
	}
	return h[i].key.Less(h[j].key)
}
func (h cursorHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)        { *h = append(*h, x.(*fileCursor)) }
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merge k-way merges the sorted dump files at paths, writing folded
// records to w (ignored in FoldJaccard mode).
func Merge(paths []string, w io.Writer, opts Options) (Result, error) {
	opts.setDefaults()
	var res Result

	if len(paths) == 0 {
		return res, fmt.Errorf("merger: no input files")
	}

	cursors := make([]*fileCursor, len(paths))
	for i, p := range paths {
		c, err := openCursor(i, p)
		if err != nil {
			for j := 0; j < i; j++ {
				cursors[j].close()
			}
			return res, err
		}
		cursors[i] = c
	}
	defer func() {
		for _, c := range cursors {
			c.close()
		}
	}()

	h := make(cursorHeap, 0, len(cursors))
	for _, c := range cursors {
		if c.state == cursorReady {
			h = append(h, c)
		}
	}
	heap.Init(&h)

	saturate := saturationMax(opts.ValueBytes)

	for h.Len() > 0 {
		key := h[0].key
		var folded uint64
		nSeen := 0
		first := true

		for h.Len() > 0 && h[0].key.Equal(key) {
			c := h[0]
			nSeen++
			switch opts.Fold {
			case FoldSum:
				folded += c.count
				if folded > saturate {
					folded = saturate
				}
			case FoldMin:
				if first || c.count < folded {
					folded = c.count
				}
			case FoldMax:
				if first || c.count > folded {
					folded = c.count
				}
			case FoldJaccard:
				// no per-key output value needed
			}
			first = false

			if err := c.advance(); err != nil {
				return res, err
			}
			if c.state == cursorExhausted {
				heap.Pop(&h)
			} else {
				heap.Fix(&h, 0)
			}
		}

		res.Union++
		if nSeen == len(paths) {
			res.Intersection++
		}

		if opts.Fold != FoldJaccard {
			if err := writeMergedRecord(w, key, folded, opts.ValueBytes); err != nil {
				return res, err
			}
			res.RecordsWritten++
		}
	}

	if opts.Fold == FoldJaccard && res.Union > 0 {
		res.Jaccard = float64(res.Intersection) / float64(res.Union)
	}

	return res, nil
}

func saturationMax(valueBytes int) uint64 {
	if valueBytes >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(valueBytes*8)) - 1
}

func writeMergedRecord(w io.Writer, m merdna.Mer, count uint64, valueBytes int) error {
	if _, err := w.Write(m.MarshalBinary()); err != nil {
		return err
	}
	vb := make([]byte, valueBytes)
	v := count
	for i := 0; i < valueBytes; i++ {
		vb[i] = byte(v)
		v >>= 8
	}
	_, err := w.Write(vb)
	return err
}

// MergeFiles merges paths and writes the result, framed with a
// dumper-compatible header, to outPath -- so a merge's own output can
// itself be merged again (the scipipe-driven multi-file reduction in
// cmd/kmermerge relies on this).
func MergeFiles(paths []string, outPath string, opts Options) (Result, error) {
	opts.setDefaults()
	f, err := os.Create(outPath)
	if err != nil {
		return Result{}, fmt.Errorf("merger: create %s: %w", outPath, err)
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, 1<<20)

	if opts.Fold != FoldJaccard {
		if err := dumper.WriteHeader(bw, merdna.K(), opts.ValueBytes, true); err != nil {
			return Result{}, err
		}
	}

	res, err := Merge(paths, bw, opts)
	if err != nil {
		return res, err
	}
	return res, bw.Flush()
}
