// Copyright 2017, Kerby Shedden and the Muscato contributors.
//
// kmerhisto reads a kmercount binary dump file and reports a
// histogram of counts. By default it prints how many distinct k-mers
// fall in each power-of-two count bucket [2^b, 2^(b+1)). The --full
// flag (matching the original jellyfish `histo --full` switch, see
// SPEC_FULL.md section 5) instead prints, for every observed count N,
// how many distinct k-mers were observed exactly N times.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	flag "github.com/spf13/pflag"

	"github.com/kshedden/kmercount/dumper"
	"github.com/kshedden/kmercount/merdna"
)

func main() {
	full := flag.Bool("full", false, "Emit every observed count exactly once instead of binning")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: kmerhisto [--full] <dump-file>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()

	hdr, err := dumper.ReadHeader(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := merdna.Init(hdr.K); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	kb := merdna.KeyBytes()
	rec := kb + hdr.ValueBytes
	buf := make([]byte, rec)

	counts := map[uint64]uint64{}
	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			if err == io.EOF {
				break
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		var v uint64
		for i := hdr.ValueBytes - 1; i >= 0; i-- {
			v = v<<8 | uint64(buf[kb+i])
		}
		counts[v]++
	}

	if *full {
		printFull(counts)
		return
	}
	printBinned(counts)
}

// printFull emits (count, number_of_kmers_with_that_count) for every
// distinct observed count, sorted by count.
func printFull(counts map[uint64]uint64) {
	keys := make([]uint64, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		fmt.Printf("%d\t%d\n", k, counts[k])
	}
}

// printBinned groups counts into power-of-two buckets, matching the
// coarse default histogram jellyfish's own histo tool prints when
// --full is not given.
func printBinned(counts map[uint64]uint64) {
	bins := map[int]uint64{}
	for v, n := range counts {
		b := 0
		for (uint64(1) << uint(b+1)) <= v {
			b++
		}
		bins[b] += n
	}
	maxBin := 0
	for b := range bins {
		if b > maxBin {
			maxBin = b
		}
	}
	for b := 0; b <= maxBin; b++ {
		lo := uint64(1) << uint(b)
		fmt.Printf("%d\t%d\n", lo, bins[b])
	}
}
