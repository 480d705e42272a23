// Copyright 2017, Kerby Shedden and the Muscato contributors.
//
// kmerinfo reports metadata about a kmercount binary dump file: k,
// the on-disk count field width, whether the file is key-sorted, and
// (matching jellyfish's own "info" command, see
// original_source/include/jellyfish/dumper.hpp and SPEC_FULL.md
// section 5) a record count and min/max observed counts.
package main

import (
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kshedden/kmercount/dumper"
	"github.com/kshedden/kmercount/merdna"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: kmerinfo <dump-file>\n")
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

	var n uint64
	var minCount, maxCount uint64
	first := true
	buf := make([]byte, rec)
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
		if first || v < minCount {
			minCount = v
		}
		if first || v > maxCount {
			maxCount = v
		}
		first = false
		n++
	}

	fmt.Printf("k: %d\n", hdr.K)
	fmt.Printf("value_bytes: %d\n", hdr.ValueBytes)
	fmt.Printf("sorted: %t\n", hdr.Sorted)
	fmt.Printf("key_bytes: %d\n", kb)
	fmt.Printf("distinct_kmers: %d\n", n)
	if n > 0 {
		fmt.Printf("min_count: %d\n", minCount)
		fmt.Printf("max_count: %d\n", maxCount)
	}
}
