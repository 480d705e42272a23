// Copyright 2017, Kerby Shedden and the Muscato contributors.
//
// kmerdump converts a kmercount binary dump file to text, optionally
// filtering by count with -L/-U (min/max, see SPEC_FULL.md section 5),
// matching the min/max count filtering spec.md describes for the
// sorted dumper.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kshedden/kmercount/dumper"
	"github.com/kshedden/kmercount/merdna"
)

func main() {
	min := flag.Uint64("L", 0, "Only emit k-mers with count >= L")
	max := flag.Uint64("U", 0, "Only emit k-mers with count <= U (0 = unbounded)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: kmerdump [--L min] [--U max] <dump-file>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	upper := *max
	if upper == 0 {
		upper = ^uint64(0)
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

	out := bufio.NewWriterSize(os.Stdout, 1<<20)
	defer out.Flush()

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
		if v < *min || v > upper {
			continue
		}
		m := merdna.UnmarshalMer(buf[:kb])
		fmt.Fprintf(out, "%s\t%d\n", m.String(), v)
	}
}
