// Copyright 2017, Kerby Shedden and the Muscato contributors.
//
// kmerbloom counts k-mers the same way kmercount does, except every
// k-mer is first routed through a bloomcount.Filter pre-filter: the
// first occurrence of any k-mer is never inserted into the real
// counting table, only the second and later occurrences are, since
// most true singleton k-mers in sequencing data are errors rather
// than biology (jellyfish's own "-bc" mode; see internal/bloomcount
// and SPEC_FULL.md section 5). This trades a small, bounded
// false-negative/false-positive rate on rare k-mers for a large
// reduction in the real table's memory footprint on error-laden read
// sets.
package main

import (
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/kshedden/kmercount/counter"
	"github.com/kshedden/kmercount/dumper"
	"github.com/kshedden/kmercount/grower"
	"github.com/kshedden/kmercount/hasharray"
	"github.com/kshedden/kmercount/internal/bloomcount"
	"github.com/kshedden/kmercount/merdna"
	"github.com/kshedden/kmercount/streamparser"
	"github.com/kshedden/kmercount/utils"
)

func main() {
	readFileNames := flag.String("ReadFileNames", "", "Comma-separated sequence file paths")
	k := flag.Int("K", 0, "K-mer length")
	canonical := flag.Bool("Canonical", false, "Fold each k-mer to its canonical form")
	ambiguityAsA := flag.Bool("AmbiguityAsA", false, "Map ambiguity codes to 'A' instead of breaking the k-mer window")
	workers := flag.Int("Workers", 8, "Number of counting worker goroutines")
	chunkSize := flag.Int("ChunkSize", 1<<20, "Bytes read per streamparser chunk")
	lsize := flag.Int("LSize", 24, "Initial hash array size is 1<<LSize")
	valueBytes := flag.Int("ValueBytes", 8, "Width, in bytes, of the on-disk count field")
	bloomSize := flag.Uint("BloomSize", 1<<26, "Bloom pre-filter size, in expected distinct k-mers")
	bloomFP := flag.Float64("BloomFP", 0.01, "Bloom pre-filter target false positive rate")
	minDinuc := flag.Int("MinDinuc", 0, "Reject k-mers with fewer than this many distinct dinucleotides (0 disables; low-complexity guard, see utils.CountDinuc)")
	out := flag.String("OutputFileName", "counts.dump", "Path for the sorted dump output")
	flag.Parse()

	if *readFileNames == "" || *k == 0 {
		fmt.Fprintln(os.Stderr, "usage: kmerbloom --ReadFileNames=a.fa,b.fa --K=31 [flags]")
		os.Exit(1)
	}
	readFiles := strings.Split(*readFileNames, ",")

	xuid, err := uuid.NewUUID()
	if err != nil {
		panic(err)
	}
	logDir := path.Join("kmerbloom_logs", xuid.String())
	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		panic(err)
	}
	fid, err := os.Create(path.Join(logDir, "kmerbloom.log"))
	if err != nil {
		panic(err)
	}
	logger := log.New(fid, "", log.Ltime)

	if err := merdna.Init(*k); err != nil {
		logger.Fatalf("merdna.Init: %v", err)
	}

	parser, err := streamparser.Open(readFiles, streamparser.Options{
		ChunkSize:    *chunkSize,
		K:            *k,
		AmbiguityAsA: *ambiguityAsA,
	}, *workers*4)
	if err != nil {
		logger.Fatalf("streamparser.Open: %v", err)
	}

	g, err := grower.New(grower.Config{
		Config: hasharray.Config{
			LSize:       *lsize,
			KeyBits:     merdna.NBits(),
			PrimaryBits: 8,
			LargeBits:   8,
			MaxReprobe:  126,
		},
		OnGrow: func(newLSize int) {
			logger.Printf("grew hash array to LSize=%d", newLSize)
		},
	})
	if err != nil {
		logger.Fatalf("grower.New: %v", err)
	}
	defer g.Close()

	filter := bloomcount.New(*bloomSize, *bloomFP)

	// bloomcount.Filter is not safe for unsynchronized concurrent
	// use (willf/bloom's underlying BitSet isn't), so every worker
	// goroutine in counter.Run serializes through this mutex before
	// consulting or updating it. The real counting table underneath
	// stays lock-free regardless.
	var filterMu sync.Mutex
	shouldCount := func(m merdna.Mer) bool {
		if *minDinuc > 0 {
			wk := make([]int, 25)
			if utils.CountDinuc([]byte(m.String()), wk) < *minDinuc {
				return false
			}
		}
		filterMu.Lock()
		defer filterMu.Unlock()
		return filter.Observe(m)
	}

	logger.Printf("counting k-mers from %v, k=%d (bloom pre-filter, size=%d fp=%g)", readFiles, *k, *bloomSize, *bloomFP)
	start := time.Now()

	stats, err := counter.Run(parser, g, counter.Config{
		Workers:      *workers,
		K:            *k,
		Canonical:    *canonical,
		ProgressEach: 10_000_000,
		Logger:       logger,
		ShouldCount:  shouldCount,
	})
	if err != nil {
		logger.Fatalf("counter.Run: %v", err)
	}
	logger.Printf("counted %d k-mers from %d chunks in %s, bloom fill rate %.4f",
		stats.MersProcessed, stats.ChunksRead, time.Since(start), filter.FillRate())

	if err := dumper.DumpFile(g.Table(), *out, dumper.Options{
		Format:     dumper.FormatBinary,
		Sorted:     true,
		Workers:    *workers,
		ValueBytes: *valueBytes,
	}); err != nil {
		logger.Fatalf("dumper.DumpFile: %v", err)
	}
	logger.Printf("wrote sorted dump to %s", *out)
}
