// Copyright 2017, Kerby Shedden and the Muscato contributors.
//
// kmercount counts every k-mer of a fixed length appearing in one or
// more FASTA/FASTQ sequence files into a lock-free hash array, then
// writes a sorted binary dump of the result.
//
// kmercount can be invoked either using a configuration file in JSON
// or TOML format, or using command-line flags.  A typical invocation
// using flags is:
//
// kmercount --ReadFileNames=reads.fa --K=31 --Canonical --Workers=8 --OutputFileName=counts.dump
//
// To use a config file:
//
// kmercount --ConfigFileName=config.json
//
// See utils/config.go for the full set of configuration parameters.
package main

import (
	"log"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/kshedden/kmercount/counter"
	"github.com/kshedden/kmercount/dumper"
	"github.com/kshedden/kmercount/grower"
	"github.com/kshedden/kmercount/hasharray"
	"github.com/kshedden/kmercount/merdna"
	"github.com/kshedden/kmercount/streamparser"
	"github.com/kshedden/kmercount/utils"
	"github.com/pkg/profile"
)

var (
	logger     *log.Logger
	config     *utils.Config
	dumpStdout *bool
)

func handleArgs() {

	ConfigFileName := flag.String("ConfigFileName", "", "JSON or TOML file containing configuration parameters")
	ReadFileNames := flag.String("ReadFileNames", "", "Comma-separated sequence file paths")
	K := flag.Int("K", 0, "K-mer length")
	Canonical := flag.Bool("Canonical", false, "Fold each k-mer to its canonical (lexicographic min) form")
	AmbiguityAsA := flag.Bool("AmbiguityAsA", false, "Map ambiguity codes to 'A' instead of breaking the k-mer window")
	LSize := flag.Int("LSize", 0, "Initial hash array size is 1<<LSize")
	PrimaryBits := flag.Int("PrimaryBits", 0, "Width of the in-cell primary counter, in bits")
	LargeBits := flag.Int("LargeBits", 0, "Width of each large-value continuation cell, in bits")
	MaxReprobe := flag.Int("MaxReprobe", 0, "Length of the quadratic reprobe sequence")
	GrowMax := flag.Int("GrowMax", 0, "Maximum number of table doublings (0 = unbounded)")
	Workers := flag.Int("Workers", 0, "Number of counting worker goroutines")
	ChunkSize := flag.Int("ChunkSize", 0, "Bytes read per streamparser chunk")
	OutputFileName := flag.String("OutputFileName", "", "Path for the sorted dump output")
	ValueBytes := flag.Int("ValueBytes", 0, "Width, in bytes, of the on-disk count field")
	NoCleanTmp := flag.Bool("NoCleanTmp", false, "Do not delete temporary files on completion")
	CPUProfile := flag.Bool("CPUProfile", false, "Capture CPU profile data")
	dumpStdout = flag.Bool("dump-stdout", false, "Write the text-format dump to stdout instead of OutputFileName")

	flag.Parse()

	if *ConfigFileName != "" {
		if strings.HasSuffix(*ConfigFileName, ".toml") {
			config = utils.ReadTomlConfig(*ConfigFileName)
		} else {
			config = utils.ReadConfig(*ConfigFileName)
		}
	} else {
		config = new(utils.Config)
	}

	if *ReadFileNames != "" {
		config.ReadFileNames = strings.Split(*ReadFileNames, ",")
	}
	if *K != 0 {
		config.K = *K
	}
	if *Canonical {
		config.Canonical = true
	}
	if *AmbiguityAsA {
		config.AmbiguityAsA = true
	}
	if *LSize != 0 {
		config.LSize = *LSize
	}
	if *PrimaryBits != 0 {
		config.PrimaryBits = *PrimaryBits
	}
	if *LargeBits != 0 {
		config.LargeBits = *LargeBits
	}
	if *MaxReprobe != 0 {
		config.MaxReprobe = *MaxReprobe
	}
	if *GrowMax != 0 {
		config.GrowMax = *GrowMax
	}
	if *Workers != 0 {
		config.Workers = *Workers
	}
	if *ChunkSize != 0 {
		config.ChunkSize = *ChunkSize
	}
	if *OutputFileName != "" {
		config.OutputFileName = *OutputFileName
	}
	if *ValueBytes != 0 {
		config.ValueBytes = *ValueBytes
	}
	if *NoCleanTmp {
		config.NoCleanTmp = true
	}
	if *CPUProfile {
		config.CPUProfile = true
	}
}

func checkArgs() {
	if len(config.ReadFileNames) == 0 {
		os.Stderr.WriteString("\nReadFileNames not provided, run 'kmercount --help' for more information.\n\n")
		os.Exit(1)
	}
	if config.K == 0 {
		os.Stderr.WriteString("\nK not provided, run 'kmercount --help' for more information.\n\n")
		os.Exit(1)
	}
	if config.LSize == 0 {
		config.LSize = 24
	}
	if config.PrimaryBits == 0 {
		config.PrimaryBits = 8
	}
	if config.LargeBits == 0 {
		config.LargeBits = 8
	}
	if config.MaxReprobe == 0 {
		config.MaxReprobe = 126
	}
	if config.Workers == 0 {
		config.Workers = 8
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 1 << 20
	}
	if config.ValueBytes == 0 {
		config.ValueBytes = 8
	}
	if config.OutputFileName == "" && !*dumpStdout {
		config.OutputFileName = "counts.dump"
		os.Stderr.WriteString("OutputFileName not specified, defaulting to 'counts.dump'\n")
	}
}

func setupLog(uid string) {
	if config.LogDir == "" {
		config.LogDir = "kmercount_logs"
	}
	dir := path.Join(config.LogDir, uid)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		panic(err)
	}
	fid, err := os.Create(path.Join(dir, "kmercount.log"))
	if err != nil {
		panic(err)
	}
	logger = log.New(fid, "", log.Ltime)
}

func makeTemp(uid string) {
	if config.TempDir == "" {
		config.TempDir = path.Join("kmercount_tmp", uid)
	} else {
		config.TempDir = path.Join(config.TempDir, uid)
	}
	if err := os.MkdirAll(config.TempDir, os.ModePerm); err != nil {
		panic(err)
	}
}

func cleanTmp() {
	if config.NoCleanTmp {
		return
	}
	if err := os.RemoveAll(config.TempDir); err != nil {
		logger.Printf("cleanTmp: %v", err)
	}
}

func main() {
	handleArgs()
	checkArgs()

	xuid, err := uuid.NewUUID()
	if err != nil {
		panic(err)
	}
	uid := xuid.String()
	setupLog(uid)
	makeTemp(uid)
	defer cleanTmp()

	if config.CPUProfile {
		p := profile.Start(profile.ProfilePath(config.TempDir))
		defer p.Stop()
	}

	if err := merdna.Init(config.K); err != nil {
		logger.Fatalf("merdna.Init: %v", err)
	}

	logger.Printf("counting k-mers from %v, k=%d", config.ReadFileNames, config.K)
	start := time.Now()

	parser, err := streamparser.Open(config.ReadFileNames, streamparser.Options{
		ChunkSize:    config.ChunkSize,
		K:            config.K,
		AmbiguityAsA: config.AmbiguityAsA,
	}, config.Workers*4)
	if err != nil {
		logger.Fatalf("streamparser.Open: %v", err)
	}

	g, err := grower.New(grower.Config{
		Config: hasharray.Config{
			LSize:       config.LSize,
			KeyBits:     merdna.NBits(),
			PrimaryBits: config.PrimaryBits,
			LargeBits:   config.LargeBits,
			MaxReprobe:  config.MaxReprobe,
		},
		GrowMax: config.GrowMax,
		OnGrow: func(newLSize int) {
			logger.Printf("grew hash array to LSize=%d", newLSize)
		},
	})
	if err != nil {
		logger.Fatalf("grower.New: %v", err)
	}
	defer g.Close()

	stats, err := counter.Run(parser, g, counter.Config{
		Workers:      config.Workers,
		K:            config.K,
		Canonical:    config.Canonical,
		ProgressEach: 10_000_000,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("counter.Run: %v", err)
	}
	logger.Printf("counted %d k-mers from %d chunks in %s", stats.MersProcessed, stats.ChunksRead, time.Since(start))

	if *dumpStdout {
		if err := dumper.Dump(g.Table(), os.Stdout, dumper.Options{
			Format:     dumper.FormatText,
			Sorted:     true,
			Workers:    config.Workers,
			ValueBytes: config.ValueBytes,
			Min:        config.MinCount,
			Max:        config.MaxCount,
		}); err != nil {
			logger.Fatalf("dumper.Dump: %v", err)
		}
		return
	}

	if err := dumper.DumpFile(g.Table(), config.OutputFileName, dumper.Options{
		Format:     dumper.FormatBinary,
		Sorted:     true,
		Workers:    config.Workers,
		ValueBytes: config.ValueBytes,
		Min:        config.MinCount,
		Max:        config.MaxCount,
	}); err != nil {
		logger.Fatalf("dumper.DumpFile: %v", err)
	}
	logger.Printf("wrote sorted dump to %s", config.OutputFileName)
}
