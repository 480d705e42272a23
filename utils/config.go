// Copyright 2017, Kerby Shedden and the Muscato contributors.

package utils

import (
	"encoding/json"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds every parameter the kmercount tool family reads, the
// same way utils.Config served muscato: one struct, loadable from a
// file and overridable field-by-field from CLI flags.
type Config struct {

	// The sequence file(s) to count k-mers from (uncompressed FASTA
	// or FASTQ).
	ReadFileNames []string

	// K-mer length.
	K int

	// If true, each k-mer is folded to the lexicographic minimum
	// of itself and its reverse complement before counting.
	Canonical bool

	// If true, ambiguity codes (R/Y/S/W/K/M/B/D/H/V) are mapped to
	// 'A' instead of breaking the current k-mer window.
	AmbiguityAsA bool

	// Initial hash array size is 1<<LSize.
	LSize int

	// Width of the in-cell primary counter, in bits.
	PrimaryBits int

	// Width of each "large value" continuation cell, in bits.
	LargeBits int

	// Length of the quadratic reprobe sequence.
	MaxReprobe int

	// Maximum number of in-place table doublings before Add
	// returns ErrCapacity; 0 means unbounded.
	GrowMax int

	// Number of counting worker goroutines.
	Workers int

	// Number of bytes to read per streamparser chunk.
	ChunkSize int

	// The file path where the sorted dump is written.
	OutputFileName string

	// Width, in bytes, of the on-disk count field.
	ValueBytes int

	// Only dump k-mers with count in [MinCount, MaxCount].
	MinCount uint64
	MaxCount uint64

	// Use this location to place temporary files.  If blank, a
	// temporary directory is generated of the form
	// kmercount_tmp/###### in the local directory.
	TempDir string

	// The directory where log files are written.  By default logs
	// are placed into kmercount_logs/###### in the local directory.
	LogDir string

	// If true, temporary files are not removed upon program
	// completion.
	NoCleanTmp bool

	// If true, a CPU profile is captured for the run.
	CPUProfile bool

	// Bloom pre-filter size and false positive rate. cmd/kmercount
	// does not read these fields; cmd/kmerbloom takes the same
	// settings as its own --BloomSize/--BloomFP flags.
	BloomSize uint
	BloomFP   float64
}

// ReadConfig loads a JSON configuration file, matching
// muscato's own utils.ReadConfig.
func ReadConfig(filename string) *Config {
	fid, err := os.Open(filename)
	if err != nil {
		panic(err)
	}
	defer fid.Close()
	dec := json.NewDecoder(fid)
	config := new(Config)
	if err := dec.Decode(config); err != nil {
		panic(err)
	}
	return config
}

// ReadTomlConfig loads a TOML configuration file, an alternate to
// ReadConfig for users who prefer TOML's more readable syntax for
// hand-edited config files.
func ReadTomlConfig(filename string) *Config {
	config := new(Config)
	if _, err := toml.DecodeFile(filename, config); err != nil {
		panic(err)
	}
	return config
}
