// Copyright 2017, Kerby Shedden and the Muscato contributors.
//
// kmermerge k-way merges sorted kmercount dump files, folding the
// count of every key that appears in more than one file.
//
// When more input files are given than --MaxMergeProcs, kmermerge
// batches them and merges each batch through a scipipe workflow that
// re-invokes this same binary as an external process per batch,
// mirroring the way muscato's own top-level driver
// (muscato/muscato.go's prepReads/sortWindows) wires multi-stage
// external command pipelines through scipipe rather than fanning out
// in-process, then performs one final in-process merge over the
// batch results.
package main

import (
	"fmt"
	"os"
	"path"

	flag "github.com/spf13/pflag"
	"github.com/scipipe/scipipe"

	"github.com/kshedden/kmercount/merdna"
	"github.com/kshedden/kmercount/merger"
)

func main() {
	out := flag.String("o", "", "Output merged dump file")
	foldName := flag.String("fold", "sum", "Fold operation: sum, min, max, or jaccard")
	valueBytes := flag.Int("ValueBytes", 8, "Width, in bytes, of the on-disk count field")
	k := flag.Int("K", 0, "K-mer length (must match the input dump files)")
	maxMergeProcs := flag.Int("MaxMergeProcs", 8, "Batch size before routing through a scipipe fan-in")
	tmpDir := flag.String("TempDir", "", "Directory for intermediate batch merge files")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: kmermerge --o out.dump --K 31 [--fold sum|min|max|jaccard] file1.dump file2.dump ...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		flag.Usage()
		os.Exit(1)
	}
	if *out == "" && *foldName != "jaccard" {
		fmt.Fprintln(os.Stderr, "--o is required unless --fold=jaccard")
		os.Exit(1)
	}
	if *k == 0 {
		fmt.Fprintln(os.Stderr, "--K is required")
		os.Exit(1)
	}
	if err := merdna.Init(*k); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fold, err := parseFold(*foldName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	opts := merger.Options{Fold: fold, ValueBytes: *valueBytes}

	if fold == merger.FoldJaccard {
		res, err := merger.Merge(paths, nil, opts)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("intersection: %d\nunion: %d\njaccard: %f\n", res.Intersection, res.Union, res.Jaccard)
		return
	}

	if len(paths) <= *maxMergeProcs {
		res, err := merger.MergeFiles(paths, *out, opts)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "merged %d files into %s (%d records)\n", len(paths), *out, res.RecordsWritten)
		return
	}

	if err := batchedMerge(paths, *out, *foldName, *valueBytes, *k, *maxMergeProcs, *tmpDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFold(s string) (merger.Fold, error) {
	switch s {
	case "sum":
		return merger.FoldSum, nil
	case "min":
		return merger.FoldMin, nil
	case "max":
		return merger.FoldMax, nil
	case "jaccard":
		return merger.FoldJaccard, nil
	default:
		return 0, fmt.Errorf("unknown fold %q (want sum, min, max, or jaccard)", s)
	}
}

// batchedMerge splits paths into groups of at most maxProcs files,
// merges each group by re-invoking this binary as a scipipe-wired
// external process, then performs one final in-process merge over
// the batch outputs.
func batchedMerge(paths []string, out, foldName string, valueBytes, k, maxProcs int, tmpDir string) error {
	if tmpDir == "" {
		var err error
		tmpDir, err = os.MkdirTemp("", "kmermerge")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmpDir)
	}

	self, err := os.Executable()
	if err != nil {
		return err
	}

	wf := scipipe.NewWorkflow("kmermerge_batches", 4)
	snk := scipipe.NewSink("snk")

	var batchOuts []string
	var procs []*scipipe.Process
	for i := 0; i < len(paths); i += maxProcs {
		end := i + maxProcs
		if end > len(paths) {
			end = len(paths)
		}
		batch := paths[i:end]
		name := fmt.Sprintf("batch_%d", i/maxProcs)
		batchOut := path.Join(tmpDir, name+".dump")
		batchOuts = append(batchOuts, batchOut)

		cmdLine := fmt.Sprintf("%s --o {o:out} --fold %s --K %d --ValueBytes %d", self, foldName, k, valueBytes)
		for _, p := range batch {
			cmdLine += " " + p
		}
		proc := wf.NewProc(name, cmdLine)
		proc.SetPathStatic("out", batchOut)
		snk.Connect(proc.Out("out"))
		procs = append(procs, proc)
	}
	wf.AddProcs(procs...)
	wf.SetDriver(snk)
	wf.Run()

	fold, err := parseFold(foldName)
	if err != nil {
		return err
	}
	res, err := merger.MergeFiles(batchOuts, out, merger.Options{Fold: fold, ValueBytes: valueBytes})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "merged %d batches (%d files total) into %s (%d records)\n",
		len(batchOuts), len(paths), out, res.RecordsWritten)
	return nil
}
