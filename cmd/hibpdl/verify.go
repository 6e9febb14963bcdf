package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/607011/hibpdl/internal/progress"
	"github.com/607011/hibpdl/pkg/hashcount"
)

// runVerify reads a downloaded hash file back and reports whether it is
// intact: a whole number of records, plus aggregate statistics and a
// content digest for comparing copies.
func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)

	input := fs.String("input", "", "Hash file to verify")
	quiet := fs.Bool("q", false, "Only report problems")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: hibpdl verify [options] [file]

Read a downloaded hash file back and check it for truncation. Prints
record and prevalence totals, the number of sorted batches, and an
XXH64 digest of the file contents.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *input == "" && fs.NArg() == 1 {
		*input = fs.Arg(0)
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "Error: no input file given")
		fs.Usage()
		return ExitInvalidArgs
	}

	f, err := os.Open(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	if spare := info.Size() % hashcount.RecordSize; spare != 0 {
		fmt.Fprintf(os.Stderr, "Error: %s is truncated, %d spare bytes after %d whole records\n",
			*input, spare, info.Size()/hashcount.RecordSize)
		return ExitGeneralError
	}

	digest := xxhash.New()
	r := io.TeeReader(bufio.NewReaderSize(f, 1<<20), digest)

	var (
		records int64
		total   uint64
		breaks  int
		top     hashcount.Record
		prev    hashcount.Record
	)
	for {
		rec, rerr := hashcount.ReadRecord(r)
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			fmt.Fprintf(os.Stderr, "Error reading record %d: %v\n", records, rerr)
			return ExitGeneralError
		}
		if records > 0 && rec.Digest.Compare(prev.Digest) < 0 {
			breaks++
		}
		if rec.Count > top.Count {
			top = rec
		}
		total += uint64(rec.Count)
		prev = rec
		records++
	}

	if *quiet {
		return ExitSuccess
	}

	// Runs are appended batch by batch, each sorted on its own. A drop
	// in digest order marks a batch boundary.
	batches := 0
	if records > 0 {
		batches = breaks + 1
	}
	fmt.Printf("%s\n", *input)
	fmt.Printf("  Records:    %s\n", progress.FormatCount(records))
	fmt.Printf("  Prevalence: %d\n", total)
	fmt.Printf("  Batches:    %d, each sorted ascending\n", batches)
	if records > 0 {
		fmt.Printf("  Top count:  %d (%s)\n", top.Count, top.Digest)
	}
	fmt.Printf("  XXH64:      %016x\n", digest.Sum64())
	return ExitSuccess
}
