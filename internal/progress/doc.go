// Package progress provides progress reporting and console output for
// downloads.
//
// This package writes human-readable progress to stderr, including
// completion percentage, query rate, and ETA, and serializes log lines
// from parallel workers through one mutex so output never interleaves.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalRanges: 16 * numPrefixes,
//	    Workers:     threads,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	// Update as ranges complete
//	reporter.RangeCompleted(len(records))
//
// # Output Format
//
//	[hibpdl] Downloading from https://api.pwnedpasswords.com
//	[hibpdl] Ranges: 1.0M | Batch: 64 prefixes | Workers: 8
//	[hibpdl] Progress: 45.2% | 474275/1048576 ranges | 423.7M hashes | 118 ranges/s | ETA: 1h 20m 41s
package progress
