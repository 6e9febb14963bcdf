// Package downloader orchestrates parallel downloads of password hash
// ranges.
//
// This package coordinates between the hibp client and the output file.
// An Engine covers one half-open interval of outer 4-digit prefixes;
// workers pull prefixes from its queue, fetch the 16 inner ranges of
// each, and merge the decoded records into a shared collection. Run
// drives a sequence of engines, one per batch, flushing and
// checkpointing between them.
//
// # Usage
//
// The main entry point is the Run function:
//
//	err := downloader.Run(ctx, downloader.RunOptions{
//	    Output:  "hash+count.bin",
//	    First:   0x0000,
//	    Last:    0x10000,
//	    Step:    0x40,
//	    Threads: 16,
//	    State:   store,
//	})
//
// # Worker Pool
//
// Workers pop outer prefixes from a mutex-protected queue and buffer
// decoded records locally, so the shared collection lock is taken once
// per outer prefix rather than once per record. Failed range requests
// are retried with exponential backoff.
//
// # Graceful Shutdown
//
// On SIGINT/SIGTERM:
//   - Stop() is raised; workers check it before each dequeue and fetch
//   - Requests already in flight run to completion
//   - The interrupted batch is discarded; the checkpoint still names its
//     start, so a rerun repeats only that batch
package downloader
