package downloader

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/607011/hibpdl/internal/hibp"
	"github.com/607011/hibpdl/internal/progress"
	"github.com/607011/hibpdl/internal/state"
	"github.com/607011/hibpdl/pkg/hashcount"
)

// RunOptions configures a batched download run.
type RunOptions struct {
	// Output is the path records are appended to.
	Output string

	// First and Last bound the outer prefixes to download, Last
	// exclusive.
	First, Last int

	// Step is the number of outer prefixes per batch. Each batch is
	// sorted and flushed to Output before the next one starts.
	Step int

	// Threads caps the worker count per batch. The actual count is the
	// smaller of Threads and the batch queue length.
	Threads int

	// Client performs the range requests.
	Client *hibp.Client

	// Reporter receives progress events.
	Reporter *progress.Reporter

	// Retry controls retries for failed range requests.
	Retry RetryPolicy

	// State persists the resume checkpoint after each batch. Optional.
	State *state.Store
}

// Run downloads outer prefixes [First, Last) in batches of Step,
// appending each sorted batch to Output and checkpointing after every
// flush. When ctx is cancelled the current batch is discarded and the
// checkpoint still names its start, so a rerun repeats only that batch.
func Run(ctx context.Context, opts RunOptions) error {
	// Apply defaults
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}
	if opts.Threads <= 0 {
		opts.Threads = max(runtime.NumCPU(), 4)
	}
	if opts.Client == nil {
		opts.Client = hibp.NewClient(hibp.DefaultOptions())
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.Discard()
	}
	if opts.First < 0 || opts.First >= opts.Last || opts.Last > MaxPrefix {
		return fmt.Errorf("%w: [%04x, %04x)", ErrInvalidRange, opts.First, opts.Last)
	}

	for start := opts.First; start < opts.Last; start += opts.Step {
		end := min(start+opts.Step, opts.Last)
		if err := runBatch(ctx, start, end, opts); err != nil {
			return err
		}
	}

	// A leftover checkpoint would make the next invocation resume past
	// the end instead of starting over.
	if opts.State != nil {
		if err := opts.State.ClearCheckpoint(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("clear checkpoint: %w", err)
		}
	}

	return nil
}

// runBatch downloads one batch with a fresh engine, flushes it to the
// output file, and advances the checkpoint.
func runBatch(ctx context.Context, start, end int, opts RunOptions) error {
	eng, err := NewEngine(start, end, Options{
		Client:   opts.Client,
		Reporter: opts.Reporter,
		Retry:    opts.Retry,
	})
	if err != nil {
		return err
	}

	opts.Reporter.Verbosef(1, "fetching hashes in [%04x0, %04xf]", start, end-1)

	// Translate context cancellation into a cooperative stop so that
	// requests in flight can finish.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			eng.Stop()
		case <-watchDone:
		}
	}()

	workers := min(opts.Threads, eng.QueueLen())
	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return eng.RunWorker(ctx)
		})
	}
	werr := g.Wait()
	close(watchDone)

	if cerr := ctx.Err(); cerr != nil {
		// Discard the partial batch. The checkpoint was last advanced
		// at this batch's start, so a rerun repeats it from scratch.
		return cerr
	}
	if werr != nil {
		return werr
	}

	recs := eng.Finalize()
	opts.Reporter.Verbosef(1, "writing %d records to %s", len(recs), opts.Output)
	if err := appendRecords(opts.Output, recs); err != nil {
		return fmt.Errorf("flush batch %04x-%04x: %w", start, end, err)
	}

	if opts.State != nil {
		cp := state.Checkpoint{Start: start, End: end, OutputPath: opts.Output}
		// The batch is already on disk; failing to record that would
		// duplicate it on the next run.
		if err := opts.State.SaveCheckpoint(context.WithoutCancel(ctx), cp); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}

	return nil
}

// appendRecords appends a batch to the output file, creating it when
// missing.
func appendRecords(path string, recs hashcount.Collection) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := recs.WriteTo(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
