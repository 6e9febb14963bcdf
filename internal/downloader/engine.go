package downloader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/607011/hibpdl/internal/hibp"
	"github.com/607011/hibpdl/internal/progress"
	"github.com/607011/hibpdl/pkg/hashcount"
)

// Key space constants. Outer prefixes are 4 hex digits, each expanding
// to 16 inner 5-digit ranges.
const (
	// MaxPrefix is the exclusive upper bound of the outer prefix space.
	MaxPrefix = 0x10000

	// NibblesPerUnit is the number of inner ranges per outer prefix.
	NibblesPerUnit = 16

	// DefaultStep is the number of outer prefixes per batch.
	DefaultStep = 0x40
)

// recordsPerUnitEstimate sizes worker buffers. A full outer unit holds
// 16 ranges of several hundred records each.
const recordsPerUnitEstimate = 8192

// ErrInvalidRange is returned when an engine is constructed with prefix
// bounds outside the key space.
var ErrInvalidRange = errors.New("downloader: invalid prefix range")

// errStopped aborts a retry wait when the engine is told to stop.
var errStopped = errors.New("downloader: stopped")

// RetryPolicy controls how often a failed range request is retried.
// Attempts <= 0 retries forever.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Options configures an Engine.
type Options struct {
	// Client performs the range requests. A default client is created
	// when nil.
	Client *hibp.Client

	// Capacity is a hint for the expected total record count. When zero
	// it is estimated from the prefix range.
	Capacity int

	// Reporter receives progress events. A silent reporter is used when
	// nil.
	Reporter *progress.Reporter

	// Retry controls retries for failed range requests.
	Retry RetryPolicy
}

// Engine downloads all hash ranges of a half-open outer prefix interval
// and collects the decoded records.
//
// Workers pull outer prefixes from a shared queue and fetch the 16
// inner ranges of each. Decoded records accumulate in a worker-local
// buffer that is merged into the shared collection once per outer
// prefix. The queue lock and the collection lock are never held at the
// same time.
type Engine struct {
	client   *hibp.Client
	reporter *progress.Reporter
	retry    RetryPolicy

	queueMu sync.Mutex
	queue   []int

	collectionMu sync.Mutex
	collection   hashcount.Collection

	skipMu  sync.Mutex
	skipped []string

	stop     atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewEngine creates an engine covering outer prefixes [first, last).
func NewEngine(first, last int, opts Options) (*Engine, error) {
	if first < 0 || first >= last || last > MaxPrefix {
		return nil, fmt.Errorf("%w: [%04x, %04x)", ErrInvalidRange, first, last)
	}

	// Apply defaults
	if opts.Client == nil {
		opts.Client = hibp.NewClient(hibp.DefaultOptions())
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.Discard()
	}
	if opts.Retry.Backoff <= 0 {
		opts.Retry.Backoff = time.Second
	}
	if opts.Retry.MaxBackoff <= 0 {
		opts.Retry.MaxBackoff = 30 * time.Second
	}
	if opts.Capacity <= 0 {
		opts.Capacity = (last - first) * recordsPerUnitEstimate
	}

	queue := make([]int, 0, last-first)
	for p := first; p < last; p++ {
		queue = append(queue, p)
	}

	return &Engine{
		client:     opts.Client,
		reporter:   opts.Reporter,
		retry:      opts.Retry,
		queue:      queue,
		collection: make(hashcount.Collection, 0, opts.Capacity),
		stopCh:     make(chan struct{}),
	}, nil
}

// QueueLen reports how many outer prefixes are still queued.
func (e *Engine) QueueLen() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

// Len reports how many records have been collected so far.
func (e *Engine) Len() int {
	e.collectionMu.Lock()
	defer e.collectionMu.Unlock()
	return len(e.collection)
}

// Stop asks all workers to finish up and exit. Workers observe the flag
// before each dequeue and each inner fetch; requests already in flight
// are never cancelled. Stop is idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stop.Store(true)
		close(e.stopCh)
	})
}

// Stopped reports whether Stop has been called.
func (e *Engine) Stopped() bool {
	return e.stop.Load()
}

// SkippedPrefixes returns the inner prefixes given up on after
// exhausting their retries.
func (e *Engine) SkippedPrefixes() []string {
	e.skipMu.Lock()
	defer e.skipMu.Unlock()
	return slices.Clone(e.skipped)
}

// Finalize sorts the collection by digest and returns it. Call it only
// after all workers have exited.
func (e *Engine) Finalize() hashcount.Collection {
	e.collectionMu.Lock()
	defer e.collectionMu.Unlock()
	e.collection.Sort()
	return e.collection
}

// RunWorker processes queued outer prefixes until the queue is drained,
// Stop is called, or ctx is cancelled. It is safe to call from multiple
// goroutines. When stopped mid-prefix the records fetched so far are
// still merged.
func (e *Engine) RunWorker(ctx context.Context) error {
	for {
		if e.stop.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		unit, ok := e.pop()
		if !ok {
			return nil
		}

		local, stopped := e.fetchUnit(ctx, unit)
		e.merge(local)
		if stopped {
			return ctx.Err()
		}
	}
}

// pop removes the next outer prefix from the queue.
func (e *Engine) pop() (int, bool) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if len(e.queue) == 0 {
		return 0, false
	}
	unit := e.queue[0]
	e.queue = e.queue[1:]
	return unit, true
}

// fetchUnit downloads the 16 inner ranges of one outer prefix into a
// fresh local buffer. It returns early when the engine is stopped, with
// whatever it has fetched so far.
func (e *Engine) fetchUnit(ctx context.Context, unit int) (hashcount.Collection, bool) {
	local := make(hashcount.Collection, 0, recordsPerUnitEstimate)
	for nibble := 0; nibble < NibblesPerUnit; nibble++ {
		if e.stop.Load() || ctx.Err() != nil {
			return local, true
		}

		prefix := fmt.Sprintf("%04X%X", unit, nibble)
		recs, err := e.fetchRange(ctx, prefix)
		if err != nil {
			if errors.Is(err, errStopped) || ctx.Err() != nil {
				return local, true
			}
			e.markSkipped(prefix, err)
			continue
		}
		local = append(local, recs...)
	}
	return local, false
}

// fetchRange fetches one inner range, retrying per the policy.
// Malformed lines inside an otherwise valid body are logged and
// dropped.
func (e *Engine) fetchRange(ctx context.Context, prefix string) (hashcount.Collection, error) {
	e.reporter.RangeStarted()

	for attempt := 1; ; attempt++ {
		recs, err := e.client.Range(ctx, prefix)
		if err != nil && errors.Is(err, hibp.ErrMalformedLine) {
			e.reporter.Warnf("range %s: %v", prefix, err)
			err = nil
		}
		if err == nil {
			e.reporter.RangeCompleted(len(recs))
			return recs, nil
		}

		e.reporter.AttemptFailed()
		e.reporter.Verbosef(1, "range %s attempt %d: %v", prefix, attempt, err)

		if e.retry.Attempts > 0 && attempt >= e.retry.Attempts {
			return nil, err
		}
		if err := e.backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// backoff waits for an exponentially increasing duration with jitter.
func (e *Engine) backoff(ctx context.Context, attempt int) error {
	backoff := e.retry.Backoff * time.Duration(1<<uint(min(attempt-1, 30)))
	if backoff > e.retry.MaxBackoff {
		backoff = e.retry.MaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return errStopped
	case <-time.After(jitter):
		return nil
	}
}

// merge appends a worker-local buffer to the shared collection.
func (e *Engine) merge(local hashcount.Collection) {
	if len(local) == 0 {
		return
	}
	e.collectionMu.Lock()
	e.collection = append(e.collection, local...)
	e.collectionMu.Unlock()
}

func (e *Engine) markSkipped(prefix string, err error) {
	e.skipMu.Lock()
	e.skipped = append(e.skipped, prefix)
	e.skipMu.Unlock()
	e.reporter.RangeSkipped()
	e.reporter.Errorf("giving up on range %s: %v", prefix, err)
}
