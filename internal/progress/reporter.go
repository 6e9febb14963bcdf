package progress

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// TotalRanges is the number of 5-character hash ranges the run will
	// query.
	TotalRanges int

	// Workers is the number of parallel workers.
	Workers int

	// BatchSize is the number of 4-character prefixes per batch (for
	// display).
	BatchSize int

	// SourceURL is the API endpoint being queried (for display).
	SourceURL string

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to redraw the progress line.
	// Default: 500ms
	UpdateInterval time.Duration

	// Verbosity gates Verbosef output.
	Verbosity int

	// Quiet suppresses everything except Errorf lines.
	Quiet bool
}

// Reporter outputs human-readable progress information and serializes
// console lines so parallel workers never interleave.
type Reporter struct {
	opts Options

	mu      sync.Mutex
	started bool
	stopped bool

	rangesDone atomic.Int64
	records    atomic.Int64
	failures   atomic.Int64
	skipped    atomic.Int64
	inFlight   atomic.Int32

	startTime  time.Time
	lastUpdate time.Time
	lastDone   int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Discard returns a reporter that swallows all output. Useful as a default
// when no reporting is wanted.
func Discard() *Reporter {
	return NewReporter(Options{Output: io.Discard, Quiet: true})
}

// Start prints the header and begins redrawing the progress line.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	if !r.opts.Quiet {
		fmt.Fprintf(r.opts.Output, "[hibpdl] Downloading from %s\n", r.opts.SourceURL)
		fmt.Fprintf(r.opts.Output, "[hibpdl] Ranges: %s | Batch: %d prefixes | Workers: %d\n",
			FormatCount(int64(r.opts.TotalRanges)),
			r.opts.BatchSize,
			r.opts.Workers,
		)
	}

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final summary. It waits
// for the update loop to finish so the summary is complete when Stop
// returns.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// RangeStarted marks a range request as in flight.
func (r *Reporter) RangeStarted() {
	r.inFlight.Add(1)
}

// RangeCompleted marks a range as decoded, adding its record count.
func (r *Reporter) RangeCompleted(records int) {
	r.records.Add(int64(records))
	r.rangesDone.Add(1)
	r.inFlight.Add(-1)
}

// AttemptFailed counts one failed fetch attempt. The range stays in flight
// while its retry loop runs.
func (r *Reporter) AttemptFailed() {
	r.failures.Add(1)
}

// RangeSkipped marks a range as abandoned after retry exhaustion.
func (r *Reporter) RangeSkipped() {
	r.skipped.Add(1)
	r.rangesDone.Add(1)
	r.inFlight.Add(-1)
}

// Logf prints an informational line unless the reporter is quiet.
func (r *Reporter) Logf(format string, args ...any) {
	if r.opts.Quiet {
		return
	}
	r.printLine("[hibpdl] " + fmt.Sprintf(format, args...))
}

// Verbosef prints an informational line when verbosity is at least level.
func (r *Reporter) Verbosef(level int, format string, args ...any) {
	if r.opts.Quiet || r.opts.Verbosity < level {
		return
	}
	r.printLine("[hibpdl] " + fmt.Sprintf(format, args...))
}

// Warnf prints a warning line unless the reporter is quiet.
func (r *Reporter) Warnf(format string, args ...any) {
	if r.opts.Quiet {
		return
	}
	r.printLine("[hibpdl] WARNING: " + fmt.Sprintf(format, args...))
}

// Errorf prints an error line, quiet or not.
func (r *Reporter) Errorf(format string, args ...any) {
	r.printLine("[hibpdl] ERROR: " + fmt.Sprintf(format, args...))
}

// printLine replaces any active progress line with a full console line.
func (r *Reporter) printLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.opts.Output, "\r%s    \n", line)
}

// updateLoop periodically redraws the progress line.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress redraws the current progress line.
func (r *Reporter) printProgress() {
	if r.opts.Quiet {
		return
	}

	now := time.Now()
	done := r.rangesDone.Load()
	records := r.records.Load()

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(done-r.lastDone) / elapsed

	r.lastUpdate = now
	r.lastDone = done

	var percent float64
	eta := "calculating..."
	if r.opts.TotalRanges > 0 {
		percent = float64(done) / float64(r.opts.TotalRanges) * 100
		if speed > 0 {
			remaining := float64(int64(r.opts.TotalRanges) - done)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		}
	}

	r.mu.Lock()
	fmt.Fprintf(r.opts.Output, "\r[hibpdl] Progress: %.1f%% | %d/%d ranges | %s hashes | %.0f ranges/s | ETA: %s    ",
		percent,
		done,
		r.opts.TotalRanges,
		FormatCount(records),
		speed,
		eta,
	)
	r.mu.Unlock()
}

// printFinalStatus prints the run summary.
func (r *Reporter) printFinalStatus() {
	if r.opts.Quiet {
		return
	}

	done := r.rangesDone.Load()
	records := r.records.Load()
	duration := time.Since(r.startTime)
	speed := float64(done) / max(duration.Seconds(), 0.1)

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.opts.Output, "\r[hibpdl] Finished: %d ranges | %s hashes | Total time: %s | Average: %.0f ranges/s    \n",
		done,
		FormatCount(records),
		formatDuration(duration),
		speed,
	)
	if failures, skipped := r.failures.Load(), r.skipped.Load(); failures > 0 || skipped > 0 {
		fmt.Fprintf(r.opts.Output, "[hibpdl] Failed attempts: %d | Skipped ranges: %d\n", failures, skipped)
	}
}

// FormatCount formats a count as a human-readable string.
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 10_000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	default:
		return strconv.FormatInt(n, 10)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
