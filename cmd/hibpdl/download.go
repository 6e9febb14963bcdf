package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/607011/hibpdl/internal/config"
	"github.com/607011/hibpdl/internal/downloader"
	"github.com/607011/hibpdl/internal/hibp"
	"github.com/607011/hibpdl/internal/progress"
	"github.com/607011/hibpdl/internal/state"
)

func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)

	var (
		output          string
		threads         int
		firstPrefix     string
		lastPrefix      string
		prefixStep      string
		yes             bool
		quiet           bool
		verbose         bool
		veryVerbose     bool
		configPath      string
		stateURL        string
		baseURL         string
		userAgent       string
		retryAttempts   int
		retryBackoff    time.Duration
		retryMaxBackoff time.Duration
		restart         bool
	)

	fs.StringVar(&output, "output", "", "Write hashes to this file (default: hash+count.bin)")
	fs.StringVar(&output, "o", "", "Shorthand for -output")
	fs.IntVar(&threads, "threads", 0, "Number of download threads (default: number of CPUs, at least 4)")
	fs.IntVar(&threads, "t", 0, "Shorthand for -threads")
	fs.StringVar(&firstPrefix, "first-prefix", "", "Begin at this 4-digit hex prefix")
	fs.StringVar(&firstPrefix, "P", "", "Shorthand for -first-prefix")
	fs.StringVar(&lastPrefix, "last-prefix", "", "Stop before this 4-digit hex prefix, exclusive")
	fs.StringVar(&lastPrefix, "L", "", "Shorthand for -last-prefix")
	fs.StringVar(&prefixStep, "prefix-step", "", "Flush to disk after this many prefixes, a hex value (default: 0040)")
	fs.StringVar(&prefixStep, "S", "", "Shorthand for -prefix-step")
	fs.BoolVar(&yes, "yes", false, "Assume YES for every question")
	fs.BoolVar(&yes, "y", false, "Shorthand for -yes")
	fs.BoolVar(&quiet, "quiet", false, "Don't display the progress indicator")
	fs.BoolVar(&quiet, "q", false, "Shorthand for -quiet")
	fs.BoolVar(&verbose, "v", false, "Increase verbosity")
	fs.BoolVar(&veryVerbose, "vv", false, "Increase verbosity even more")
	fs.StringVar(&configPath, "config", "", "Config file path (default: ~/.hibpdl/config.yaml)")
	fs.StringVar(&stateURL, "state-url", "", "Bucket URL for checkpoint and lock state, e.g. s3://bucket/prefix (default: files in ~/.hibpdl)")
	fs.StringVar(&baseURL, "base-url", "", "Range API base URL (default: https://api.pwnedpasswords.com)")
	fs.StringVar(&userAgent, "user-agent", "", "User-Agent header value (default: hibpdl/"+version+")")
	fs.IntVar(&retryAttempts, "retry-attempts", 0, "Give up on a range after this many attempts, 0 retries forever")
	fs.DurationVar(&retryBackoff, "retry-backoff", 0, "Initial delay between retries (default: 1s)")
	fs.DurationVar(&retryMaxBackoff, "retry-max-backoff", 0, "Upper bound for the retry delay (default: 30s)")
	fs.BoolVar(&restart, "restart", false, "Discard any checkpoint and previous output, start over")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: hibpdl [download] [options]

Fetch all SHA-1 password hash ranges and append them to a binary output
file, 24 bytes per record: the 20-byte hash followed by its prevalence
count as a big-endian 32-bit integer. Interrupted downloads resume from
a checkpoint on the next run.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	// Resolution order: defaults, config file, environment, flags.
	cfg := config.Default()

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if loaded, err := config.LoadFromFile(path); err == nil {
		cfg = loaded
	} else if configPath != "" || !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	var flagErr error
	firstSet := false
	fs.Visit(func(f *flag.Flag) {
		var err error
		switch f.Name {
		case "o", "output":
			cfg.Output = output
		case "t", "threads":
			cfg.Threads = threads
		case "P", "first-prefix":
			cfg.FirstPrefix, err = config.ParsePrefix(firstPrefix)
			firstSet = true
		case "L", "last-prefix":
			cfg.LastPrefix, err = config.ParsePrefix(lastPrefix)
		case "S", "prefix-step":
			cfg.PrefixStep, err = config.ParsePrefix(prefixStep)
		case "base-url":
			cfg.BaseURL = baseURL
		case "user-agent":
			cfg.UserAgent = userAgent
		case "state-url":
			cfg.StateURL = stateURL
		case "q", "quiet":
			cfg.Quiet = quiet
		case "retry-attempts":
			cfg.Retry.Attempts = retryAttempts
		case "retry-backoff":
			cfg.Retry.Backoff = retryBackoff
		case "retry-max-backoff":
			cfg.Retry.MaxBackoff = retryMaxBackoff
		}
		if err != nil && flagErr == nil {
			flagErr = fmt.Errorf("-%s: %w", f.Name, err)
		}
	})
	if flagErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", flagErr)
		return ExitInvalidArgs
	}
	if verbose {
		cfg.Verbosity++
	}
	if veryVerbose {
		cfg.Verbosity += 2
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store *state.Store
	var err error
	if cfg.StateURL != "" {
		store, err = state.Open(ctx, cfg.StateURL)
	} else {
		store, err = state.OpenDir(cfg.StateDir)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer store.Close()

	// A leftover lock means another instance is running, or a previous one
	// died without cleaning up. -yes does not bypass this question.
	if owner, lerr := store.ReadLock(ctx); lerr == nil {
		fmt.Printf("WARNING: found a lock left behind by process %s.\n"+
			"Another hibpdl instance may still be running. If you are sure\n"+
			"it is not, the lock is safe to remove.\n\n", owner)
		if !confirm("Remove the lock and proceed?") {
			return ExitLocked
		}
		if err := store.RemoveLock(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
	} else if !errors.Is(lerr, state.ErrNoLock) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", lerr)
		return ExitStorageError
	}

	if err := store.WriteLock(ctx, os.Getpid()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer store.RemoveLock(context.Background())

	first := cfg.FirstPrefix
	resumed := false

	if restart {
		if err := store.ClearCheckpoint(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		if err := os.Remove(cfg.Output); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Error removing %s: %v\n", cfg.Output, err)
			return ExitGeneralError
		}
	} else if cp, cerr := store.LoadCheckpoint(ctx); cerr == nil {
		if _, serr := os.Stat(cp.OutputPath); serr != nil {
			// The file the checkpoint refers to is gone, so the
			// checkpoint is useless.
			if err := store.ClearCheckpoint(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return ExitStorageError
			}
		} else if firstSet {
			// An explicit -first-prefix wins over the checkpoint.
		} else {
			answer := "y"
			if !yes {
				answer = promptCheckpoint(cp)
			}
			switch answer {
			case "y", "yes", "":
				first = cp.End
				resumed = true
			case "r":
				if err := store.ClearCheckpoint(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					return ExitStorageError
				}
				if err := os.Remove(cp.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
					fmt.Fprintf(os.Stderr, "Error removing %s: %v\n", cp.OutputPath, err)
					return ExitGeneralError
				}
			case "q":
				return ExitSuccess
			default:
				v, perr := config.ParsePrefix(answer)
				if perr != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", perr)
					return ExitInvalidArgs
				}
				first = v
				resumed = true
			}
		}
	} else if errors.Is(cerr, state.ErrCorruptCheckpoint) {
		fmt.Fprintln(os.Stderr, "[hibpdl] Ignoring corrupt checkpoint")
		if err := store.ClearCheckpoint(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
	} else if !errors.Is(cerr, state.ErrNoCheckpoint) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cerr)
		return ExitStorageError
	}

	if first >= cfg.LastPrefix {
		if err := store.ClearCheckpoint(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		fmt.Println("[hibpdl] Nothing to do, all ranges are already downloaded")
		return ExitSuccess
	}

	// A fresh download into an existing file would mix old and new
	// records. With -yes the run appends without asking.
	if !resumed && !yes {
		if _, serr := os.Stat(cfg.Output); serr == nil {
			if !confirm(fmt.Sprintf("The output file %s already exists.\nDo you want to overwrite it?", cfg.Output)) {
				return ExitSuccess
			}
			if err := os.Remove(cfg.Output); err != nil {
				fmt.Fprintf(os.Stderr, "Error removing %s: %v\n", cfg.Output, err)
				return ExitGeneralError
			}
		}
	}

	if first != 0 {
		fmt.Printf("[hibpdl] OK, continuing from %04x\n", first)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[hibpdl] Received interrupt, shutting down...")
		cancel()
	}()

	ua := cfg.UserAgent
	if ua == "" {
		ua = "hibpdl/" + version
	}
	client := hibp.NewClient(hibp.Options{
		BaseURL:             cfg.BaseURL,
		UserAgent:           ua,
		MaxIdleConnsPerHost: cfg.Threads * 2,
	})

	reporter := progress.NewReporter(progress.Options{
		TotalRanges: (cfg.LastPrefix - first) * downloader.NibblesPerUnit,
		Workers:     cfg.Threads,
		BatchSize:   cfg.PrefixStep,
		SourceURL:   cfg.BaseURL,
		Verbosity:   cfg.Verbosity,
		Quiet:       cfg.Quiet,
	})
	reporter.Start()

	err = downloader.Run(ctx, downloader.RunOptions{
		Output:   cfg.Output,
		First:    first,
		Last:     cfg.LastPrefix,
		Step:     cfg.PrefixStep,
		Threads:  cfg.Threads,
		Client:   client,
		Reporter: reporter,
		Retry: downloader.RetryPolicy{
			Attempts:   cfg.Retry.Attempts,
			Backoff:    cfg.Retry.Backoff,
			MaxBackoff: cfg.Retry.MaxBackoff,
		},
		State: store,
	})
	reporter.Stop()

	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "[hibpdl] Download interrupted, run again to resume from the checkpoint")
			return ExitInterrupted
		}
		if errors.Is(err, downloader.ErrInvalidRange) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	fmt.Fprintf(os.Stderr, "[hibpdl] Download complete: %s\n", cfg.Output)
	return ExitSuccess
}

// promptCheckpoint asks what to do about a checkpoint from a previous run
// and returns the trimmed, lowercased answer.
func promptCheckpoint(cp state.Checkpoint) string {
	fmt.Printf(`Found a checkpoint stating that the last saved block ranges
from %04x to %04x and was written to %s.

Do you want to continue from %04x?

  (y) to continue from the checkpoint
  (r) to start over from the beginning
  (q) to quit

  or type a 4-digit hex number to continue from there.

[y/r/q/number]? `, cp.Start, cp.End, cp.OutputPath, cp.End)

	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(response))
}

// confirm asks a yes/no question on stdin. Anything but an explicit yes
// counts as no.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
