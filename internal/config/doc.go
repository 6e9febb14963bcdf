// Package config defines configuration structures for the hibpdl CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (HIBPDL_ prefix)
//   - YAML configuration file
//
// Later sources override earlier ones; the config file at
// ~/.hibpdl/config.yaml is loaded first, then the environment, then flags.
//
// # Structure
//
//	type Config struct {
//	    Output      string
//	    Threads     int
//	    FirstPrefix int
//	    LastPrefix  int
//	    PrefixStep  int
//	    BaseURL     string
//	    UserAgent   string
//	    StateDir    string
//	    StateURL    string
//	    Quiet       bool
//	    Verbosity   int
//	    Retry       RetryConfig
//	}
//
//	type RetryConfig struct {
//	    Attempts   int
//	    Backoff    time.Duration
//	    MaxBackoff time.Duration
//	}
//
// Prefix bounds are hexadecimal, FirstPrefix inclusive and LastPrefix
// exclusive. Out-of-range values are rejected with ErrPrefixRange or
// ErrStepRange, never clamped.
package config
