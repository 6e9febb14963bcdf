// Package hibp talks to the Have I Been Pwned "Pwned Passwords" range API.
//
// This package handles:
//   - Connection pooling for high parallelism
//   - Single range requests (GET {base}/range/{prefix})
//   - Typed status errors so callers can decide what to retry
//   - Decoding range responses into hashcount records
//
// The client performs exactly one attempt per call. Retry policy lives with
// the caller, which also owns the stop flag that must stay responsive
// between attempts.
//
// # Usage
//
//	client := hibp.NewClient(hibp.Options{
//	    UserAgent: "hibpdl/1.1.0",
//	    Timeout:   30 * time.Second,
//	})
//
//	records, err := client.Range(ctx, "21BD1")
//	// records carry full 20-byte digests reconstructed from the prefix
//	// and the 35-character suffixes of the response body.
package hibp
