// Package hashcount models breached password hashes: a raw SHA-1 digest
// paired with the number of times the password appeared in known breaches.
//
// This package handles:
//   - Digest parsing from hex and byte-lexicographic ordering
//   - The fixed 24-byte binary record encoding
//   - Streaming record I/O over arbitrary readers and writers
//
// # Format
//
// A record occupies exactly 24 bytes: the 20 raw digest bytes followed by
// the occurrence count as a 4-byte big-endian unsigned integer. Records are
// concatenated without padding or framing, so a well-formed stream has a
// length divisible by 24.
//
// # Usage
//
//	d, err := hashcount.ParseDigest("5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8")
//	rec := hashcount.Record{Digest: d, Count: 10437277}
//
//	col := hashcount.Collection{rec}
//	col.Sort()
//	_, err = col.WriteTo(w)
package hashcount
