package hashcount

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

const (
	// DigestSize is the size of a raw SHA-1 digest in bytes.
	DigestSize = 20

	// RecordSize is the size of an encoded record in bytes.
	RecordSize = DigestSize + 4
)

// Common errors.
var (
	ErrBadDigest = errors.New("hashcount: malformed hex digest")
	ErrTruncated = errors.New("hashcount: truncated record")
)

// Digest is a raw SHA-1 digest.
type Digest [DigestSize]byte

// ParseDigest decodes a digest from exactly 40 hex characters.
// Both upper and lower case are accepted.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != 2*DigestSize {
		return d, fmt.Errorf("%w: got %d characters, want %d", ErrBadDigest, len(s), 2*DigestSize)
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("%w: %s", ErrBadDigest, s)
	}
	return d, nil
}

// String returns the digest as 40 uppercase hex characters, the way the
// Pwned Passwords API prints hashes.
func (d Digest) String() string {
	return strings.ToUpper(hex.EncodeToString(d[:]))
}

// Compare orders digests byte-lexicographically. It returns -1, 0 or +1.
func (d Digest) Compare(other Digest) int {
	return bytes.Compare(d[:], other[:])
}

// Record pairs a digest with its breach occurrence count.
//
// Wire format (24 bytes):
//
//	Offset  Size  Field   Type
//	0       20    Digest  raw SHA-1 bytes
//	20      4     Count   uint32_be
type Record struct {
	Digest Digest
	Count  uint32
}

// AppendBinary appends the 24-byte encoding of r to buf and returns the
// extended buffer.
func (r Record) AppendBinary(buf []byte) []byte {
	buf = append(buf, r.Digest[:]...)
	return binary.BigEndian.AppendUint32(buf, r.Count)
}

// DecodeRecord parses a record from the first 24 bytes of buf.
func DecodeRecord(buf []byte) (Record, error) {
	if len(buf) < RecordSize {
		return Record{}, ErrTruncated
	}
	var r Record
	copy(r.Digest[:], buf[:DigestSize])
	r.Count = binary.BigEndian.Uint32(buf[DigestSize:RecordSize])
	return r, nil
}

// Collection is an in-memory set of records.
type Collection []Record

// Sort orders the collection ascending by digest bytes. Counts travel with
// their digests; digests are unique within one download, so the order is
// deterministic.
func (c Collection) Sort() {
	slices.SortFunc(c, func(a, b Record) int {
		return a.Digest.Compare(b.Digest)
	})
}

// Sorted reports whether every adjacent pair is in ascending digest order.
func (c Collection) Sorted() bool {
	return slices.IsSortedFunc(c, func(a, b Record) int {
		return a.Digest.Compare(b.Digest)
	})
}

// TotalCount sums the occurrence counts of all records.
func (c Collection) TotalCount() uint64 {
	var total uint64
	for _, r := range c {
		total += uint64(r.Count)
	}
	return total
}

// WriteTo encodes the collection to w in order. It implements io.WriterTo.
func (c Collection) WriteTo(w io.Writer) (int64, error) {
	var written int64
	buf := make([]byte, 0, RecordSize)
	for _, r := range c {
		buf = r.AppendBinary(buf[:0])
		n, err := w.Write(buf)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("write record: %w", err)
		}
	}
	return written, nil
}

// ReadRecord decodes the next record from r. It returns io.EOF at a clean
// end of stream and ErrTruncated if the stream ends inside a record.
func ReadRecord(r io.Reader) (Record, error) {
	var buf [RecordSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, ErrTruncated
		}
		return Record{}, err
	}
	return DecodeRecord(buf[:])
}

// ReadAll decodes records from r until EOF.
func ReadAll(r io.Reader) (Collection, error) {
	var col Collection
	for {
		rec, err := ReadRecord(r)
		if errors.Is(err, io.EOF) {
			return col, nil
		}
		if err != nil {
			return col, err
		}
		col = append(col, rec)
	}
}
