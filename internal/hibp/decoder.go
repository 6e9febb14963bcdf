package hibp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/607011/hibpdl/pkg/hashcount"
)

// ErrMalformedLine reports a response line that does not match the
// "<35 hex chars>:<decimal count>" shape.
var ErrMalformedLine = errors.New("hibp: malformed response line")

// suffixLen is the number of hex characters each response line carries;
// together with the 5-character request prefix they form a full digest.
const suffixLen = 2*hashcount.DigestSize - 5

// ParseRange decodes a range response body for the given 5-character
// prefix. Lines are terminated by \r\n; the final line may lack its
// terminator and is decoded all the same. Empty lines are skipped.
//
// A malformed line is skipped and contributes an error wrapping
// ErrMalformedLine to the joined error returned next to the records that
// did decode. A failure of the underlying reader is returned without that
// marker, so callers can tell transport trouble from bad content.
func ParseRange(prefix string, r io.Reader) (hashcount.Collection, error) {
	var (
		col  hashcount.Collection
		errs []error
		line int
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}
		rec, err := decodeLine(prefix, text)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		col = append(col, rec)
	}
	if err := sc.Err(); err != nil {
		return col, fmt.Errorf("read response: %w", err)
	}
	return col, errors.Join(errs...)
}

// decodeLine reconstructs a full record from the shared prefix and one
// "<suffix>:<count>" line.
func decodeLine(prefix, line string) (hashcount.Record, error) {
	suffix, countStr, ok := strings.Cut(line, ":")
	if !ok {
		return hashcount.Record{}, fmt.Errorf("%w: missing separator", ErrMalformedLine)
	}
	if len(suffix) != suffixLen {
		return hashcount.Record{}, fmt.Errorf("%w: suffix has %d characters, want %d", ErrMalformedLine, len(suffix), suffixLen)
	}
	digest, err := hashcount.ParseDigest(prefix + suffix)
	if err != nil {
		return hashcount.Record{}, fmt.Errorf("%w: %q", ErrMalformedLine, suffix)
	}
	count, err := strconv.ParseUint(countStr, 10, 32)
	if err != nil {
		return hashcount.Record{}, fmt.Errorf("%w: bad count %q", ErrMalformedLine, countStr)
	}
	return hashcount.Record{Digest: digest, Count: uint32(count)}, nil
}
