package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// Object keys within the state bucket.
const (
	checkpointKey = "checkpoint"
	lockKey       = "lock"
)

// Common errors.
var (
	ErrNoCheckpoint      = errors.New("state: no checkpoint")
	ErrCorruptCheckpoint = errors.New("state: corrupt checkpoint")
	ErrNoLock            = errors.New("state: no lock")
)

// Checkpoint records the last fully written batch so an interrupted
// download can resume behind it.
type Checkpoint struct {
	// Start and End are the outer prefix bounds of the last completed
	// batch, End exclusive. End is the resume point.
	Start int
	End   int

	// OutputPath is the file the batch was appended to.
	OutputPath string
}

// Encode renders the checkpoint in its two-line text form, lowercase hex
// padded to at least four digits.
func (c Checkpoint) Encode() []byte {
	return []byte(fmt.Sprintf("%04x-%04x\n%s", c.Start, c.End, c.OutputPath))
}

// ParseCheckpoint parses the two-line text form. Hex case and a trailing
// newline are tolerated; anything else malformed is ErrCorruptCheckpoint.
func ParseCheckpoint(data []byte) (Checkpoint, error) {
	text := strings.TrimRight(string(data), "\n")
	rangePart, output, ok := strings.Cut(text, "\n")
	if !ok {
		return Checkpoint{}, fmt.Errorf("%w: missing output path line", ErrCorruptCheckpoint)
	}
	startHex, endHex, ok := strings.Cut(strings.TrimSpace(rangePart), "-")
	if !ok {
		return Checkpoint{}, fmt.Errorf("%w: missing range separator", ErrCorruptCheckpoint)
	}

	start, err := strconv.ParseUint(startHex, 16, 32)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: bad start %q", ErrCorruptCheckpoint, startHex)
	}
	end, err := strconv.ParseUint(endHex, 16, 32)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: bad end %q", ErrCorruptCheckpoint, endHex)
	}
	if start > end {
		return Checkpoint{}, fmt.Errorf("%w: start %04x after end %04x", ErrCorruptCheckpoint, start, end)
	}
	if output == "" {
		return Checkpoint{}, fmt.Errorf("%w: empty output path", ErrCorruptCheckpoint)
	}

	return Checkpoint{Start: int(start), End: int(end), OutputPath: output}, nil
}

// Store keeps the checkpoint and lock in a blob bucket.
type Store struct {
	bucket *blob.Bucket
	owned  bool
}

// NewStore wraps an already open bucket. The caller keeps ownership of the
// bucket; Close is a no-op.
func NewStore(bucket *blob.Bucket) *Store {
	return &Store{bucket: bucket}
}

// Open opens a store on any gocloud bucket URL, such as
// "s3://bucket/prefix" or "file:///var/lib/hibpdl". The returned store
// owns the bucket and closes it on Close.
func Open(ctx context.Context, url string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open state bucket: %w", err)
	}
	return &Store{bucket: bucket, owned: true}, nil
}

// OpenDir opens a store on a local directory, creating it if needed.
// fileblob writes objects via temp-file rename, so checkpoint overwrites
// are atomic.
func OpenDir(dir string) (*Store, error) {
	bucket, err := fileblob.OpenBucket(dir, &fileblob.Options{
		CreateDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("open state dir %s: %w", dir, err)
	}
	return &Store{bucket: bucket, owned: true}, nil
}

// Close releases the underlying bucket if the store owns it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.bucket.Close()
}

// SaveCheckpoint overwrites the stored checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if err := s.bucket.WriteAll(ctx, checkpointKey, cp.Encode(), nil); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads and parses the stored checkpoint. Absence is
// ErrNoCheckpoint.
func (s *Store) LoadCheckpoint(ctx context.Context) (Checkpoint, error) {
	data, err := s.bucket.ReadAll(ctx, checkpointKey)
	if err != nil {
		if isNotExist(err) {
			return Checkpoint{}, ErrNoCheckpoint
		}
		return Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}
	return ParseCheckpoint(data)
}

// ClearCheckpoint deletes the stored checkpoint. A missing checkpoint is
// not an error.
func (s *Store) ClearCheckpoint(ctx context.Context) error {
	if err := s.bucket.Delete(ctx, checkpointKey); err != nil && !isNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// WriteLock stores pid as the current lock holder, replacing any previous
// holder. The lock is advisory: callers check ReadLock first and decide
// what a stale holder means.
func (s *Store) WriteLock(ctx context.Context, pid int) error {
	if err := s.bucket.WriteAll(ctx, lockKey, []byte(strconv.Itoa(pid)), nil); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return nil
}

// ReadLock returns the PID recorded by a previous run. Absence is
// ErrNoLock.
func (s *Store) ReadLock(ctx context.Context) (string, error) {
	data, err := s.bucket.ReadAll(ctx, lockKey)
	if err != nil {
		if isNotExist(err) {
			return "", ErrNoLock
		}
		return "", fmt.Errorf("read lock: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// RemoveLock deletes the lock. A missing lock is not an error.
func (s *Store) RemoveLock(ctx context.Context) error {
	if err := s.bucket.Delete(ctx, lockKey); err != nil && !isNotExist(err) {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
