package hashcount

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDigest(t *testing.T) {
	t.Run("parses upper and lower case hex", func(t *testing.T) {
		// Prepare
		upper := "5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8"
		lower := strings.ToLower(upper)

		// Execute
		du, errU := ParseDigest(upper)
		dl, errL := ParseDigest(lower)

		// Check
		require.NoError(t, errU)
		require.NoError(t, errL)
		assert.Equal(t, du, dl)
		assert.Equal(t, upper, du.String())
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := ParseDigest("5BAA61")
		assert.ErrorIs(t, err, ErrBadDigest)
	})

	t.Run("rejects non-hex characters", func(t *testing.T) {
		_, err := ParseDigest(strings.Repeat("ZZ", DigestSize))
		assert.ErrorIs(t, err, ErrBadDigest)
	})
}

func TestDigestCompare(t *testing.T) {
	a, err := ParseDigest("00000000000000000000000000000000000000FF")
	require.NoError(t, err)
	b, err := ParseDigest("0000000000000000000000000000000000000100")
	require.NoError(t, err)

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestRecordCodec(t *testing.T) {
	t.Run("encodes digest bytes then big-endian count", func(t *testing.T) {
		// Prepare
		d, err := ParseDigest("5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8")
		require.NoError(t, err)
		rec := Record{Digest: d, Count: 10437277}

		// Execute
		buf := rec.AppendBinary(nil)

		// Check
		require.Len(t, buf, RecordSize)
		assert.Equal(t, d[:], buf[:DigestSize])
		assert.Equal(t, uint32(10437277), binary.BigEndian.Uint32(buf[DigestSize:]))
	})

	t.Run("round trips", func(t *testing.T) {
		d, err := ParseDigest("B1B3773A05C0ED0176787A4F1574FF0075F7521E")
		require.NoError(t, err)
		rec := Record{Digest: d, Count: 1}

		got, err := DecodeRecord(rec.AppendBinary(nil))
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("rejects short input", func(t *testing.T) {
		_, err := DecodeRecord(make([]byte, RecordSize-1))
		assert.ErrorIs(t, err, ErrTruncated)
	})
}

func TestCollectionSort(t *testing.T) {
	mk := func(hexDigest string, count uint32) Record {
		d, err := ParseDigest(hexDigest)
		require.NoError(t, err)
		return Record{Digest: d, Count: count}
	}

	col := Collection{
		mk("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF", 3),
		mk("0000000000000000000000000000000000000001", 1),
		mk("8000000000000000000000000000000000000000", 2),
	}
	require.False(t, col.Sorted())

	col.Sort()

	require.True(t, col.Sorted())
	assert.Equal(t, uint32(1), col[0].Count)
	assert.Equal(t, uint32(2), col[1].Count)
	assert.Equal(t, uint32(3), col[2].Count)
	assert.Equal(t, uint64(6), col.TotalCount())
}

func TestCollectionStreamRoundTrip(t *testing.T) {
	d1, err := ParseDigest("5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8")
	require.NoError(t, err)
	d2, err := ParseDigest("B1B3773A05C0ED0176787A4F1574FF0075F7521E")
	require.NoError(t, err)
	col := Collection{
		{Digest: d1, Count: 10437277},
		{Digest: d2, Count: 4181},
	}

	var buf bytes.Buffer
	n, err := col.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(col)*RecordSize), n)

	got, err := ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, col, got)
}

func TestReadRecordTruncatedStream(t *testing.T) {
	d, err := ParseDigest("5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8")
	require.NoError(t, err)
	full := Record{Digest: d, Count: 7}.AppendBinary(nil)

	// A clean EOF at a record boundary.
	r := bytes.NewReader(full)
	_, err = ReadRecord(r)
	require.NoError(t, err)
	_, err = ReadRecord(r)
	assert.ErrorIs(t, err, io.EOF)

	// A stream that ends inside a record.
	_, err = ReadRecord(bytes.NewReader(full[:RecordSize-5]))
	assert.ErrorIs(t, err, ErrTruncated)

	col, err := ReadAll(bytes.NewReader(append(full, full[:3]...)))
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Len(t, col, 1)
}

func TestReadAllEmpty(t *testing.T) {
	col, err := ReadAll(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, col)
}
