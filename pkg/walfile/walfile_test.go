package walfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minifish-org/tegdb/pkg/tegerr"
)

func tempLogPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "data.teg")
}

// TestOpenCreatesHeader tests that a fresh file gets a valid header with
// valid_data_end at HeaderSize.
func TestOpenCreatesHeader(t *testing.T) {
	path := tempLogPath(t)
	f, err := Open(path, Options{MaxKeySize: 256, MaxValueSize: 4096})
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, uint64(HeaderSize), f.ValidDataEnd())
	assert.Equal(t, uint32(256), f.MaxKeySize())
	assert.Equal(t, uint32(4096), f.MaxValueSize())
}

// TestOpenSecondHandleFails tests the exclusive advisory lock.
func TestOpenSecondHandleFails(t *testing.T) {
	path := tempLogPath(t)
	f, err := Open(path, Options{MaxKeySize: 256, MaxValueSize: 4096})
	require.NoError(t, err)
	defer f.Close()

	_, err = Open(path, Options{MaxKeySize: 256, MaxValueSize: 4096})
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindFileLocked))
}

// TestAppendRejectsOversizedKeyOrValue tests the max_key_size/max_value_size
// bounds declared in the header.
func TestAppendRejectsOversizedKeyOrValue(t *testing.T) {
	path := tempLogPath(t)
	f, err := Open(path, Options{MaxKeySize: 4, MaxValueSize: 4})
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Append([]byte("toolong"), []byte("ok"), false)
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindKeyTooLarge))

	_, err = f.Append([]byte("ok"), []byte("toolong"), false)
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindValueTooLarge))
}

// TestAppendQuota tests that preallocated quota rejects writes that would
// exceed it unless the caller marks the write as an update to an existing
// key (allowOverQuota).
func TestAppendQuota(t *testing.T) {
	path := tempLogPath(t)
	f, err := Open(path, Options{MaxKeySize: 64, MaxValueSize: 64, PreallocateSize: HeaderSize + 16})
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Append([]byte("k"), []byte("0123456789"), false)
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindOutOfStorageQuota))

	_, err = f.Append([]byte("k"), []byte("0123456789"), true)
	require.NoError(t, err)
}

// TestRecoverRoundTrip tests that entries appended and committed via
// SetValidDataEnd are recovered in order, and that entries written but not
// committed are invisible.
func TestRecoverRoundTrip(t *testing.T) {
	path := tempLogPath(t)
	f, err := Open(path, Options{MaxKeySize: 64, MaxValueSize: 64})
	require.NoError(t, err)
	defer f.Close()

	off, err := f.Append([]byte("a"), []byte("1"), false)
	require.NoError(t, err)
	off, err = f.Append([]byte("b"), []byte("2"), false)
	require.NoError(t, err)
	require.NoError(t, f.SetValidDataEnd(off))

	// Uncommitted: written past valid_data_end.
	_, err = f.Append([]byte("c"), []byte("3"), false)
	require.NoError(t, err)

	entries, err := f.Recover()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", string(entries[0].Key))
	assert.Equal(t, "1", string(entries[0].Value))
	assert.Equal(t, "b", string(entries[1].Key))
	assert.Equal(t, "2", string(entries[1].Value))
}

// TestRecoverSkipsPastCrash tests that reopening a log whose valid_data_end
// was never advanced past a partial write reverts to the last committed
// watermark.
func TestRecoverSkipsPastCrash(t *testing.T) {
	path := tempLogPath(t)
	f, err := Open(path, Options{MaxKeySize: 64, MaxValueSize: 64})
	require.NoError(t, err)

	off, err := f.Append([]byte("a"), []byte("1"), false)
	require.NoError(t, err)
	require.NoError(t, f.SetValidDataEnd(off))

	_, err = f.Append([]byte("b"), []byte("2"), false)
	require.NoError(t, err)
	// No SetValidDataEnd call: simulates a crash before the commit point.
	require.NoError(t, f.Close())

	f2, err := Open(path, Options{MaxKeySize: 64, MaxValueSize: 64})
	require.NoError(t, err)
	defer f2.Close()

	entries, err := f2.Recover()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", string(entries[0].Key))
}

// TestRecoverIdentifiesCommitMarker tests that a commit-marker entry is
// tagged, not treated as ordinary data.
func TestRecoverIdentifiesCommitMarker(t *testing.T) {
	path := tempLogPath(t)
	f, err := Open(path, Options{MaxKeySize: 64, MaxValueSize: 64})
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Append([]byte("a"), []byte("1"), false)
	require.NoError(t, err)
	off, err := f.Append([]byte(CommitMarkerKey), nil, false)
	require.NoError(t, err)
	require.NoError(t, f.SetValidDataEnd(off))

	entries, err := f.Recover()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].IsCommitMarker)
	assert.True(t, entries[1].IsCommitMarker)
}

// TestScanCommittedMatchesRecover tests that the standalone read-only scan
// sees exactly what Recover sees, without taking the writer's lock.
func TestScanCommittedMatchesRecover(t *testing.T) {
	path := tempLogPath(t)
	f, err := Open(path, Options{MaxKeySize: 64, MaxValueSize: 64})
	require.NoError(t, err)

	off, err := f.Append([]byte("a"), []byte("1"), false)
	require.NoError(t, err)
	off, err = f.Append([]byte("b"), []byte("2"), false)
	require.NoError(t, err)
	require.NoError(t, f.SetValidDataEnd(off))

	_, err = f.Append([]byte("c"), []byte("uncommitted"), false)
	require.NoError(t, err)

	// ScanCommitted must not need the writer's lock released first.
	entries, err := ScanCommitted(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", string(entries[0].Key))
	assert.Equal(t, "b", string(entries[1].Key))

	require.NoError(t, f.Close())
}

// TestAppendTombstoneDistinctFromEmptyValue tests that a tombstone and a
// live empty value decode to different Entry.Deleted classifications
// despite both carrying zero value bytes on the wire.
func TestAppendTombstoneDistinctFromEmptyValue(t *testing.T) {
	path := tempLogPath(t)
	f, err := Open(path, Options{MaxKeySize: 64, MaxValueSize: 64})
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Append([]byte("empty"), []byte{}, false)
	require.NoError(t, err)
	off, err := f.AppendTombstone([]byte("gone"), false)
	require.NoError(t, err)
	require.NoError(t, f.SetValidDataEnd(off))

	entries, err := f.Recover()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "empty", string(entries[0].Key))
	assert.False(t, entries[0].Deleted)
	assert.Equal(t, []byte{}, entries[0].Value)

	assert.Equal(t, "gone", string(entries[1].Key))
	assert.True(t, entries[1].Deleted)
	assert.Empty(t, entries[1].Value)
}

// TestScanCommittedRejectsBadHeader tests that a non-TegDB file surfaces
// Corrupted rather than panicking.
func TestScanCommittedRejectsBadHeader(t *testing.T) {
	path := tempLogPath(t)
	require.NoError(t, os.WriteFile(path, make([]byte, HeaderSize), 0o644))

	_, err := ScanCommitted(path)
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindCorrupted))
}
