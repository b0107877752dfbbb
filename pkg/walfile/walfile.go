package walfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/sys/unix"

	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/telemetry/metrics"
)

const (
	// HeaderSize is the fixed size of the log file header.
	HeaderSize = 64

	// CurrentVersion is the only format version this core accepts.
	CurrentVersion uint16 = 1

	bigEndianMarker byte = 1

	magicOffset        = 0
	versionOffset      = 6
	flagsOffset        = 8
	maxKeySizeOffset   = 12
	maxValueSizeOffset = 16
	endiannessOffset   = 20
	validDataEndOffset = 21
)

// Magic identifies a valid TegDB log file: "TEGDB\0".
var Magic = [6]byte{'T', 'E', 'G', 'D', 'B', 0}

// tombstoneVlen is a reserved value-length marking a deleted key. A real
// value's length is always bounded well below this (checked against
// MaxValueSize on every Append), so the top length-field value can be
// repurposed to disambiguate del(k) from set(k, <empty value>) — both of
// which carry zero value bytes on the wire — without widening the entry
// framing spec'd as {klen, vlen, key, value}.
const tombstoneVlen uint32 = math.MaxUint32

// CommitMarkerKey is the reserved sentinel key that terminates a
// transaction's entries during recovery. User keys must not use it.
const CommitMarkerKey = "__TX_COMMIT__"

// Header mirrors the 64-byte on-disk log header.
type Header struct {
	Version      uint16
	Flags        uint32
	MaxKeySize   uint32
	MaxValueSize uint32
	ValidDataEnd uint64
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[magicOffset:], Magic[:])
	binary.BigEndian.PutUint16(buf[versionOffset:], h.Version)
	binary.BigEndian.PutUint32(buf[flagsOffset:], h.Flags)
	binary.BigEndian.PutUint32(buf[maxKeySizeOffset:], h.MaxKeySize)
	binary.BigEndian.PutUint32(buf[maxValueSizeOffset:], h.MaxValueSize)
	buf[endiannessOffset] = bigEndianMarker
	binary.BigEndian.PutUint64(buf[validDataEndOffset:], h.ValidDataEnd)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, tegerr.New(tegerr.KindCorrupted, "log header truncated")
	}
	if string(buf[magicOffset:magicOffset+6]) != string(Magic[:]) {
		return Header{}, tegerr.New(tegerr.KindCorrupted, "log header magic mismatch")
	}
	version := binary.BigEndian.Uint16(buf[versionOffset:])
	if version != CurrentVersion {
		return Header{}, tegerr.New(tegerr.KindCorrupted, fmt.Sprintf("unsupported log version %d", version))
	}
	return Header{
		Version:      version,
		Flags:        binary.BigEndian.Uint32(buf[flagsOffset:]),
		MaxKeySize:   binary.BigEndian.Uint32(buf[maxKeySizeOffset:]),
		MaxValueSize: binary.BigEndian.Uint32(buf[maxValueSizeOffset:]),
		ValidDataEnd: binary.BigEndian.Uint64(buf[validDataEndOffset:]),
	}, nil
}

// Options configures a new log file. MaxKeySize and MaxValueSize are
// ignored when opening an existing file, whose header already carries
// them; PreallocateSize sets the storage quota either way.
type Options struct {
	MaxKeySize      uint32
	MaxValueSize    uint32
	PreallocateSize uint64
}

// Entry is one decoded {key, value} pair read back from the log, tagged
// with whether its key is the commit-marker sentinel and whether it is a
// tombstone (a del, not a set of an empty value).
type Entry struct {
	Key            []byte
	Value          []byte
	IsCommitMarker bool
	Deleted        bool
}

// File is an open log file: header plus append-at-offset entry stream. It
// performs no in-memory indexing of its own; pkg/engine owns that.
type File struct {
	f           *os.File
	path        string
	header      Header
	writeOffset uint64
	preallocate uint64
}

// Open locates or creates the log file at path. A fresh file is initialized
// with opts and valid_data_end = HeaderSize; an existing file's header is
// validated against the magic and version, and only opts.PreallocateSize
// is used. The file is held
// under an exclusive OS advisory lock for the lifetime of the handle; a
// second Open of the same path fails with FileLocked.
func Open(path string, opts Options) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, tegerr.Wrap(tegerr.KindIO, "open log file", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, tegerr.Wrap(tegerr.KindFileLocked, "acquire log file lock", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, tegerr.Wrap(tegerr.KindIO, "stat log file", err)
	}

	lf := &File{f: f, path: path}

	if info.Size() == 0 {
		lf.header = Header{
			Version:      CurrentVersion,
			MaxKeySize:   opts.MaxKeySize,
			MaxValueSize: opts.MaxValueSize,
			ValidDataEnd: HeaderSize,
		}
		lf.preallocate = opts.PreallocateSize
		if _, err := f.WriteAt(encodeHeader(lf.header), 0); err != nil {
			f.Close()
			return nil, tegerr.Wrap(tegerr.KindIO, "write log header", err)
		}
		if opts.PreallocateSize > HeaderSize {
			if err := f.Truncate(int64(opts.PreallocateSize)); err != nil {
				f.Close()
				return nil, tegerr.Wrap(tegerr.KindIO, "preallocate log file", err)
			}
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, tegerr.Wrap(tegerr.KindIO, "sync new log file", err)
		}
		lf.writeOffset = HeaderSize
		return lf, nil
	}

	raw := make([]byte, HeaderSize)
	if _, err := f.ReadAt(raw, 0); err != nil {
		f.Close()
		return nil, tegerr.Wrap(tegerr.KindCorrupted, "read log header", err)
	}
	hdr, err := decodeHeader(raw)
	if err != nil {
		f.Close()
		return nil, err
	}
	lf.header = hdr
	lf.preallocate = opts.PreallocateSize
	lf.writeOffset = hdr.ValidDataEnd
	return lf, nil
}

// Close releases the advisory lock and the underlying file descriptor.
func (f *File) Close() error {
	unix.Flock(int(f.f.Fd()), unix.LOCK_UN)
	return f.f.Close()
}

func (f *File) Path() string          { return f.path }
func (f *File) MaxKeySize() uint32    { return f.header.MaxKeySize }
func (f *File) MaxValueSize() uint32  { return f.header.MaxValueSize }
func (f *File) ValidDataEnd() uint64  { return f.header.ValidDataEnd }
func (f *File) WriteOffset() uint64   { return f.writeOffset }

// Append writes one {key, value} entry at the current write offset and
// returns the offset immediately past it. It does not sync. allowOverQuota
// lets the caller (the storage engine, which knows whether key already
// exists) permit a write that would cross PreallocateSize, per the "updates
// to existing keys may proceed even at the boundary" exception.
func (f *File) Append(key, value []byte, allowOverQuota bool) (uint64, error) {
	if uint32(len(key)) > f.header.MaxKeySize {
		return 0, tegerr.New(tegerr.KindKeyTooLarge, fmt.Sprintf("key length %d exceeds max_key_size %d", len(key), f.header.MaxKeySize))
	}
	if uint32(len(value)) > f.header.MaxValueSize || uint32(len(value)) >= tombstoneVlen {
		return 0, tegerr.New(tegerr.KindValueTooLarge, fmt.Sprintf("value length %d exceeds max_value_size %d", len(value), f.header.MaxValueSize))
	}

	return f.appendRaw(key, value, uint32(len(value)), allowOverQuota, "append log entry")
}

// AppendTombstone writes a del(key) marker: zero value bytes on the wire,
// tagged via the reserved vlen sentinel so recovery does not mistake it
// for a live empty value written by set(key, "").
func (f *File) AppendTombstone(key []byte, allowOverQuota bool) (uint64, error) {
	if uint32(len(key)) > f.header.MaxKeySize {
		return 0, tegerr.New(tegerr.KindKeyTooLarge, fmt.Sprintf("key length %d exceeds max_key_size %d", len(key), f.header.MaxKeySize))
	}
	return f.appendRaw(key, nil, tombstoneVlen, allowOverQuota, "append log tombstone")
}

func (f *File) appendRaw(key, value []byte, vlen uint32, allowOverQuota bool, errContext string) (uint64, error) {
	entryLen := 4 + 4 + len(key) + len(value)
	newOffset := f.writeOffset + uint64(entryLen)
	if f.preallocate > 0 && newOffset > f.preallocate && !allowOverQuota {
		return 0, tegerr.New(tegerr.KindOutOfStorageQuota, "append would exceed preallocated storage quota")
	}

	buf := make([]byte, entryLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(key)))
	binary.BigEndian.PutUint32(buf[4:8], vlen)
	copy(buf[8:8+len(key)], key)
	copy(buf[8+len(key):], value)

	if _, err := f.f.WriteAt(buf, int64(f.writeOffset)); err != nil {
		return 0, tegerr.Wrap(tegerr.KindIO, errContext, err)
	}

	f.writeOffset = newOffset
	metrics.LogAppendsTotal.Inc()
	metrics.LogBytesWritten.Add(float64(entryLen))
	return newOffset, nil
}

// Sync flushes OS buffers for the log file.
func (f *File) Sync() error {
	if err := f.f.Sync(); err != nil {
		return tegerr.Wrap(tegerr.KindIO, "sync log file", err)
	}
	metrics.LogSyncsTotal.Inc()
	return nil
}

// SetValidDataEnd updates the header's commit watermark and syncs. This is
// the commit point: no data beyond the previous watermark is recoverable
// until this call returns successfully.
func (f *File) SetValidDataEnd(offset uint64) error {
	f.header.ValidDataEnd = offset
	if _, err := f.f.WriteAt(encodeHeader(f.header), 0); err != nil {
		return tegerr.Wrap(tegerr.KindIO, "write log header", err)
	}
	return f.Sync()
}

// Recover reads every entry between offset HeaderSize and valid_data_end,
// in order. Callers apply non-commit-marker entries to rebuild engine
// state; Entry.Deleted distinguishes a tombstone from a live empty value.
func (f *File) Recover() ([]Entry, error) {
	return scanEntries(f.f, f.header.ValidDataEnd)
}

func scanEntries(r io.ReaderAt, end uint64) ([]Entry, error) {
	var entries []Entry
	cursor := uint64(HeaderSize)

	for cursor < end {
		lenBuf := make([]byte, 8)
		if _, err := r.ReadAt(lenBuf, int64(cursor)); err != nil {
			return nil, tegerr.Wrap(tegerr.KindCorrupted, "read log entry lengths", err)
		}
		klen := binary.BigEndian.Uint32(lenBuf[0:4])
		rawVlen := binary.BigEndian.Uint32(lenBuf[4:8])
		deleted := rawVlen == tombstoneVlen
		vlen := rawVlen
		if deleted {
			vlen = 0
		}

		body := make([]byte, int(klen)+int(vlen))
		if len(body) > 0 {
			if _, err := r.ReadAt(body, int64(cursor)+8); err != nil {
				return nil, tegerr.Wrap(tegerr.KindCorrupted, "read log entry body", err)
			}
		}
		key := append([]byte(nil), body[:klen]...)
		value := append([]byte(nil), body[klen:]...)

		entries = append(entries, Entry{
			Key:            key,
			Value:          value,
			IsCommitMarker: string(key) == CommitMarkerKey,
			Deleted:        deleted,
		})

		cursor += 8 + uint64(klen) + uint64(vlen)
	}

	return entries, nil
}

// ScanCommitted opens path read-only and returns every entry up to the
// header's valid_data_end, the same durability boundary Recover honors,
// without taking the writer's advisory lock and without touching
// pkg/engine. It exists for out-of-tree collaborators — replication
// sidecars, backup tools — that need to read committed log contents
// directly and must not be able to mutate the file or depend on the
// storage engine's in-memory index.
func ScanCommitted(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, tegerr.Wrap(tegerr.KindIO, "open log file for read-only scan", err)
	}
	defer f.Close()

	raw := make([]byte, HeaderSize)
	if _, err := f.ReadAt(raw, 0); err != nil {
		return nil, tegerr.Wrap(tegerr.KindCorrupted, "read log header", err)
	}
	hdr, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}

	return scanEntries(f, hdr.ValidDataEnd)
}
