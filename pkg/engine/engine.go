package engine

import (
	"os"
	"time"

	"github.com/google/btree"

	"github.com/minifish-org/tegdb/pkg/config"
	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/telemetry/log"
	"github.com/minifish-org/tegdb/pkg/telemetry/metrics"
	"github.com/minifish-org/tegdb/pkg/walfile"
)

type indexEntry struct {
	key   string
	value []byte
}

func lessEntry(a, b indexEntry) bool { return a.key < b.key }

// Engine is the in-memory sorted index plus the log file it recovers from
// and persists to. It is not safe for concurrent use; the facade owns it
// exclusively per the single-writer model.
type Engine struct {
	logFile   *walfile.File
	index     *btree.BTreeG[indexEntry]
	cfg       config.EngineConfig
	liveBytes uint64
}

// Open loads or creates the log file at path and rebuilds the in-memory
// index by replaying every entry up to valid_data_end.
func Open(path string, cfg config.EngineConfig) (*Engine, error) {
	cfg.Normalize()

	lf, err := walfile.Open(path, walfile.Options{
		MaxKeySize:      cfg.MaxKeySize,
		MaxValueSize:    cfg.MaxValueSize,
		PreallocateSize: cfg.PreallocateSize,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		logFile: lf,
		index:   btree.NewG(32, lessEntry),
		cfg:     cfg,
	}

	entries, err := lf.Recover()
	if err != nil {
		lf.Close()
		return nil, err
	}
	for _, ent := range entries {
		if ent.IsCommitMarker {
			continue
		}
		e.applyToIndex(string(ent.Key), ent.Value, ent.Deleted)
	}

	metrics.EngineIndexSize.Set(float64(e.index.Len()))
	log.WithComponent("engine").Debug().
		Str("path", path).
		Int("live_keys", e.index.Len()).
		Msg("recovered storage engine from log")

	return e, nil
}

// Close syncs and releases the underlying log file.
func (e *Engine) Close() error {
	return e.logFile.Close()
}

// applyToIndex applies one decoded log entry to the in-memory index.
// deleted is the caller's own classification of the entry (from the
// tombstone marker at the log layer, not from len(value)==0 — a value
// legitimately stored via set can be empty, and must stay indexed as
// such) and removes the key from the index when set (though the entry
// remains, as a dead record, in the log until compaction).
func (e *Engine) applyToIndex(key string, value []byte, deleted bool) {
	if old, existed := e.index.Get(indexEntry{key: key}); existed {
		e.liveBytes -= uint64(len(old.key) + len(old.value))
	}
	if deleted {
		e.index.Delete(indexEntry{key: key})
		return
	}
	e.index.ReplaceOrInsert(indexEntry{key: key, value: value})
	e.liveBytes += uint64(len(key) + len(value))
}

// Get looks up key in the in-memory index only; it never touches the log.
func (e *Engine) Get(key []byte) ([]byte, bool) {
	v, ok := e.index.Get(indexEntry{key: string(key)})
	if !ok {
		return nil, false
	}
	return v.value, true
}

// Pair is one (key, value) result from Scan.
type Pair struct {
	Key   []byte
	Value []byte
}

// Scan returns every live (key, value) pair with key in [lo, hi) in
// ascending lexicographic order. The result is a snapshot of the index at
// call time.
func (e *Engine) Scan(lo, hi []byte) []Pair {
	var out []Pair
	greaterOrEqual := indexEntry{key: string(lo)}
	e.index.AscendRange(greaterOrEqual, indexEntry{key: string(hi)}, func(item indexEntry) bool {
		out = append(out, Pair{Key: []byte(item.key), Value: item.value})
		return true
	})
	return out
}

// BeginTransaction returns a new buffered transaction over this engine.
func (e *Engine) BeginTransaction() *Tx {
	return &Tx{
		engine: e,
		writes: make(map[string]writeOp),
	}
}

// Set is a convenience wrapper equivalent to a single-operation transaction.
// The catalog and executor do not use it; they write through a Tx.
func (e *Engine) Set(key, value []byte) error {
	tx := e.BeginTransaction()
	if err := tx.Set(key, value); err != nil {
		return err
	}
	return tx.Commit()
}

// Del is the set-level convenience equivalent of Set for deletion.
func (e *Engine) Del(key []byte) error {
	tx := e.BeginTransaction()
	if err := tx.Del(key); err != nil {
		return err
	}
	return tx.Commit()
}

// Flush syncs the log file.
func (e *Engine) Flush() error {
	return e.logFile.Sync()
}

// maybeCompact triggers an inline compaction when the log has grown past
// compaction_threshold_bytes and the live-byte ratio has fallen below
// compaction_ratio.
func (e *Engine) maybeCompact() error {
	logSize := e.logFile.WriteOffset()
	if logSize < e.cfg.CompactionThresholdBytes {
		return nil
	}
	ratio := float64(e.liveBytes) / float64(logSize)
	if ratio >= e.cfg.CompactionRatio {
		return nil
	}
	return e.Compact()
}

// Compact rewrites the log to contain exactly one entry per live key plus
// a fresh header, then atomically swaps it in. The in-memory index is
// untouched.
func (e *Engine) Compact() error {
	start := time.Now()
	oldPath := e.logFile.Path()
	tmpPath := oldPath + ".compact.tmp"

	newLog, err := walfile.Open(tmpPath, walfile.Options{
		MaxKeySize:      e.cfg.MaxKeySize,
		MaxValueSize:    e.cfg.MaxValueSize,
		PreallocateSize: e.cfg.PreallocateSize,
	})
	if err != nil {
		return err
	}

	var appendErr error
	e.index.Ascend(func(item indexEntry) bool {
		if _, err := newLog.Append([]byte(item.key), item.value, true); err != nil {
			appendErr = err
			return false
		}
		return true
	})
	if appendErr != nil {
		newLog.Close()
		os.Remove(tmpPath)
		return appendErr
	}

	if err := newLog.SetValidDataEnd(newLog.WriteOffset()); err != nil {
		newLog.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := newLog.Close(); err != nil {
		os.Remove(tmpPath)
		return tegerr.Wrap(tegerr.KindIO, "close compacted log", err)
	}

	if err := e.logFile.Close(); err != nil {
		return tegerr.Wrap(tegerr.KindIO, "close old log before compaction swap", err)
	}
	if err := os.Rename(tmpPath, oldPath); err != nil {
		return tegerr.Wrap(tegerr.KindIO, "rename compacted log into place", err)
	}

	reopened, err := walfile.Open(oldPath, walfile.Options{
		MaxKeySize:      e.cfg.MaxKeySize,
		MaxValueSize:    e.cfg.MaxValueSize,
		PreallocateSize: e.cfg.PreallocateSize,
	})
	if err != nil {
		return err
	}
	e.logFile = reopened

	metrics.CompactionsTotal.Inc()
	metrics.CompactionDuration.Observe(time.Since(start).Seconds())
	log.WithComponent("engine").Info().
		Str("path", oldPath).
		Dur("duration", time.Since(start)).
		Msg("compacted log")

	return nil
}

// PrefixUpperBound returns the exclusive upper bound for a lexicographic
// range scan over every key sharing prefix, following this core's "S:" /
// "S~" convention: the trailing ':' is replaced with '~', a byte greater
// than ':' and greater than any character legal in an identifier.
func PrefixUpperBound(prefix string) []byte {
	if prefix == "" || prefix[len(prefix)-1] != ':' {
		return []byte(prefix)
	}
	return []byte(prefix[:len(prefix)-1] + "~")
}
