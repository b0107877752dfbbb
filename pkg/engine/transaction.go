package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/telemetry/metrics"
	"github.com/minifish-org/tegdb/pkg/walfile"
)

// writeOp is one buffered mutation: deleted=false writes value, deleted=true
// tombstones the key.
type writeOp struct {
	value   []byte
	deleted bool
}

// Tx is a buffered transaction over an Engine: reads observe the engine's
// committed state overlaid with this transaction's own uncommitted writes;
// nothing is appended to the log until Commit.
type Tx struct {
	engine     *Engine
	writes     map[string]writeOp
	committed  bool
	rolledBack bool
}

// finished reports whether the transaction can no longer accept operations.
func (tx *Tx) finished() bool { return tx.committed || tx.rolledBack }

// Get consults the buffered write set first (read-your-own-writes), falling
// back to the parent engine's committed index.
func (tx *Tx) Get(key []byte) ([]byte, bool) {
	if op, ok := tx.writes[string(key)]; ok {
		if op.deleted {
			return nil, false
		}
		return op.value, true
	}
	return tx.engine.Get(key)
}

// Scan merges the buffered write set over the engine's committed snapshot
// for keys in [lo, hi), in ascending order.
func (tx *Tx) Scan(lo, hi []byte) []Pair {
	base := tx.engine.Scan(lo, hi)
	if len(tx.writes) == 0 {
		return base
	}

	merged := make(map[string][]byte, len(base))
	for _, p := range base {
		merged[string(p.Key)] = p.Value
	}
	loS, hiS := string(lo), string(hi)
	for k, op := range tx.writes {
		if k < loS || (len(hi) > 0 && k >= hiS) {
			continue
		}
		if op.deleted {
			delete(merged, k)
		} else {
			merged[k] = op.value
		}
	}

	out := make([]Pair, 0, len(merged))
	for k, v := range merged {
		out = append(out, Pair{Key: []byte(k), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return out
}

// Set buffers a write; it is validated against the engine's size bounds
// immediately so failures surface before commit, not during it.
func (tx *Tx) Set(key, value []byte) error {
	if tx.finished() {
		return tegerr.New(tegerr.KindOther, "transaction already finished")
	}
	if uint32(len(key)) > tx.engine.cfg.MaxKeySize {
		return tegerr.New(tegerr.KindKeyTooLarge, fmt.Sprintf("key length %d exceeds max_key_size %d", len(key), tx.engine.cfg.MaxKeySize))
	}
	if uint32(len(value)) > tx.engine.cfg.MaxValueSize {
		return tegerr.New(tegerr.KindValueTooLarge, fmt.Sprintf("value length %d exceeds max_value_size %d", len(value), tx.engine.cfg.MaxValueSize))
	}
	if string(key) == walfile.CommitMarkerKey {
		return tegerr.New(tegerr.KindOther, "key collides with reserved commit marker")
	}
	tx.writes[string(key)] = writeOp{value: value}
	return nil
}

// Del buffers a tombstone for key.
func (tx *Tx) Del(key []byte) error {
	if tx.finished() {
		return tegerr.New(tegerr.KindOther, "transaction already finished")
	}
	tx.writes[string(key)] = writeOp{deleted: true}
	return nil
}

// Commit flushes the buffered write set to the log as one atomic unit: all
// entries plus a trailing commit marker, then the header's valid_data_end
// is advanced past them and synced. An empty write set is a read-only
// fast path: no log I/O at all.
func (tx *Tx) Commit() error {
	if tx.finished() {
		return tegerr.New(tegerr.KindOther, "transaction already finished")
	}
	start := time.Now()

	if len(tx.writes) == 0 {
		tx.committed = true
		metrics.TxCommitsTotal.Inc()
		return nil
	}

	keys := make([]string, 0, len(tx.writes))
	for k := range tx.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e := tx.engine
	for _, k := range keys {
		op := tx.writes[k]
		_, existed := e.Get([]byte(k))
		if op.deleted {
			if _, err := e.logFile.AppendTombstone([]byte(k), existed); err != nil {
				return err
			}
			continue
		}
		if _, err := e.logFile.Append([]byte(k), op.value, existed); err != nil {
			return err
		}
	}
	if _, err := e.logFile.Append([]byte(walfile.CommitMarkerKey), nil, true); err != nil {
		return err
	}

	if err := e.logFile.SetValidDataEnd(e.logFile.WriteOffset()); err != nil {
		return err
	}

	for _, k := range keys {
		op := tx.writes[k]
		e.applyToIndex(k, op.value, op.deleted)
	}
	metrics.EngineIndexSize.Set(float64(e.index.Len()))

	tx.committed = true
	tx.writes = nil

	metrics.TxCommitsTotal.Inc()
	metrics.TxCommitDuration.Observe(time.Since(start).Seconds())

	return e.maybeCompact()
}

// Rollback discards the buffered write set. Since nothing is appended to
// the log until Commit, rollback never touches the log or the index.
func (tx *Tx) Rollback() error {
	if tx.finished() {
		return nil
	}
	tx.rolledBack = true
	tx.writes = nil
	metrics.TxRollbacksTotal.Inc()
	return nil
}

// Close rolls back an uncommitted transaction. Callers are expected to
// `defer tx.Close()` immediately after BeginTransaction, mirroring
// database/sql's Tx lifecycle; calling Close after Commit is a no-op.
func (tx *Tx) Close() error {
	if tx.committed {
		return nil
	}
	return tx.Rollback()
}
