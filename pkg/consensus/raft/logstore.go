package raftcons

import (
    "fmt"
    "os"
    "path/filepath"

    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    obsmetrics "github.com/amirimatin/go-keeper/pkg/observability/metrics"
)

// LogStore is the persistent-log adapter: it bundles the durable log store
// and the stable (term/vote) store behind one instrumented implementation of
// raft.LogStore and raft.StableStore. The bolt-backed variant syncs every
// append before returning; the in-memory variant exists for tests and
// single-process demos.
type LogStore struct {
    logs   raft.LogStore
    stable raft.StableStore
    closer interface{ Close() error }
}

// NewBoltLogStore opens (or creates) the bolt-backed log under dir.
func NewBoltLogStore(dir string) (*LogStore, error) {
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return nil, fmt.Errorf("logstore: %w", err)
    }
    bstore, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft.db"))
    if err != nil {
        return nil, fmt.Errorf("logstore: open bolt: %w", err)
    }
    return &LogStore{logs: bstore, stable: bstore, closer: bstore}, nil
}

// NewInmemLogStore returns a volatile store for tests.
func NewInmemLogStore() *LogStore {
    ms := raft.NewInmemStore()
    return &LogStore{logs: ms, stable: ms}
}

// FirstIndex returns the first index written, 0 for no entries.
func (s *LogStore) FirstIndex() (uint64, error) { return s.logs.FirstIndex() }

// LastIndex returns the last index written, 0 for no entries.
func (s *LogStore) LastIndex() (uint64, error) { return s.logs.LastIndex() }

// GetLog retrieves the entry at index into out.
func (s *LogStore) GetLog(index uint64, out *raft.Log) error {
    obsmetrics.LogReadsTotal.Inc()
    return s.logs.GetLog(index, out)
}

// StoreLog durably appends a single entry.
func (s *LogStore) StoreLog(l *raft.Log) error {
    obsmetrics.LogAppendsTotal.Inc()
    return s.logs.StoreLog(l)
}

// StoreLogs durably appends a batch of entries. Re-appending an index that is
// already present (crash recovery) overwrites it idempotently.
func (s *LogStore) StoreLogs(ls []*raft.Log) error {
    obsmetrics.LogAppendsTotal.Add(float64(len(ls)))
    return s.logs.StoreLogs(ls)
}

// DeleteRange removes entries in [min, max], used both for compaction of the
// committed prefix and truncation of uncommitted suffixes on leader change.
func (s *LogStore) DeleteRange(min, max uint64) error {
    obsmetrics.LogTruncationsTotal.Inc()
    return s.logs.DeleteRange(min, max)
}

func (s *LogStore) Set(key, val []byte) error       { return s.stable.Set(key, val) }
func (s *LogStore) Get(key []byte) ([]byte, error)  { return s.stable.Get(key) }
func (s *LogStore) SetUint64(key []byte, val uint64) error { return s.stable.SetUint64(key, val) }
func (s *LogStore) GetUint64(key []byte) (uint64, error)   { return s.stable.GetUint64(key) }

// Close flushes and releases the underlying store, if it is closeable.
func (s *LogStore) Close() error {
    if s.closer == nil {
        return nil
    }
    return s.closer.Close()
}

var (
    _ raft.LogStore    = (*LogStore)(nil)
    _ raft.StableStore = (*LogStore)(nil)
)
