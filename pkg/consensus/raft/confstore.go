package raftcons

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sync"

    c "github.com/amirimatin/go-keeper/pkg/consensus"
)

// ClusterConfig is the durable record of cluster membership and this node's
// identity, kept alongside the raft data so a restarting node can tell a
// fresh bootstrap apart from a rejoin.
type ClusterConfig struct {
    LocalID string     `json:"localId"`
    Servers []c.Server `json:"servers"`
    Index   uint64     `json:"index"`
}

// ConfigStore persists ClusterConfig as JSON under the data directory. With
// an empty directory it degrades to a process-local store for tests.
type ConfigStore struct {
    mu   sync.Mutex
    path string
    mem  *ClusterConfig
}

// NewConfigStore creates a store writing to dir/cluster.json, or an
// in-memory one when dir is empty.
func NewConfigStore(dir string) *ConfigStore {
    if dir == "" {
        return &ConfigStore{}
    }
    return &ConfigStore{path: filepath.Join(dir, "cluster.json")}
}

// Load returns the stored configuration and whether one exists.
func (s *ConfigStore) Load() (ClusterConfig, bool, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.path == "" {
        if s.mem == nil {
            return ClusterConfig{}, false, nil
        }
        return *s.mem, true, nil
    }
    data, err := os.ReadFile(s.path)
    if errors.Is(err, os.ErrNotExist) {
        return ClusterConfig{}, false, nil
    }
    if err != nil {
        return ClusterConfig{}, false, fmt.Errorf("confstore: %w", err)
    }
    var cfg ClusterConfig
    if err := json.Unmarshal(data, &cfg); err != nil {
        return ClusterConfig{}, false, fmt.Errorf("confstore: parse %s: %w", s.path, err)
    }
    return cfg, true, nil
}

// Save writes the configuration atomically (tmp file + rename).
func (s *ConfigStore) Save(cfg ClusterConfig) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.path == "" {
        cp := cfg
        s.mem = &cp
        return nil
    }
    data, err := json.MarshalIndent(cfg, "", "  ")
    if err != nil {
        return fmt.Errorf("confstore: %w", err)
    }
    tmp := s.path + ".tmp"
    if err := os.WriteFile(tmp, data, 0o644); err != nil {
        return fmt.Errorf("confstore: %w", err)
    }
    if err := os.Rename(tmp, s.path); err != nil {
        return fmt.Errorf("confstore: %w", err)
    }
    return nil
}
