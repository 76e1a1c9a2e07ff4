package raftcons

import (
    "bytes"
    "testing"

    "github.com/hashicorp/raft"
)

func exerciseLogStore(t *testing.T, s *LogStore) {
    t.Helper()

    if err := s.StoreLogs([]*raft.Log{
        {Index: 1, Term: 1, Data: []byte("a")},
        {Index: 2, Term: 1, Data: []byte("b")},
        {Index: 3, Term: 2, Data: []byte("c")},
    }); err != nil {
        t.Fatalf("store logs: %v", err)
    }

    first, err := s.FirstIndex()
    if err != nil || first != 1 { t.Fatalf("first = %d, %v", first, err) }
    last, err := s.LastIndex()
    if err != nil || last != 3 { t.Fatalf("last = %d, %v", last, err) }

    var out raft.Log
    if err := s.GetLog(2, &out); err != nil { t.Fatalf("get log: %v", err) }
    if !bytes.Equal(out.Data, []byte("b")) { t.Fatalf("log 2 data = %q", out.Data) }

    if err := s.DeleteRange(1, 2); err != nil { t.Fatalf("delete range: %v", err) }
    if first, _ := s.FirstIndex(); first != 3 { t.Fatalf("first after truncate = %d", first) }

    // Stable store side
    if err := s.Set([]byte("k"), []byte("v")); err != nil { t.Fatalf("set: %v", err) }
    v, err := s.Get([]byte("k"))
    if err != nil || string(v) != "v" { t.Fatalf("get = %q, %v", v, err) }
    if err := s.SetUint64([]byte("u"), 42); err != nil { t.Fatalf("set u64: %v", err) }
    u, err := s.GetUint64([]byte("u"))
    if err != nil || u != 42 { t.Fatalf("get u64 = %d, %v", u, err) }
}

func TestLogStore_Inmem(t *testing.T) {
    exerciseLogStore(t, NewInmemLogStore())
}

func TestLogStore_Bolt(t *testing.T) {
    s, err := NewBoltLogStore(t.TempDir())
    if err != nil { t.Fatalf("new bolt store: %v", err) }
    defer s.Close()
    exerciseLogStore(t, s)
}
