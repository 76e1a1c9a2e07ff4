package raftcons

import (
    "testing"

    c "github.com/amirimatin/go-keeper/pkg/consensus"
)

func TestConfigStore_SaveLoadRoundTrip(t *testing.T) {
    dir := t.TempDir()
    cs := NewConfigStore(dir)

    if _, ok, err := cs.Load(); err != nil || ok {
        t.Fatalf("load on empty dir: ok=%v err=%v", ok, err)
    }

    want := ClusterConfig{
        LocalID: "n1",
        Index:   7,
        Servers: []c.Server{
            {ID: "n1", Addr: "127.0.0.1:7001", Voter: true},
            {ID: "n2", Addr: "127.0.0.1:7002", Voter: true},
            {ID: "n3", Addr: "127.0.0.1:7003", Voter: false},
        },
    }
    if err := cs.Save(want); err != nil { t.Fatalf("save: %v", err) }

    // A fresh store over the same dir must read it back.
    got, ok, err := NewConfigStore(dir).Load()
    if err != nil || !ok { t.Fatalf("load: ok=%v err=%v", ok, err) }
    if got.LocalID != want.LocalID || got.Index != want.Index || len(got.Servers) != 3 {
        t.Fatalf("got %+v", got)
    }
    if got.Servers[2].Voter {
        t.Fatalf("n3 should be a non-voter")
    }
}

func TestConfigStore_InmemSurvivesHandleOnly(t *testing.T) {
    cs := NewConfigStore("")
    if err := cs.Save(ClusterConfig{LocalID: "n1"}); err != nil { t.Fatalf("save: %v", err) }
    got, ok, err := cs.Load()
    if err != nil || !ok || got.LocalID != "n1" {
        t.Fatalf("load: %+v ok=%v err=%v", got, ok, err)
    }
    // Another in-memory store shares nothing.
    if _, ok, _ := NewConfigStore("").Load(); ok {
        t.Fatalf("fresh in-memory store should be empty")
    }
}
