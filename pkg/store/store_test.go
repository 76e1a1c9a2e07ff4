package store

import (
    "bytes"
    "testing"
)

func applyOK(t *testing.T, s *Store, e Entry, index uint64) Response {
    t.Helper()
    resp := s.Apply(e, index)
    if !resp.OK() {
        t.Fatalf("apply %s at %d: code=%s err=%s", e.Kind, index, resp.Code, resp.Err)
    }
    return resp
}

func reqEntry(session int64, req Request) Entry {
    return Entry{Kind: KindRequest, Session: session, Request: &req}
}

func TestStore_CreateSetGetDelete(t *testing.T) {
    s := New()
    applyOK(t, s, reqEntry(0, Request{Op: OpCreate, Path: "/x", Data: []byte("1"), Version: -1}), 1)

    resp := applyOK(t, s, reqEntry(0, Request{Op: OpGet, Path: "/x", Version: -1}), 2)
    if string(resp.Data) != "1" || resp.Version != 0 {
        t.Fatalf("get /x = %q v%d, want \"1\" v0", resp.Data, resp.Version)
    }

    resp = applyOK(t, s, reqEntry(0, Request{Op: OpSet, Path: "/x", Data: []byte("2"), Version: 0}), 3)
    if resp.Version != 1 {
        t.Fatalf("set version = %d, want 1", resp.Version)
    }

    if resp := s.Apply(reqEntry(0, Request{Op: OpSet, Path: "/x", Data: []byte("3"), Version: 0}), 4); resp.Code != CodeBadVersion {
        t.Fatalf("stale set code = %s, want %s", resp.Code, CodeBadVersion)
    }

    applyOK(t, s, reqEntry(0, Request{Op: OpDelete, Path: "/x", Version: -1}), 5)
    if resp := s.Apply(reqEntry(0, Request{Op: OpGet, Path: "/x", Version: -1}), 6); resp.Code != CodeNoNode {
        t.Fatalf("get deleted code = %s, want %s", resp.Code, CodeNoNode)
    }
}

func TestStore_ParentRules(t *testing.T) {
    s := New()
    if resp := s.Apply(reqEntry(0, Request{Op: OpCreate, Path: "/a/b", Version: -1}), 1); resp.Code != CodeNoNode {
        t.Fatalf("create orphan code = %s, want %s", resp.Code, CodeNoNode)
    }
    applyOK(t, s, reqEntry(0, Request{Op: OpCreate, Path: "/a", Version: -1}), 2)
    applyOK(t, s, reqEntry(0, Request{Op: OpCreate, Path: "/a/b", Version: -1}), 3)

    if resp := s.Apply(reqEntry(0, Request{Op: OpDelete, Path: "/a", Version: -1}), 4); resp.Code != CodeNotEmpty {
        t.Fatalf("delete non-leaf code = %s, want %s", resp.Code, CodeNotEmpty)
    }
    if resp := s.Apply(reqEntry(0, Request{Op: OpCreate, Path: "/a", Version: -1}), 5); resp.Code != CodeNodeExists {
        t.Fatalf("duplicate create code = %s, want %s", resp.Code, CodeNodeExists)
    }

    resp := applyOK(t, s, reqEntry(0, Request{Op: OpList, Path: "/a", Version: -1}), 6)
    if len(resp.Children) != 1 || resp.Children[0] != "b" {
        t.Fatalf("list /a = %v, want [b]", resp.Children)
    }
}

func TestStore_BadPaths(t *testing.T) {
    s := New()
    for _, p := range []string{"", "x", "/a/", "//", "/a//b"} {
        if resp := s.Apply(reqEntry(0, Request{Op: OpCreate, Path: p, Version: -1}), 1); resp.Code != CodeBadRequest && resp.Code != CodeNodeExists {
            t.Fatalf("create %q code = %s, want bad_request", p, resp.Code)
        }
    }
}

func TestStore_EphemeralLifecycle(t *testing.T) {
    s := New()
    resp := applyOK(t, s, Entry{Kind: KindSessionCreate, TimeoutMs: 30000}, 1)
    sid := resp.SessionID
    if sid == 0 {
        t.Fatalf("session id = 0, want fresh id")
    }

    // ephemeral create without a session is rejected
    if resp := s.Apply(reqEntry(0, Request{Op: OpCreate, Path: "/e", Ephemeral: true, Version: -1}), 2); resp.Code != CodeBadRequest {
        t.Fatalf("sessionless ephemeral code = %s, want %s", resp.Code, CodeBadRequest)
    }

    applyOK(t, s, reqEntry(sid, Request{Op: OpCreate, Path: "/e", Ephemeral: true, Version: -1}), 3)
    applyOK(t, s, reqEntry(sid, Request{Op: OpCreate, Path: "/p", Version: -1}), 4)

    // ephemeral nodes cannot have children
    if resp := s.Apply(reqEntry(sid, Request{Op: OpCreate, Path: "/e/kid", Version: -1}), 5); resp.Code != CodeBadRequest {
        t.Fatalf("child of ephemeral code = %s, want %s", resp.Code, CodeBadRequest)
    }

    applyOK(t, s, Entry{Kind: KindSessionExpire, Session: sid}, 6)
    if _, ok := s.Get("/e"); ok {
        t.Fatalf("ephemeral /e survived session expiry")
    }
    if _, ok := s.Get("/p"); !ok {
        t.Fatalf("persistent /p removed by session expiry")
    }
    if resp := s.Apply(reqEntry(sid, Request{Op: OpGet, Path: "/p", Version: -1}), 7); resp.Code != CodeSessionExpired {
        t.Fatalf("request on expired session code = %s, want %s", resp.Code, CodeSessionExpired)
    }
}

func TestStore_SessionIDsMonotonic(t *testing.T) {
    s := New()
    var last int64
    for i := uint64(1); i <= 5; i++ {
        resp := applyOK(t, s, Entry{Kind: KindSessionCreate, TimeoutMs: 1000}, i)
        if resp.SessionID <= last {
            t.Fatalf("session id %d not greater than %d", resp.SessionID, last)
        }
        last = resp.SessionID
    }
}

// Two independently initialized stores applying the same sequence must end in
// byte-identical snapshots.
func TestStore_ApplyDeterminism(t *testing.T) {
    entries := []Entry{
        {Kind: KindSessionCreate, TimeoutMs: 10000},
        reqEntry(1, Request{Op: OpCreate, Path: "/a", Data: []byte("v"), Version: -1}),
        reqEntry(1, Request{Op: OpCreate, Path: "/a/b", Version: -1}),
        reqEntry(1, Request{Op: OpCreate, Path: "/tmp", Ephemeral: true, Version: -1}),
        reqEntry(1, Request{Op: OpSet, Path: "/a", Data: []byte("w"), Version: 0}),
        {Kind: KindSessionCreate, TimeoutMs: 20000},
        reqEntry(2, Request{Op: OpCreate, Path: "/c", Version: -1}),
        {Kind: KindSessionExpire, Session: 1},
        {Kind: KindMemberNote, Member: &MemberNote{ID: "n2", Addr: "127.0.0.1:9521", CanLead: true, Priority: 1}},
    }
    s1, s2 := New(), New()
    for i, e := range entries {
        r1 := s1.Apply(e, uint64(i+1))
        r2 := s2.Apply(e, uint64(i+1))
        if r1.Code != r2.Code {
            t.Fatalf("entry %d: codes diverge: %s vs %s", i, r1.Code, r2.Code)
        }
    }
    b1, err := s1.Snapshot()
    if err != nil {
        t.Fatalf("snapshot 1: %v", err)
    }
    b2, err := s2.Snapshot()
    if err != nil {
        t.Fatalf("snapshot 2: %v", err)
    }
    if !bytes.Equal(b1, b2) {
        t.Fatalf("snapshots diverge:\n%s\n%s", b1, b2)
    }
}

// Restoring a snapshot and replaying the suffix must match applying every
// entry from the start.
func TestStore_SnapshotRestoreReplay(t *testing.T) {
    full := New()
    entries := []Entry{
        {Kind: KindSessionCreate, TimeoutMs: 10000},
        reqEntry(1, Request{Op: OpCreate, Path: "/a", Data: []byte("1"), Version: -1}),
        reqEntry(1, Request{Op: OpCreate, Path: "/a/b", Data: []byte("2"), Version: -1}),
        reqEntry(1, Request{Op: OpSet, Path: "/a", Data: []byte("3"), Version: 0}),
        reqEntry(1, Request{Op: OpCreate, Path: "/eph", Ephemeral: true, Version: -1}),
    }
    for i, e := range entries {
        full.Apply(e, uint64(i+1))
    }

    partial := New()
    for i, e := range entries[:3] {
        partial.Apply(e, uint64(i+1))
    }
    snap, err := partial.Snapshot()
    if err != nil {
        t.Fatalf("snapshot: %v", err)
    }
    restored := New()
    if err := restored.Restore(snap); err != nil {
        t.Fatalf("restore: %v", err)
    }
    for i, e := range entries[3:] {
        restored.Apply(e, uint64(i+4))
    }

    want, _ := full.Snapshot()
    got, _ := restored.Snapshot()
    if !bytes.Equal(want, got) {
        t.Fatalf("restored state diverges:\nwant %s\ngot  %s", want, got)
    }
    if restored.LastApplied() != uint64(len(entries)) {
        t.Fatalf("lastApplied = %d, want %d", restored.LastApplied(), len(entries))
    }
}

func TestEntry_EncodeDecode(t *testing.T) {
    e := Entry{Kind: KindRequest, Session: 7, XID: "x-1", At: 12345,
        Request: &Request{Op: OpCreate, Path: "/x", Data: []byte("d"), Version: -1}}
    b, err := EncodeEntry(e)
    if err != nil {
        t.Fatalf("encode: %v", err)
    }
    got, err := DecodeEntry(b)
    if err != nil {
        t.Fatalf("decode: %v", err)
    }
    if got.Kind != e.Kind || got.Session != e.Session || got.XID != e.XID || got.Request.Path != "/x" {
        t.Fatalf("round trip mismatch: %+v", got)
    }
    if _, err := DecodeEntry([]byte(`{}`)); err == nil {
        t.Fatalf("decode of kindless entry should fail")
    }
}
