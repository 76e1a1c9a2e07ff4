package store

import (
    "encoding/json"
    "fmt"
    "sort"
    "sync"
    "time"
)

// Node is a single entry in the hierarchical store. Owner is the session id
// for ephemeral nodes, zero for persistent ones.
type Node struct {
    Data    []byte
    Version int64
    Owner   int64
    children map[string]struct{}
}

// Store is the deterministic in-memory state machine state: the hierarchical
// node tree plus the replicated part of the session registry (existence,
// negotiated timeout, id counter). Apply is driven by the consensus engine
// strictly in committed-index order; all other accessors are read paths and
// may observe a state behind the true commit index (stale-tolerant).
type Store struct {
    mu          sync.RWMutex
    nodes       map[string]*Node
    ephemerals  map[int64]map[string]struct{}
    sessions    map[int64]int64 // session id -> timeout millis (replicated)
    nextSession int64
    members     map[string]MemberNote
    lastApplied uint64

    reg *Registry // liveness detector, node-local
}

// New returns an empty store containing only the root node.
func New() *Store {
    s := &Store{
        nodes:      map[string]*Node{"/": {children: map[string]struct{}{}}},
        ephemerals: make(map[int64]map[string]struct{}),
        sessions:   make(map[int64]int64),
        members:    make(map[string]MemberNote),
        reg:        newRegistry(),
    }
    return s
}

// Registry exposes the session liveness detector.
func (s *Store) Registry() *Registry { return s.reg }

// Apply interprets one committed entry. It must remain a pure function of
// (current state, entry): timestamps ride in the entry, never the clock.
func (s *Store) Apply(e Entry, index uint64) Response {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.lastApplied = index

    switch e.Kind {
    case KindSessionCreate:
        id := s.nextSession + 1
        s.nextSession = id
        s.sessions[id] = e.TimeoutMs
        s.reg.track(id, time.Duration(e.TimeoutMs)*time.Millisecond)
        return Response{Code: CodeOK, SessionID: id}

    case KindSessionClose, KindSessionExpire:
        if _, ok := s.sessions[e.Session]; !ok {
            return errResponse(CodeSessionExpired, "session %d not found", e.Session)
        }
        s.removeSessionLocked(e.Session)
        return Response{Code: CodeOK, SessionID: e.Session}

    case KindMemberNote:
        if e.Member == nil || e.Member.ID == "" {
            return errResponse(CodeBadRequest, "member note missing id")
        }
        if e.Member.Remove {
            delete(s.members, e.Member.ID)
        } else {
            s.members[e.Member.ID] = *e.Member
        }
        return Response{Code: CodeOK}

    case KindRequest:
        if e.Request == nil {
            return errResponse(CodeBadRequest, "entry missing request")
        }
        if e.Session != 0 {
            if _, ok := s.sessions[e.Session]; !ok {
                return errResponse(CodeSessionExpired, "session %d expired", e.Session)
            }
            s.reg.touch(e.Session)
        }
        return s.applyRequestLocked(e.Session, *e.Request)

    default:
        return errResponse(CodeBadRequest, "unknown entry kind %q", e.Kind)
    }
}

func (s *Store) applyRequestLocked(session int64, req Request) Response {
    if err := ValidatePath(req.Path); err != nil {
        return errResponse(CodeBadRequest, "%v", err)
    }
    switch req.Op {
    case OpCreate:
        return s.createLocked(session, req)
    case OpSet:
        return s.setLocked(req)
    case OpGet:
        n, ok := s.nodes[req.Path]
        if !ok {
            return errResponse(CodeNoNode, "node %s not found", req.Path)
        }
        return Response{Code: CodeOK, Path: req.Path, Data: n.Data, Version: n.Version}
    case OpDelete:
        return s.deleteLocked(req)
    case OpExists:
        n, ok := s.nodes[req.Path]
        if !ok {
            return Response{Code: CodeOK, Path: req.Path, Exists: false}
        }
        return Response{Code: CodeOK, Path: req.Path, Exists: true, Version: n.Version}
    case OpList:
        n, ok := s.nodes[req.Path]
        if !ok {
            return errResponse(CodeNoNode, "node %s not found", req.Path)
        }
        names := make([]string, 0, len(n.children))
        for name := range n.children {
            names = append(names, name)
        }
        sort.Strings(names)
        return Response{Code: CodeOK, Path: req.Path, Children: names, Version: n.Version}
    default:
        return errResponse(CodeBadRequest, "unknown op %q", req.Op)
    }
}

func (s *Store) createLocked(session int64, req Request) Response {
    if req.Path == "/" {
        return errResponse(CodeNodeExists, "root always exists")
    }
    if _, ok := s.nodes[req.Path]; ok {
        return errResponse(CodeNodeExists, "node %s already exists", req.Path)
    }
    parent, ok := s.nodes[ParentPath(req.Path)]
    if !ok {
        return errResponse(CodeNoNode, "parent of %s not found", req.Path)
    }
    if parent.Owner != 0 {
        return errResponse(CodeBadRequest, "ephemeral node %s cannot have children", ParentPath(req.Path))
    }
    var owner int64
    if req.Ephemeral {
        if session == 0 {
            return errResponse(CodeBadRequest, "ephemeral create requires a session")
        }
        owner = session
        if s.ephemerals[session] == nil {
            s.ephemerals[session] = make(map[string]struct{})
        }
        s.ephemerals[session][req.Path] = struct{}{}
    }
    s.nodes[req.Path] = &Node{Data: req.Data, Owner: owner, children: map[string]struct{}{}}
    parent.children[BaseName(req.Path)] = struct{}{}
    return Response{Code: CodeOK, Path: req.Path, Version: 0}
}

func (s *Store) setLocked(req Request) Response {
    n, ok := s.nodes[req.Path]
    if !ok {
        return errResponse(CodeNoNode, "node %s not found", req.Path)
    }
    if req.Version != -1 && req.Version != n.Version {
        return errResponse(CodeBadVersion, "node %s at version %d, want %d", req.Path, n.Version, req.Version)
    }
    n.Data = req.Data
    n.Version++
    return Response{Code: CodeOK, Path: req.Path, Version: n.Version}
}

func (s *Store) deleteLocked(req Request) Response {
    if req.Path == "/" {
        return errResponse(CodeBadRequest, "cannot delete root")
    }
    n, ok := s.nodes[req.Path]
    if !ok {
        return errResponse(CodeNoNode, "node %s not found", req.Path)
    }
    if req.Version != -1 && req.Version != n.Version {
        return errResponse(CodeBadVersion, "node %s at version %d, want %d", req.Path, n.Version, req.Version)
    }
    if len(n.children) > 0 {
        return errResponse(CodeNotEmpty, "node %s has children", req.Path)
    }
    s.removeNodeLocked(req.Path, n)
    return Response{Code: CodeOK, Path: req.Path}
}

func (s *Store) removeNodeLocked(path string, n *Node) {
    delete(s.nodes, path)
    if parent, ok := s.nodes[ParentPath(path)]; ok {
        delete(parent.children, BaseName(path))
    }
    if n.Owner != 0 {
        if owned := s.ephemerals[n.Owner]; owned != nil {
            delete(owned, path)
        }
    }
}

// removeSessionLocked drops the session and all its ephemeral nodes. Deepest
// paths go first so parents empty out before their own removal.
func (s *Store) removeSessionLocked(id int64) {
    owned := make([]string, 0, len(s.ephemerals[id]))
    for p := range s.ephemerals[id] {
        owned = append(owned, p)
    }
    sort.Slice(owned, func(i, j int) bool { return len(owned[i]) > len(owned[j]) })
    for _, p := range owned {
        if n, ok := s.nodes[p]; ok {
            s.removeNodeLocked(p, n)
        }
    }
    delete(s.ephemerals, id)
    delete(s.sessions, id)
    s.reg.forget(id)
}

// Get is a stale-tolerant read bypassing consensus.
func (s *Store) Get(path string) (Node, bool) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    n, ok := s.nodes[path]
    if !ok {
        return Node{}, false
    }
    return Node{Data: n.Data, Version: n.Version, Owner: n.Owner}, true
}

// SessionTimeout returns the replicated timeout of a session, if it exists.
func (s *Store) SessionTimeout(id int64) (time.Duration, bool) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    t, ok := s.sessions[id]
    return time.Duration(t) * time.Millisecond, ok
}

// Counts reports node and session counts for status endpoints.
func (s *Store) Counts() (nodes, sessions int) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return len(s.nodes), len(s.sessions)
}

// Members returns the replicated member bookkeeping.
func (s *Store) Members() []MemberNote {
    s.mu.RLock()
    defer s.mu.RUnlock()
    out := make([]MemberNote, 0, len(s.members))
    for _, m := range s.members {
        out = append(out, m)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out
}

// LastApplied returns the highest index handed to Apply.
func (s *Store) LastApplied() uint64 {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return s.lastApplied
}

// DeadSessions returns sessions whose liveness lapsed as of now. Detection
// only; removal must be proposed through the replicated log.
func (s *Store) DeadSessions(now time.Time) []int64 {
    return s.reg.deadSessions(now)
}

type snapshotNode struct {
    Path    string `json:"path"`
    Data    []byte `json:"data,omitempty"`
    Version int64  `json:"version"`
    Owner   int64  `json:"owner,omitempty"`
}

type snapshotSession struct {
    ID        int64 `json:"id"`
    TimeoutMs int64 `json:"timeoutMs"`
}

type snapshotEnvelope struct {
    Version     int               `json:"version"`
    LastApplied uint64            `json:"lastApplied"`
    NextSession int64             `json:"nextSession"`
    Nodes       []snapshotNode    `json:"nodes"`
    Sessions    []snapshotSession `json:"sessions"`
    Members     []MemberNote      `json:"members,omitempty"`
}

// Snapshot encodes the replicated state as canonical JSON: nodes and sessions
// sorted, so two replicas at the same applied index serialize identically.
func (s *Store) Snapshot() ([]byte, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    env := snapshotEnvelope{Version: 1, LastApplied: s.lastApplied, NextSession: s.nextSession}
    for p, n := range s.nodes {
        if p == "/" && n.Version == 0 && len(n.Data) == 0 {
            continue // implicit root
        }
        env.Nodes = append(env.Nodes, snapshotNode{Path: p, Data: n.Data, Version: n.Version, Owner: n.Owner})
    }
    sort.Slice(env.Nodes, func(i, j int) bool { return env.Nodes[i].Path < env.Nodes[j].Path })
    for id, t := range s.sessions {
        env.Sessions = append(env.Sessions, snapshotSession{ID: id, TimeoutMs: t})
    }
    sort.Slice(env.Sessions, func(i, j int) bool { return env.Sessions[i].ID < env.Sessions[j].ID })
    for _, m := range s.members {
        env.Members = append(env.Members, m)
    }
    sort.Slice(env.Members, func(i, j int) bool { return env.Members[i].ID < env.Members[j].ID })
    return json.Marshal(env)
}

// Restore replaces the state with a snapshot. All restored sessions get a
// fresh liveness grace period, mirroring a restart of the original service.
func (s *Store) Restore(buf []byte) error {
    var env snapshotEnvelope
    if err := json.Unmarshal(buf, &env); err != nil {
        return fmt.Errorf("store: restore: %w", err)
    }
    if env.Version != 1 {
        return fmt.Errorf("store: unsupported snapshot version %d", env.Version)
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    s.nodes = map[string]*Node{"/": {children: map[string]struct{}{}}}
    s.ephemerals = make(map[int64]map[string]struct{})
    s.sessions = make(map[int64]int64, len(env.Sessions))
    s.members = make(map[string]MemberNote, len(env.Members))
    s.nextSession = env.NextSession
    s.lastApplied = env.LastApplied
    for _, sn := range env.Nodes {
        s.nodes[sn.Path] = &Node{Data: sn.Data, Version: sn.Version, Owner: sn.Owner, children: map[string]struct{}{}}
    }
    // second pass: rebuild children sets and ephemeral ownership
    for p, n := range s.nodes {
        if p == "/" {
            continue
        }
        if parent, ok := s.nodes[ParentPath(p)]; ok {
            parent.children[BaseName(p)] = struct{}{}
        }
        if n.Owner != 0 {
            if s.ephemerals[n.Owner] == nil {
                s.ephemerals[n.Owner] = make(map[string]struct{})
            }
            s.ephemerals[n.Owner][p] = struct{}{}
        }
    }
    s.reg.reset()
    for _, sess := range env.Sessions {
        s.sessions[sess.ID] = sess.TimeoutMs
        s.reg.track(sess.ID, time.Duration(sess.TimeoutMs)*time.Millisecond)
    }
    return nil
}
