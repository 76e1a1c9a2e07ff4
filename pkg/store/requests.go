package store

import (
    "encoding/json"
    "fmt"
    "strings"
)

// Op identifies a hierarchical store operation carried inside a log entry.
type Op string

const (
    OpCreate Op = "create"
    OpSet    Op = "set"
    OpGet    Op = "get"
    OpDelete Op = "delete"
    OpExists Op = "exists"
    OpList   Op = "list"
)

// Code classifies the outcome of an applied request. Codes are part of the
// replicated response and must be stable across versions.
type Code string

const (
    CodeOK             Code = "ok"
    CodeNodeExists     Code = "node_exists"
    CodeNoNode         Code = "no_node"
    CodeBadVersion     Code = "bad_version"
    CodeNotEmpty       Code = "not_empty"
    CodeBadRequest     Code = "bad_request"
    CodeSessionExpired Code = "session_expired"

    // Generated locally for proposals that failed before commit; these
    // never appear in replicated state.
    CodeNotLeader Code = "not_leader"
    CodeTimeout   Code = "timeout"
)

// Request is a single client operation against the hierarchical store.
// Version -1 matches any version on Set/Delete.
type Request struct {
    Op        Op     `json:"op"`
    Path      string `json:"path"`
    Data      []byte `json:"data,omitempty"`
    Version   int64  `json:"version"`
    Ephemeral bool   `json:"ephemeral,omitempty"`
}

// Response is the applied outcome of a Request (or of a session operation).
type Response struct {
    Code      Code     `json:"code"`
    Err       string   `json:"err,omitempty"`
    Path      string   `json:"path,omitempty"`
    Data      []byte   `json:"data,omitempty"`
    Version   int64    `json:"version,omitempty"`
    Children  []string `json:"children,omitempty"`
    Exists    bool     `json:"exists,omitempty"`
    SessionID int64    `json:"sessionId,omitempty"`
}

// OK reports whether the response carries a successful outcome.
func (r Response) OK() bool { return r.Code == CodeOK }

func errResponse(code Code, format string, args ...any) Response {
    return Response{Code: code, Err: fmt.Sprintf(format, args...)}
}

// RequestForSession pairs a client request with the session that issued it
// and an opaque correlation token. It exists only between ingress and apply.
type RequestForSession struct {
    Session int64
    XID     string
    Request Request
}

// Kind tags the payload of a replicated log entry.
type Kind string

const (
    KindRequest       Kind = "request"
    KindSessionCreate Kind = "session-create"
    KindSessionClose  Kind = "session-close"
    KindSessionExpire Kind = "session-expire"
    KindMemberNote    Kind = "member-note"
)

// MemberNote is replicated bookkeeping for a configuration change: identity,
// reachability and scheduling hints of a server. Voting membership itself is
// owned by the raft configuration log, not by this entry.
type MemberNote struct {
    ID       string `json:"id"`
    Addr     string `json:"addr,omitempty"`
    CanLead  bool   `json:"canLead,omitempty"`
    Priority int32  `json:"priority,omitempty"`
    Remove   bool   `json:"remove,omitempty"`
}

// Entry is the JSON envelope stored as a raft log payload. At is stamped by
// the proposing leader so that apply never reads the wall clock.
type Entry struct {
    Kind      Kind        `json:"kind"`
    Session   int64       `json:"session,omitempty"`
    XID       string      `json:"xid,omitempty"`
    At        int64       `json:"at,omitempty"` // unix millis at proposal time
    TimeoutMs int64       `json:"timeoutMs,omitempty"`
    Request   *Request    `json:"request,omitempty"`
    Member    *MemberNote `json:"member,omitempty"`
}

// EncodeEntry serializes an entry for proposal.
func EncodeEntry(e Entry) ([]byte, error) { return json.Marshal(e) }

// DecodeEntry parses a raft log payload back into an Entry.
func DecodeEntry(data []byte) (Entry, error) {
    var e Entry
    if err := json.Unmarshal(data, &e); err != nil {
        return Entry{}, fmt.Errorf("store: decode entry: %w", err)
    }
    if e.Kind == "" {
        return Entry{}, fmt.Errorf("store: entry missing kind")
    }
    return e, nil
}

// ValidatePath checks the canonical path form: absolute, no trailing slash
// (except the root itself), no empty segments.
func ValidatePath(path string) error {
    if path == "" || path[0] != '/' {
        return fmt.Errorf("store: path must be absolute: %q", path)
    }
    if path == "/" {
        return nil
    }
    if strings.HasSuffix(path, "/") {
        return fmt.Errorf("store: path must not end with '/': %q", path)
    }
    for _, seg := range strings.Split(path[1:], "/") {
        if seg == "" {
            return fmt.Errorf("store: path contains empty segment: %q", path)
        }
    }
    return nil
}

// ParentPath returns the parent of a canonical path ("/" for top-level nodes).
func ParentPath(path string) string {
    i := strings.LastIndexByte(path, '/')
    if i <= 0 {
        return "/"
    }
    return path[:i]
}

// BaseName returns the last segment of a canonical path.
func BaseName(path string) string {
    i := strings.LastIndexByte(path, '/')
    return path[i+1:]
}
