package consensus

import "time"

// Server describes one member of the committed configuration.
type Server struct {
    ID    string
    Addr  string
    Voter bool
}

// Reconfigurer optionally allows dynamic membership reconfiguration in the
// underlying consensus engine. Changes are applied one server at a time; the
// engine owns quorum-overlap safety across the transition.
type Reconfigurer interface {
    AddVoter(id, addr string, timeout time.Duration) error
    AddNonvoter(id, addr string, timeout time.Duration) error
    RemoveServer(id string, timeout time.Duration) error
    // Servers returns the latest committed configuration.
    Servers() ([]Server, error)
    // WaitForServer blocks until id is visible in the committed
    // configuration or the timeout elapses.
    WaitForServer(id string, timeout time.Duration) bool
}
