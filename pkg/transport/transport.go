package transport

// Transport abstracts the node-internal transport layer sufficiently to
// expose the local advertised address (e.g., the consensus bind address).
// The management RPC surface is provided via RPCServer/RPCClient.
type Transport interface {
    // Addr returns the local bind/advertise address if applicable.
    Addr() string
}
