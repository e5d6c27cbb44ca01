package transport

// Transport abstracts a bound network surface sufficiently to expose its
// local advertised address (e.g., the dump acceptor's listen address).
// Management RPC is provided via RPCServer/RPCClient.
type Transport interface {
    // Addr returns the local bind/advertise address if applicable.
    Addr() string
}
