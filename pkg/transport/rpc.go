package transport

import "context"

// StatusFunc returns a JSON-encoded status payload for management /status.
// Using []byte avoids import cycles on receiver types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// TraceRequest carries a new diagnostic bitmask for the ack receiver.
type TraceRequest struct {
    Level uint32 `json:"level"`
}

// TraceResponse indicates acceptance of the trace level change.
type TraceResponse struct {
    Accepted bool   `json:"accepted"`
    Level    uint32 `json:"level"`
    Error    string `json:"error,omitempty"`
}

// TraceFunc applies a trace level change.
type TraceFunc func(ctx context.Context, req TraceRequest) (TraceResponse, error)

// RemoveRequest asks the receiver to detach the replica session owned by the
// given dump thread.
type RemoveRequest struct {
    ThreadID uint32 `json:"threadId"`
}

// RemoveResponse indicates whether the detach completed.
type RemoveResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

// RemoveFunc handles replica removal requests.
type RemoveFunc func(ctx context.Context, req RemoveRequest) (RemoveResponse, error)

// RPCServer exposes management endpoints (e.g., /status, /trace, /remove)
// for operator tooling.
type RPCServer interface {
    Start(ctx context.Context, status StatusFunc, trace TraceFunc, remove RemoveFunc) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient performs management calls against a running daemon using the
// chosen protocol (HTTP/JSON or gRPC JSON codec).
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    PostTrace(ctx context.Context, addr string, req TraceRequest) (TraceResponse, error)
    PostRemove(ctx context.Context, addr string, req RemoveRequest) (RemoveResponse, error)
}
