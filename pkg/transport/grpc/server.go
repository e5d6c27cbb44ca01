package grpc

import (
    "context"
    "crypto/tls"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/villagesql/semisync/pkg/observability/tracing"
    "github.com/villagesql/semisync/pkg/transport"
)

// Server implements transport.RPCServer over gRPC using a JSON codec. It also
// exposes a server-streaming Watch of decoded acknowledgments for operator
// tooling.
type Server struct {
    bind   string
    lis    net.Listener
    srv    *grpc.Server
    tlsCfg *tls.Config

    mu   sync.Mutex
    subs map[*ackSub]struct{}
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// internal request/response types used over gRPC JSON codec
type empty struct{}
type statusBlob struct {
    Data []byte `json:"data"`
}

// managementServer defines the methods we expose.
type managementServer interface {
    GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
    SetTrace(ctx context.Context, in *transport.TraceRequest) (*transport.TraceResponse, error)
    RemoveReplica(ctx context.Context, in *transport.RemoveRequest) (*transport.RemoveResponse, error)
}

type mgmtImpl struct {
    status transport.StatusFunc
    trace  transport.TraceFunc
    remove transport.RemoveFunc
}

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    b, err := m.status(ctx)
    if err != nil { return nil, err }
    return &statusBlob{Data: b}, nil
}

func (m *mgmtImpl) SetTrace(ctx context.Context, in *transport.TraceRequest) (*transport.TraceResponse, error) {
    if in == nil { in = &transport.TraceRequest{} }
    if m.trace == nil { return &transport.TraceResponse{Accepted: false, Error: "trace not supported"}, nil }
    ctx, end := tracing.StartSpan(ctx, "grpc.trace")
    defer end()
    out, err := m.trace(ctx, *in)
    if err != nil { return &transport.TraceResponse{Accepted: false, Error: err.Error()}, nil }
    return &out, nil
}

func (m *mgmtImpl) RemoveReplica(ctx context.Context, in *transport.RemoveRequest) (*transport.RemoveResponse, error) {
    if in == nil { in = &transport.RemoveRequest{} }
    if m.remove == nil { return &transport.RemoveResponse{Accepted: false, Error: "remove not supported"}, nil }
    ctx, end := tracing.StartSpan(ctx, "grpc.remove")
    defer end()
    out, err := m.remove(ctx, *in)
    if err != nil { return &transport.RemoveResponse{Accepted: false, Error: err.Error()}, nil }
    return &out, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Management_serviceDesc = grpc.ServiceDesc{
    ServiceName: "semisync.v1.Management",
    HandlerType: (*managementServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetStatus", Handler: _Management_GetStatus_Handler},
        {MethodName: "SetTrace", Handler: _Management_SetTrace_Handler},
        {MethodName: "RemoveReplica", Handler: _Management_RemoveReplica_Handler},
    },
}

func _Management_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(empty)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).GetStatus(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/semisync.v1.Management/GetStatus"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).GetStatus(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

func _Management_SetTrace_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.TraceRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).SetTrace(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/semisync.v1.Management/SetTrace"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).SetTrace(ctx, req.(*transport.TraceRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _Management_RemoveReplica_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.RemoveRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).RemoveReplica(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/semisync.v1.Management/RemoveReplica"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).RemoveReplica(ctx, req.(*transport.RemoveRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func (s *Server) Start(ctx context.Context, status transport.StatusFunc, trace transport.TraceFunc, remove transport.RemoveFunc) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    s.lis = lis
    // Force JSON codec to avoid requiring protobuf types
    var opts []grpc.ServerOption
    opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
    // keepalive settings for long-lived watch streams
    opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
    opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    s.srv = srv
    // Health service (always serving for now)
    healthSrv := health.NewServer()
    healthpb.RegisterHealthServer(srv, healthSrv)
    // Register management service
    srv.RegisterService(&_Management_serviceDesc, &mgmtImpl{status: status, trace: trace, remove: remove})

    // Register ack watch streaming service
    s.mu.Lock()
    s.subs = make(map[*ackSub]struct{})
    s.mu.Unlock()
    srv.RegisterService(&_Watch_serviceDesc, &watchImpl{server: s})

    go func() {
        <-ctx.Done()
        // Graceful stop with a small timeout fallback
        ch := make(chan struct{})
        go func() { srv.GracefulStop(); close(ch) }()
        select {
        case <-ch:
        case <-time.After(2 * time.Second):
            srv.Stop()
        }
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// Addr returns the bound listen address once Start has succeeded.
func (s *Server) Addr() string {
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil { return nil }
    ch := make(chan struct{})
    go func() { s.srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        s.srv.Stop()
    }
    s.srv = nil
    if s.lis != nil { _ = s.lis.Close(); s.lis = nil }
    return nil
}

var _ transport.RPCServer = (*Server)(nil)

// --- Ack watch streaming ---

// AckMsg is one acknowledgment pushed to watch subscribers.
type AckMsg struct {
    ServerID uint32 `json:"serverId"`
    LogFile  string `json:"logFile"`
    LogPos   uint64 `json:"logPos"`
    At       string `json:"at"`
}

type watchReq struct {
    // ServerID filters the stream to one replica when non-zero.
    ServerID uint32 `json:"serverId,omitempty"`
}

type ackSub struct {
    ss       grpc.ServerStream
    serverID uint32
}

type watchServer interface {
    Watch(*watchReq, Watch_WatchServer) error
}

type Watch_WatchServer interface {
    Send(*AckMsg) error
    grpc.ServerStream
}

type watchImpl struct{ server *Server }

func (w *watchImpl) Watch(req *watchReq, stream Watch_WatchServer) error {
    sub := &ackSub{ss: stream}
    if req != nil { sub.serverID = req.ServerID }
    w.server.addSub(sub)
    defer w.server.removeSub(sub)
    // Block until client disconnects
    <-stream.Context().Done()
    return nil
}

func (s *Server) addSub(sub *ackSub) {
    s.mu.Lock()
    if s.subs == nil { s.subs = make(map[*ackSub]struct{}) }
    s.subs[sub] = struct{}{}
    s.mu.Unlock()
}

func (s *Server) removeSub(sub *ackSub) {
    s.mu.Lock()
    if s.subs != nil { delete(s.subs, sub) }
    s.mu.Unlock()
}

// Broadcast pushes an ack to all matching watch subscribers. Returns the
// number of streams written.
func (s *Server) Broadcast(msg AckMsg) int {
    s.mu.Lock()
    defer s.mu.Unlock()
    cnt := 0
    for sub := range s.subs {
        if sub.serverID != 0 && sub.serverID != msg.ServerID { continue }
        if err := sub.ss.SendMsg(&msg); err == nil { cnt++ } else { delete(s.subs, sub) }
    }
    return cnt
}

var _Watch_serviceDesc = grpc.ServiceDesc{
    ServiceName: "semisync.v1.Watch",
    HandlerType: (*watchServer)(nil),
    Streams: []grpc.StreamDesc{{
        StreamName:    "Watch",
        ServerStreams: true,
        Handler:       _Watch_Watch_Handler,
    }},
}

func _Watch_Watch_Handler(srv interface{}, stream grpc.ServerStream) error {
    m := new(watchReq)
    if err := stream.RecvMsg(m); err != nil { return err }
    return srv.(watchServer).Watch(m, &watchWatchServer{stream})
}

type watchWatchServer struct{ grpc.ServerStream }

func (x *watchWatchServer) Send(m *AckMsg) error { return x.ServerStream.SendMsg(m) }
