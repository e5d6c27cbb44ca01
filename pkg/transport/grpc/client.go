package grpc

import (
    "context"
    "crypto/tls"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/villagesql/semisync/pkg/transport"
)

type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
    cm      *ConnManager
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    // conn manager wired lazily once the dialer is configured (including TLS)
    return &Client{timeout: timeout}
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    // Use JSON codec and set content subtype accordingly.
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.NewClient(target, opts...)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil { return nil, err }
    defer rel()
    out := new(statusBlob)
    if err := cc.Invoke(cctx, "/semisync.v1.Management/GetStatus", &empty{}, out); err != nil { return nil, err }
    return out.Data, nil
}

func (c *Client) PostTrace(ctx context.Context, addr string, req transport.TraceRequest) (transport.TraceResponse, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    var resp transport.TraceResponse
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil { return resp, err }
    defer rel()
    if err := cc.Invoke(cctx, "/semisync.v1.Management/SetTrace", &req, &resp); err != nil { return resp, err }
    return resp, nil
}

func (c *Client) PostRemove(ctx context.Context, addr string, req transport.RemoveRequest) (transport.RemoveResponse, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    var resp transport.RemoveResponse
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil { return resp, err }
    defer rel()
    if err := cc.Invoke(cctx, "/semisync.v1.Management/RemoveReplica", &req, &resp); err != nil { return resp, err }
    return resp, nil
}

// Watch opens a server-stream of acknowledgments from addr and invokes onAck
// for each. It blocks until the stream ends or ctx is done.
func (c *Client) Watch(ctx context.Context, addr string, serverID uint32, onAck func(AckMsg)) error {
    cc, err := c.dialCtx(ctx, addr)
    if err != nil { return err }
    defer cc.Close()
    desc := &grpc.StreamDesc{StreamName: "Watch", ServerStreams: true}
    stream, err := cc.NewStream(ctx, desc, "/semisync.v1.Watch/Watch")
    if err != nil { return err }
    if err := stream.SendMsg(&watchReq{ServerID: serverID}); err != nil { return err }
    if err := stream.CloseSend(); err != nil { return err }
    for {
        var msg AckMsg
        if err := stream.RecvMsg(&msg); err != nil { return err }
        onAck(msg)
    }
}

var _ transport.RPCClient = (*Client)(nil)

// getConn returns a managed connection, creating a manager if absent.
func (c *Client) getConn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
    if c.cm == nil {
        c.cm = NewConnManager(30*time.Second, c.dialCtx)
    }
    return c.cm.Get(ctx, addr)
}

// Close releases any cached connections.
func (c *Client) Close() {
    if c.cm != nil { c.cm.Close() }
}
