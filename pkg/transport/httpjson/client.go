package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/villagesql/semisync/pkg/transport"
)

// Client is a thin HTTP client for the management API. It supports optional
// TLS configuration and simple retry with backoff for robustness.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

func (c *Client) scheme() string {
    if c.isTLS { return "https" }
    return "http"
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    url := fmt.Sprintf("%s://%s/status", c.scheme(), addr)
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
        if err != nil { return nil, err }
        resp, err := c.httpc.Do(req)
        if err != nil {
            lastErr = err
        } else {
            var data []byte
            func() {
                defer resp.Body.Close()
                b, _ := io.ReadAll(resp.Body)
                if resp.StatusCode != http.StatusOK {
                    lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
                    return
                }
                data, lastErr = b, nil
            }()
            if lastErr == nil { return data, nil }
        }
        // backoff unless context is done
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return nil, lastErr
}

// postJSON posts req to path and decodes the response into out. Retries with
// exponential backoff; a non-200 with a decodable error body is terminal for
// that attempt but still retried.
func (c *Client) postJSON(ctx context.Context, addr, path string, req any, out any) error {
    url := fmt.Sprintf("%s://%s%s", c.scheme(), addr, path)
    body, err := json.Marshal(req)
    if err != nil { return err }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
        if err != nil { return err }
        httpReq.Header.Set("Content-Type", "application/json")
        resp, err := c.httpc.Do(httpReq)
        if err != nil {
            lastErr = err
        } else {
            func() {
                defer resp.Body.Close()
                b, _ := io.ReadAll(resp.Body)
                _ = json.Unmarshal(b, out)
                if resp.StatusCode != http.StatusOK {
                    lastErr = fmt.Errorf("%s status %d: %s", path, resp.StatusCode, string(b))
                } else {
                    lastErr = nil
                }
            }()
            if lastErr == nil { return nil }
        }
        // backoff unless context is done
        select {
        case <-ctx.Done():
            if lastErr == nil { lastErr = ctx.Err() }
            return lastErr
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return lastErr
}

func (c *Client) PostTrace(ctx context.Context, addr string, req transport.TraceRequest) (transport.TraceResponse, error) {
    var out transport.TraceResponse
    err := c.postJSON(ctx, addr, "/trace", req, &out)
    if err != nil && out.Error != "" { err = errors.New(out.Error) }
    return out, err
}

func (c *Client) PostRemove(ctx context.Context, addr string, req transport.RemoveRequest) (transport.RemoveResponse, error) {
    var out transport.RemoveResponse
    err := c.postJSON(ctx, addr, "/remove", req, &out)
    if err != nil && out.Error != "" { err = errors.New(out.Error) }
    return out, err
}

var _ transport.RPCClient = (*Client)(nil)
