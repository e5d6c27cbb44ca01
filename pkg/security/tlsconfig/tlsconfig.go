// Package tlsconfig builds tls.Config values for the management surface,
// with optional mTLS and lazy certificate reload for manual rotation.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "os"
    "sync"
    "time"
)

// Options defines mTLS configuration inputs.
type Options struct {
    Enable             bool
    CAFile             string
    CertFile           string
    KeyFile            string
    InsecureSkipVerify bool
    ServerName         string
}

// certCache reloads a key pair from disk at most every ttl, so replacing the
// files on disk rotates the certificate without a restart.
type certCache struct {
    certFile, keyFile string

    mu       sync.RWMutex
    cached   *tls.Certificate
    lastLoad time.Time
}

const reloadTTL = 10 * time.Second

func (c *certCache) load() (*tls.Certificate, error) {
    if c.certFile == "" || c.keyFile == "" {
        return nil, nil
    }
    c.mu.RLock()
    if c.cached != nil && time.Since(c.lastLoad) < reloadTTL {
        cert := *c.cached
        c.mu.RUnlock()
        return &cert, nil
    }
    c.mu.RUnlock()
    cert, err := tls.LoadX509KeyPair(c.certFile, c.keyFile)
    if err != nil { return nil, err }
    c.mu.Lock()
    c.cached = &cert
    c.lastLoad = time.Now()
    c.mu.Unlock()
    return &cert, nil
}

func (o Options) caPool() (*x509.CertPool, error) {
    if o.CAFile == "" {
        return nil, nil
    }
    ca, err := os.ReadFile(o.CAFile)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    pool.AppendCertsFromPEM(ca)
    return pool, nil
}

// Server returns a tls.Config for servers if enabled, otherwise nil.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable {
        return nil, nil
    }
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tls: server cert/key required when TLS enabled")
    }
    cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
    if err != nil { return nil, err }
    cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
    if pool, err := o.caPool(); err != nil {
        return nil, err
    } else if pool != nil {
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

// Client returns a tls.Config for clients if enabled, otherwise nil.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable {
        return nil, nil
    }
    cfg := &tls.Config{InsecureSkipVerify: o.InsecureSkipVerify} //nolint:gosec
    if o.ServerName != "" { cfg.ServerName = o.ServerName }
    if pool, err := o.caPool(); err != nil {
        return nil, err
    } else if pool != nil {
        cfg.RootCAs = pool
    }
    if o.CertFile != "" && o.KeyFile != "" {
        cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
        if err != nil { return nil, err }
        cfg.Certificates = []tls.Certificate{cert}
    }
    return cfg, nil
}

// ServerHotReload returns a server tls.Config that reloads the certificate
// from disk lazily on handshake, to support manual rotation without
// restarting the process. The CA pool is loaded once.
func (o Options) ServerHotReload() (*tls.Config, error) {
    if !o.Enable {
        return nil, nil
    }
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tls: server cert/key required when TLS enabled")
    }
    cfg := &tls.Config{}
    if pool, err := o.caPool(); err != nil {
        return nil, err
    } else if pool != nil {
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    cache := &certCache{certFile: o.CertFile, keyFile: o.KeyFile}
    cfg.GetCertificate = func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
        return cache.load()
    }
    return cfg, nil
}

// ClientHotReload returns a client tls.Config that reloads the client
// certificate from disk on demand. CA roots are loaded once.
func (o Options) ClientHotReload() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{InsecureSkipVerify: o.InsecureSkipVerify} //nolint:gosec
    if o.ServerName != "" { cfg.ServerName = o.ServerName }
    if pool, err := o.caPool(); err != nil {
        return nil, err
    } else if pool != nil {
        cfg.RootCAs = pool
    }
    cache := &certCache{certFile: o.CertFile, keyFile: o.KeyFile}
    cfg.GetClientCertificate = func(info *tls.CertificateRequestInfo) (*tls.Certificate, error) {
        return cache.load()
    }
    return cfg, nil
}
