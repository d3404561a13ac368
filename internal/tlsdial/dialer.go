// Package tlsdial implements the TCP-connect-plus-optional-TLS-wrap
// capability the tunnel Client uses to open a backend for each session.
package tlsdial

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/richardsamuels/stc/internal/tunnel"
)

// Dialer opens backend connections for tunnel sessions, wrapping with TLS
// when a tunnel entry requests it.
type Dialer struct {
	netDialer *net.Dialer
	caCache   map[string]*x509.CertPool
}

// Option configures a Dialer at construction time, mirroring the
// functional-options shape used elsewhere in this codebase for optional,
// order-independent construction parameters.
type Option func(*Dialer) error

// New builds a Dialer, applying any Options in order.
func New(opts ...Option) (*Dialer, error) {
	d := &Dialer{
		netDialer: &net.Dialer{},
		caCache:   make(map[string]*x509.CertPool),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("tlsdial: error applying option: %w", err)
		}
	}
	return d, nil
}

// WithDialTimeout bounds how long the underlying TCP dial may take, on top
// of whatever deadline the caller's context already carries.
func WithDialTimeout(timeout time.Duration) Option {
	return func(d *Dialer) error {
		d.netDialer.Timeout = timeout
		return nil
	}
}

// Dial satisfies tunnel.Dialer: it connects to entry's local backend and, if
// entry.Crypto names a TLS configuration, wraps the connection as a TLS
// client using SNI = entry.Crypto.SNIName and the configured CA trust set.
func (d *Dialer) Dial(ctx context.Context, entry tunnel.TunnelEntry) (io.ReadWriteCloser, error) {
	host := entry.LocalHostname
	if host == "" {
		host = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", host, entry.LocalPort)

	conn, err := d.netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tlsdial: dial %s: %w", addr, err)
	}

	if entry.Crypto == nil {
		return conn, nil
	}

	pool, err := d.caPool(entry.Crypto.CAFile)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("tlsdial: load CA trust for %s: %w", addr, err)
	}

	sni := entry.Crypto.SNIName
	if sni == "" {
		sni = "127.0.0.1"
	}

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName: sni,
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("tlsdial: TLS handshake to %s: %w", addr, err)
	}
	return tlsConn, nil
}

// caPool loads and caches the CA bundle named by path. An empty path means
// trust the system roots.
func (d *Dialer) caPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return x509.SystemCertPool()
	}
	if pool, ok := d.caCache[path]; ok {
		return pool, nil
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	d.caCache[path] = pool
	return pool, nil
}
