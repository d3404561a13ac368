package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrConnectionDead reports a reconnectable transport failure: the peer
// reset, aborted, or broke the pipe, or a graceful EOF was observed mid-recv.
// The enclosing retry loop may build a fresh Transport and try again.
var ErrConnectionDead = errors.New("wire: connection dead")

// PeerAddr is implemented by every concrete stream kind the Transport may be
// built over (plain TCP, TLS-wrapped TCP). The Transport depends only on
// this capability, never on the concrete type.
type PeerAddr interface {
	RemoteAddr() net.Addr
}

// Conn is the stream capability a Transport is constructed over.
type Conn interface {
	io.Reader
	io.Writer
	PeerAddr
}

// Transport is a bidirectional, framed channel over a single reliable
// ordered byte stream. It is owned by exactly one Client for its lifetime.
type Transport struct {
	conn Conn
	w    *bufio.Writer
}

// New wraps conn in a Transport. conn may be a plain net.Conn or a
// TLS-wrapped one; both satisfy Conn.
func New(conn Conn) *Transport {
	return &Transport{conn: conn, w: bufio.NewWriter(conn)}
}

// PeerAddr returns the socket address of the party at the other end.
func (t *Transport) PeerAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Recv reads and decodes the next Frame from the stream.
func (t *Transport) Recv() (Frame, error) {
	f, err := decodeFrame(t.conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, ErrConnectionDead
		}
		if reconnectable(err) {
			return Frame{}, ErrConnectionDead
		}
		return Frame{}, err
	}
	return f, nil
}

// Send encodes and writes f, then flushes. Every Send must be followed by an
// explicit flush before a peer's Recv can rely on the bytes having arrived —
// otherwise a layered encrypting transport that buffers writes may starve.
func (t *Transport) Send(f Frame) error {
	if err := encodeFrame(t.w, f); err != nil {
		if reconnectable(err) {
			return ErrConnectionDead
		}
		return err
	}
	if err := t.w.Flush(); err != nil {
		if reconnectable(err) {
			return ErrConnectionDead
		}
		return fmt.Errorf("wire: flush: %w", err)
	}
	return nil
}

// Close releases the underlying stream, if it supports closing.
func (t *Transport) Close() error {
	if c, ok := t.conn.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// reconnectable reports whether err reflects one of the I/O error kinds the
// companion server may legitimately trigger by resetting or hanging up:
// connection reset, connection aborted, or a broken pipe. Any other I/O
// error is fatal.
func reconnectable(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return reconnectable(netErr.Err)
	}
	return false
}
