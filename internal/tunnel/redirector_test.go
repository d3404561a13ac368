package tunnel

import (
	"context"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardsamuels/stc/internal/wire"
)

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestRedirector(t *testing.T, backend io.ReadWriteCloser, idle time.Duration) (*Redirector, chan wire.Frame, chan wire.Frame) {
	t.Helper()
	outbound := make(chan wire.Frame, 8)
	entry := sessionEntry{tx: make(chan wire.Frame, 8), done: make(chan struct{})}
	r := NewRedirector("peer:1", 10000, backend, outbound, entry, discardLogger(), idle)
	return r, outbound, entry.tx
}

func TestRedirectorForwardsBackendReadsAsDatagrams(t *testing.T) {
	backend, remote := net.Pipe()
	r, outbound, _ := newTestRedirector(t, backend, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan wire.SessionID, 1)
	go func() { doneCh <- r.Run(ctx) }()

	_, err := remote.Write([]byte("hello"))
	require.NoError(t, err)

	f := <-outbound
	assert.Equal(t, wire.FrameDatagram, f.Kind)
	assert.Equal(t, []byte("hello"), f.Data)
	assert.Equal(t, wire.SessionID("peer:1"), f.ID)

	cancel()
	id := <-doneCh
	assert.Equal(t, wire.SessionID("peer:1"), id)
	remote.Close()
}

func TestRedirectorWritesInboundDatagramsToBackend(t *testing.T) {
	backend, remote := net.Pipe()
	r, _, inbound := newTestRedirector(t, backend, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	inbound <- wire.DatagramFrame("peer:1", 10000, []byte("payload"))

	buf := make([]byte, 32)
	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := remote.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf[:n]))
}

func TestRedirectorTerminatesOnBackendEOF(t *testing.T) {
	backend, remote := net.Pipe()
	r, outbound, _ := newTestRedirector(t, backend, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	doneCh := make(chan wire.SessionID, 1)
	go func() { doneCh <- r.Run(ctx) }()

	remote.Close()

	select {
	case f := <-outbound:
		assert.Equal(t, wire.FrameKillListener, f.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a KillListener frame after backend EOF")
	}
	<-doneCh
}

func TestRedirectorTerminatesOnPeerKillListener(t *testing.T) {
	backend, remote := net.Pipe()
	defer remote.Close()
	r, _, inbound := newTestRedirector(t, backend, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	doneCh := make(chan wire.SessionID, 1)
	go func() { doneCh <- r.Run(ctx) }()

	inbound <- wire.KillListenerFrame("peer:1")

	select {
	case id := <-doneCh:
		assert.Equal(t, wire.SessionID("peer:1"), id)
	case <-time.After(2 * time.Second):
		t.Fatal("redirector did not terminate on KillListener")
	}
}

func TestRedirectorIdleTimeout(t *testing.T) {
	backend, remote := net.Pipe()
	defer remote.Close()
	r, _, _ := newTestRedirector(t, backend, 10*time.Millisecond)
	r.idle = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	doneCh := make(chan wire.SessionID, 1)
	go func() { doneCh <- r.Run(ctx) }()

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("redirector did not terminate on idle timeout")
	}
}
