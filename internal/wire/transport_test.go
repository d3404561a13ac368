package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportSendRecv(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ta := New(a)
	tb := New(b)

	done := make(chan error, 1)
	go func() { done <- ta.Send(AuthFrame("abcd")) }()

	got, err := tb.Recv()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, FrameAuth, got.Kind)
	assert.Equal(t, "abcd", got.PSK)
}

func TestTransportRecvOnClosedPeerIsConnectionDead(t *testing.T) {
	a, b := net.Pipe()
	require.NoError(t, a.Close())

	tb := New(b)
	_, err := tb.Recv()
	assert.ErrorIs(t, err, ErrConnectionDead)
}
