package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		AuthFrame("abcd"),
		TunnelsFrame([]uint16{80, 443, 10000}),
		HeartbeatFrame(),
		KthxbaiFrame(),
		StartListenerFrame("127.0.0.1:5000", 10000),
		DatagramFrame("127.0.0.1:5000", 10000, []byte("hello world")),
		KillListenerFrame("127.0.0.1:5000"),
	}

	for _, f := range cases {
		var buf bytes.Buffer
		require.NoError(t, encodeFrame(&buf, f))

		got, err := decodeFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

func TestDecodeRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF}) // huge length, no body
	_, err := decodeFrame(&buf)
	require.Error(t, err)
}

func TestDatagramBoundary(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, BufferCapacityForTest)
	f := DatagramFrame("1.2.3.4:1", 1, data)

	var buf bytes.Buffer
	require.NoError(t, encodeFrame(&buf, f))

	got, err := decodeFrame(&buf)
	require.NoError(t, err)
	assert.Len(t, got.Data, BufferCapacityForTest)
}

// BufferCapacityForTest mirrors tunnel.BufferCapacity without importing the
// tunnel package (which itself imports wire) to avoid a cycle.
const BufferCapacityForTest = 1463
