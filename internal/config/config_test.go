package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stc.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, `
psk = "abcd"
addr = "127.0.0.1"
port = 12000

[[tunnels]]
remote_port = 10000
local_port = 9000
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "abcd", cfg.PSK)
	require.Contains(t, cfg.Tunnels, uint16(10000))
	assert.Equal(t, "127.0.0.1", cfg.Tunnels[10000].LocalHostname)
}

func TestLoadRejectsEmptyPSK(t *testing.T) {
	path := writeTemp(t, `
psk = ""
addr = "127.0.0.1"
`)
	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestLoadRejectsOverlongPSK(t *testing.T) {
	path := writeTemp(t, `
psk = "`+strings.Repeat("a", maxPSKLen+1)+`"
addr = "127.0.0.1"
`)
	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestLoadAcceptsBoundaryPSKLengths(t *testing.T) {
	for _, n := range []int{1, maxPSKLen} {
		path := writeTemp(t, `
psk = "`+strings.Repeat("a", n)+`"
addr = "127.0.0.1"
`)
		_, err := Load(path, nil)
		assert.NoError(t, err, "psk length %d should be accepted", n)
	}
}

func TestLoadRejectsInvalidSNI(t *testing.T) {
	path := writeTemp(t, `
psk = "abcd"
addr = "127.0.0.1"

[crypto]
sni_name = "not a valid hostname!!"
`)
	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestLoadAcceptsIPLiteralSNI(t *testing.T) {
	path := writeTemp(t, `
psk = "abcd"
addr = "127.0.0.1"

[crypto]
sni_name = "10.0.0.1"
`)
	_, err := Load(path, nil)
	require.NoError(t, err)
}

func TestLoadRejectsMissingCAFile(t *testing.T) {
	path := writeTemp(t, `
psk = "abcd"
addr = "127.0.0.1"

[crypto]
ca = "/does/not/exist.pem"
`)
	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestGeneratePSKRoundTripsThroughWritePSK(t *testing.T) {
	path := writeTemp(t, `
psk = "abcd"
addr = "127.0.0.1"

[[tunnels]]
remote_port = 10000
local_port = 9000
`)

	psk, err := GeneratePSK(DefaultGenerateOptions())
	require.NoError(t, err)
	require.NoError(t, WritePSK(path, psk))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, psk, cfg.PSK)
	require.Contains(t, cfg.Tunnels, uint16(10000))
}
