// Package config loads and validates stc's on-disk TOML configuration into
// the plain data shapes internal/tunnel's core consumes. Parsing and
// validation are external-collaborator concerns the core never performs
// itself.
package config

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/richardsamuels/stc/internal/tunnel"
)

// maxPSKLen and minPSKLen bound the pre-shared key length accepted at load
// time (spec.md §8: "PSK of length 0 or > 512 is rejected at config load").
const (
	minPSKLen = 1
	maxPSKLen = 512

	defaultMTU           = 1500
	defaultLocalHostname = "127.0.0.1"
	defaultChannelCap    = 64
)

// fileConfig mirrors the on-disk TOML shape: [[tunnels]] array-of-tables and
// an optional [crypto] section, matching the companion implementation's
// config/client.rs schema so existing config files round-trip unchanged.
type fileConfig struct {
	PSK     string            `toml:"psk"`
	Addr    string            `toml:"addr"`
	Port    uint16            `toml:"port"`
	MTU     uint16            `toml:"mtu"`
	Tunnels []fileTunnel      `toml:"tunnels"`
	Crypto  *fileCryptoConfig `toml:"crypto"`
}

type fileTunnel struct {
	RemotePort    uint16            `toml:"remote_port"`
	LocalHostname string            `toml:"local_hostname"`
	LocalPort     uint16            `toml:"local_port"`
	Crypto        *fileCryptoConfig `toml:"crypto"`
}

type fileCryptoConfig struct {
	SNIName string `toml:"sni_name"`
	CA      string `toml:"ca"`
}

// Load reads, parses, and validates the TOML config at path, producing a
// tunnel.ClientConfig ready to build a Client from. logger receives
// load-time advisories (an ignored mtu, for instance); a nil logger
// discards them.
func Load(path string, logger *log.Logger) (*tunnel.ClientConfig, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	return fromFile(&fc, logger)
}

func fromFile(fc *fileConfig, logger *log.Logger) (*tunnel.ClientConfig, error) {
	if err := validatePSK(fc.PSK); err != nil {
		return nil, err
	}
	if fc.Addr == "" {
		return nil, fmt.Errorf("config: addr must not be empty")
	}

	mtu := fc.MTU
	if mtu == 0 {
		mtu = defaultMTU
	} else {
		logger.Printf("config: mtu parameter is currently ignored")
	}

	crypto, err := convertCrypto(fc.Crypto)
	if err != nil {
		return nil, fmt.Errorf("config: control-channel crypto: %w", err)
	}

	tunnels := make(map[uint16]tunnel.TunnelEntry, len(fc.Tunnels))
	for _, t := range fc.Tunnels {
		if t.RemotePort == 0 {
			return nil, fmt.Errorf("config: tunnel entry missing remote_port")
		}
		if _, dup := tunnels[t.RemotePort]; dup {
			return nil, fmt.Errorf("config: duplicate remote_port %d", t.RemotePort)
		}

		entryCrypto, err := convertCrypto(t.Crypto)
		if err != nil {
			return nil, fmt.Errorf("config: tunnel %d crypto: %w", t.RemotePort, err)
		}

		hostname := t.LocalHostname
		if hostname == "" {
			hostname = defaultLocalHostname
		}

		tunnels[t.RemotePort] = tunnel.TunnelEntry{
			RemotePort:    t.RemotePort,
			LocalHostname: hostname,
			LocalPort:     t.LocalPort,
			Crypto:        entryCrypto,
		}
	}

	return &tunnel.ClientConfig{
		PSK:     fc.PSK,
		Addr:    fc.Addr,
		Port:    fc.Port,
		MTU:     mtu,
		Tunnels: tunnels,
		Timeouts: tunnel.TransportTimeouts{
			SessionIdle: tunnel.DefaultSessionIdle,
		},
		ChannelLimits: tunnel.ChannelLimits{Core: defaultChannelCap},
		Crypto:        crypto,
	}, nil
}

func convertCrypto(fc *fileCryptoConfig) (*tunnel.TLSClientConfig, error) {
	if fc == nil {
		return nil, nil
	}

	sni := fc.SNIName
	if sni == "" {
		sni = defaultLocalHostname
	}
	if err := validateSNI(sni); err != nil {
		return nil, err
	}

	if fc.CA != "" {
		if _, err := os.Stat(fc.CA); err != nil {
			return nil, fmt.Errorf("CA file does not exist: %s", fc.CA)
		}
	}

	return &tunnel.TLSClientConfig{SNIName: sni, CAFile: fc.CA}, nil
}

func validatePSK(psk string) error {
	if len(psk) < minPSKLen || len(psk) > maxPSKLen {
		return fmt.Errorf("config: psk must be non-empty and at most %d bytes long", maxPSKLen)
	}
	return nil
}

// validateSNI requires name to parse as either an IP literal or a syntactically
// valid DNS hostname, matching the companion implementation's acceptance of
// rustls::pki_types::ServerName.
func validateSNI(name string) error {
	if net.ParseIP(name) != nil {
		return nil
	}
	if isValidHostname(name) {
		return nil
	}
	return fmt.Errorf("sni_name invalid: expected IP address or hostname, got %q", name)
}

func isValidHostname(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	labels := splitLabels(name)
	if len(labels) == 0 {
		return false
	}
	for _, label := range labels {
		if !isValidLabel(label) {
			return false
		}
	}
	return true
}

func splitLabels(name string) []string {
	var labels []string
	start := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			labels = append(labels, name[start:i])
			start = i + 1
		}
	}
	labels = append(labels, name[start:])
	return labels
}

func isValidLabel(label string) bool {
	if label == "" || len(label) > 63 {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		isHyphen := c == '-'
		if !isAlnum && !isHyphen {
			return false
		}
	}
	return label[0] != '-' && label[len(label)-1] != '-'
}

// GenerateOptions parameterizes GeneratePSK so the CLI's generate-key
// subcommand doesn't need to know psk bytes-vs-string encoding details.
type GenerateOptions struct {
	ByteLen int
}

// DefaultGenerateOptions mirrors the companion implementation's default key
// size: a 32-byte secret, well under the 512-byte cap once base64-encoded.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{ByteLen: 32}
}
