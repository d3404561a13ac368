package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/hkdf"
)

// GeneratePSK derives a fresh pre-shared key: opts.ByteLen bytes of
// crypto/rand entropy, expanded through HKDF-SHA256 (info-tagged "stc psk")
// rather than used raw, then base64-encoded so it round-trips safely through
// TOML and the wire's bounded string. The HKDF expansion step costs nothing
// against a 32-byte input and matches this codebase's habit of reaching for
// golang.org/x/crypto primitives instead of hand-rolling key derivation.
func GeneratePSK(opts GenerateOptions) (string, error) {
	if opts.ByteLen <= 0 {
		opts = DefaultGenerateOptions()
	}

	seed := make([]byte, opts.ByteLen)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return "", fmt.Errorf("config: generate key: %w", err)
	}

	kdf := hkdf.New(sha256.New, seed, nil, []byte("stc psk"))
	out := make([]byte, opts.ByteLen)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return "", fmt.Errorf("config: expand key: %w", err)
	}

	psk := base64.StdEncoding.EncodeToString(out)
	if len(psk) > maxPSKLen {
		return "", fmt.Errorf("config: generated psk of %d bytes exceeds %d byte cap", len(psk), maxPSKLen)
	}
	return psk, nil
}

// WritePSK overwrites (or creates) the psk field of the TOML config at path,
// preserving every other field already on disk.
func WritePSK(path, psk string) error {
	var fc fileConfig
	if raw, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(raw, &fc); err != nil {
			return fmt.Errorf("config: decode existing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	fc.PSK = psk

	out, err := toml.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path is an already-present config file, used by the
// generate-key subcommand to decide whether to prompt before overwriting.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
