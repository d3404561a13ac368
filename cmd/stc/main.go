package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
	"golang.org/x/sync/errgroup"

	"github.com/richardsamuels/stc/internal/config"
	"github.com/richardsamuels/stc/internal/tlsdial"
	"github.com/richardsamuels/stc/internal/tunnel"
	"github.com/richardsamuels/stc/internal/wire"
)

type exitCode int

const (
	exitOK     exitCode = 0
	exitError  exitCode = 1
	exitCancel exitCode = 2
)

// maxHandshakeAttempts bounds the outer retry loop: up to 5 attempts with
// no backoff, reset after every successful handshake (spec.md Design Notes).
const maxHandshakeAttempts = 5

func main() {
	os.Exit(int(mainRun()))
}

func mainRun() exitCode {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		ansi.DisableColors(true)
	}

	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return exitCancel
		}
		fmt.Fprintf(os.Stderr, "stc: %s\n", err)
		return exitError
	}
	return exitOK
}

// run races the reconnect loop against OS signal handling via errgroup,
// cancelling a shared context on whichever finishes first; cancellation
// propagates into the in-flight Client's cancellation token.
func run(configPath string, allowInsecureTransport bool) error {
	logger := log.New(os.Stderr, "stc: ", log.LstdFlags)

	cfg, err := config.Load(configPath, logger)
	if err != nil {
		return err
	}
	if allowInsecureTransport {
		cfg.Crypto = nil
	}

	dialer, err := tlsdial.New()
	if err != nil {
		return fmt.Errorf("stc: construct dialer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()
		return retryLoop(ctx, cfg, dialer, logger)
	})

	return g.Wait()
}

// retryLoop rebuilds a fresh control connection and Client after every
// reconnectable failure, up to maxHandshakeAttempts consecutive failures
// with no backoff between them; a successful handshake resets the budget.
func retryLoop(ctx context.Context, cfg *tunnel.ClientConfig, dialer tunnel.Dialer, logger *log.Logger) error {
	policy := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxHandshakeAttempts-1)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		conn, err := dialControl(ctx, cfg)
		if err != nil {
			d := policy.NextBackOff()
			if d == backoff.Stop {
				return fmt.Errorf("stc: connection failed after %d attempts: %w", maxHandshakeAttempts, err)
			}
			logger.Printf("dial failed, retrying: %v", err)
			continue
		}

		c := tunnel.New(cfg, conn, dialer, logger)
		c.OnHandshake = func() { policy.Reset() }

		runErr := c.Run(ctx)
		switch {
		case runErr == nil:
			return nil
		case errors.Is(runErr, wire.ErrConnectionDead):
			d := policy.NextBackOff()
			if d == backoff.Stop {
				return fmt.Errorf("stc: connection failed after %d attempts: %w", maxHandshakeAttempts, runErr)
			}
			logger.Printf("client has failed, reconnecting: %v", runErr)
			continue
		default:
			logger.Printf("client has failed, not restarting: %v", runErr)
			return runErr
		}
	}
}

// dialControl opens the control connection to cfg.Addr, wrapping it in TLS
// when cfg.Crypto is set. The returned value satisfies wire.Conn.
func dialControl(ctx context.Context, cfg *tunnel.ClientConfig) (wire.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if cfg.Crypto == nil {
		return conn, nil
	}

	pool, err := loadCAPool(cfg.Crypto.CAFile)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load control-channel CA trust: %w", err)
	}
	tlsConn := tls.Client(conn, &tls.Config{
		ServerName: cfg.Crypto.SNIName,
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("control-channel TLS handshake: %w", err)
	}
	return tlsConn, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return x509.SystemCertPool()
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
