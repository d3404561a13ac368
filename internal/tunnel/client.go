// Package tunnel implements the multiplexed reverse-tunnel engine: the
// Client orchestrator and the per-session Redirectors it supervises over a
// single framed Transport.
package tunnel

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"

	"github.com/richardsamuels/stc/internal/wire"
)

// Dialer is the TCP-connect-plus-optional-TLS-wrap capability the Client
// needs to open a backend for a session. Parsing and loading the TLS trust
// material is the caller's concern; the Client only calls Dial.
type Dialer interface {
	Dial(ctx context.Context, entry TunnelEntry) (io.ReadWriteCloser, error)
}

// Client is the orchestrator: it holds the sole Transport to the server, a
// registry of live Redirectors keyed by session id, a fan-in queue for
// outbound data frames, and drives handshake, frame dispatch, heartbeat
// echo, reconnection signaling, and cancellation.
//
// A Client is single-use: construct a fresh one for every connection
// attempt. The retry loop that rebuilds it on ErrConnectionDead lives in
// cmd/stc, not here, so Client stays stateless across reconnections.
type Client struct {
	cfg       *ClientConfig
	transport *wire.Transport
	dialer    Dialer
	logger    *log.Logger

	toServer    chan wire.Frame
	toInternal  map[wire.SessionID]sessionEntry
	handlerDone chan wire.SessionID

	// OnHandshake, if set, is called once the Auth/Tunnels exchange
	// completes and before the main loop starts. The outer retry loop uses
	// it to reset its attempt counter: a successful handshake, not merely
	// a successful TCP connect, is what resets the retry budget.
	OnHandshake func()
}

// New constructs a Client. conn is the already-dialed control connection
// (plain TCP or TLS-wrapped); dialer opens backends for sessions.
func New(cfg *ClientConfig, conn wire.Conn, dialer Dialer, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		cfg:         cfg,
		transport:   wire.New(conn),
		dialer:      dialer,
		logger:      logger,
		toServer:    make(chan wire.Frame, cfg.ChannelLimits.Core),
		toInternal:  make(map[wire.SessionID]sessionEntry),
		handlerDone: make(chan wire.SessionID, 1),
	}
}

// Run performs the handshake, then drives the main loop until termination.
// It returns nil on graceful shutdown, wire.ErrConnectionDead on
// reconnectable failure (the caller may build a fresh Client and call Run
// again), or any other error as fatal.
func (c *Client) Run(ctx context.Context) error {
	defer c.transport.Close()

	// pumpCtx bounds recvPump to this call's own lifetime. It must not be ctx
	// itself: ctx spans every reconnect attempt in the caller's retry loop,
	// so using it directly would leave recvPump blocked forever on its send
	// to recvCh (nobody left reading it) whenever mainLoop returns for any
	// reason other than ctx being cancelled, which is the common case, not
	// the exceptional one.
	pumpCtx, cancelPump := context.WithCancel(ctx)
	defer cancelPump()

	if err := c.handshake(); err != nil {
		return err
	}
	c.logger.Printf("tunnel: handshake complete with %s, running", c.transport.PeerAddr())
	if c.OnHandshake != nil {
		c.OnHandshake()
	}

	handlerCtx, cancelHandlers := context.WithCancel(ctx)
	runErr := c.mainLoop(ctx, handlerCtx, pumpCtx)
	cancelHandlers()
	c.drain()

	if errors.Is(runErr, errKthxbai) {
		return nil
	}
	return runErr
}

// handshake performs the Auth/Tunnels exchange exactly once per Client
// instance (spec.md's Design Notes note the source calls this twice on some
// paths; that is not reproduced here).
func (c *Client) handshake() error {
	if err := c.transport.Send(wire.AuthFrame(c.cfg.PSK)); err != nil {
		return err
	}
	f, err := c.transport.Recv()
	if err != nil {
		return err
	}
	if f.Kind != wire.FrameAuth {
		return ErrConnectionRefused
	}

	ports := make([]uint16, 0, len(c.cfg.Tunnels))
	for port := range c.cfg.Tunnels {
		ports = append(ports, port)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })

	if err := c.transport.Send(wire.TunnelsFrame(ports)); err != nil {
		return err
	}
	f, err = c.transport.Recv()
	if err != nil {
		return err
	}
	if f.Kind != wire.FrameTunnels {
		return ErrConnectionRefused
	}
	return nil
}

type recvResult struct {
	frame wire.Frame
	err   error
}

func (c *Client) mainLoop(ctx context.Context, handlerCtx context.Context, pumpCtx context.Context) error {
	recvCh := make(chan recvResult)
	go c.recvPump(pumpCtx, recvCh)

	for {
		select {
		case id := <-c.handlerDone:
			delete(c.toInternal, id)

		case res := <-recvCh:
			if res.err != nil {
				return res.err
			}
			if err := c.dispatch(handlerCtx, res.frame); err != nil {
				return err
			}

		case f := <-c.toServer:
			if err := c.transport.Send(f); err != nil {
				return err
			}

		case <-ctx.Done():
			_ = c.transport.Send(wire.KthxbaiFrame())
			return nil
		}
	}
}

// dispatch handles one frame received from the server.
func (c *Client) dispatch(handlerCtx context.Context, f wire.Frame) error {
	switch f.Kind {
	case wire.FrameHeartbeat:
		return c.transport.Send(wire.HeartbeatFrame())
	case wire.FrameKthxbai:
		return errKthxbai
	default:
		if f.IsRedirector() {
			return c.handleRedirectorFrame(handlerCtx, f)
		}
		c.logger.Printf("tunnel: ignoring unrecognized frame kind %d", f.Kind)
		return nil
	}
}

// errKthxbai is a private sentinel used only to unwind mainLoop on a
// graceful Kthxbai; Run translates it back to a nil error.
var errKthxbai = errors.New("tunnel: kthxbai")

func (c *Client) handleRedirectorFrame(handlerCtx context.Context, f wire.Frame) error {
	switch f.Kind {
	case wire.FrameStartListener:
		entry, ok := c.cfg.Tunnels[f.Port]
		if !ok {
			c.logger.Printf("tunnel: session %s on port %d: %v", f.ID, f.Port, ErrUnknownTunnel)
			return c.transport.Send(wire.KillListenerFrame(f.ID))
		}

		backend, err := c.dialer.Dial(handlerCtx, entry)
		if err != nil {
			// Per-session failure: not fatal to the Client (spec.md §7).
			c.logger.Printf("tunnel: dial backend for session %s on port %d: %v", f.ID, f.Port, err)
			return c.transport.Send(wire.KillListenerFrame(f.ID))
		}

		se := sessionEntry{
			tx:   make(chan wire.Frame, c.cfg.ChannelLimits.Core),
			done: make(chan struct{}),
		}
		c.toInternal[f.ID] = se

		r := NewRedirector(f.ID, f.Port, backend, c.toServer, se, c.logger, c.cfg.Timeouts.SessionIdle)
		go func() {
			id := r.Run(handlerCtx)
			c.handlerDone <- id
		}()
		return nil

	case wire.FrameDatagram, wire.FrameKillListener:
		c.forwardToSession(f)
		return nil

	default:
		// impossible by construction: f.IsRedirector() only admits the
		// three cases above.
		panic("tunnel: impossible redirector frame kind")
	}
}

// forwardToSession routes a Datagram or KillListener to the named session's
// Redirector, or drops it if the session is unknown. For KillListener the
// entry is always removed, matching its idempotent semantics: a second
// KillListener for the same id produces no frame.
func (c *Client) forwardToSession(f wire.Frame) {
	entry, ok := c.toInternal[f.ID]
	if !ok {
		if f.Kind == wire.FrameDatagram {
			c.logger.Printf("tunnel: datagram for unknown session %s, dropping", f.ID)
		}
		return
	}

	select {
	case entry.tx <- f:
	case <-entry.done:
		delete(c.toInternal, f.ID)
	}

	if f.Kind == wire.FrameKillListener {
		delete(c.toInternal, f.ID)
	}
}

// recvPump loops reading frames off the Transport, stopping on the first
// error or on ctx cancellation. ctx is Run's own pumpCtx, cancelled the
// instant Run returns: a blocked Recv is unblocked by the Transport's Close
// in Run's defer, and the subsequent send on out is unblocked by ctx.Done
// rather than waiting on mainLoop, which has already stopped reading recvCh
// by the time either of those fire.
func (c *Client) recvPump(ctx context.Context, out chan<- recvResult) {
	for {
		f, err := c.transport.Recv()
		select {
		case out <- recvResult{frame: f, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// drain aborts any still-live Redirectors (handlerCtx was already cancelled
// by the caller) and blocks until every one has reported completion, leaving
// to_internal empty: the state Run guarantees on return.
func (c *Client) drain() {
	for len(c.toInternal) > 0 {
		id := <-c.handlerDone
		delete(c.toInternal, id)
	}
}
