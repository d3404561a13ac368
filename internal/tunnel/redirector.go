package tunnel

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/richardsamuels/stc/internal/wire"
)

// BufferCapacity sizes the Redirector's read buffer. Chosen to keep a
// payload plus framing overhead under a typical path MTU; see
// tunnel.ClientConfig.MTU for the advisory, currently-unused knob that would
// let this vary per deployment.
const BufferCapacity = 1463

// sessionEntry is what the Client keeps per live session: the send half of
// the inbound queue that only the Client writes to, and a signal the
// Redirector closes on exit so the Client can stop trying to enqueue.
type sessionEntry struct {
	tx   chan wire.Frame
	done chan struct{}
}

// Redirector bridges one backend byte stream to one logical session on the
// multiplexed control link. It owns the backend exclusively; the Client
// never touches it directly.
type Redirector struct {
	id      wire.SessionID
	port    uint16
	backend io.ReadWriteCloser
	tx      chan<- wire.Frame   // shared outbound queue, owned by the Client
	rx      <-chan wire.Frame   // exclusive inbound queue, owned by this Redirector
	done    chan<- struct{}
	logger  *log.Logger
	idle    time.Duration
}

// NewRedirector constructs a Redirector. backend must already be connected
// (and, if required, TLS-wrapped) by the caller.
func NewRedirector(id wire.SessionID, port uint16, backend io.ReadWriteCloser, outbound chan<- wire.Frame, entry sessionEntry, logger *log.Logger, idle time.Duration) *Redirector {
	if idle <= 0 {
		idle = DefaultSessionIdle
	}
	return &Redirector{
		id:      id,
		port:    port,
		backend: backend,
		tx:      outbound,
		rx:      entry.tx,
		done:    entry.done,
		logger:  logger,
		idle:    idle,
	}
}

type readResult struct {
	n   int
	buf []byte
	err error
}

// Run drives the Redirector's main loop until termination and returns the
// session id it terminated, for the Client's handler-completion channel.
func (r *Redirector) Run(ctx context.Context) wire.SessionID {
	defer close(r.done)
	defer r.backend.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readCh := make(chan readResult)
	go r.readPump(ctx, readCh)

	ticker := time.NewTicker(r.idle)
	defer ticker.Stop()
	lastActivity := time.Now()

	for {
		select {
		case res := <-readCh:
			if res.n > 0 {
				r.sendOutbound(ctx, wire.DatagramFrame(r.id, r.port, res.buf[:res.n]))
				lastActivity = time.Now()
			}
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					// Graceful close: the Go equivalent of the companion
					// implementation's "read returned 0 bytes".
					r.sendOutbound(ctx, wire.KillListenerFrame(r.id))
				} else {
					r.logger.Printf("tunnel: redirector %s: backend read: %v", r.id, res.err)
				}
				return r.id
			}

		case f, ok := <-r.rx:
			if !ok {
				return r.id
			}
			switch f.Kind {
			case wire.FrameDatagram:
				if _, err := r.backend.Write(f.Data); err != nil {
					r.logger.Printf("tunnel: redirector %s: backend write: %v", r.id, err)
					return r.id
				}
				lastActivity = time.Now()
			case wire.FrameKillListener:
				return r.id
			default:
				panic("tunnel: redirector received a non-data frame on its inbound queue")
			}

		case <-ticker.C:
			if time.Since(lastActivity) >= r.idle {
				return r.id
			}

		case <-ctx.Done():
			return r.id
		}
	}
}

// readPump loops reading from the backend and delivering each result on out,
// stopping when a read errors or ctx is cancelled. ctx is Run's own
// cancel-on-return context, not the caller's: a blocked Read is unblocked by
// the deferred backend.Close, and the subsequent send on out is unblocked by
// ctx.Done firing the instant Run returns, regardless of which branch of
// Run's select triggered the return. Without its own context this send
// would wait forever once Run has stopped reading from readCh.
func (r *Redirector) readPump(ctx context.Context, out chan<- readResult) {
	buf := make([]byte, BufferCapacity)
	for {
		n, err := r.backend.Read(buf)
		var data []byte
		if n > 0 {
			data = make([]byte, n)
			copy(data, buf[:n])
		}
		select {
		case out <- readResult{n: n, buf: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// sendOutbound enqueues f on the shared outbound queue, honoring
// cancellation so a cancelled Redirector doesn't block forever on a full
// queue during shutdown.
func (r *Redirector) sendOutbound(ctx context.Context, f wire.Frame) {
	select {
	case r.tx <- f:
	case <-ctx.Done():
	}
}
