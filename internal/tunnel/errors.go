package tunnel

import "errors"

// ErrConnectionRefused marks a handshake whose peer responded with an
// unexpected frame variant: the connection was established but the peer
// rejected (or doesn't understand) the protocol exchange.
var ErrConnectionRefused = errors.New("tunnel: connection refused during handshake")

// ErrUnknownTunnel marks a StartListener naming a remote port the Client's
// configuration does not publish. Non-fatal: the session is killed, the
// Client keeps running.
var ErrUnknownTunnel = errors.New("tunnel: unknown remote port")
