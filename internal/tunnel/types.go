package tunnel

import "time"

// ClientConfig is the fully-validated configuration a Client is built from.
// Parsing, defaulting, and validation are external-collaborator concerns
// (internal/config); the core only consumes this shape.
type ClientConfig struct {
	PSK     string
	Addr    string
	Port    uint16
	MTU     uint16 // advisory, currently ignored; wire framing is unaffected
	Tunnels map[uint16]TunnelEntry
	Timeouts      TransportTimeouts
	ChannelLimits ChannelLimits
	Crypto        *TLSClientConfig // control-channel TLS, optional
}

// TunnelEntry describes one published remote port and where its traffic is
// forwarded to on the client side.
type TunnelEntry struct {
	RemotePort     uint16
	LocalHostname  string // default "127.0.0.1"
	LocalPort      uint16
	Crypto         *TLSClientConfig // optional TLS to the backend
}

// TLSClientConfig names the trust material a TLS connector capability needs;
// loading the PEM material itself is an external collaborator's job.
type TLSClientConfig struct {
	SNIName string // default "127.0.0.1"; must be a valid DNS name or IP literal
	CAFile  string // optional path to a PEM bundle
}

// TransportTimeouts holds the timeouts the core applies to sessions. The
// core does not impose a wall-clock timeout on the control connection
// itself; liveness is detected through normal framing errors and Heartbeat.
type TransportTimeouts struct {
	SessionIdle time.Duration // default 300s, per-session backend idle timeout
}

// ChannelLimits bounds the capacity of the internal queues the Client uses
// to fan data in and out of its Redirectors.
type ChannelLimits struct {
	Core uint // capacity of to_server and every per-session queue
}

// DefaultSessionIdle matches the 300s idle timeout spec'd for Redirectors.
const DefaultSessionIdle = 300 * time.Second
