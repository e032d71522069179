// Package domain contains pure business types without external dependencies.
package domain

// ConnectionState is the observed health of a Host's remote session.
type ConnectionState string

const (
	ConnectionUnknown      ConnectionState = "unknown"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
)

// LoopbackReplacement is substituted for a Host's hostname when it resolves
// to the local loopback address, so that a proxy running in its own network
// namespace can still reach container ports published on this machine.
const LoopbackReplacement = "host.docker.internal"

// Host is a stable, addressable target the Host Observer connects to.
type Host struct {
	Alias    string
	Hostname string
	Port     int
	User     string
	Identity string // reference to key material; never the key itself
	Enabled  bool

	state ConnectionState
	// reason is set when state is ConnectionFailed or ConnectionDisconnected.
	reason string
}

// NewHost constructs a Host in the Unknown connection state.
func NewHost(alias, hostname string, port int, user, identity string, enabled bool) Host {
	return Host{
		Alias:    alias,
		Hostname: hostname,
		Port:     port,
		User:     user,
		Identity: identity,
		Enabled:  enabled,
		state:    ConnectionUnknown,
	}
}

// State returns the host's current connection state.
func (h Host) State() ConnectionState { return h.state }

// Reason returns the failure/disconnect reason, if any.
func (h Host) Reason() string { return h.reason }

// WithState returns a copy of h transitioned to the given state and reason.
// reason is only meaningful for Disconnected and Failed.
func (h Host) WithState(state ConnectionState, reason string) Host {
	h.state = state
	h.reason = reason
	return h
}

// ResolvedAddress returns the network address the proxy should dial to reach
// containers on this host. Hosts addressed as localhost/127.0.0.1 are
// rewritten to LoopbackReplacement, because the consuming proxy is assumed to
// run outside this host's loopback namespace.
func (h Host) ResolvedAddress() string {
	switch h.Hostname {
	case "localhost", "127.0.0.1":
		return LoopbackReplacement
	default:
		return h.Hostname
	}
}
