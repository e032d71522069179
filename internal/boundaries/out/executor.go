package out

import "context"

// ConnState is the Remote Executor's view of a host's session health.
type ConnState string

const (
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
)

// HealthStatus is the result of a Health check.
type HealthStatus struct {
	State  ConnState
	Reason string // populated when State is ConnDisconnected
}

// CommandResult is the outcome of a bounded unary Run.
type CommandResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// LineStream delivers a remote command's stdout one line at a time, in
// emission order, until the command terminates or Close is called.
type LineStream interface {
	// Lines returns the channel lines are delivered on. It is closed when
	// the underlying command exits or the stream is closed.
	Lines() <-chan string
	// Err returns the reason Lines closed, if it closed abnormally.
	Err() error
	// Close cancels the remote command and releases resources.
	Close() error
}

// RemoteExecutor runs commands against a named host over a single
// multiplexed session (the "control master" pattern): Run and Stream for
// the same host share one authenticated channel, never a fresh
// authentication per call.
type RemoteExecutor interface {
	// Run executes argv on host and waits for completion or ctx's deadline.
	// argv elements and the host reference are assumed pre-validated by the
	// caller against the allowlist in §4.1 — the executor never builds a
	// shell command by string concatenation.
	Run(ctx context.Context, host string, argv []string, stdin []byte) (CommandResult, error)

	// Stream launches argv on host and delivers stdout lines as they
	// arrive. The returned LineStream is restartable by calling Stream
	// again; it does not restart itself.
	Stream(ctx context.Context, host string, argv []string) (LineStream, error)

	// Health reports the session's current connection state for host.
	Health(ctx context.Context, host string) (HealthStatus, error)
}
