// Package sshexec implements the Remote Executor (C1) over a single
// multiplexed SSH session per host, following the "control master" pattern
// of §4.1: Run and Stream share one authenticated connection, never a
// fresh handshake per call.
package sshexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/snadboy/revpd/internal/boundaries/out"
	"github.com/snadboy/revpd/internal/domain"
)

// HostDialInfo is everything the executor needs to open a session for a
// host; supplied once per host at registration.
type HostDialInfo struct {
	Alias        string
	Address      string // hostname:port
	User         string
	IdentityFile string
}

type session struct {
	mu     sync.Mutex
	client *ssh.Client
	state  out.ConnState
	reason string
}

// Executor implements out.RemoteExecutor with one lazily-dialed,
// reconnect-on-demand ssh.Client per host.
type Executor struct {
	knownHostsPath string
	dialTimeout    time.Duration

	mu       sync.Mutex
	hosts    map[string]HostDialInfo
	sessions map[string]*session

	log zerowrap.Logger
}

// NewExecutor constructs an Executor. knownHostsPath is passed to
// knownhosts.New for host-key verification; dialTimeout bounds the initial
// TCP+handshake, independent of any per-call ctx deadline.
func NewExecutor(knownHostsPath string, dialTimeout time.Duration, log zerowrap.Logger) *Executor {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Executor{
		knownHostsPath: knownHostsPath,
		dialTimeout:    dialTimeout,
		hosts:          make(map[string]HostDialInfo),
		sessions:       make(map[string]*session),
		log:            log,
	}
}

// Register makes host known to the executor. Calling Register again for an
// existing alias invalidates any cached session, forcing a fresh dial on
// next use (picking up a changed address or identity).
func (e *Executor) Register(info HostDialInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hosts[info.Alias] = info
	delete(e.sessions, info.Alias)
}

func (e *Executor) sessionFor(host string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[host]
	if !ok {
		s = &session{state: out.ConnDisconnected, reason: "never connected"}
		e.sessions[host] = s
	}
	return s
}

func (e *Executor) clientFor(ctx context.Context, host string) (*ssh.Client, error) {
	e.mu.Lock()
	info, known := e.hosts[host]
	e.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("%w: %s", domain.ErrHostNotFound, host)
	}

	s := e.sessionFor(host)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		// Liveness probe: a keepalive request on a dead connection fails fast.
		if _, _, err := s.client.SendRequest("keepalive@revpd", true, nil); err == nil {
			return s.client, nil
		}
		_ = s.client.Close()
		s.client = nil
	}

	client, err := e.dial(ctx, info)
	if err != nil {
		s.state = out.ConnDisconnected
		s.reason = err.Error()
		return nil, err
	}
	s.client = client
	s.state = out.ConnConnected
	s.reason = ""
	return client, nil
}

func (e *Executor) dial(ctx context.Context, info HostDialInfo) (*ssh.Client, error) {
	signer, err := loadSigner(info.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("%w: loading identity for %s: %v", domain.ErrHostUnreachable, info.Alias, err)
	}

	hostKeyCallback, err := e.hostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("%w: known_hosts: %v", domain.ErrHostUnreachable, err)
	}

	cfg := &ssh.ClientConfig{
		User:            info.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         e.dialTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.dialTimeout)
	defer cancel()

	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ssh.Dial("tcp", info.Address, cfg)
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrHostUnreachable, r.err)
		}
		return r.client, nil
	case <-dialCtx.Done():
		return nil, fmt.Errorf("%w: dial timeout", domain.ErrHostUnreachable)
	}
}

func (e *Executor) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if e.knownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return knownhosts.New(e.knownHostsPath)
}

func loadSigner(identityFile string) (ssh.Signer, error) {
	key, err := os.ReadFile(identityFile)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(key)
}

// Run executes argv on host, waiting up to ctx's deadline for completion.
func (e *Executor) Run(ctx context.Context, host string, argv []string, stdin []byte) (out.CommandResult, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "sshexec",
		zerowrap.FieldAction:  "Run",
		zerowrap.FieldHost:    host,
	})
	log := zerowrap.FromCtx(ctx)

	client, err := e.clientFor(ctx, host)
	if err != nil {
		return out.CommandResult{}, err
	}

	sess, err := client.NewSession()
	if err != nil {
		return out.CommandResult{}, log.WrapErr(err, "opening ssh session")
	}
	defer sess.Close()

	if len(stdin) > 0 {
		sess.Stdin = newBytesReader(stdin)
	}

	var stdout, stderr limitedBuffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	cmd := joinArgv(argv)

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case runErr := <-done:
		result := out.CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
		if runErr == nil {
			return result, nil
		}
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, log.WrapErr(runErr, "command execution failed")
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return out.CommandResult{}, fmt.Errorf("%w: %s", domain.ErrHostUnreachable, ctx.Err())
	}
}

// lineStream adapts an ssh.Session's stdout pipe to out.LineStream.
type lineStream struct {
	lines  chan string
	errCh  chan error
	cancel context.CancelFunc
	sess   *ssh.Session
	once   sync.Once
}

func (s *lineStream) Lines() <-chan string { return s.lines }

func (s *lineStream) Err() error {
	select {
	case err := <-s.errCh:
		return err
	default:
		return nil
	}
}

func (s *lineStream) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.sess.Close()
	})
	return err
}

// Stream launches argv on host and delivers stdout lines as they arrive.
func (e *Executor) Stream(ctx context.Context, host string, argv []string) (out.LineStream, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "sshexec",
		zerowrap.FieldAction:  "Stream",
		zerowrap.FieldHost:    host,
	})
	log := zerowrap.FromCtx(ctx)

	client, err := e.clientFor(ctx, host)
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, log.WrapErr(err, "opening ssh session")
	}

	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, log.WrapErr(err, "attaching stdout pipe")
	}

	cmd := joinArgv(argv)
	if err := sess.Start(cmd); err != nil {
		_ = sess.Close()
		return nil, log.WrapErr(err, "starting remote stream command")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	ls := &lineStream{
		lines:  make(chan string, 64),
		errCh:  make(chan error, 1),
		cancel: cancel,
		sess:   sess,
	}

	go func() {
		defer close(ls.lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case ls.lines <- scanner.Text():
			case <-streamCtx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			ls.errCh <- err
		}
		_ = sess.Wait()
	}()

	return ls, nil
}

// Health reports the cached connection state for host without dialing.
func (e *Executor) Health(_ context.Context, host string) (out.HealthStatus, error) {
	s := e.sessionFor(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	return out.HealthStatus{State: s.state, Reason: s.reason}, nil
}

func joinArgv(argv []string) string {
	// argv elements are validated by the caller against the §4.1 allowlist
	// before reaching the executor; quoting beyond simple joining is not
	// needed because no element may contain whitespace or shell metachars.
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

type limitedBuffer struct {
	buf []byte
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	const maxBytes = 8 << 20 // 8MiB bound on unary command output
	if len(b.buf) >= maxBytes {
		return len(p), nil
	}
	room := maxBytes - len(b.buf)
	if room < len(p) {
		p = p[:room]
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte { return b.buf }

func newBytesReader(b []byte) io.Reader { return &byteReader{b: b} }

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

// ReconnectBackoff builds the exponential-full-jitter backoff policy §4.1
// mandates for the Host Observer's reconnect loop. RandomizationFactor 1.0
// draws each wait uniformly from [0, 2×interval], so the intervals below
// give a first wait of at most 100ms and no wait longer than 30s.
func ReconnectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 0 // retry forever; the caller decides when to give up
	b.RandomizationFactor = 1.0
	return b
}
