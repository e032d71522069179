// Package hostobserver implements the Host Observer (C2): per-host
// Init→Snapshot→Streaming→Backoff state machine (§4.2) driving the Remote
// Executor and publishing canonical container events.
package hostobserver

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/cenkalti/backoff/v4"

	"github.com/snadboy/revpd/internal/boundaries/out"
	"github.com/snadboy/revpd/internal/domain"
)

// Config tunes the state machine's timing (§4.2, §6.5 defaults).
type Config struct {
	HeartbeatDeadline time.Duration // stream stall before forced reconnect
	ReconcileInterval time.Duration // periodic authoritative resync
}

func defaultConfig() Config {
	return Config{
		HeartbeatDeadline: 90 * time.Second,
		ReconcileInterval: 300 * time.Second,
	}
}

// state is the Host Observer's own FSM state, distinct from domain.ConnectionState
// (which only tracks the Remote Executor's session health).
type state int

const (
	stateInit state = iota
	stateSnapshot
	stateStreaming
	stateBackoff
)

// Observer runs one host's Init→Snapshot→Streaming→Backoff loop.
type Observer struct {
	host     domain.Host
	executor out.RemoteExecutor
	eventBus out.EventPublisher
	config   Config
	backoff  backoff.BackOff

	mu       sync.Mutex
	tracked  map[string]domain.Container // last known shape, by container id

	stopCh  chan struct{}
	stopped chan struct{}
}

// New constructs an Observer for host. backoffPolicy is typically
// sshexec.ReconnectBackoff() so the Observer and the Remote Executor
// share one retry posture; pass nil to use the package default.
func New(host domain.Host, executor out.RemoteExecutor, eventBus out.EventPublisher, config Config, backoffPolicy backoff.BackOff) *Observer {
	if config.HeartbeatDeadline == 0 && config.ReconcileInterval == 0 {
		config = defaultConfig()
	}
	if backoffPolicy == nil {
		backoffPolicy = defaultBackoff()
	}
	return &Observer{
		host:     host,
		executor: executor,
		eventBus: eventBus,
		config:   config,
		backoff:  backoffPolicy,
		tracked:  make(map[string]domain.Container),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 1.0
	b.MaxElapsedTime = 0
	return b
}

// Start launches the state machine in its own goroutine.
func (o *Observer) Start(ctx context.Context) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "hostobserver",
		zerowrap.FieldHost:    o.host.Alias,
	})
	log := zerowrap.FromCtx(ctx)
	log.Info().Msg("host observer starting")
	go o.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (o *Observer) Stop() {
	close(o.stopCh)
	<-o.stopped
}

func (o *Observer) run(ctx context.Context) {
	defer close(o.stopped)
	log := zerowrap.FromCtx(ctx)

	st := stateInit
	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		switch st {
		case stateInit:
			st = stateSnapshot

		case stateSnapshot:
			if err := o.snapshot(ctx); err != nil {
				log.Warn().Err(err).Msg("snapshot failed")
				o.publishHostState(domain.ConnectionFailed, err.Error())
				st = stateBackoff
				continue
			}
			o.publishHostState(domain.ConnectionConnected, "")
			o.backoff.Reset()
			st = stateStreaming

		case stateStreaming:
			err := o.stream(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("stream ended")
			}
			o.publishHostState(domain.ConnectionDisconnected, errString(err))
			st = stateBackoff

		case stateBackoff:
			wait := o.backoff.NextBackOff()
			if wait == backoff.Stop {
				wait = 30 * time.Second
			}
			log.Debug().Dur("wait", wait).Msg("backing off before reconnect")
			select {
			case <-time.After(wait):
			case <-o.stopCh:
				return
			case <-ctx.Done():
				return
			}
			st = stateInit
		}
	}
}

// snapshot performs the Init→Snapshot transition: list all containers,
// inspect each, replace the tracked set, and emit Sync.
func (o *Observer) snapshot(ctx context.Context) error {
	idsOut, err := o.executor.Run(ctx, o.host.Alias, listContainerIDsArgv(), nil)
	if err != nil {
		return err
	}
	ids := parseContainerIDs(idsOut.Stdout)
	if len(ids) == 0 {
		o.mu.Lock()
		o.tracked = make(map[string]domain.Container)
		o.mu.Unlock()
		o.publish(domain.EventSync, domain.SyncPayload{Host: o.host.Alias})
		return nil
	}

	inspectOut, err := o.executor.Run(ctx, o.host.Alias, inspectArgv(ids), nil)
	if err != nil {
		return err
	}
	containers, err := parseInspectArray(o.host.Alias, inspectOut.Stdout)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.tracked = make(map[string]domain.Container, len(containers))
	for _, c := range containers {
		o.tracked[c.ID] = c
	}
	o.mu.Unlock()

	o.publish(domain.EventSync, domain.SyncPayload{Host: o.host.Alias, Containers: containers})
	return nil
}

// stream runs the Streaming state until the event command ends, stalls
// past HeartbeatDeadline, or a periodic resync snapshot fails. Each resync
// tick takes a fresh snapshot while the event stream stays open.
func (o *Observer) stream(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines, err := o.executor.Stream(streamCtx, o.host.Alias, eventsStreamArgv())
	if err != nil {
		return err
	}
	defer lines.Close()

	resync := time.NewTicker(o.config.ReconcileInterval)
	defer resync.Stop()

	deadline := time.NewTimer(o.config.HeartbeatDeadline)
	defer deadline.Stop()

	for {
		select {
		case <-o.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()

		case <-resync.C:
			if err := o.snapshot(ctx); err != nil {
				return err
			}

		case <-deadline.C:
			return domain.ErrHostUnreachable

		case line, ok := <-lines.Lines():
			if !ok {
				return lines.Err()
			}
			if !deadline.Stop() {
				select {
				case <-deadline.C:
				default:
				}
			}
			deadline.Reset(o.config.HeartbeatDeadline)
			o.handleEventLine(ctx, line)
		}
	}
}

func (o *Observer) handleEventLine(ctx context.Context, line string) {
	log := zerowrap.FromCtx(ctx)

	ev, ok := parseDockerEvent(line)
	if !ok {
		return
	}

	if ev.Action == "destroy" {
		o.mu.Lock()
		delete(o.tracked, ev.Actor.ID)
		o.mu.Unlock()
		o.publish(domain.EventContainerRemoved, domain.ContainerRemovedPayload{Host: o.host.Alias, ContainerID: ev.Actor.ID})
		return
	}

	inspectOut, err := o.executor.Run(ctx, o.host.Alias, inspectArgv([]string{ev.Actor.ID}), nil)
	if err != nil {
		log.Warn().Err(err).Str("container_id", ev.Actor.ID).Msg("inspect after event failed")
		return
	}
	container, err := parseInspectOne(o.host.Alias, inspectOut.Stdout)
	if err != nil {
		log.Warn().Err(err).Str("container_id", ev.Actor.ID).Msg("parsing inspect after event failed")
		return
	}

	o.mu.Lock()
	o.tracked[container.ID] = container
	o.mu.Unlock()
	o.publish(domain.EventContainerChanged, domain.ContainerChangedPayload{Container: container})
}

func (o *Observer) publish(eventType domain.EventType, payload any) {
	if o.eventBus == nil {
		return
	}
	_ = o.eventBus.Publish(eventType, payload)
}

func (o *Observer) publishHostState(cs domain.ConnectionState, reason string) {
	o.host = o.host.WithState(cs, reason)
	o.publish(domain.EventHostState, domain.HostStatePayload{Host: o.host.Alias, State: cs, Reason: reason})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
