package hostobserver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snadboy/revpd/internal/boundaries/out"
	"github.com/snadboy/revpd/internal/domain"
)

func testHost() domain.Host {
	return domain.NewHost("h1", "10.0.0.1", 22, "deploy", "~/.ssh/id_ed25519", true)
}

// fakeExecutor scripts Run responses by argv[0:2] ("docker ps"/"docker
// inspect") and hands out a single prepared LineStream for Stream.
type fakeExecutor struct {
	mu       sync.Mutex
	psOut    []byte
	inspects map[string][]byte // container id -> inspect JSON array
	stream   *fakeLineStream
	runCalls int
}

func (f *fakeExecutor) Run(ctx context.Context, host string, argv []string, stdin []byte) (out.CommandResult, error) {
	f.mu.Lock()
	f.runCalls++
	f.mu.Unlock()

	if len(argv) >= 2 && argv[1] == "ps" {
		return out.CommandResult{Stdout: f.psOut}, nil
	}
	if len(argv) >= 2 && argv[1] == "inspect" {
		id := argv[2]
		data, ok := f.inspects[id]
		if !ok {
			return out.CommandResult{}, errors.New("no such container")
		}
		return out.CommandResult{Stdout: data}, nil
	}
	return out.CommandResult{}, errors.New("unexpected argv")
}

func (f *fakeExecutor) Stream(ctx context.Context, host string, argv []string) (out.LineStream, error) {
	return f.stream, nil
}

func (f *fakeExecutor) Health(ctx context.Context, host string) (out.HealthStatus, error) {
	return out.HealthStatus{State: out.ConnConnected}, nil
}

type fakeLineStream struct {
	lines  chan string
	err    error
	closed bool
}

func newFakeLineStream() *fakeLineStream {
	return &fakeLineStream{lines: make(chan string, 16)}
}

func (s *fakeLineStream) Lines() <-chan string { return s.lines }
func (s *fakeLineStream) Err() error           { return s.err }
func (s *fakeLineStream) Close() error {
	s.closed = true
	return nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *fakeBus) Publish(eventType domain.EventType, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, domain.Event{Type: eventType, Data: payload})
	return nil
}

func (b *fakeBus) snapshot() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Event, len(b.events))
	copy(out, b.events)
	return out
}

func inspectJSON(id, status string, labels map[string]string) []byte {
	record := types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    id,
			Name:  "/app",
			State: &types.ContainerState{Status: status},
		},
		Config: &container.Config{
			Image:  "app:latest",
			Labels: labels,
		},
	}
	data, err := json.Marshal([]types.ContainerJSON{record})
	if err != nil {
		panic(err)
	}
	return data
}

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

func TestSnapshotEmptyHostEmitsEmptySync(t *testing.T) {
	exec := &fakeExecutor{psOut: []byte("")}
	bus := &fakeBus{}
	o := New(testHost(), exec, bus, Config{HeartbeatDeadline: time.Second, ReconcileInterval: time.Hour}, nil)

	require.NoError(t, o.snapshot(testContext()))

	events := bus.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSync, events[0].Type)
	payload := events[0].Data.(domain.SyncPayload)
	assert.Empty(t, payload.Containers)
}

func TestSnapshotParsesInspectedContainers(t *testing.T) {
	exec := &fakeExecutor{
		psOut: []byte("c1\n"),
		inspects: map[string][]byte{
			"c1": inspectJSON("c1", "running", map[string]string{"snadboy.revp.80.domain": "app.example.com"}),
		},
	}
	bus := &fakeBus{}
	o := New(testHost(), exec, bus, Config{}, nil)

	require.NoError(t, o.snapshot(testContext()))

	events := bus.snapshot()
	require.Len(t, events, 1)
	payload := events[0].Data.(domain.SyncPayload)
	require.Len(t, payload.Containers, 1)
	assert.Equal(t, "c1", payload.Containers[0].ID)
	assert.Equal(t, domain.ContainerRunning, payload.Containers[0].Status)
}

func TestHandleEventLineDestroyEmitsRemoved(t *testing.T) {
	exec := &fakeExecutor{}
	bus := &fakeBus{}
	o := New(testHost(), exec, bus, Config{}, nil)
	o.tracked["c1"] = domain.Container{ID: "c1", Host: "h1"}

	o.handleEventLine(testContext(), `{"Type":"container","Action":"destroy","Actor":{"ID":"c1"},"time":1}`)

	events := bus.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventContainerRemoved, events[0].Type)
	_, stillTracked := o.tracked["c1"]
	assert.False(t, stillTracked)
}

func TestHandleEventLineStartEmitsChanged(t *testing.T) {
	exec := &fakeExecutor{
		inspects: map[string][]byte{
			"c1": inspectJSON("c1", "running", nil),
		},
	}
	bus := &fakeBus{}
	o := New(testHost(), exec, bus, Config{}, nil)

	o.handleEventLine(testContext(), `{"Type":"container","Action":"start","Actor":{"ID":"c1"},"time":1}`)

	events := bus.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventContainerChanged, events[0].Type)
}

func TestHandleEventLineIgnoresUnfilteredActions(t *testing.T) {
	exec := &fakeExecutor{}
	bus := &fakeBus{}
	o := New(testHost(), exec, bus, Config{}, nil)

	o.handleEventLine(testContext(), `{"Type":"network","Action":"connect","Actor":{"ID":"n1"},"time":1}`)

	assert.Empty(t, bus.snapshot())
}
