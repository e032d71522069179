package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snadboy/revpd/internal/domain"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []domain.Event
	only   domain.EventType
}

func (h *recordingHandler) Handle(_ context.Context, event domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *recordingHandler) CanHandle(t domain.EventType) bool { return t == h.only }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func testLogger() zerowrap.Logger {
	return zerowrap.New(zerowrap.Config{Level: "disabled"})
}

func TestInMemoryPublishDeliversToMatchingHandler(t *testing.T) {
	bus := NewInMemory(10, testLogger())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	h := &recordingHandler{only: domain.EventStaticChanged}
	require.NoError(t, bus.Subscribe(h))

	require.NoError(t, bus.Publish(domain.EventStaticChanged, domain.StaticChangedPayload{}))
	require.NoError(t, bus.Publish(domain.EventHostState, domain.HostStatePayload{Host: "h1"}))

	assert.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestInMemoryUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewInMemory(10, testLogger())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	h := &recordingHandler{only: domain.EventStaticChanged}
	require.NoError(t, bus.Subscribe(h))
	require.NoError(t, bus.Unsubscribe(h))

	require.NoError(t, bus.Publish(domain.EventStaticChanged, domain.StaticChangedPayload{}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, h.count())
}

func TestInMemoryUnsubscribeUnknownHandlerErrors(t *testing.T) {
	bus := NewInMemory(10, testLogger())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	h := &recordingHandler{only: domain.EventStaticChanged}
	err := bus.Unsubscribe(h)
	assert.Error(t, err)
}
