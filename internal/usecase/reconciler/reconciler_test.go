package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snadboy/revpd/internal/boundaries/out"
	"github.com/snadboy/revpd/internal/domain"
	"github.com/snadboy/revpd/internal/usecase/registry"
)

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

func testService(key string) domain.Service {
	return domain.Service{
		Key: key,
		Backend: domain.Backend{
			Host:     "127.0.0.1",
			Port:     8080,
			Protocol: "http",
		},
	}
}

// fakeProxy scripts PutRoute/DeleteRoute responses per call and records
// every call it receives.
type fakeProxy struct {
	mu sync.Mutex

	putErrs    []error // consumed in order, remainder repeats the last entry
	deleteErrs []error

	puts      []string
	deletes   []string
	listErr   error
	listRoutes []out.RouteEntry
}

func (f *fakeProxy) ListRoutes(ctx context.Context) ([]out.RouteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listRoutes, f.listErr
}

func (f *fakeProxy) PutRoute(ctx context.Context, routeID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, routeID)
	return nextErr(&f.putErrs)
}

func (f *fakeProxy) DeleteRoute(ctx context.Context, routeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, routeID)
	return nextErr(&f.deleteErrs)
}

func nextErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	if len(*errs) > 1 {
		*errs = (*errs)[1:]
	}
	return err
}

func waitForApplied(t *testing.T, r *Reconciler, domainKey string, minGen uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status := r.Status()
		if entry, ok := status[domainKey]; ok && entry.Applied >= minGen {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("domain %s never reached applied generation %d, status=%v", domainKey, minGen, r.Status())
}

func TestEnqueueUpsertPutsBothRoutes(t *testing.T) {
	proxy := &fakeProxy{}
	r := New(proxy, zerowrap.Default(), Config{})
	ctx := testContext()

	svc := testService("app.example.com")
	r.Enqueue(ctx, registry.DiffItem{Domain: svc.Key, Action: registry.DiffAdded, Service: svc})
	waitForApplied(t, r, svc.Key, 1)
	r.Stop()

	assert.Len(t, proxy.puts, 2)
}

func TestEnqueueRemoveDeletesRoutes(t *testing.T) {
	proxy := &fakeProxy{}
	r := New(proxy, zerowrap.Default(), Config{})
	ctx := testContext()

	svc := testService("app.example.com")
	r.Enqueue(ctx, registry.DiffItem{Domain: svc.Key, Action: registry.DiffRemoved, Service: svc})
	waitForApplied(t, r, svc.Key, 1)
	r.Stop()

	assert.Len(t, proxy.deletes, 2)
}

func TestRejectedErrorMarksDegradedWithoutRetry(t *testing.T) {
	proxy := &fakeProxy{putErrs: []error{domain.ErrProxyRejected}}
	r := New(proxy, zerowrap.Default(), Config{MaxRetries: 3})
	ctx := testContext()

	svc := testService("bad.example.com")
	r.Enqueue(ctx, registry.DiffItem{Domain: svc.Key, Action: registry.DiffAdded, Service: svc})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, degraded := r.Status()[svc.Key]; degraded && r.Status()[svc.Key].DegradedSince != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()

	status := r.Status()[svc.Key]
	assert.NotEmpty(t, status.DegradedSince)
	// putAll attempts both routes and aggregates their errors; the
	// rejection then stops any retry, so only that one putAll call runs.
	assert.LessOrEqual(t, len(proxy.puts), 2)
}

func TestConflictTriggersDeleteThenReapply(t *testing.T) {
	proxy := &fakeProxy{putErrs: []error{domain.ErrProxyConflict, nil}}
	r := New(proxy, zerowrap.Default(), Config{})
	ctx := testContext()

	svc := testService("conflict.example.com")
	r.Enqueue(ctx, registry.DiffItem{Domain: svc.Key, Action: registry.DiffAdded, Service: svc})
	waitForApplied(t, r, svc.Key, 1)
	r.Stop()

	assert.NotEmpty(t, proxy.deletes)
	assert.Empty(t, r.Status()[svc.Key].DegradedSince)
}

func TestStaleGenerationAbortsInFlightAttempt(t *testing.T) {
	proxy := &fakeProxy{}
	r := New(proxy, zerowrap.Default(), Config{})
	ctx := testContext()

	svc1 := testService("race.example.com")
	svc2 := svc1
	svc2.Backend.Port = 9090

	r.Enqueue(ctx, registry.DiffItem{Domain: svc1.Key, Action: registry.DiffAdded, Service: svc1})
	r.Enqueue(ctx, registry.DiffItem{Domain: svc2.Key, Action: registry.DiffUpdated, Service: svc2})
	waitForApplied(t, r, svc1.Key, 2)
	r.Stop()

	require.Equal(t, uint64(2), r.Status()[svc1.Key].Generation)
}

func TestSweepDeletesOrphansAndEnqueuesMissing(t *testing.T) {
	svc := testService("present.example.com")
	routes := domain.RoutesForService(svc)

	proxy := &fakeProxy{
		listRoutes: []out.RouteEntry{
			{RouteID: routes[0].ID}, // https present, http missing below
			{RouteID: "revp_route_orphaned000000000000000000000"},
			{RouteID: "not-managed-by-us"},
		},
	}
	r := New(proxy, zerowrap.Default(), Config{})
	ctx := testContext()

	err := r.Sweep(ctx, map[string]domain.Service{svc.Key: svc})
	require.NoError(t, err)

	waitForApplied(t, r, svc.Key, 1)
	r.Stop()

	assert.Contains(t, proxy.deletes, "revp_route_orphaned000000000000000000000")
	assert.NotContains(t, proxy.deletes, "not-managed-by-us")
}

func TestResyncEnqueuesEveryDomain(t *testing.T) {
	proxy := &fakeProxy{}
	r := New(proxy, zerowrap.Default(), Config{})
	ctx := testContext()

	desired := map[string]domain.Service{
		"a.example.com": testService("a.example.com"),
		"b.example.com": testService("b.example.com"),
	}
	r.Resync(ctx, desired)
	waitForApplied(t, r, "a.example.com", 1)
	waitForApplied(t, r, "b.example.com", 1)
	r.Stop()

	assert.Len(t, proxy.puts, 4)
}
