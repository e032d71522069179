// Package supervisor implements in.SupervisorService: the root orchestrator
// that subscribes to the internal event bus, feeds the Service Registry and
// Route Reconciler from it, and answers the status/resync control surface.
package supervisor

import (
	"context"
	"sort"
	"sync"

	"github.com/bnema/zerowrap"

	"github.com/snadboy/revpd/internal/boundaries/in"
	"github.com/snadboy/revpd/internal/boundaries/out"
	"github.com/snadboy/revpd/internal/domain"
	"github.com/snadboy/revpd/internal/usecase/reconciler"
	"github.com/snadboy/revpd/internal/usecase/registry"
	"github.com/snadboy/revpd/internal/usecase/staticroutes"
)

// Supervisor wires registry events to the reconciler and tracks host health
// for the status report (§7).
type Supervisor struct {
	registry    *registry.Registry
	reconciler  *reconciler.Reconciler
	staticRoute in.StaticRouteService
	log         zerowrap.Logger

	mu    sync.Mutex
	hosts map[string]in.HostStatus
}

// New constructs a Supervisor. Call Subscribe to wire it onto an event bus
// before starting any Host Observers or the Static Route Store.
func New(reg *registry.Registry, rec *reconciler.Reconciler, staticSvc in.StaticRouteService, log zerowrap.Logger) *Supervisor {
	return &Supervisor{
		registry:    reg,
		reconciler:  rec,
		staticRoute: staticSvc,
		log:         log,
		hosts:       make(map[string]in.HostStatus),
	}
}

// RegisterHost seeds a host's status entry before its Observer ever emits an
// EventHostState, so Status() reports every configured host from startup.
func (s *Supervisor) RegisterHost(alias string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[alias] = in.HostStatus{Alias: alias, State: string(domain.ConnectionUnknown), Enabled: enabled}
}

// Subscribe registers the Supervisor as an out.EventHandler on bus.
func (s *Supervisor) Subscribe(bus out.EventSubscriber) error {
	return bus.Subscribe(s)
}

// CanHandle implements out.EventHandler: the Supervisor handles every event
// type the Host Observer and Static Route Store emit.
func (s *Supervisor) CanHandle(eventType domain.EventType) bool {
	switch eventType {
	case domain.EventSync, domain.EventContainerChanged, domain.EventContainerRemoved,
		domain.EventStaticChanged, domain.EventHostState:
		return true
	default:
		return false
	}
}

// Handle implements out.EventHandler: routes each event to the Registry,
// then forwards any resulting diff to the Reconciler.
func (s *Supervisor) Handle(ctx context.Context, event domain.Event) error {
	var diff []registry.DiffItem

	switch event.Type {
	case domain.EventSync:
		p := event.Data.(domain.SyncPayload)
		diff = s.registry.ApplySync(ctx, p.Host, p.Containers)

	case domain.EventContainerChanged:
		p := event.Data.(domain.ContainerChangedPayload)
		diff = s.registry.ApplyContainerChanged(ctx, p.Container)

	case domain.EventContainerRemoved:
		p := event.Data.(domain.ContainerRemovedPayload)
		diff = s.registry.ApplyContainerRemoved(ctx, p.Host, p.ContainerID)

	case domain.EventStaticChanged:
		p := event.Data.(domain.StaticChangedPayload)
		diff = s.registry.ApplyStaticChanged(ctx, p.Records)

	case domain.EventHostState:
		p := event.Data.(domain.HostStatePayload)
		s.mu.Lock()
		entry := s.hosts[p.Host]
		entry.Alias = p.Host
		entry.State = string(p.State)
		entry.Reason = p.Reason
		s.hosts[p.Host] = entry
		s.mu.Unlock()
		return nil
	}

	for _, item := range diff {
		s.reconciler.Enqueue(ctx, item)
	}
	return nil
}

// Status implements in.SupervisorService.
func (s *Supervisor) Status(ctx context.Context) in.SystemStatus {
	s.mu.Lock()
	hosts := make([]in.HostStatus, 0, len(s.hosts))
	for _, h := range s.hosts {
		hosts = append(hosts, h)
	}
	s.mu.Unlock()
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Alias < hosts[j].Alias })

	desired := s.registry.Snapshot()
	recStatus := s.reconciler.Status()

	services := make([]in.ServiceStatus, 0, len(desired))
	for domainKey, svc := range desired {
		entry := recStatus[domainKey]
		services = append(services, in.ServiceStatus{
			Domain:     domainKey,
			Degraded:   entry.DegradedSince != "",
			Reason:     entry.DegradedSince,
			Revision:   svc.Revision(),
			Generation: entry.Generation,
		})
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Domain < services[j].Domain })

	return in.SystemStatus{Hosts: hosts, Services: services}
}

// Resync implements in.SupervisorService: forces an immediate reconcile
// sweep against the Registry's current Desired set.
func (s *Supervisor) Resync(ctx context.Context) error {
	log := zerowrap.FromCtx(ctx)
	log.Info().
		Str(zerowrap.FieldLayer, "usecase").
		Str(zerowrap.FieldUseCase, "supervisor").
		Msg("forcing resync sweep")
	return s.reconciler.Sweep(ctx, s.registry.Snapshot())
}
