// Package registry implements the Service Registry (C5): the authoritative
// in-memory set of currently desired Services, merged from every Host
// Observer's container stream and the Static Route Store's record stream,
// with the domain-uniqueness tie-break of §4.5.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/bnema/zerowrap"

	"github.com/snadboy/revpd/internal/domain"
	"github.com/snadboy/revpd/internal/usecase/compiler"
)

// DiffAction classifies one Service's change between two registry
// snapshots.
type DiffAction string

const (
	DiffAdded   DiffAction = "added"
	DiffUpdated DiffAction = "updated"
	DiffRemoved DiffAction = "removed"
)

// DiffItem is one line of a desired-set diff, handed to the Reconciler.
type DiffItem struct {
	Domain  string
	Action  DiffAction
	Service domain.Service // for DiffRemoved, the last desired Service before removal
}

// candidate pairs a compiled Service with the provenance needed for the
// tie-break (§4.5: static beats container; lower host alias, then lower
// container id, wins among containers).
type candidate struct {
	service domain.Service
}

func (c candidate) loses(other candidate) bool {
	a, b := c.service.Origin, other.service.Origin
	if a.Kind != b.Kind {
		return a.Kind == domain.OriginContainer // static always wins
	}
	if a.Kind == domain.OriginStatic {
		return false // two static records claiming the same key can't reach here (rejected at load)
	}
	if a.Host != b.Host {
		return a.Host > b.Host // lexicographically lower alias wins
	}
	return a.ContainerID > b.ContainerID
}

// Registry implements the Service Registry. It owns two inputs
// (ContainersByHost, StaticRecords) and recomputes the desired set on every
// change, diffing against the previous snapshot.
type Registry struct {
	mu sync.Mutex

	containersByHost map[string]map[string]domain.Container
	staticRecords    []domain.StaticRecord

	// hostAddr maps a Host's alias (domain.Container.Host) to the network
	// address the proxy should dial to reach it (domain.Host.ResolvedAddress()),
	// so compiled Backends carry a dialable address, never the bare alias.
	hostAddr map[string]string

	desired map[string]domain.Service // last computed desired set, by key

	warnFn func(domain.CompileWarning)
	log    zerowrap.Logger
}

// New constructs an empty Registry over the given hosts. warnFn, if
// non-nil, is called for every CompileWarning produced during
// recompilation (dropped Services, conflicts); it must not block.
func New(log zerowrap.Logger, warnFn func(domain.CompileWarning), hosts []domain.Host) *Registry {
	if warnFn == nil {
		warnFn = func(domain.CompileWarning) {}
	}
	hostAddr := make(map[string]string, len(hosts))
	for _, h := range hosts {
		hostAddr[h.Alias] = h.ResolvedAddress()
	}
	return &Registry{
		containersByHost: make(map[string]map[string]domain.Container),
		desired:          make(map[string]domain.Service),
		hostAddr:         hostAddr,
		warnFn:           warnFn,
		log:              log,
	}
}

// addressFor resolves a container's host alias to its dial address,
// falling back to the alias itself if the host was never registered.
// hostAddr is fixed at construction and never mutated afterward, so this
// is safe to call without holding r.mu.
func (r *Registry) addressFor(host string) string {
	if addr, ok := r.hostAddr[host]; ok {
		return addr
	}
	return host
}

// Snapshot returns the current desired set without blocking writers for
// longer than copying the map takes.
func (r *Registry) Snapshot() map[string]domain.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.Service, len(r.desired))
	for k, v := range r.desired {
		out[k] = v
	}
	return out
}

// ApplySync replaces the full container set for host (C2's Sync event).
func (r *Registry) ApplySync(ctx context.Context, host string, containers []domain.Container) []DiffItem {
	r.mu.Lock()
	byID := make(map[string]domain.Container, len(containers))
	for _, c := range containers {
		byID[c.ID] = c
	}
	r.containersByHost[host] = byID
	return r.recompute(ctx)
}

// ApplyContainerChanged upserts a single container (C2's Changed event).
func (r *Registry) ApplyContainerChanged(ctx context.Context, c domain.Container) []DiffItem {
	r.mu.Lock()
	if r.containersByHost[c.Host] == nil {
		r.containersByHost[c.Host] = make(map[string]domain.Container)
	}
	r.containersByHost[c.Host][c.ID] = c
	return r.recompute(ctx)
}

// ApplyContainerRemoved removes a single container (C2's Removed event).
func (r *Registry) ApplyContainerRemoved(ctx context.Context, host, containerID string) []DiffItem {
	r.mu.Lock()
	delete(r.containersByHost[host], containerID)
	return r.recompute(ctx)
}

// ApplyStaticChanged replaces the full static-record set (C4's Changed event).
func (r *Registry) ApplyStaticChanged(ctx context.Context, records []domain.StaticRecord) []DiffItem {
	r.mu.Lock()
	r.staticRecords = records
	return r.recompute(ctx)
}

// recompute must be called with r.mu held; it keeps the lock through
// compilation and diffing, then releases it before returning so warnFn and
// logging never run under it.
func (r *Registry) recompute(ctx context.Context) []DiffItem {
	containersByHost := r.containersByHost
	staticRecords := r.staticRecords
	previous := r.desired

	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "recompute",
	})
	log := zerowrap.FromCtx(ctx)

	candidates := make(map[string]candidate)
	var warnings []domain.CompileWarning

	for _, rec := range staticRecords {
		services, warns := compiler.CompileStatic(rec)
		warnings = append(warnings, warns...)
		for _, svc := range services {
			admitCandidate(candidates, candidate{service: svc}, &warnings)
		}
	}

	// Stable host iteration keeps the tie-break deterministic (P5).
	hosts := make([]string, 0, len(containersByHost))
	for h := range containersByHost {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	for _, host := range hosts {
		ids := make([]string, 0, len(containersByHost[host]))
		for id := range containersByHost[host] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			services, warns := compiler.CompileContainer(containersByHost[host][id], r.addressFor(host))
			warnings = append(warnings, warns...)
			for _, svc := range services {
				admitCandidate(candidates, candidate{service: svc}, &warnings)
			}
		}
	}

	desired := make(map[string]domain.Service, len(candidates))
	for key, c := range candidates {
		desired[key] = c.service
	}

	diff := diffDesired(previous, desired)

	r.desired = desired
	r.mu.Unlock()

	for _, w := range warnings {
		r.warnFn(w)
	}

	log.Debug().
		Int(zerowrap.FieldCount, len(desired)).
		Int("diff_count", len(diff)).
		Int("warning_count", len(warnings)).
		Msg("registry recomputed desired set")

	return diff
}

// admitCandidate enforces domain uniqueness: the incoming candidate either
// claims an empty key, loses to the existing claimant, or replaces it. The
// loser is always reported as a DomainConflict warning.
func admitCandidate(candidates map[string]candidate, incoming candidate, warnings *[]domain.CompileWarning) {
	existing, present := candidates[incoming.service.Key]
	if !present {
		candidates[incoming.service.Key] = incoming
		return
	}

	if incoming.loses(existing) {
		*warnings = append(*warnings, conflictWarning(incoming.service))
		return
	}

	*warnings = append(*warnings, conflictWarning(existing.service))
	candidates[incoming.service.Key] = incoming
}

func conflictWarning(lost domain.Service) domain.CompileWarning {
	return domain.CompileWarning{
		Reason: domain.WarningDomainConflict,
		Detail: "domain already claimed by another service",
		Host:   lost.Origin.Host,
		Source: lost.Origin.ContainerID,
		Domain: lost.Key,
	}
}

func diffDesired(previous, current map[string]domain.Service) []DiffItem {
	var diff []DiffItem

	keys := make([]string, 0, len(current)+len(previous))
	seen := make(map[string]bool)
	for k := range current {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range previous {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		curr, inCurr := current[key]
		prev, inPrev := previous[key]
		switch {
		case inCurr && !inPrev:
			diff = append(diff, DiffItem{Domain: key, Action: DiffAdded, Service: curr})
		case inCurr && inPrev && curr.Revision() != prev.Revision():
			diff = append(diff, DiffItem{Domain: key, Action: DiffUpdated, Service: curr})
		case !inCurr && inPrev:
			diff = append(diff, DiffItem{Domain: key, Action: DiffRemoved, Service: prev})
		}
	}
	return diff
}
