// Package reconciler implements the Route Reconciler (C6): per-domain
// work queues with generation counters, exponential-backoff retry,
// conflict repair, and a periodic sweep that reconciles drift and
// collects orphaned routes (§4.6).
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"

	"github.com/snadboy/revpd/internal/boundaries/out"
	"github.com/snadboy/revpd/internal/domain"
	"github.com/snadboy/revpd/internal/usecase/registry"
)

// Config tunes the Reconciler's retry and concurrency posture (§4.6, §6.5).
type Config struct {
	MaxRetries           int           // default 8
	MaxConcurrentWorkers int64         // default 16
	SweepInterval        time.Duration // default 300s
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 8
	}
	if c.MaxConcurrentWorkers <= 0 {
		c.MaxConcurrentWorkers = 16
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 300 * time.Second
	}
	return c
}

// domainIntent is the Reconciler's per-domain desired state plus the
// bookkeeping its at-most-one-in-flight worker needs.
type domainIntent struct {
	generation uint64
	action     registry.DiffAction
	service    domain.Service
	running    bool
}

// Reconciler owns the Intents map and the worker pool that drains it.
type Reconciler struct {
	proxy  out.ProxyClient
	log    zerowrap.Logger
	config Config
	sem    *semaphore.Weighted

	mu       sync.Mutex
	intents  map[string]*domainIntent
	applied  map[string]uint64
	degraded map[string]string

	stopCh  chan struct{}
	stopped chan struct{}
	started bool // set by Run; Stop only waits for the sweep loop if true
	wg      sync.WaitGroup
}

// New constructs a Reconciler, filling any zero Config field with its
// default. The Desired set is supplied later, to Run and Sweep.
func New(proxy out.ProxyClient, log zerowrap.Logger, config Config) *Reconciler {
	config = config.withDefaults()
	return &Reconciler{
		proxy:    proxy,
		log:      log,
		config:   config,
		sem:      semaphore.NewWeighted(config.MaxConcurrentWorkers),
		intents:  make(map[string]*domainIntent),
		applied:  make(map[string]uint64),
		degraded: make(map[string]string),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// StatusEntry summarizes one domain's reconciliation state.
type StatusEntry struct {
	Generation    uint64
	Applied       uint64
	DegradedSince string // empty when not degraded
}

// Status returns a point-in-time snapshot for the supervisor's status report.
func (r *Reconciler) Status() map[string]StatusEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]StatusEntry, len(r.intents))
	for domainKey, in := range r.intents {
		out[domainKey] = StatusEntry{
			Generation:    in.generation,
			Applied:       r.applied[domainKey],
			DegradedSince: r.degraded[domainKey],
		}
	}
	return out
}

// Run performs an immediate startup sweep, so routes orphaned by a prior
// crash are collected right away instead of sitting live for a full sweep
// interval, then starts the periodic sweep ticker. snapshotFn supplies the
// Desired set at sweep time; it must not block on Reconciler state.
func (r *Reconciler) Run(ctx context.Context, snapshotFn func() map[string]domain.Service) {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.stopped)

		if err := r.Sweep(ctx, snapshotFn()); err != nil {
			zerowrap.FromCtx(ctx).Warn().Err(err).Msg("startup sweep encountered errors")
		}

		ticker := time.NewTicker(r.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Sweep(ctx, snapshotFn()); err != nil {
					zerowrap.FromCtx(ctx).Warn().Err(err).Msg("periodic sweep encountered errors")
				}
			}
		}
	}()
}

// Stop signals all background work to exit and waits for the sweep loop;
// in-flight per-domain workers are allowed to finish their current
// operation (§5's shutdown semantics: in-flight mutations finish, queued
// ones are dropped by simply not being waited on).
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.stopped
	}
}

// Enqueue admits a diff item, bumping the domain's generation and
// spawning a worker if one isn't already draining this domain's queue.
func (r *Reconciler) Enqueue(ctx context.Context, item registry.DiffItem) {
	r.mu.Lock()
	in, ok := r.intents[item.Domain]
	if !ok {
		in = &domainIntent{}
		r.intents[item.Domain] = in
	}
	in.generation++
	in.action = item.Action
	in.service = item.Service
	alreadyRunning := in.running
	in.running = true
	r.mu.Unlock()

	if alreadyRunning {
		return // the running worker will observe the bumped generation
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.drain(ctx, item.Domain)
	}()
}

// Resync enqueues an Updated diff for every Service in desired, whether
// or not its routes are already live on the proxy.
func (r *Reconciler) Resync(ctx context.Context, desired map[string]domain.Service) {
	for domainKey, svc := range desired {
		r.Enqueue(ctx, registry.DiffItem{Domain: domainKey, Action: registry.DiffUpdated, Service: svc})
	}
}

// drain repeatedly applies domainKey's latest intent until no newer
// generation arrived while the last attempt was in flight.
func (r *Reconciler) drain(ctx context.Context, domainKey string) {
	for {
		r.mu.Lock()
		in := r.intents[domainKey]
		gen, action, svc := in.generation, in.action, in.service
		r.mu.Unlock()

		if err := r.sem.Acquire(ctx, 1); err != nil {
			r.mu.Lock()
			in.running = false
			r.mu.Unlock()
			return
		}
		err := r.apply(ctx, domainKey, action, svc, gen)
		r.sem.Release(1)

		if err != nil {
			zerowrap.FromCtx(ctx).Warn().Err(err).Str(zerowrap.FieldHost, domainKey).Msg("reconcile attempt did not complete")
		}

		r.mu.Lock()
		if r.intents[domainKey].generation == gen {
			in.running = false
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
		// A newer intent arrived mid-attempt; loop to pick it up.
	}
}

func (r *Reconciler) stale(domainKey string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.intents[domainKey].generation != gen
}

func (r *Reconciler) markApplied(domainKey string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied[domainKey] = gen
	delete(r.degraded, domainKey)
}

func (r *Reconciler) markDegraded(domainKey, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degraded[domainKey] = reason
}

func (r *Reconciler) apply(ctx context.Context, domainKey string, action registry.DiffAction, svc domain.Service, gen uint64) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "reconciler",
		zerowrap.FieldAction:  string(action),
		zerowrap.FieldHost:    domainKey,
	})

	if action == registry.DiffRemoved {
		return r.applyRemove(ctx, domainKey, svc, gen)
	}
	return r.applyUpsert(ctx, domainKey, svc, gen)
}

func (r *Reconciler) applyUpsert(ctx context.Context, domainKey string, svc domain.Service, gen uint64) error {
	log := zerowrap.FromCtx(ctx)
	routes := domain.RoutesForService(svc)
	b := r.newBackoff()

	for {
		if r.stale(domainKey, gen) {
			return nil
		}

		err := r.putAll(ctx, routes)
		if err == nil {
			r.markApplied(domainKey, gen)
			return nil
		}

		switch {
		case errors.Is(err, domain.ErrProxyRejected):
			r.markDegraded(domainKey, err.Error())
			log.Error().Err(err).Msg("proxy rejected route payload, not retrying")
			return err

		case errors.Is(err, domain.ErrProxyConflict):
			log.Warn().Err(err).Msg("proxy reports conflicting route owner, attempting repair")
			if repairErr := r.repairConflict(ctx, routes); repairErr != nil {
				r.markDegraded(domainKey, repairErr.Error())
				return repairErr
			}
			r.markApplied(domainKey, gen)
			return nil

		default:
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				r.markDegraded(domainKey, fmt.Sprintf("exceeded max-retries: %v", err))
				return domain.ErrRetriesExceeded
			}
			log.Warn().Err(err).Dur("wait", wait).Msg("transient failure applying route, retrying")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (r *Reconciler) applyRemove(ctx context.Context, domainKey string, svc domain.Service, gen uint64) error {
	log := zerowrap.FromCtx(ctx)
	routes := domain.RoutesForService(svc)
	b := r.newBackoff()

	for {
		if r.stale(domainKey, gen) {
			return nil
		}

		err := r.deleteAll(ctx, routes)
		if err == nil {
			r.markApplied(domainKey, gen)
			return nil
		}

		if errors.Is(err, domain.ErrProxyRejected) {
			r.markDegraded(domainKey, err.Error())
			log.Error().Err(err).Msg("proxy rejected route deletion, not retrying")
			return err
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			r.markDegraded(domainKey, fmt.Sprintf("exceeded max-retries: %v", err))
			return domain.ErrRetriesExceeded
		}
		log.Warn().Err(err).Dur("wait", wait).Msg("transient failure removing route, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// repairConflict implements §4.6's one-shot conflict repair: delete the
// orphaned route-ids, then reapply once. A second failure is surfaced to
// the caller, who marks the domain Degraded without looping further.
func (r *Reconciler) repairConflict(ctx context.Context, routes []domain.Route) error {
	for _, rt := range routes {
		_ = r.proxy.DeleteRoute(ctx, rt.ID)
	}
	return r.putAll(ctx, routes)
}

func (r *Reconciler) putAll(ctx context.Context, routes []domain.Route) error {
	var errs *multierror.Error
	for _, rt := range routes {
		payload, err := buildPayload(rt)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("building payload for %s: %w", rt.ID, err))
			continue
		}
		if err := r.proxy.PutRoute(ctx, rt.ID, payload); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (r *Reconciler) deleteAll(ctx context.Context, routes []domain.Route) error {
	var errs *multierror.Error
	for _, rt := range routes {
		if err := r.proxy.DeleteRoute(ctx, rt.ID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Sweep fetches the proxy's live route list, enqueues an Updated diff for
// every Desired domain with at least one route-id absent from the proxy,
// and deletes every managed-namespace route-id with no corresponding
// Desired domain. Live payload hashes are not compared, so a route whose
// id is present but whose payload differs from the Service is not
// re-applied by the sweep.
func (r *Reconciler) Sweep(ctx context.Context, desired map[string]domain.Service) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "reconciler",
		zerowrap.FieldAction:  "sweep",
	})
	log := zerowrap.FromCtx(ctx)

	entries, err := r.proxy.ListRoutes(ctx)
	if err != nil {
		return fmt.Errorf("listing proxy routes for sweep: %w", err)
	}

	live := make(map[string]bool, len(entries))
	for _, e := range entries {
		live[e.RouteID] = true
	}

	desiredIDs := make(map[string]bool)
	staleDomains := 0
	for domainKey, svc := range desired {
		routes := domain.RoutesForService(svc)
		missing := false
		for _, rt := range routes {
			desiredIDs[rt.ID] = true
			if !live[rt.ID] {
				missing = true
			}
		}
		if missing {
			staleDomains++
			r.Enqueue(ctx, registry.DiffItem{Domain: domainKey, Action: registry.DiffUpdated, Service: svc})
		}
	}

	var errs *multierror.Error
	orphans := 0
	for id := range live {
		if domain.IsManagedRouteID(id) && !desiredIDs[id] {
			orphans++
			if err := r.proxy.DeleteRoute(ctx, id); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("deleting orphan route %s: %w", id, err))
			}
		}
	}

	log.Info().
		Int(zerowrap.FieldCount, len(desired)).
		Int("stale_domains", staleDomains).
		Int("orphans_collected", orphans).
		Msg("periodic sweep complete")

	return errs.ErrorOrNil()
}

func (r *Reconciler) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 4
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 1.0
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(r.config.MaxRetries))
}
