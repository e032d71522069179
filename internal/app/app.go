// Package app wires the adapters and usecases together into a runnable
// daemon, following the teacher's internal/app wiring pattern: one
// createServices step, then a Run loop that starts background work and
// blocks on shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/snadboy/revpd/internal/adapters/out/eventbus"
	"github.com/snadboy/revpd/internal/adapters/out/proxyadmin"
	"github.com/snadboy/revpd/internal/adapters/out/sshexec"
	"github.com/snadboy/revpd/internal/adapters/out/staticfile"
	"github.com/snadboy/revpd/internal/boundaries/in"
	"github.com/snadboy/revpd/internal/config"
	"github.com/snadboy/revpd/internal/domain"
	"github.com/snadboy/revpd/internal/logging"
	"github.com/snadboy/revpd/internal/usecase/hostobserver"
	"github.com/snadboy/revpd/internal/usecase/reconciler"
	"github.com/snadboy/revpd/internal/usecase/registry"
	"github.com/snadboy/revpd/internal/usecase/staticroutes"
	"github.com/snadboy/revpd/internal/usecase/supervisor"
)

// services holds every wired component Run needs to start and stop.
type services struct {
	cfg        config.Config
	log        zerowrap.Logger
	eventBus   *eventbus.InMemory
	executor   *sshexec.Executor
	staticSvc  *staticroutes.Service
	registry   *registry.Registry
	reconciler *reconciler.Reconciler
	supervisor *supervisor.Supervisor
	observers  []*hostobserver.Observer
}

// createServices loads configuration and constructs every adapter and
// usecase, wiring the event bus between them, and seeds the Registry with
// whatever static records were already on disk. Nothing is started yet.
func createServices(ctx context.Context, configPath string) (*services, error) {
	v := viper.New()
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, err
	}

	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	bus := eventbus.NewInMemory(256, log)

	executor := sshexec.NewExecutor("", 10*time.Second, log)
	for _, h := range cfg.ToDomainHosts() {
		if !h.Enabled {
			continue
		}
		executor.Register(sshexec.HostDialInfo{
			Alias:        h.Alias,
			Address:      fmt.Sprintf("%s:%d", h.Hostname, h.Port),
			User:         h.User,
			IdentityFile: h.Identity,
		})
	}

	staticStore := staticfile.New(cfg.StaticRouteFile)
	staticSvc, err := staticroutes.NewService(staticStore, bus)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize static route store: %w", err)
	}

	reg := registry.New(log, func(w domain.CompileWarning) {
		log.Warn().
			Str(zerowrap.FieldLayer, "usecase").
			Str("reason", string(w.Reason)).
			Str(zerowrap.FieldHost, w.Host).
			Str("domain", w.Domain).
			Str("detail", w.Detail).
			Msg("compile warning")
	}, cfg.ToDomainHosts())

	// The initial on-disk load doesn't publish EventStaticChanged (only
	// mutations and external reloads do), so seed the Registry explicitly.
	initial, _ := staticSvc.List(ctx)
	reg.ApplyStaticChanged(ctx, initial)

	proxyClient := proxyadmin.New(cfg.ProxyAdminURL, 5*time.Second, log)
	rec := reconciler.New(proxyClient, log, reconciler.Config{
		MaxRetries:           cfg.MaxRetries,
		MaxConcurrentWorkers: int64(cfg.MaxConcurrentReconciles),
		SweepInterval:        cfg.ReconcileInterval,
	})

	sup := supervisor.New(reg, rec, staticSvc, log)
	if err := sup.Subscribe(bus); err != nil {
		return nil, fmt.Errorf("failed to subscribe supervisor to event bus: %w", err)
	}

	var observers []*hostobserver.Observer
	for _, h := range cfg.ToDomainHosts() {
		sup.RegisterHost(h.Alias, h.Enabled)
		if !h.Enabled {
			continue
		}
		obs := hostobserver.New(h, executor, bus, hostobserver.Config{
			HeartbeatDeadline: cfg.HeartbeatDeadline,
			ReconcileInterval: cfg.ReconcileInterval,
		}, sshexec.ReconnectBackoff())
		observers = append(observers, obs)
	}

	return &services{
		cfg:        cfg,
		log:        log,
		eventBus:   bus,
		executor:   executor,
		staticSvc:  staticSvc,
		registry:   reg,
		reconciler: rec,
		supervisor: sup,
		observers:  observers,
	}, nil
}

// Run starts every background component and blocks until SIGINT/SIGTERM or
// ctx is cancelled, then shuts down with the configured grace period.
// SIGUSR1 triggers an out-of-band resync sweep without restarting.
func Run(ctx context.Context, configPath string) error {
	svc, err := createServices(ctx, configPath)
	if err != nil {
		return err
	}
	log := svc.log
	ctx = zerowrap.WithCtx(ctx, log)

	if err := svc.eventBus.Start(); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	defer svc.staticSvc.Close()

	pidFile := createPidFile(log)
	defer removePidFile(pidFile, log)

	for _, obs := range svc.observers {
		obs.Start(ctx)
	}

	svc.reconciler.Run(ctx, svc.registry.Snapshot)

	log.Info().
		Str(zerowrap.FieldLayer, "app").
		Int("hosts", len(svc.observers)).
		Msg("revpd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	for {
		select {
		case <-ctx.Done():
			return shutdown(svc, log)
		case sig := <-sigCh:
			if sig == syscall.SIGUSR1 {
				log.Info().Msg("received resync signal")
				if err := svc.supervisor.Resync(ctx); err != nil {
					log.Error().Err(err).Msg("resync sweep failed")
				}
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			return shutdown(svc, log)
		}
	}
}

// shutdown stops every Host Observer concurrently, bounded by the
// configured grace period, then tears down the Reconciler and event bus.
func shutdown(svc *services, log zerowrap.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), svc.cfg.ShutdownGrace)
	defer cancel()

	g := new(errgroup.Group)
	for _, obs := range svc.observers {
		obs := obs
		g.Go(func() error {
			obs.Stop()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("shutdown grace period exceeded, observers still draining")
	}

	svc.reconciler.Stop()
	_ = svc.eventBus.Stop()

	log.Info().Str(zerowrap.FieldLayer, "app").Msg("revpd stopped")
	return nil
}

// Status loads configuration and the static route file, then reports the
// Registry's desired set and Reconciler health without starting any Host
// Observers — a point-in-time view, not the running daemon's live state.
func Status(ctx context.Context, configPath string) (in.SystemStatus, error) {
	svc, err := createServices(ctx, configPath)
	if err != nil {
		return in.SystemStatus{}, err
	}
	defer svc.staticSvc.Close()
	return svc.supervisor.Status(ctx), nil
}
