package in

import "context"

// SupervisorService is the root status/control surface the CLI talks to.
type SupervisorService interface {
	// Status reports per-host connection health and per-domain service
	// health, per §7's "surfaced via the health/status interface" rule.
	Status(ctx context.Context) SystemStatus

	// Resync forces an immediate reconcile sweep of the current Desired set
	// against the proxy, independent of the reconcile-interval timer. It
	// does not re-snapshot hosts or reload the static store.
	Resync(ctx context.Context) error
}

// HostStatus is one host's reported health.
type HostStatus struct {
	Alias   string
	State   string
	Reason  string
	Enabled bool
}

// ServiceStatus is one domain's reconciliation health.
type ServiceStatus struct {
	Domain    string
	Degraded  bool
	Reason    string
	Revision  string
	Generation uint64
}

// SystemStatus is the full status report.
type SystemStatus struct {
	Hosts    []HostStatus
	Services []ServiceStatus
}
