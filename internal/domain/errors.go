package domain

import "errors"

// Domain errors represent business-level failure conditions shared across
// layers. Transport- or adapter-specific errors are wrapped around these
// with %w so callers can still classify failures with errors.Is.
var (
	// Host errors.
	ErrHostNotFound    = errors.New("host not found")
	ErrHostDisabled    = errors.New("host is disabled")
	ErrHostUnreachable = errors.New("host unreachable")

	// Container/compilation errors.
	ErrPortNotPublished = errors.New("container port is not published on host")
	ErrInvalidLabel     = errors.New("invalid revp label")
	ErrInvalidRecord    = errors.New("invalid static record")
	ErrMissingDomain    = errors.New("label partition has no domain")

	// Service registry errors.
	ErrDomainConflict = errors.New("domain already claimed by another service")

	// Static route store errors.
	ErrRecordNotFound    = errors.New("static record not found")
	ErrRecordExists      = errors.New("static record already exists")
	ErrStaticFileCorrupt = errors.New("static route file is unparseable")

	// Proxy client / reconciler errors.
	ErrRouteNotFound  = errors.New("proxy route not found")
	ErrProxyConflict  = errors.New("proxy reports a conflicting route owner")
	ErrProxyRejected  = errors.New("proxy rejected the route payload")
	ErrRetriesExceeded = errors.New("exceeded max-retries reconciling route")

	// Configuration errors.
	ErrInvalidConfig = errors.New("invalid configuration")
)
