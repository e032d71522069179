package out

import "context"

// RouteEntry is one row of the proxy's live route listing.
type RouteEntry struct {
	RouteID     string
	PayloadHash string
}

// ProxyClient is a thin typed wrapper over the proxy admin HTTP API (§6.4).
// PUT and DELETE are both idempotent at the route-id: a repeated PUT with
// the same payload is a no-op from the proxy's perspective, and a DELETE of
// an absent id is success, not an error.
type ProxyClient interface {
	// ListRoutes returns every route-id the proxy currently carries, paired
	// with a hash of its payload so callers can detect drift without
	// fetching the full document.
	ListRoutes(ctx context.Context) ([]RouteEntry, error)

	// GetConfig fetches the proxy's full configuration document.
	GetConfig(ctx context.Context) ([]byte, error)

	// PutRoute creates or replaces the route at routeID.
	PutRoute(ctx context.Context, routeID string, payload []byte) error

	// DeleteRoute removes the route at routeID. A 404 from the proxy is
	// treated as success.
	DeleteRoute(ctx context.Context, routeID string) error
}
