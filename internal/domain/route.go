package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Listener is the proxy-side listener a Route is materialized on.
type Listener string

const (
	ListenerHTTP  Listener = "http"
	ListenerHTTPS Listener = "https"
)

// routeIDPrefix is the namespace orphan collection is scoped to (spec §9,
// Open Question 3): only ids under this prefix are candidates for deletion
// by the Reconciler's periodic sweep.
const routeIDPrefix = "revp_route_"

// RouteID deterministically derives a proxy route id from a Service's
// domain and listener. The same (domain, listener) pair always produces the
// same id, which is what makes PUT-at-id idempotent replacement possible.
func RouteID(domainKey string, listener Listener) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s", domainKey, listener)
	return routeIDPrefix + hex.EncodeToString(h.Sum(nil))[:24]
}

// IsManagedRouteID reports whether id falls under the namespace this system
// owns and may delete as an orphan.
func IsManagedRouteID(id string) bool {
	return len(id) > len(routeIDPrefix) && id[:len(routeIDPrefix)] == routeIDPrefix
}

// RouteKind distinguishes the two shapes a materialized Route payload can
// take on the HTTP listener.
type RouteKind string

const (
	RouteKindProxy    RouteKind = "proxy"    // reverse_proxy handler
	RouteKindRedirect RouteKind = "redirect" // HTTP -> HTTPS redirect
)

// Route is the proxy-side artifact realizing a Service on one listener.
type Route struct {
	ID       string
	Domain   string
	Listener Listener
	Kind     RouteKind
	Service  Service // the Service this route was derived from
}

// RoutesForService enumerates the Route values a Service must materialize as,
// per spec §6.4's listener-assignment rules.
func RoutesForService(s Service) []Route {
	https := Route{
		ID:       RouteID(s.Key, ListenerHTTPS),
		Domain:   s.Key,
		Listener: ListenerHTTPS,
		Kind:     RouteKindProxy,
		Service:  s,
	}

	var http Route
	if s.Options.CloudflareTunnel || !s.Options.ForceSSL {
		http = Route{
			ID:       RouteID(s.Key, ListenerHTTP),
			Domain:   s.Key,
			Listener: ListenerHTTP,
			Kind:     RouteKindProxy,
			Service:  s,
		}
	} else {
		http = Route{
			ID:       RouteID(s.Key, ListenerHTTP),
			Domain:   s.Key,
			Listener: ListenerHTTP,
			Kind:     RouteKindRedirect,
			Service:  s,
		}
	}

	return []Route{https, http}
}
