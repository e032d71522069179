package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteIDDeterministic(t *testing.T) {
	a := RouteID("app.example.com", ListenerHTTPS)
	b := RouteID("app.example.com", ListenerHTTPS)
	assert.Equal(t, a, b)

	c := RouteID("app.example.com", ListenerHTTP)
	assert.NotEqual(t, a, c)

	d := RouteID("other.example.com", ListenerHTTPS)
	assert.NotEqual(t, a, d)
}

func TestIsManagedRouteID(t *testing.T) {
	id := RouteID("app.example.com", ListenerHTTPS)
	assert.True(t, IsManagedRouteID(id))
	assert.False(t, IsManagedRouteID("manually-added-route"))
	assert.False(t, IsManagedRouteID("revp_rout"))
}

func TestRoutesForServiceForceSSL(t *testing.T) {
	s := Service{
		Key:     "app.example.com",
		Options: Options{ForceSSL: true},
	}
	routes := RoutesForService(s)
	byListener := map[Listener]Route{}
	for _, r := range routes {
		byListener[r.Listener] = r
	}

	assert.Equal(t, RouteKindProxy, byListener[ListenerHTTPS].Kind)
	assert.Equal(t, RouteKindRedirect, byListener[ListenerHTTP].Kind)
}

func TestRoutesForServiceNoForceSSL(t *testing.T) {
	s := Service{
		Key:     "app.example.com",
		Options: Options{ForceSSL: false},
	}
	routes := RoutesForService(s)
	for _, r := range routes {
		assert.Equal(t, RouteKindProxy, r.Kind)
	}
}

func TestRoutesForServiceCloudflareTunnelOverridesForceSSL(t *testing.T) {
	s := Service{
		Key:     "tunnel.example.com",
		Options: Options{ForceSSL: true, CloudflareTunnel: true},
	}
	routes := RoutesForService(s)
	for _, r := range routes {
		assert.Equal(t, RouteKindProxy, r.Kind)
	}
}
