package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRevisionStable(t *testing.T) {
	s := Service{
		Key:     "app.example.com",
		Backend: Backend{Host: "10.0.0.1", Port: 8080, Protocol: "http", Path: "/"},
		Options: Options{ForceSSL: true},
	}

	r1 := s.Revision()
	r2 := s.Revision()
	assert.Equal(t, r1, r2)

	s.Backend.Port = 8081
	assert.NotEqual(t, r1, s.Revision())
}

func TestServiceRevisionIgnoresOrigin(t *testing.T) {
	base := Service{
		Key:     "app.example.com",
		Backend: Backend{Host: "10.0.0.1", Port: 8080, Protocol: "http", Path: "/"},
		Options: Options{ForceSSL: true},
	}
	withOrigin := base
	withOrigin.Origin = Origin{Kind: OriginContainer, Host: "h1", ContainerID: "abc"}

	assert.Equal(t, base.Revision(), withOrigin.Revision())
}

func TestTunnelServiceDerivation(t *testing.T) {
	s := Service{
		Key:     "app.example.com",
		Backend: Backend{Host: "10.0.0.1", Port: 8080, Protocol: "http", Path: "/"},
		Options: Options{ForceSSL: true, TunnelDomain: "tunnel.example.com"},
	}

	aux, ok := s.TunnelService()
	require.True(t, ok)
	assert.Equal(t, "tunnel.example.com", aux.Key)
	assert.True(t, aux.Options.CloudflareTunnel)
	assert.False(t, aux.Options.ForceSSL)
	assert.Equal(t, s.Backend, aux.Backend)

	noTunnel := s
	noTunnel.Options.TunnelDomain = ""
	_, ok = noTunnel.TunnelService()
	assert.False(t, ok)
}
