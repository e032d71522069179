package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snadboy/revpd/internal/domain"
)

func containerWithPorts(labels map[string]string, bindings map[int]domain.PortBinding) domain.Container {
	return domain.Container{
		ID:           "c1",
		Host:         "h1",
		Name:         "app",
		Status:       domain.ContainerRunning,
		Labels:       labels,
		PortBindings: bindings,
	}
}

func TestCompileContainerSinglePort(t *testing.T) {
	c := containerWithPorts(
		map[string]string{"snadboy.revp.80.domain": "app.example.com"},
		map[int]domain.PortBinding{80: {ContainerPort: 80, HostPort: 8080, Published: true}},
	)

	services, warnings := CompileContainer(c, "10.0.0.1")
	require.Empty(t, warnings)
	require.Len(t, services, 1)

	svc := services[0]
	assert.Equal(t, "app.example.com", svc.Key)
	assert.Equal(t, "10.0.0.1", svc.Backend.Host)
	assert.Equal(t, 8080, svc.Backend.Port)
	assert.Equal(t, "http", svc.Backend.Protocol)
	assert.True(t, svc.Options.ForceSSL)
}

func TestCompileContainerMultiPort(t *testing.T) {
	c := containerWithPorts(
		map[string]string{
			"snadboy.revp.80.domain":               "a.example.com",
			"snadboy.revp.8000.domain":              "b.example.com",
			"snadboy.revp.8000.support-websocket":   "true",
		},
		map[int]domain.PortBinding{
			80:   {ContainerPort: 80, HostPort: 8080, Published: true},
			8000: {ContainerPort: 8000, HostPort: 8000, Published: true},
		},
	)

	services, warnings := CompileContainer(c, "10.0.0.1")
	require.Empty(t, warnings)
	require.Len(t, services, 2)

	byKey := map[string]domain.Service{}
	for _, s := range services {
		byKey[s.Key] = s
	}
	assert.False(t, byKey["a.example.com"].Options.SupportWebsocket)
	assert.True(t, byKey["b.example.com"].Options.SupportWebsocket)
}

func TestCompileContainerCloudflareTunnel(t *testing.T) {
	c := containerWithPorts(
		map[string]string{
			"snadboy.revp.80.domain":            "cf.example.com",
			"snadboy.revp.80.cloudflare-tunnel":  "true",
			"snadboy.revp.80.force-ssl":          "false",
		},
		map[int]domain.PortBinding{80: {ContainerPort: 80, HostPort: 8080, Published: true}},
	)

	services, warnings := CompileContainer(c, "10.0.0.1")
	require.Empty(t, warnings)
	require.Len(t, services, 1)
	assert.True(t, services[0].Options.CloudflareTunnel)
	assert.False(t, services[0].Options.ForceSSL)
}

func TestCompileContainerMissingDomainWarns(t *testing.T) {
	c := containerWithPorts(
		map[string]string{"snadboy.revp.80.backend-proto": "http"},
		map[int]domain.PortBinding{80: {ContainerPort: 80, HostPort: 8080, Published: true}},
	)

	services, warnings := CompileContainer(c, "10.0.0.1")
	assert.Empty(t, services)
	require.Len(t, warnings, 1)
	assert.Equal(t, domain.WarningMissingDomain, warnings[0].Reason)
}

func TestCompileContainerUnpublishedPortWarns(t *testing.T) {
	c := containerWithPorts(
		map[string]string{"snadboy.revp.80.domain": "app.example.com"},
		map[int]domain.PortBinding{80: {ContainerPort: 80, Published: false}},
	)

	services, warnings := CompileContainer(c, "10.0.0.1")
	assert.Empty(t, services)
	require.Len(t, warnings, 1)
	assert.Equal(t, domain.WarningPortNotPublished, warnings[0].Reason)
}

func TestCompileContainerTunnelDomainEmitsAuxService(t *testing.T) {
	c := containerWithPorts(
		map[string]string{
			"snadboy.revp.80.domain":        "app.example.com",
			"snadboy.revp.80.tunnel-domain": "tunnel.example.com",
		},
		map[int]domain.PortBinding{80: {ContainerPort: 80, HostPort: 8080, Published: true}},
	)

	services, warnings := CompileContainer(c, "10.0.0.1")
	require.Empty(t, warnings)
	require.Len(t, services, 2)

	keys := []string{services[0].Key, services[1].Key}
	assert.Contains(t, keys, "app.example.com")
	assert.Contains(t, keys, "tunnel.example.com")
}

func TestCompileStaticValid(t *testing.T) {
	record := domain.StaticRecord{
		ID:         "rec-1",
		Domain:     "static.example.com",
		BackendURL: "https://10.0.0.9:9443",
	}

	services, warnings := CompileStatic(record)
	require.Empty(t, warnings)
	require.Len(t, services, 1)
	assert.Equal(t, "static.example.com", services[0].Key)
	assert.Equal(t, "10.0.0.9", services[0].Backend.Host)
	assert.Equal(t, 9443, services[0].Backend.Port)
	assert.Equal(t, "https", services[0].Backend.Protocol)
}

func TestCompileStaticInvalidBackendURL(t *testing.T) {
	record := domain.StaticRecord{ID: "rec-2", Domain: "bad.example.com", BackendURL: "not-a-url"}
	services, warnings := CompileStatic(record)
	assert.Empty(t, services)
	require.Len(t, warnings, 1)
	assert.Equal(t, domain.WarningInvalidRecord, warnings[0].Reason)
}
