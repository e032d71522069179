// Package compiler implements the Label Compiler (C3): a pure, total
// function from a Container's labels, or a StaticRecord, to validated
// Service descriptors plus warnings for anything rejected (§4.3).
package compiler

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/snadboy/revpd/internal/domain"
)

// labelPrefix is the namespace every recognized label lives under (§6.3).
const labelPrefix = "snadboy.revp."

var labelKeyPattern = regexp.MustCompile(`^snadboy\.revp\.(\d{1,5})\.(domain|backend-proto|backend-path|force-ssl|support-websocket|cloudflare-tunnel|tunnel-domain)$`)

var fqdnPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// CompileContainer partitions a Container's labels by port (§4.3's
// grouping rule) and produces one Service per partition that has a domain
// and a published host-port, plus a warning for every partition or label
// that was rejected. hostAddress is the network address the proxy should
// dial to reach the container's published ports (the Host Observer's
// domain.Host.ResolvedAddress(), not the bare host alias c.Host carries).
func CompileContainer(c domain.Container, hostAddress string) ([]domain.Service, []domain.CompileWarning) {
	partitions := make(map[int]map[string]string)

	for key, value := range c.Labels {
		m := labelKeyPattern.FindStringSubmatch(key)
		if m == nil {
			continue // not our namespace, or malformed: ignored per §6.3
		}
		port, err := strconv.Atoi(m[1])
		if err != nil || port < 1 || port > 65535 {
			continue
		}
		if partitions[port] == nil {
			partitions[port] = make(map[string]string)
		}
		partitions[port][m[2]] = value
	}

	var services []domain.Service
	var warnings []domain.CompileWarning

	for port, props := range partitions {
		svc, warn, ok := compilePartition(c, hostAddress, port, props)
		if !ok {
			warnings = append(warnings, warn)
			continue
		}
		services = append(services, svc)
		if aux, has := svc.TunnelService(); has {
			services = append(services, aux)
		}
	}

	return services, warnings
}

func compilePartition(c domain.Container, hostAddress string, containerPort int, props map[string]string) (domain.Service, domain.CompileWarning, bool) {
	domainKey := props["domain"]
	if domainKey == "" {
		return domain.Service{}, domain.CompileWarning{
			Reason: domain.WarningMissingDomain,
			Detail: fmt.Sprintf("partition for port %d has no domain label", containerPort),
			Host:   c.Host,
			Source: c.ID,
		}, false
	}
	if !fqdnPattern.MatchString(domainKey) {
		return domain.Service{}, domain.CompileWarning{
			Reason: domain.WarningInvalidLabel,
			Detail: fmt.Sprintf("domain %q is not a valid FQDN", domainKey),
			Host:   c.Host,
			Source: c.ID,
			Domain: domainKey,
		}, false
	}

	hostPort, published := c.HostPortFor(containerPort)
	if !published {
		return domain.Service{}, domain.CompileWarning{
			Reason: domain.WarningPortNotPublished,
			Detail: fmt.Sprintf("container port %d is not published on host %s", containerPort, c.Host),
			Host:   c.Host,
			Source: c.ID,
			Domain: domainKey,
		}, false
	}

	protocol := props["backend-proto"]
	if protocol == "" {
		protocol = "http" // §9 Open Question 1: http, not the legacy https default
	}
	if protocol != "http" && protocol != "https" {
		return domain.Service{}, domain.CompileWarning{
			Reason: domain.WarningInvalidLabel,
			Detail: fmt.Sprintf("backend-proto %q must be http or https", protocol),
			Host:   c.Host,
			Source: c.ID,
			Domain: domainKey,
		}, false
	}

	path := props["backend-path"]
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		return domain.Service{}, domain.CompileWarning{
			Reason: domain.WarningInvalidLabel,
			Detail: fmt.Sprintf("backend-path %q must start with /", path),
			Host:   c.Host,
			Source: c.ID,
			Domain: domainKey,
		}, false
	}

	forceSSL, err := parseBoolDefault(props["force-ssl"], true)
	if err != nil {
		return domain.Service{}, invalidBoolWarning(c, domainKey, "force-ssl", props["force-ssl"]), false
	}
	supportWebsocket, err := parseBoolDefault(props["support-websocket"], false)
	if err != nil {
		return domain.Service{}, invalidBoolWarning(c, domainKey, "support-websocket", props["support-websocket"]), false
	}
	cloudflareTunnel, err := parseBoolDefault(props["cloudflare-tunnel"], false)
	if err != nil {
		return domain.Service{}, invalidBoolWarning(c, domainKey, "cloudflare-tunnel", props["cloudflare-tunnel"]), false
	}

	tunnelDomain := props["tunnel-domain"]
	if tunnelDomain != "" && !fqdnPattern.MatchString(tunnelDomain) {
		return domain.Service{}, domain.CompileWarning{
			Reason: domain.WarningInvalidLabel,
			Detail: fmt.Sprintf("tunnel-domain %q is not a valid FQDN", tunnelDomain),
			Host:   c.Host,
			Source: c.ID,
			Domain: domainKey,
		}, false
	}

	svc := domain.Service{
		Key: domainKey,
		Origin: domain.Origin{
			Kind:          domain.OriginContainer,
			Host:          c.Host,
			ContainerID:   c.ID,
			ContainerPort: containerPort,
		},
		Backend: domain.Backend{
			Host:     hostAddress,
			Port:     hostPort,
			Protocol: protocol,
			Path:     path,
		},
		Options: domain.Options{
			ForceSSL:         forceSSL,
			SupportWebsocket: supportWebsocket,
			CloudflareTunnel: cloudflareTunnel,
			TunnelDomain:     tunnelDomain,
		},
	}
	return svc, domain.CompileWarning{}, true
}

func invalidBoolWarning(c domain.Container, domainKey, property, value string) domain.CompileWarning {
	return domain.CompileWarning{
		Reason: domain.WarningInvalidLabel,
		Detail: fmt.Sprintf("%s value %q is not a valid bool", property, value),
		Host:   c.Host,
		Source: c.ID,
		Domain: domainKey,
	}
}

func parseBoolDefault(value string, def bool) (bool, error) {
	if value == "" {
		return def, nil
	}
	switch strings.ToLower(value) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", value)
	}
}

// CompileStatic validates a StaticRecord (§4.3) and produces its Service,
// plus the auxiliary tunnel Service if tunnel-domain is set.
func CompileStatic(r domain.StaticRecord) ([]domain.Service, []domain.CompileWarning) {
	if r.Domain == "" || !fqdnPattern.MatchString(r.Domain) {
		return nil, []domain.CompileWarning{{
			Reason: domain.WarningInvalidRecord,
			Detail: fmt.Sprintf("domain %q is not a valid FQDN", r.Domain),
			Source: r.ID,
			Domain: r.Domain,
		}}
	}

	u, err := url.Parse(r.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, []domain.CompileWarning{{
			Reason: domain.WarningInvalidRecord,
			Detail: fmt.Sprintf("backend_url %q is not a parseable scheme://host[:port]", r.BackendURL),
			Source: r.ID,
			Domain: r.Domain,
		}}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, []domain.CompileWarning{{
			Reason: domain.WarningInvalidRecord,
			Detail: fmt.Sprintf("backend_url scheme %q must be http or https", u.Scheme),
			Source: r.ID,
			Domain: r.Domain,
		}}
	}

	host := u.Hostname()
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return nil, []domain.CompileWarning{{
				Reason: domain.WarningInvalidRecord,
				Detail: fmt.Sprintf("backend_url port %q is out of range", p),
				Source: r.ID,
				Domain: r.Domain,
			}}
		}
		port = n
	}

	path := r.BackendPath
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		return nil, []domain.CompileWarning{{
			Reason: domain.WarningInvalidRecord,
			Detail: fmt.Sprintf("backend_path %q must be absolute", path),
			Source: r.ID,
			Domain: r.Domain,
		}}
	}

	svc := domain.Service{
		Key:    r.Domain,
		Origin: domain.Origin{Kind: domain.OriginStatic, RecordID: r.ID},
		Backend: domain.Backend{
			Host:     host,
			Port:     port,
			Protocol: u.Scheme,
			Path:     path,
		},
		Options: domain.Options{
			ForceSSL:              r.ForceSSLOrDefault(),
			SupportWebsocket:      r.SupportWebsocketOrDefault(),
			TLSInsecureSkipVerify: r.TLSInsecureSkipVerifyOrDefault(),
			CloudflareTunnel:      r.CloudflareTunnelOrDefault(),
			TunnelDomain:          r.TunnelDomain,
		},
	}

	services := []domain.Service{svc}
	if aux, has := svc.TunnelService(); has {
		services = append(services, aux)
	}
	return services, nil
}
