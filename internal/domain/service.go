package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// OriginKind distinguishes where a Service's routing intent came from.
type OriginKind string

const (
	OriginContainer OriginKind = "container"
	OriginStatic    OriginKind = "static"
)

// Origin records the provenance of a Service, used by the Registry's
// domain-uniqueness tie-break (static beats container, lower host alias
// beats higher, lower container id beats higher).
type Origin struct {
	Kind OriginKind

	// Container origin fields.
	Host          string
	ContainerID   string
	ContainerPort int

	// Static origin fields.
	RecordID string
}

// Backend is the upstream network endpoint a Service's routes dial.
type Backend struct {
	Host     string
	Port     int
	Protocol string // "http" or "https"
	Path     string
}

// Options is the closed set of routing behaviors a Service may enable.
type Options struct {
	ForceSSL              bool
	SupportWebsocket      bool
	TLSInsecureSkipVerify bool
	CloudflareTunnel      bool
	TunnelDomain          string // empty means absent
}

// Service is compiled, validated routing intent, keyed by domain.
type Service struct {
	Key     string // FQDN
	Origin  Origin
	Backend Backend
	Options Options
}

// Revision is a content hash of the fields that matter for convergence:
// two Services with equal revisions require no proxy update. Origin is
// deliberately excluded — changing which container backs a domain with an
// otherwise-identical backend/options is not itself a reason to re-PUT the
// route, though in practice Backend will differ too.
func (s Service) Revision() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s\x00%s\x00", s.Key, s.Backend.Host, s.Backend.Port, s.Backend.Protocol, s.Backend.Path)
	fmt.Fprintf(h, "%t\x00%t\x00%t\x00%t\x00%s", s.Options.ForceSSL, s.Options.SupportWebsocket,
		s.Options.TLSInsecureSkipVerify, s.Options.CloudflareTunnel, s.Options.TunnelDomain)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// TunnelService derives the auxiliary Service materialized for a non-empty
// TunnelDomain: same backend, cloudflare-tunnel enabled, no SSL redirect.
func (s Service) TunnelService() (Service, bool) {
	if s.Options.TunnelDomain == "" {
		return Service{}, false
	}
	aux := Service{
		Key:     s.Options.TunnelDomain,
		Origin:  s.Origin,
		Backend: s.Backend,
		Options: Options{
			ForceSSL:              false,
			SupportWebsocket:      s.Options.SupportWebsocket,
			TLSInsecureSkipVerify: s.Options.TLSInsecureSkipVerify,
			CloudflareTunnel:      true,
		},
	}
	return aux, true
}
