package domain

// StaticRecord is one entry in the static-route file (spec §6.2). It is
// the raw, uncompiled form; the Label Compiler turns it into a Service.
type StaticRecord struct {
	ID     string // for Origin.RecordID; records loaded from the file carry their Domain, new ones a generated UUID
	Domain string
	// BackendURL is "scheme://host[:port]", e.g. "http://10.0.0.5:9000".
	BackendURL            string
	BackendPath           string
	ForceSSL              *bool // nil means default (true)
	SupportWebsocket      *bool // nil means default (false)
	TLSInsecureSkipVerify *bool // nil means default (false)
	CloudflareTunnel      *bool // nil means default (false)
	TunnelDomain          string
}

func boolOrDefault(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// ForceSSLOrDefault returns the effective force-ssl value.
func (r StaticRecord) ForceSSLOrDefault() bool { return boolOrDefault(r.ForceSSL, true) }

// SupportWebsocketOrDefault returns the effective support-websocket value.
func (r StaticRecord) SupportWebsocketOrDefault() bool {
	return boolOrDefault(r.SupportWebsocket, false)
}

// TLSInsecureSkipVerifyOrDefault returns the effective tls-insecure-skip-verify value.
func (r StaticRecord) TLSInsecureSkipVerifyOrDefault() bool {
	return boolOrDefault(r.TLSInsecureSkipVerify, false)
}

// CloudflareTunnelOrDefault returns the effective cloudflare-tunnel value.
func (r StaticRecord) CloudflareTunnelOrDefault() bool {
	return boolOrDefault(r.CloudflareTunnel, false)
}
