package reconciler

import (
	"encoding/json"
	"fmt"

	"github.com/snadboy/revpd/internal/domain"
)

// The following types mirror the proxy admin payload schema of §6.4
// exactly: a subroute wrapping an ordered list of handlers, terminated by
// either a reverse_proxy or (for the plain-HTTP listener under
// force-ssl) a redirect.

type routeDoc struct {
	ID     string         `json:"@id"`
	Match  []matchClause  `json:"match"`
	Handle []handleClause `json:"handle"`
}

type matchClause struct {
	Host []string `json:"host"`
}

// handleClause is a union of every handler shape this builder emits. Only
// the fields relevant to Handler are populated; the rest are omitted.
type handleClause struct {
	Handler string `json:"handler"`

	// subroute
	Routes []handleClause `json:"routes,omitempty"`

	// reverse_proxy
	Upstreams []upstream     `json:"upstreams,omitempty"`
	Transport *transportSpec `json:"transport,omitempty"`

	// headers (websocket passthrough / cloudflare rewrite)
	RequestHeader *headerOps `json:"request_header,omitempty"`

	// static_response (redirect)
	StatusCode string              `json:"status_code,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
}

type upstream struct {
	Dial string `json:"dial"`
}

type transportSpec struct {
	Protocol              string    `json:"protocol"`
	TLS                   *struct{} `json:"tls,omitempty"`
	TLSInsecureSkipVerify bool      `json:"tls_insecure_skip_verify,omitempty"`
}

type headerOps struct {
	Set map[string][]string `json:"set,omitempty"`
}

// buildPayload renders route into the JSON body PutRoute sends.
func buildPayload(route domain.Route) ([]byte, error) {
	doc := routeDoc{
		ID:    route.ID,
		Match: []matchClause{{Host: []string{route.Domain}}},
	}

	if route.Kind == domain.RouteKindRedirect {
		doc.Handle = []handleClause{{
			Handler:    "static_response",
			StatusCode: "308",
			Headers:    map[string][]string{"Location": {"https://{http.request.host}{http.request.uri}"}},
		}}
		return json.Marshal(doc)
	}

	opts := route.Service.Options
	backend := route.Service.Backend

	var subroutes []handleClause

	if opts.SupportWebsocket {
		subroutes = append(subroutes, handleClause{
			Handler: "headers",
			RequestHeader: &headerOps{Set: map[string][]string{
				"Connection": {"{http.request.header.Connection}"},
				"Upgrade":    {"{http.request.header.Upgrade}"},
			}},
		})
	}

	if opts.CloudflareTunnel {
		subroutes = append(subroutes, handleClause{
			Handler: "headers",
			RequestHeader: &headerOps{Set: map[string][]string{
				"X-Forwarded-For": {"{http.request.header.CF-Connecting-IP}"},
			}},
		})
	}

	transport := &transportSpec{
		Protocol:              backend.Protocol,
		TLSInsecureSkipVerify: opts.TLSInsecureSkipVerify,
	}
	if backend.Protocol == "https" {
		transport.TLS = &struct{}{}
	}

	subroutes = append(subroutes, handleClause{
		Handler:   "reverse_proxy",
		Upstreams: []upstream{{Dial: fmt.Sprintf("%s:%d", backend.Host, backend.Port)}},
		Transport: transport,
	})

	doc.Handle = []handleClause{{Handler: "subroute", Routes: subroutes}}
	return json.Marshal(doc)
}
