// Package proxyadmin implements the Proxy Client (C7): a thin, typed
// wrapper over the proxy's id-addressed admin HTTP API (§6.4).
package proxyadmin

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"

	"github.com/snadboy/revpd/internal/boundaries/out"
	"github.com/snadboy/revpd/internal/domain"
)

// Client implements out.ProxyClient. Every operation is bounded by
// Deadline (default 5s per §4.7) and runs through a circuit breaker so a
// dead proxy fails fast instead of queuing retries behind a closed socket.
type Client struct {
	baseURL  string
	http     *retryablehttp.Client
	breaker  *gobreaker.CircuitBreaker
	deadline time.Duration
	log      zerowrap.Logger
}

// New constructs a Client against baseURL (the proxy admin endpoint).
func New(baseURL string, deadline time.Duration, log zerowrap.Logger) *Client {
	if deadline <= 0 {
		deadline = 5 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil // zerowrap handles our own request logging below

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "proxy-admin",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     rc,
		breaker:  cb,
		deadline: deadline,
		log:      log,
	}
}

// ListRoutes fetches the full config and extracts every route whose "@id"
// is in the managed revp_route_ namespace, pairing each with a content
// hash of its payload. Routes with other ids are not returned.
func (c *Client) ListRoutes(ctx context.Context) ([]out.RouteEntry, error) {
	body, err := c.GetConfig(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := extractRouteIDs(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing proxy config: %v", domain.ErrProxyRejected, err)
	}
	return ids, nil
}

// extractRouteIDs walks the config document looking for any object with an
// "@id" key matching the managed route-id namespace, hashing its raw JSON.
func extractRouteIDs(body []byte) ([]out.RouteEntry, error) {
	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, err
	}
	var entries []out.RouteEntry
	walkForRouteIDs(generic, &entries)
	return entries, nil
}

func walkForRouteIDs(node any, entries *[]out.RouteEntry) {
	switch v := node.(type) {
	case map[string]any:
		if id, ok := v["@id"].(string); ok && domain.IsManagedRouteID(id) {
			raw, _ := json.Marshal(v)
			sum := sha256.Sum256(raw)
			*entries = append(*entries, out.RouteEntry{RouteID: id, PayloadHash: hex.EncodeToString(sum[:])})
		}
		for _, child := range v {
			walkForRouteIDs(child, entries)
		}
	case []any:
		for _, child := range v {
			walkForRouteIDs(child, entries)
		}
	}
}

// GetConfig fetches the proxy's full configuration document.
func (c *Client) GetConfig(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/config/", nil, "GetConfig")
}

// PutRoute creates or replaces the route at routeID.
func (c *Client) PutRoute(ctx context.Context, routeID string, payload []byte) error {
	_, err := c.do(ctx, http.MethodPut, "/id/"+routeID, payload, "PutRoute")
	return err
}

// DeleteRoute removes the route at routeID; a 404 is treated as success.
func (c *Client) DeleteRoute(ctx context.Context, routeID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/id/"+routeID, nil, "DeleteRoute")
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, action string) ([]byte, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "proxyadmin",
		zerowrap.FieldAction:  action,
	})
	log := zerowrap.FromCtx(ctx)

	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	result, err := c.breaker.Execute(func() (any, error) {
		return c.doRequest(ctx, method, path, body)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			log.Warn().Err(err).Msg("proxy admin circuit open, short-circuiting")
			return nil, fmt.Errorf("%w: circuit open: %v", domain.ErrHostUnreachable, err)
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrHostUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case method == http.MethodDelete && resp.StatusCode == http.StatusNotFound:
		return respBody, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", domain.ErrProxyConflict, string(respBody))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrProxyRejected, resp.StatusCode, string(respBody))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrHostUnreachable, resp.StatusCode, string(respBody))
	}
}
