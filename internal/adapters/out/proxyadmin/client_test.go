package proxyadmin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snadboy/revpd/internal/domain"
)

func testLogger() zerowrap.Logger {
	return zerowrap.New(zerowrap.Config{Level: "disabled"})
}

func TestExtractRouteIDsIgnoresUnmanagedIDs(t *testing.T) {
	managed := domain.RouteID("app.example.com", domain.ListenerHTTPS)
	body := []byte(`{
		"apps": {
			"http": {
				"servers": {
					"srv0": {
						"routes": [
							{"@id": "` + managed + `", "match": []},
							{"@id": "operator-added", "match": []}
						]
					}
				}
			}
		}
	}`)

	entries, err := extractRouteIDs(body)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, managed, entries[0].RouteID)
}

func TestPutRouteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, 0, testLogger())
	err := c.PutRoute(context.Background(), "revp_route_abc", []byte(`{}`))
	assert.NoError(t, err)
}

func TestDeleteRouteTreats404AsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, 0, testLogger())
	err := c.DeleteRoute(context.Background(), "revp_route_abc")
	assert.NoError(t, err)
}

func TestPutRouteConflictClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error": "owned by another route"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 0, testLogger())
	err := c.PutRoute(context.Background(), "revp_route_abc", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProxyConflict)
}

func TestPutRouteRejectedOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, 0, testLogger())
	err := c.PutRoute(context.Background(), "revp_route_abc", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProxyRejected)
}
