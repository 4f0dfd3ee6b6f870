package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/golab-dmp40/server"
)

type table server.RouteTable

func (t table) RT() server.RouteTable { return server.RouteTable(t) }

func ok(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func TestEndpointsSortedByPath(t *testing.T) {
	rt := server.RouteTable{
		{Method: http.MethodPost, Path: "/b"}: ok,
		{Method: http.MethodGet, Path: "/b"}:  ok,
		{Method: http.MethodGet, Path: "/a"}:  ok,
	}
	assert.Equal(t, []string{"GET /a", "GET /b", "POST /b"}, rt.Endpoints())
}

func TestBindServesRoutes(t *testing.T) {
	rt := server.RouteTable{{Method: http.MethodGet, Path: "/ping"}: ok}
	r := chi.NewRouter()
	rt.Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ping", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSubMuxSanitize(t *testing.T) {
	for _, in := range []string{"omc/dm", "/omc/dm", "/omc/dm/", "omc/dm/*"} {
		assert.Equal(t, "/omc/dm", server.SubMuxSanitize(in), in)
	}
}

func TestListEndpoints(t *testing.T) {
	graph := map[string]server.HTTPer{
		"/dm": table{{Method: http.MethodGet, Path: "/geometry"}: ok},
	}
	w := httptest.NewRecorder()
	server.ListEndpoints(graph)(w, httptest.NewRequest(http.MethodGet, "/endpoints", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string][]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, []string{"GET /geometry"}, out["/dm"])
}
