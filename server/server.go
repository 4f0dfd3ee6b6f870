// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
	"github.com/sirupsen/logrus"
)

// MethodPath is an HTTP method and the path it is served on
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps method/path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the routes in the table as "METHOD /path", sorted by path
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.Method+" "+k.Path)
	}
	sort.Slice(routes, func(i, j int) bool {
		pi := routes[i][strings.IndexByte(routes[i], ' ')+1:]
		pj := routes[j][strings.IndexByte(routes[j], ' ')+1:]
		if pi == pj {
			return routes[i] < routes[j]
		}
		return pi < pj
	})
	return routes
}

// Bind adds every route in the table to a chi router
func (rt RouteTable) Bind(r chi.Router) {
	for mp, fcn := range rt {
		r.MethodFunc(mp.Method, mp.Path, fcn)
	}
}

// HTTPer is something that has a route table
type HTTPer interface {
	RT() RouteTable
}

// BoolT is a JSON {"bool": value}
type BoolT struct {
	Bool bool `json:"bool"`
}

// IntT is a JSON {"int": value}
type IntT struct {
	Int int `json:"int"`
}

// FloatT is a JSON {"f64": value}
type FloatT struct {
	F64 float64 `json:"f64"`
}

// ReplyJSON encodes v as the response body with status 200
func ReplyJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		// the header is already out, all that can be done is log it
		logrus.WithError(err).Error("encoding JSON reply")
	}
}

// SubMuxSanitize converts a URL like "omc/dm" to "/omc/dm", the form chi
// expects for Mount
func SubMuxSanitize(str string) string {
	str = strings.TrimSuffix(str, "*")
	str = strings.TrimSuffix(str, "/")
	if !strings.HasPrefix(str, "/") {
		str = "/" + str
	}
	return str
}

// ListEndpoints returns a handler replying with the endpoints of every
// mounted HTTPer, keyed by mount point
func ListEndpoints(graph map[string]HTTPer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string][]string, len(graph))
		for stem, h := range graph {
			out[stem] = h.RT().Endpoints()
		}
		ReplyJSON(w, out)
	}
}

// BadRequest replies 400 with a formatted message
func BadRequest(w http.ResponseWriter, format string, a ...interface{}) {
	http.Error(w, fmt.Sprintf(format, a...), http.StatusBadRequest)
}
