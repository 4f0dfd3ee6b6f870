// Package locker provides an HTTP middleware which lets one client claim a
// device, bouncing everyone else with 423 (locked) until it is released
package locker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/golab-dmp40/server"
)

// Inject adds the lock routes to a server.HTTPer
func Inject(other server.HTTPer, l *Locker) {
	rt := other.RT()
	rt[server.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[server.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// State is the lock as seen over HTTP
type State struct {
	Bool   bool      `json:"bool"`
	Holder string    `json:"holder,omitempty"`
	Since  time.Time `json:"since,omitempty"`
}

// Locker is a non-blocking lock with an optional holder name
type Locker struct {
	mu    sync.Mutex
	state State

	// DoNotProtect lists path suffixes the lock never applies to
	DoNotProtect []string

	// AllowReads lets GET requests through while locked, so monitoring can
	// continue during an exclusive operation
	AllowReads bool
}

// New returns a new Locker with DoNotProtect prepopulated with "/lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"/lock"}}
}

// Lock the locker on behalf of holder, which may be empty
func (l *Locker) Lock(holder string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.Bool {
		l.state.Since = time.Now()
	}
	l.state.Bool = true
	l.state.Holder = holder
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = State{}
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Bool
}

// State returns a copy of the lock state
func (l *Locker) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Locker) protects(r *http.Request) bool {
	if l.AllowReads && r.Method == http.MethodGet {
		return false
	}
	for _, str := range l.DoNotProtect {
		if strings.HasSuffix(r.URL.Path, str) {
			return false
		}
	}
	return true
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is
// true and the request is protected, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := l.State()
		if s.Bool && l.protects(r) {
			msg := "locked"
			if s.Holder != "" {
				msg = fmt.Sprintf("locked by %s since %s", s.Holder, s.Since.Format(time.RFC3339))
			}
			http.Error(w, msg, http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet locks or unlocks based on {"bool": true, "holder": "name"}
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	s := State{}
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.Bool {
		l.Lock(s.Holder)
	} else {
		l.Unlock()
	}
	logrus.WithFields(logrus.Fields{"locked": s.Bool, "holder": s.Holder}).Info("lock changed")
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns State() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	server.ReplyJSON(w, l.State())
}
