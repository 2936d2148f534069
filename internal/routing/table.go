// Package routing provides the in-memory routing table mapping
// (merchant, channel) pairs to backend routes.
package routing

import (
	"errors"
	"sync"
)

// ErrRouteNotFound indicates that no route matches a (merchant, channel) pair.
var ErrRouteNotFound = errors.New("route not found")

// Route is a stored routing entry. An empty Merchant matches any merchant
// for its channel; an empty Channel matches any channel for its merchant.
type Route struct {
	Merchant string
	Channel  string
	Address  string
	// Users is the set of identities allowed to stream this route.
	// It is never mutated after the route enters the table, so readers
	// holding a Route copy may scan it without locking.
	Users []string
}

// Key returns the composite table key for the route.
func (r Route) Key() string {
	return r.Merchant + ":" + r.Channel
}

// HasUser reports whether the given identity is in the route's user set.
// An empty user set authorizes no one.
func (r Route) HasUser(identity string) bool {
	for _, u := range r.Users {
		if u == identity {
			return true
		}
	}
	return false
}

// Table is the process-wide routing table. It has a single writer (the
// config sync task) and many concurrent readers (request pipelines).
// Entries are replaced or deleted whole, so a reader always observes a
// route either entirely before or entirely after an update.
type Table struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// NewTable creates an empty routing table.
func NewTable() *Table {
	return &Table{
		routes: make(map[string]Route),
	}
}

// Resolve returns the route for the given merchant and channel.
// Precedence, first match wins: exact "merchant:channel", wildcard-merchant
// ":channel", wildcard-channel "merchant:". Returns ErrRouteNotFound when
// no form matches.
func (t *Table) Resolve(merchant, channel string) (Route, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, key := range []string{
		merchant + ":" + channel,
		":" + channel,
		merchant + ":",
	} {
		if route, ok := t.routes[key]; ok {
			return route, nil
		}
	}

	return Route{}, ErrRouteNotFound
}

// Upsert inserts or replaces the route under its composite key.
func (t *Table) Upsert(route Route) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.routes[route.Key()] = route
}

// Remove deletes the route for the given merchant and channel.
// Removing an absent route is a no-op.
func (t *Table) Remove(merchant, channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.routes, merchant+":"+channel)
}

// Load replaces the whole table contents with the given routes.
func (t *Table) Load(routes []Route) {
	fresh := make(map[string]Route, len(routes))
	for _, route := range routes {
		fresh[route.Key()] = route
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.routes = fresh
}

// Len returns the number of routes currently in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.routes)
}
