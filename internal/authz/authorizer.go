// Package authz decides whether an authenticated identity may consume a
// route's stream.
package authz

import (
	"errors"

	"github.com/vyrodovalexey/streamgw/internal/auth"
	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/routing"
)

// ErrForbidden indicates the identity is not in the route's authorized
// user set, or the route vanished between authentication and this check.
var ErrForbidden = errors.New("identity not authorized for route")

// Authorizer checks route membership against the live routing table.
type Authorizer struct {
	table  *routing.Table
	logger observability.Logger
}

// New creates an Authorizer reading from the given table.
func New(table *routing.Table, logger observability.Logger) *Authorizer {
	return &Authorizer{table: table, logger: logger}
}

// Authorize resolves the route again and checks that the identity is a
// member of its user set. The fresh resolution means a route deleted
// mid-request denies access rather than serving a stale grant; an empty
// user set denies everyone.
func (a *Authorizer) Authorize(merchant, channel string, id auth.Identity) (routing.Route, error) {
	route, err := a.table.Resolve(merchant, channel)
	if err != nil {
		a.logger.Debug("route gone at authorization",
			observability.String("merchant", merchant),
			observability.String("channel", channel))
		return routing.Route{}, ErrForbidden
	}

	if !route.HasUser(string(id)) {
		a.logger.Debug("identity not in route user set",
			observability.String("merchant", merchant),
			observability.String("channel", channel),
			observability.String("identity", string(id)))
		return routing.Route{}, ErrForbidden
	}

	return route, nil
}
