// Package requestctx carries the identity resolved by the data-plane
// authentication middleware for the lifetime of one request. The value rides
// on the request's context.Context and is never stored or shared beyond it,
// so a reused execution unit cannot observe a previous request's identity.
package requestctx

import (
	"context"
	"database/sql"

	"analytics-hub/internal/device"
)

type contextKey struct{}

// Context is the per-request identity bag: the resolved project, its routed
// connection pool, the authenticated device and the caller's user id.
type Context struct {
	ProjectID   string
	TablePrefix string
	Device      *device.Device
	UserID      string
	DB          *sql.DB
}

// With attaches rc to ctx. The middleware calls this exactly once, after full
// authentication and immediately before handler dispatch.
func With(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// From returns the request identity, or false outside an authenticated
// data-plane request.
func From(ctx context.Context) (*Context, bool) {
	rc, ok := ctx.Value(contextKey{}).(*Context)
	return rc, ok
}

// TableName derives the physical table name for a logical one using the
// request's cached table prefix.
func (c *Context) TableName(logical string) string {
	return c.TablePrefix + logical
}
