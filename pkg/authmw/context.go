package authmw

import "context"

type contextKey int

const orgIDKey contextKey = iota

// WithOrgID attaches the authenticated org id to ctx.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgIDKey, orgID)
}

// OrgIDFromContext retrieves the org id attached by Middleware, if any.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(orgIDKey).(string)
	return v, ok
}
