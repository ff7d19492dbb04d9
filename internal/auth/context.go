package auth

import (
	"context"

	"trustcore.org/internal/session"
)

type ctxKey int

const (
	claimsKey ctxKey = iota
	sessionKey
)

// ContextWithIdentity attaches the verified claims and live session to the
// request context.
func ContextWithIdentity(ctx context.Context, claims Claims, sess session.Session) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	return context.WithValue(ctx, sessionKey, sess)
}

// ClaimsFromContext returns the verified token claims, if any.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey).(Claims)
	return c, ok
}

// SessionFromContext returns the authenticated session, if any.
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(session.Session)
	return s, ok
}
