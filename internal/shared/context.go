package shared

import "context"

type sessionCtxKey struct{}

// ContextWithSession attaches the caller's session so handlers and the
// authorization gate can read the acting principal.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sess)
}

// SessionFromContext returns the attached session, or nil when the request
// carried none.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionCtxKey{}).(*Session)
	return sess
}
