package rest

import (
	"context"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
)

type contextKey string

const (
	contextKeyRequestID contextKey = "request_id"
	contextKeySession   contextKey = "session"
)

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestID returns the id assigned by RequestIDMiddleware
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

func withSession(ctx context.Context, sess *identity.Session) context.Context {
	return context.WithValue(ctx, contextKeySession, sess)
}

// SessionFrom returns the authenticated session, or nil on public routes
func SessionFrom(ctx context.Context) *identity.Session {
	sess, _ := ctx.Value(contextKeySession).(*identity.Session)
	return sess
}
