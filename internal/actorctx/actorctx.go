// Package actorctx carries who is making a request, and under which request
// ID, through context so lower layers can log it without gin.
package actorctx

import "context"

type (
	userKey    struct{}
	requestKey struct{}
)

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func UserIDFrom(ctx context.Context) (string, bool) {
	return stringFrom(ctx, userKey{})
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestKey{}, requestID)
}

func RequestIDFrom(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestKey{})
}

func stringFrom(ctx context.Context, key any) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}
