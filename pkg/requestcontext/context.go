// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them, services read them; keeping
// the package free of net/http lets services import only what they need.
package requestcontext

import (
	"context"

	"crcert/internal/certificate/models"
)

type (
	userKey      struct{}
	mobileUIDKey struct{}
	requestIDKey struct{}
	userAgentKey struct{}
)

// User retrieves the authenticated user, nil when the request carried no
// valid token.
func User(ctx context.Context) *models.User {
	if user, ok := ctx.Value(userKey{}).(*models.User); ok {
		return user
	}
	return nil
}

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// MobileUID retrieves the submitting device identifier.
func MobileUID(ctx context.Context) string {
	if uid, ok := ctx.Value(mobileUIDKey{}).(string); ok {
		return uid
	}
	return ""
}

func WithMobileUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, mobileUIDKey{}, uid)
}

func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// UserAgent retrieves the parsed device description set by the device
// middleware.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, ua)
}
