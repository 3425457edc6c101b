package testutil

import (
	"context"
	"time"

	id "smartattend/pkg/domain"
	"smartattend/pkg/requestcontext"
)

// Ctx builds a request context the way the HTTP middleware would: actor,
// request id, client ip, and a pinned clock.
func Ctx(actor id.Actor, now time.Time) context.Context {
	ctx := context.Background()
	ctx = requestcontext.WithActor(ctx, actor)
	ctx = requestcontext.WithRequestID(ctx, "test-request")
	ctx = requestcontext.WithClientIP(ctx, "203.0.113.7")
	ctx = requestcontext.WithTime(ctx, now)
	return ctx
}

// Actor builds a test actor with the given role.
func Actor(userID string, role id.Role, tenant string) id.Actor {
	return id.Actor{ID: id.UserID(userID), Role: role, TenantID: id.TenantID(tenant)}
}
