// Package contextkeys provides centralized context key definitions.
// All context keys used across the application must be defined here to
// prevent typos and make key usage discoverable.
package contextkeys

import (
	"context"

	"github.com/halcyonai/agentstore/pkg/tenant"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TenantKey contains *tenant.Context
	// Set by: middleware.TenantMiddleware (pkg/middleware/tenant.go)
	// Required by: all authenticated endpoints
	TenantKey Key = "tenant_context"

	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"
)

// WithTenant adds the resolved tenant context to the context.
func WithTenant(ctx context.Context, tctx *tenant.Context) context.Context {
	return context.WithValue(ctx, TenantKey, tctx)
}

// TenantFrom retrieves the resolved tenant context, or nil when unset.
func TenantFrom(ctx context.Context) *tenant.Context {
	if tctx, ok := ctx.Value(TenantKey).(*tenant.Context); ok {
		return tctx
	}
	return nil
}

// WithRequestID adds the request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestIDFrom retrieves the request ID, or "" when unset.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
