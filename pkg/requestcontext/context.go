// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// This package defines context keys and getter/setter functions for values
// that are typically set by middleware but consumed by services. By keeping
// this package free of net/http dependencies, services can import only what
// they need without pulling in HTTP-related code.
//
// Usage in services (read values):
//
//	operatorID := requestcontext.OperatorID(ctx)
//	terminal := requestcontext.TerminalID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithOperatorID(ctx, operatorID)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithTerminalID(ctx, "till-2")
package requestcontext

import (
	"context"
	"time"

	id "gemma/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	operatorIDKey  struct{}
	terminalIDKey  struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	deviceInfoKey  struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyOperatorID  = operatorIDKey{}
	ContextKeyTerminalID  = terminalIDKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
	ContextKeyDeviceInfo  = deviceInfoKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Operator context
// -----------------------------------------------------------------------------

// OperatorID retrieves the authenticated operator id from the context.
// Returns the zero value (nil UUID) if not set.
func OperatorID(ctx context.Context) id.OperatorID {
	if operatorID, ok := ctx.Value(ContextKeyOperatorID).(id.OperatorID); ok {
		return operatorID
	}
	return id.OperatorID{}
}

// WithOperatorID injects an operator id into the context.
func WithOperatorID(ctx context.Context, operatorID id.OperatorID) context.Context {
	return context.WithValue(ctx, ContextKeyOperatorID, operatorID)
}

// -----------------------------------------------------------------------------
// Terminal context
// -----------------------------------------------------------------------------

// TerminalID retrieves the calling terminal from the context. Empty when the
// request did not originate from a registered terminal (admin tooling).
func TerminalID(ctx context.Context) id.TerminalID {
	if terminal, ok := ctx.Value(ContextKeyTerminalID).(id.TerminalID); ok {
		return terminal
	}
	return ""
}

// WithTerminalID injects a terminal id into the context.
func WithTerminalID(ctx context.Context, terminal id.TerminalID) context.Context {
	return context.WithValue(ctx, ContextKeyTerminalID, terminal)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent, parsed device info)
// -----------------------------------------------------------------------------

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the raw User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// DeviceInfo retrieves the parsed device summary ("Chrome 120 / Android")
// produced by the user-agent middleware. Empty when the header was absent.
func DeviceInfo(ctx context.Context) string {
	if info, ok := ctx.Value(ContextKeyDeviceInfo).(string); ok {
		return info
	}
	return ""
}

// WithClientMetadata injects client IP, raw User-Agent, and the parsed device
// summary into a context. Useful for service unit tests that don't run the
// full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent, deviceInfo string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	ctx = context.WithValue(ctx, ContextKeyDeviceInfo, deviceInfo)
	return ctx
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for non-HTTP contexts like workers,
// CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that don't run the full HTTP middleware chain
//   - Workers that need consistent time within a batch operation
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
