// Package ctxkeys defines the small set of context.Context keys threaded
// through the control plane (trace correlation for SQL logs).
package ctxkeys

// TraceIDKey is the context key carrying a per-request/per-session
// correlation id, consumed by storage.GormLogger.
type TraceIDKey struct{}

// SessionIDKey is the context key carrying the owning session id.
type SessionIDKey struct{}
