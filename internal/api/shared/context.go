package shared

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"time"
)

// ContextKey is the key type for values this package stores in contexts.
type ContextKey string

const (
	// TraceIDKey is the key for the trace ID in the request context.
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of random bytes in a trace ID.
	TraceIDLength = 16
)

// SetTraceID adds a fresh trace ID to the context for log and error
// response correlation.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, generateTraceID())
}

// GetTraceID retrieves the trace ID from the context, or "" if unset.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// generateTraceID creates a random 32-character hex trace ID. If the
// random source fails it falls back to a time-derived ID rather than a
// static value.
func generateTraceID() string {
	b := make([]byte, TraceIDLength)
	if n, err := rand.Read(b); err != nil || n != TraceIDLength {
		slog.Error("failed to generate random trace ID",
			"error", err,
			"bytes_read", n)
		binary.BigEndian.PutUint64(b[:8], uint64(time.Now().UnixNano()))
		binary.BigEndian.PutUint64(b[8:], uint64(time.Now().Unix()))
	}
	return hex.EncodeToString(b)
}
