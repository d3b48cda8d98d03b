package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bootlicense/internal/infrastructure"
)

// logAction logs a license action with the standard component/action/result
// attributes and mirrors it as a span event when a span is recording.
func (e *Engine) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("license."+action, trace.WithAttributes(
			attribute.String("action", action),
			attribute.String("result", result),
		))
	}

	all := []slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
	}
	if traceID := infrastructure.TraceIDFromContext(ctx); traceID != "" {
		all = append(all, slog.String("otel_trace_id", traceID))
	}
	all = append(all, attrs...)

	e.logger.LogAttrs(ctx, level, result, all...)
}

// keyAttrs identifies a license key without revealing it
func keyAttrs(key string) []slog.Attr {
	return []slog.Attr{
		slog.String("license_key_masked", MaskLicenseKey(key)),
		slog.String("license_key_hash", hashLicenseKey(key)),
	}
}

// MaskLicenseKey keeps the first and last four characters of key
func MaskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashLicenseKey is a short stable correlation id for a key
func hashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}
