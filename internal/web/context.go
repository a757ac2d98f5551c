package web

import (
	"context"
	"net/http"
)

type contextKey string

const ipAddressKey contextKey = "ip_address"

// WithRequestMetadata adds the client IP to the request context for
// structured log correlation (§2.1 diagnostics server).
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ip := r.RemoteAddr // already resolved by middleware.TrustedRealIP, if trusted
	return context.WithValue(ctx, ipAddressKey, ip)
}

// IPAddressFromContext returns the client IP stashed by WithRequestMetadata.
func IPAddressFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ipAddressKey).(string)
	return ip
}
