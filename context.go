package sessionguard

import "context"

type clientIPContextKey struct{}
type tenantIDContextKey struct{}
type userAgentContextKey struct{}
type idempotencyKeyContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses
// it for risk scoring, audit records, and the session's last-seen IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithTenantID attaches the tenant a request claims to operate in. Every
// engine operation compares it against the tenant baked into the
// presented credentials.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey{}, tenantID)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for audit
// records and device fingerprint enrichment.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithIdempotencyKey attaches a client-chosen idempotency key to ctx.
// Session creation with a key that was already claimed returns the
// original session instead of minting a duplicate.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func tenantIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	tenantID, _ := ctx.Value(tenantIDContextKey{}).(string)
	if tenantID == "" {
		return "", false
	}

	return tenantID, true
}

func idempotencyKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	key, _ := ctx.Value(idempotencyKeyContextKey{}).(string)
	return key
}
