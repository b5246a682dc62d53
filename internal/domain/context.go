package domain

import "context"

type ctxKey string

const clientIPContextKey ctxKey = "sentinel.client_ip"

// WithClientIP attaches the caller's address so audit events can record it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey).(string)
	return ip
}
