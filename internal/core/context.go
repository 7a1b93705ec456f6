package core

import "context"

type contextKey string

const (
	ctxKeyIPAddress contextKey = "audit_ip"
	ctxKeyUserAgent contextKey = "audit_ua"
	ctxKeyRequestID contextKey = "audit_request_id"
)

// ContextWithRequestMeta stores the client details attached to export audit events.
func ContextWithRequestMeta(ctx context.Context, requestID, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyRequestID, requestID)
	ctx = context.WithValue(ctx, ctxKeyIPAddress, ip)
	return context.WithValue(ctx, ctxKeyUserAgent, userAgent)
}

// RequestMetaFromContext returns the values stored by ContextWithRequestMeta.
// Missing values are returned as empty strings.
func RequestMetaFromContext(ctx context.Context) (requestID, ip, userAgent string) {
	requestID, _ = ctx.Value(ctxKeyRequestID).(string)
	ip, _ = ctx.Value(ctxKeyIPAddress).(string)
	userAgent, _ = ctx.Value(ctxKeyUserAgent).(string)
	return requestID, ip, userAgent
}
