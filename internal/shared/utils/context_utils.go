package utils

import (
	"context"
	"errors"

	"docgateway/internal/shared/contextkeys"
)

var (
	ErrTenantIDNotFound  = errors.New("tenantID not found in context")
	ErrTenantIDNotString = errors.New("tenantID in context is not a string")
	ErrRequestIDNotFound = errors.New("requestID not found in context")
	ErrActionNotFound    = errors.New("action not found in context")
	ErrValueNotString    = errors.New("context value is not a string")
)

func stringValue(ctx context.Context, key interface{}, notFound error) (string, error) {
	val := ctx.Value(key)
	if val == nil {
		return "", notFound
	}
	s, ok := val.(string)
	if !ok {
		return "", ErrValueNotString
	}
	return s, nil
}

// GetTenantIDFromContext returns the tenant the current action runs for.
func GetTenantIDFromContext(ctx context.Context) (string, error) {
	id, err := stringValue(ctx, contextkeys.TenantIDKey, ErrTenantIDNotFound)
	if errors.Is(err, ErrValueNotString) {
		return "", ErrTenantIDNotString
	}
	return id, err
}

// GetRequestIDFromContext returns the inbound request id.
func GetRequestIDFromContext(ctx context.Context) (string, error) {
	return stringValue(ctx, contextkeys.RequestIDKey, ErrRequestIDNotFound)
}

// GetActionFromContext returns the gateway action verb.
func GetActionFromContext(ctx context.Context) (string, error) {
	return stringValue(ctx, contextkeys.ActionKey, ErrActionNotFound)
}

// WithTenantID returns a copy of ctx carrying tenantID.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextkeys.TenantIDKey, tenantID)
}

// WithRequestID returns a copy of ctx carrying requestID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextkeys.RequestIDKey, requestID)
}

// WithAction returns a copy of ctx carrying the action verb.
func WithAction(ctx context.Context, action string) context.Context {
	return context.WithValue(ctx, contextkeys.ActionKey, action)
}

// WithClaims returns a copy of ctx carrying verified token claims.
func WithClaims(ctx context.Context, claims interface{}) context.Context {
	return context.WithValue(ctx, contextkeys.ClaimsKey, claims)
}

// GetRequestIDOrDefault returns the request id or def when absent.
func GetRequestIDOrDefault(ctx context.Context, def string) string {
	if id, err := GetRequestIDFromContext(ctx); err == nil && id != "" {
		return id
	}
	return def
}
