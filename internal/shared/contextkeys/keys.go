package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "docgateway context key " + string(c)
}

const (
	// TenantIDKey carries the tenant the current action runs for.
	TenantIDKey = contextKey("tenantID")
	// RequestIDKey carries the inbound request id.
	RequestIDKey = contextKey("requestID")
	// ActionKey carries the gateway action verb.
	ActionKey = contextKey("action")
	// ComponentKey carries the component name for log lines.
	ComponentKey = contextKey("component")
	// ClaimsKey carries verified bearer token claims.
	ClaimsKey = contextKey("claims")
)
