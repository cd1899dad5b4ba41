package http

import (
	"strings"

	"docgateway/internal/datastore/adapter/security"
	"docgateway/internal/datastore/domain/model"
	apperrors "docgateway/internal/shared/errors"
	"docgateway/internal/shared/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

const (
	localsRequestID = "requestid"
	localsClaims    = "claims"
)

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*security.Claims, error)
}

// RequestID assigns every request an id, echoed in X-Request-ID.
func RequestID() fiber.Handler {
	return requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		Generator:  uuid.NewString,
		ContextKey: localsRequestID,
	})
}

// RequestContext copies the request id into the request's context.Context.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id, ok := c.Locals(localsRequestID).(string); ok && id != "" {
			c.SetUserContext(utils.WithRequestID(c.UserContext(), id))
		}
		return c.Next()
	}
}

// Authenticate requires a valid bearer token. With a nil validator every
// request passes unauthenticated.
func Authenticate(tokens TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if tokens == nil {
			return c.Next()
		}

		token := extractBearer(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return writeError(c, apperrors.NewAuthenticationError("authentication required").
				WithCause(apperrors.ErrUnauthorized))
		}
		claims, err := tokens.ValidateToken(token)
		if err != nil {
			return writeError(c, apperrors.NewAuthenticationError("invalid token").
				WithCause(apperrors.ErrInvalidToken))
		}

		c.Locals(localsClaims, claims)
		c.SetUserContext(utils.WithClaims(c.UserContext(), claims))
		return c.Next()
	}
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// authorize checks the caller's claims against the permission act requires.
// Requests that went through a disabled Authenticate carry no claims and pass.
func authorize(c *fiber.Ctx, tenantID string, act model.ActionType) error {
	claims, ok := c.Locals(localsClaims).(*security.Claims)
	if !ok || claims == nil {
		return nil
	}
	if !claims.CoversTenant(tenantID) {
		return apperrors.NewAuthorizationError("token does not cover tenant").
			WithDetail("tenantId", tenantID).
			WithCause(apperrors.ErrForbidden)
	}
	required, known := act.RequiredPermission()
	if !known {
		// unknown verbs are rejected by the gateway
		return nil
	}
	if !claims.Allows(required) {
		return apperrors.NewAuthorizationError("insufficient permissions").
			WithDetail("action", string(act)).
			WithDetail("requires", string(required)).
			WithCause(apperrors.ErrForbidden)
	}
	return nil
}
