package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/michal-majer/s4kit-gateway/app/apperr"
	dto "github.com/michal-majer/s4kit-gateway/app/dto/http"
	"github.com/michal-majer/s4kit-gateway/app/entity"
	"github.com/michal-majer/s4kit-gateway/app/metrics"
	"github.com/michal-majer/s4kit-gateway/app/service"
)

// ContextKeyAPIKey holds the authenticated *entity.APIKey.
const ContextKeyAPIKey = "api_key"

type keyValidator interface {
	Validate(ctx context.Context, rawKey, clientIP string) (*entity.APIKey, error)
}

type AuthMiddleware struct {
	validator keyValidator
}

func NewAuthMiddleware(validator keyValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAPIKey authenticates the bearer key and stores the key record
// on the request context. All rejection shapes look the same to the
// caller except for revocation and expiry, which are safe to name.
func (m *AuthMiddleware) RequireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			logrus.Debug("Missing authorization header")
			return unauthorized(c, "missing_authorization", "missing authorization header")
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			logrus.Debug("Invalid authorization header format")
			return unauthorized(c, "invalid_authorization", "authorization header must be a bearer key")
		}

		key, err := m.validator.Validate(c.Request().Context(), parts[1], c.RealIP())
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidKeyFormat),
				errors.Is(err, service.ErrKeyNotFound):
				logrus.Debug("Rejected unknown or malformed api key")
				return unauthorized(c, "invalid_key", "invalid api key")
			case errors.Is(err, service.ErrKeyRevoked):
				logrus.Debug("Rejected revoked api key")
				return unauthorized(c, "key_revoked", "api key has been revoked")
			case errors.Is(err, service.ErrKeyExpired):
				logrus.Debug("Rejected expired api key")
				return unauthorized(c, "key_expired", "api key has expired")
			default:
				logrus.WithError(err).Error("Api key validation failed")
				appErr := apperr.Server("internal server error")
				metrics.IncError(appErr.Category)
				return c.JSON(appErr.HTTPStatus(), dto.NewErrorResponse(appErr))
			}
		}

		c.Set(ContextKeyAPIKey, key)
		return next(c)
	}
}

func unauthorized(c echo.Context, code, message string) error {
	appErr := apperr.Auth(code, "%s", message)
	metrics.IncError(appErr.Category)
	return c.JSON(appErr.HTTPStatus(), dto.NewErrorResponse(appErr))
}

// AuthenticatedKey reads the key record placed by RequireAPIKey.
func AuthenticatedKey(c echo.Context) (*entity.APIKey, bool) {
	key, ok := c.Get(ContextKeyAPIKey).(*entity.APIKey)
	return key, ok
}
