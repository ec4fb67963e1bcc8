package middleware

import (
	"context"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/michal-majer/s4kit-gateway/app/apperr"
	dto "github.com/michal-majer/s4kit-gateway/app/dto/http"
	"github.com/michal-majer/s4kit-gateway/app/entity"
	"github.com/michal-majer/s4kit-gateway/app/metrics"
	"github.com/michal-majer/s4kit-gateway/app/service"
)

type rateLimiter interface {
	Check(ctx context.Context, key *entity.APIKey) (service.RateDecision, error)
}

type RateLimitMiddleware struct {
	limiter rateLimiter
}

func NewRateLimitMiddleware(limiter rateLimiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter}
}

// Enforce runs after authentication: every authenticated request
// counts against the key's and the tenant's sliding windows, denied
// ones included. A limiter outage fails open so a store hiccup does
// not take the gateway down with it.
func (m *RateLimitMiddleware) Enforce(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key, ok := AuthenticatedKey(c)
		if !ok {
			appErr := apperr.Server("rate limit enforced before authentication")
			metrics.IncError(appErr.Category)
			return c.JSON(appErr.HTTPStatus(), dto.NewErrorResponse(appErr))
		}

		decision, err := m.limiter.Check(c.Request().Context(), key)
		if err != nil {
			logrus.WithError(err).Warn("Rate limit check failed, allowing request")
			return next(c)
		}
		if !decision.Allowed {
			logrus.WithFields(logrus.Fields{
				"api_key_id": key.ID,
				"scope":      decision.Scope,
			}).Debug("Request rate limited")
			metrics.IncRateLimited(decision.Scope)

			appErr := apperr.RateLimited(decision.Scope, decision.RetryAfterSeconds)
			c.Response().Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
			return c.JSON(appErr.HTTPStatus(), dto.NewErrorResponse(appErr))
		}

		return next(c)
	}
}
