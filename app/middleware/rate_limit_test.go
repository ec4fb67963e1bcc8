package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/michal-majer/s4kit-gateway/app/entity"
	"github.com/michal-majer/s4kit-gateway/app/middleware"
	"github.com/michal-majer/s4kit-gateway/app/service"
)

type stubLimiter struct {
	decision service.RateDecision
	err      error
}

func (l *stubLimiter) Check(_ context.Context, _ *entity.APIKey) (service.RateDecision, error) {
	return l.decision, l.err
}

func invokeRateLimit(t *testing.T, limiter *stubLimiter, withKey bool) (*httptest.ResponseRecorder, bool) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/bp/A_BusinessPartner", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	if withKey {
		ctx.Set(middleware.ContextKeyAPIKey, &entity.APIKey{ID: "key-1", OrganizationID: "org-1"})
	}

	reached := false
	handler := middleware.NewRateLimitMiddleware(limiter).Enforce(func(c echo.Context) error {
		reached = true
		return c.NoContent(http.StatusOK)
	})
	if err := handler(ctx); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return rec, reached
}

func TestEnforceAllows(t *testing.T) {
	rec, reached := invokeRateLimit(t, &stubLimiter{decision: service.RateDecision{Allowed: true}}, true)
	if !reached {
		t.Fatal("allowed request must reach the handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEnforceDeniesWithRetryAfter(t *testing.T) {
	limiter := &stubLimiter{decision: service.RateDecision{
		Scope:             "key-minute",
		RetryAfterSeconds: 60,
	}}
	rec, reached := invokeRateLimit(t, limiter, true)
	if reached {
		t.Fatal("denied request must not reach the handler")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestEnforceFailsOpenOnStoreError(t *testing.T) {
	_, reached := invokeRateLimit(t, &stubLimiter{err: errors.New("store down")}, true)
	if !reached {
		t.Fatal("a limiter outage must not block traffic")
	}
}

func TestEnforceRequiresAuthentication(t *testing.T) {
	rec, reached := invokeRateLimit(t, &stubLimiter{decision: service.RateDecision{Allowed: true}}, false)
	if reached {
		t.Fatal("unauthenticated request must not reach the handler")
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
