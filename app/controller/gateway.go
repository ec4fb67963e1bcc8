package controller

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/michal-majer/s4kit-gateway/app/apperr"
	dto "github.com/michal-majer/s4kit-gateway/app/dto/http"
	"github.com/michal-majer/s4kit-gateway/app/entity"
	"github.com/michal-majer/s4kit-gateway/app/metrics"
	"github.com/michal-majer/s4kit-gateway/app/middleware"
	"github.com/michal-majer/s4kit-gateway/app/odata"
	"github.com/michal-majer/s4kit-gateway/app/service"
)

// Caller-facing headers. X-S4-Service and X-S4-Environment steer
// routing; the response shaping flags default to the normalized form.
const (
	HeaderService       = "X-S4-Service"
	HeaderEnvironment   = "X-S4-Environment"
	HeaderRawResponse   = "X-Raw-Response"
	HeaderStripMetadata = "X-Strip-Metadata"
)

type GatewayController struct {
	access  *service.AccessResolver
	gateway *service.Gateway
}

func NewGatewayController(access *service.AccessResolver, gateway *service.Gateway) *GatewayController {
	return &GatewayController{access: access, gateway: gateway}
}

// Proxy handles ANY /api/* single-entity operations. The service comes
// from the X-S4-Service header or the first path segment; with neither
// present the entity name alone selects it from the key's grants.
func (ctl *GatewayController) Proxy(ctx echo.Context) error {
	started := time.Now()
	key, ok := middleware.AuthenticatedKey(ctx)
	if !ok {
		return ctl.writeError(ctx, apperr.Server("proxy handler reached without authentication"))
	}

	serviceIdentifier, entitySegment, err := splitProxyPath(ctx)
	if err != nil {
		return ctl.writeError(ctx, err)
	}
	entityName, entityKey, ok := odata.ParseEntityPath(entitySegment)
	if !ok {
		return ctl.writeError(ctx, apperr.Validation("invalid_entity_path", "entity segment %q is not Entity or Entity(key)", entitySegment))
	}

	access, err := ctl.resolveAccess(ctx, key, serviceIdentifier, entityName)
	if err != nil {
		return ctl.writeError(ctx, err)
	}

	body, err := readBody(ctx)
	if err != nil {
		return ctl.writeError(ctx, err)
	}

	result, err := ctl.gateway.Execute(ctx.Request().Context(), access, &service.ProxyRequest{
		Method:        ctx.Request().Method,
		EntityName:    entityName,
		Key:           entityKey,
		Query:         ctx.QueryParams(),
		Body:          body,
		RawResponse:   flagHeader(ctx, HeaderRawResponse, false),
		StripMetadata: flagHeader(ctx, HeaderStripMetadata, true),
	})
	if err != nil {
		ctl.logRequest(ctx, key, access, apperr.FromError(err).HTTPStatus(), started)
		return ctl.writeError(ctx, err)
	}

	ctl.logRequest(ctx, key, access, result.StatusCode, started)
	contentType := result.ContentType
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return ctx.Blob(result.StatusCode, contentType, result.Body)
}

// Batch handles POST /api/batch.
func (ctl *GatewayController) Batch(ctx echo.Context) error {
	started := time.Now()
	key, ok := middleware.AuthenticatedKey(ctx)
	if !ok {
		return ctl.writeError(ctx, apperr.Server("batch handler reached without authentication"))
	}

	var req dto.BatchRequest
	if err := ctx.Bind(&req); err != nil {
		return ctl.writeError(ctx, apperr.Validation("invalid_body", "request body is not a valid batch"))
	}
	if len(req.Operations) == 0 {
		return ctl.writeError(ctx, apperr.Validation("batch_size", "batch carries no operations"))
	}

	// Without an explicit service header the first operation's entity
	// selects the service; every operation then runs against it.
	serviceIdentifier := strings.TrimSpace(ctx.Request().Header.Get(HeaderService))
	access, err := ctl.resolveAccess(ctx, key, serviceIdentifier, req.Operations[0].Entity)
	if err != nil {
		return ctl.writeError(ctx, err)
	}

	ops := make([]service.BatchInput, len(req.Operations))
	for i, op := range req.Operations {
		ops[i] = service.BatchInput{
			Operation: op.Method,
			Entity:    op.Entity,
			Key:       op.ID,
			Data:      op.Data,
		}
	}

	results, err := ctl.gateway.ExecuteBatch(ctx.Request().Context(), access, req.Atomic, ops)
	if err != nil {
		ctl.logRequest(ctx, key, access, apperr.FromError(err).HTTPStatus(), started)
		return ctl.writeError(ctx, err)
	}

	response := dto.BatchResponse{Results: make([]dto.BatchResultResponse, len(results))}
	for i, result := range results {
		slot := dto.BatchResultResponse{
			Success: result.Success,
			Status:  result.Status,
			Data:    result.Data,
		}
		if result.Error != nil {
			body := dto.NewErrorResponse(result.Error).Error
			slot.Error = &body
		}
		response.Results[i] = slot
	}

	ctl.logRequest(ctx, key, access, http.StatusOK, started)
	return ctx.JSON(http.StatusOK, response)
}

// Schema handles GET /api/schema: the parsed backend schema plus the
// projected type shapes for the resolved service.
func (ctl *GatewayController) Schema(ctx echo.Context) error {
	key, ok := middleware.AuthenticatedKey(ctx)
	if !ok {
		return ctl.writeError(ctx, apperr.Server("schema handler reached without authentication"))
	}

	serviceIdentifier := strings.TrimSpace(ctx.Request().Header.Get(HeaderService))
	if serviceIdentifier == "" {
		return ctl.writeError(ctx, apperr.Validation("missing_service", "%s header is required", HeaderService))
	}

	access, err := ctl.resolveAccess(ctx, key, serviceIdentifier, "")
	if err != nil {
		return ctl.writeError(ctx, err)
	}

	result, err := ctl.gateway.Schema(ctx.Request().Context(), access)
	if err != nil {
		return ctl.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, result)
}

func (ctl *GatewayController) resolveAccess(ctx echo.Context, key *entity.APIKey, serviceIdentifier, entityName string) (*service.ResolvedAccess, error) {
	environmentHint := strings.TrimSpace(ctx.Request().Header.Get(HeaderEnvironment))
	reqCtx := ctx.Request().Context()

	var access *service.ResolvedAccess
	var err error
	if serviceIdentifier != "" {
		access, err = ctl.access.ResolveByService(reqCtx, key.ID, key.OrganizationID, serviceIdentifier, environmentHint)
	} else {
		access, err = ctl.access.ResolveServiceByEntity(reqCtx, key.ID, key.OrganizationID, entityName)
	}
	if errors.Is(err, service.ErrNoAccess) {
		return nil, apperr.NotFound("service_not_found", "no accessible service matches the request")
	}
	if err != nil {
		return nil, err
	}
	return access, nil
}

// splitProxyPath reads the wildcard remainder. Two segments mean
// service then entity; one segment is the entity, with the service
// taken from the header when present.
func splitProxyPath(ctx echo.Context) (serviceIdentifier, entitySegment string, err error) {
	rest := strings.Trim(ctx.Param("*"), "/")
	if rest == "" {
		return "", "", apperr.Validation("invalid_path", "request path names no entity")
	}

	segments := strings.Split(rest, "/")
	headerService := strings.TrimSpace(ctx.Request().Header.Get(HeaderService))

	switch {
	case len(segments) == 1 && headerService != "":
		return headerService, segments[0], nil
	case len(segments) == 1:
		return "", segments[0], nil
	case len(segments) == 2:
		return segments[0], segments[1], nil
	default:
		return "", "", apperr.Validation("invalid_path", "request path has too many segments")
	}
}

func readBody(ctx echo.Context) ([]byte, error) {
	if ctx.Request().Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, apperr.Validation("invalid_body", "request body unreadable: %v", err)
	}
	return body, nil
}

func flagHeader(ctx echo.Context, name string, defaultValue bool) bool {
	value := strings.TrimSpace(ctx.Request().Header.Get(name))
	if value == "" {
		return defaultValue
	}
	return strings.EqualFold(value, "true")
}

func (ctl *GatewayController) writeError(ctx echo.Context, err error) error {
	appErr := apperr.FromError(err)
	metrics.IncError(appErr.Category)
	if retryAfter := appErr.RetryAfterSeconds(); retryAfter > 0 {
		ctx.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	return ctx.JSON(appErr.HTTPStatus(), dto.NewErrorResponse(appErr))
}

func (ctl *GatewayController) logRequest(ctx echo.Context, key *entity.APIKey, access *service.ResolvedAccess, status int, started time.Time) {
	requestID := ctx.Request().Header.Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = ctx.Response().Header().Get(echo.HeaderXRequestID)
	}

	ctl.gateway.LogRequest(ctx.Request().Context(), &entity.RequestLog{
		ID:             uuid.NewString(),
		APIKeyID:       key.ID,
		OrganizationID: access.OrganizationID,
		ServiceID:      access.SystemService.ID,
		Method:         ctx.Request().Method,
		Path:           ctx.Request().URL.Path,
		Status:         status,
		DurationMS:     time.Since(started).Milliseconds(),
		RequestID:      requestID,
		CreatedAt:      time.Now().UTC(),
	})
}
