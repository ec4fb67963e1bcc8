package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/michal-majer/s4kit-gateway/app/apperr"
	"github.com/michal-majer/s4kit-gateway/app/backend"
	"github.com/michal-majer/s4kit-gateway/app/entity"
	"github.com/michal-majer/s4kit-gateway/app/metrics"
	"github.com/michal-majer/s4kit-gateway/app/odata"
	"github.com/michal-majer/s4kit-gateway/app/store"
)

const (
	schemaCachePrefix = "schema:"

	batchMinOperations = 1
	batchMaxOperations = 100
)

type RequestLogSink interface {
	Insert(ctx context.Context, log *entity.RequestLog) error
}

// ProxyRequest is one single-entity operation after routing: the
// entity segment is already split and the service already resolved.
type ProxyRequest struct {
	Method        string
	EntityName    string
	Key           string
	Query         url.Values
	Body          []byte
	RawResponse   bool
	StripMetadata bool
}

type ProxyResult struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// BatchInput is one operation of a grouped request, named by logical
// operation rather than HTTP verb.
type BatchInput struct {
	Operation string
	Entity    string
	Key       string
	Data      json.RawMessage
}

// BatchResult is the ordered outcome for one batch operation. Exactly
// one of Data and Error is meaningful.
type BatchResult struct {
	Success bool            `json:"success"`
	Status  int             `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *apperr.Error   `json:"-"`
}

// SchemaResult is the typed client surface for one resolved service.
type SchemaResult struct {
	Schema *odata.Schema    `json:"schema"`
	Types  *odata.TypeIndex `json:"types"`
}

var operationMethods = map[string]string{
	entity.OpCreate: http.MethodPost,
	entity.OpRead:   http.MethodGet,
	entity.OpUpdate: http.MethodPatch,
	entity.OpDelete: http.MethodDelete,
}

// Gateway executes proxied operations against the resolved backend:
// permission gate, credential injection, version translation and
// response normalization.
type Gateway struct {
	auth     *AuthResolver
	backend  *backend.Client
	metadata *backend.Client
	cache    store.Cache

	schemaTTL time.Duration
	logs      RequestLogSink
}

func NewGateway(auth *AuthResolver, backendClient, metadataClient *backend.Client, cache store.Cache, schemaTTL time.Duration, logs RequestLogSink) *Gateway {
	return &Gateway{
		auth:      auth,
		backend:   backendClient,
		metadata:  metadataClient,
		cache:     cache,
		schemaTTL: schemaTTL,
		logs:      logs,
	}
}

// Execute runs one single-entity operation end to end.
func (g *Gateway) Execute(ctx context.Context, access *ResolvedAccess, req *ProxyRequest) (*ProxyResult, error) {
	operation, err := operationForMethod(req.Method)
	if err != nil {
		return nil, err
	}
	if !access.Permissions.Allows(req.EntityName, operation) {
		return nil, apperr.Permission("operation_not_allowed", "key may not %s %s", operation, req.EntityName)
	}

	headers, err := g.outboundHeaders(ctx, access)
	if err != nil {
		return nil, err
	}
	if len(req.Body) > 0 {
		headers.Set("Content-Type", "application/json")
	}

	version := access.SystemService.ODataVersion
	target := access.ServiceRoot() + "/" + odata.EntityPath(req.EntityName, req.Key)
	if query := odata.TranslateQuery(req.Query, version).Encode(); query != "" {
		target += "?" + query
	}

	started := time.Now()
	resp, err := g.backend.Do(ctx, req.Method, target, headers, req.Body)
	metrics.ObserveBackendDuration(req.Method, time.Since(started))
	if err != nil {
		return nil, err
	}
	metrics.IncProxiedRequest(req.Method, resp.StatusCode)
	if resp.StatusCode >= 400 {
		return nil, backend.StatusError(resp.StatusCode, resp.Body)
	}

	body := resp.Body
	if !req.RawResponse && req.StripMetadata {
		body = odata.Normalize(body, version)
	}
	return &ProxyResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// ExecuteBatch runs a grouped request. Structural validation happens
// before the permission gate, and the permission gate covers every
// operation before any dispatch so a partially-authorized batch never
// touches the backend.
func (g *Gateway) ExecuteBatch(ctx context.Context, access *ResolvedAccess, atomic bool, ops []BatchInput) ([]BatchResult, error) {
	if len(ops) < batchMinOperations || len(ops) > batchMaxOperations {
		return nil, apperr.Validation("batch_size", "batch must carry between %d and %d operations, got %d", batchMinOperations, batchMaxOperations, len(ops))
	}
	var malformed []string
	for i, op := range ops {
		if _, ok := operationMethods[op.Operation]; !ok {
			malformed = append(malformed, fmt.Sprintf("operation %d: unknown method %q", i, op.Operation))
		}
		if op.Entity == "" {
			malformed = append(malformed, fmt.Sprintf("operation %d: no entity", i))
		}
	}
	if len(malformed) > 0 {
		err := apperr.Validation("batch_operation", "%d of %d operations malformed", len(malformed), len(ops))
		err.Details = malformed
		return nil, err
	}

	var violations []string
	for i, op := range ops {
		if !access.Permissions.Allows(op.Entity, op.Operation) {
			violations = append(violations, fmt.Sprintf("operation %d: %s %s", i, op.Operation, op.Entity))
		}
	}
	if len(violations) > 0 {
		err := apperr.Permission("operation_not_allowed", "%d of %d operations not permitted", len(violations), len(ops))
		err.Details = violations
		return nil, err
	}

	headers, err := g.outboundHeaders(ctx, access)
	if err != nil {
		return nil, err
	}

	metrics.ObserveBatchSize(len(ops))
	if atomic {
		return g.executeAtomic(ctx, access, headers, ops), nil
	}
	return g.executeSequential(ctx, access, headers, ops), nil
}

// executeSequential dispatches each operation on its own; one failure
// is recorded in its slot and the rest keep going.
func (g *Gateway) executeSequential(ctx context.Context, access *ResolvedAccess, headers http.Header, ops []BatchInput) []BatchResult {
	version := access.SystemService.ODataVersion
	results := make([]BatchResult, len(ops))

	for i, op := range ops {
		target := access.ServiceRoot() + "/" + odata.EntityPath(op.Entity, op.Key)
		opHeaders := headers.Clone()
		if len(op.Data) > 0 {
			opHeaders.Set("Content-Type", "application/json")
		}

		resp, err := g.backend.Do(ctx, operationMethods[op.Operation], target, opHeaders, op.Data)
		if err != nil {
			results[i] = failedResult(err)
			continue
		}
		if resp.StatusCode >= 400 {
			results[i] = failedResult(backend.StatusError(resp.StatusCode, resp.Body))
			continue
		}
		results[i] = BatchResult{
			Success: true,
			Status:  resp.StatusCode,
			Data:    odata.Normalize(resp.Body, version),
		}
	}
	return results
}

// executeAtomic frames every operation into one changeset. Any failed
// part, a short response or a transport error means the backend rolled
// the whole changeset back, so the failure fans out to every slot.
func (g *Gateway) executeAtomic(ctx context.Context, access *ResolvedAccess, headers http.Header, ops []BatchInput) []BatchResult {
	version := access.SystemService.ODataVersion

	batchOps := make([]odata.BatchOperation, len(ops))
	for i, op := range ops {
		batchOps[i] = odata.BatchOperation{
			Method: operationMethods[op.Operation],
			Path:   odata.EntityPath(op.Entity, op.Key),
			Body:   op.Data,
		}
	}
	changeset := odata.BuildChangeset(batchOps)

	batchHeaders := headers.Clone()
	batchHeaders.Set("Content-Type", changeset.ContentType)

	resp, err := g.backend.Do(ctx, http.MethodPost, access.ServiceRoot()+"/$batch", batchHeaders, changeset.Body)
	if err != nil {
		return fanOutFailure(len(ops), err)
	}
	if resp.StatusCode >= 400 {
		return fanOutFailure(len(ops), backend.StatusError(resp.StatusCode, resp.Body))
	}

	parts, err := odata.ParseBatchResponse(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return fanOutFailure(len(ops), apperr.Network("unreadable batch response: %v", err))
	}

	for _, part := range parts {
		if part.StatusCode >= 400 {
			return fanOutFailure(len(ops), backend.StatusError(part.StatusCode, part.Body))
		}
	}
	if len(parts) < len(ops) {
		return fanOutFailure(len(ops), apperr.Network("backend answered %d of %d operations", len(parts), len(ops)))
	}

	results := make([]BatchResult, len(ops))
	for i := range ops {
		results[i] = BatchResult{
			Success: true,
			Status:  parts[i].StatusCode,
			Data:    odata.Normalize(parts[i].Body, version),
		}
	}
	return results
}

func failedResult(err error) BatchResult {
	appErr := apperr.FromError(err)
	return BatchResult{
		Success: false,
		Status:  appErr.HTTPStatus(),
		Error:   appErr,
	}
}

func fanOutFailure(n int, err error) []BatchResult {
	results := make([]BatchResult, n)
	for i := range results {
		results[i] = failedResult(err)
	}
	return results
}

// Schema fetches and parses $metadata for the resolved service and
// projects the typed shapes, cached per instance-service binding.
func (g *Gateway) Schema(ctx context.Context, access *ResolvedAccess) (*SchemaResult, error) {
	cacheKey := schemaCachePrefix + access.InstanceService.ID
	if cached, err := g.cache.Get(ctx, cacheKey); err == nil {
		result := &SchemaResult{}
		if err := json.Unmarshal(cached, result); err == nil {
			return result, nil
		}
	}

	metrics.IncSchemaCacheMiss()

	headers, err := g.outboundHeaders(ctx, access)
	if err != nil {
		return nil, err
	}
	headers.Set("Accept", "application/xml")

	resp, err := g.metadata.Do(ctx, http.MethodGet, access.ServiceRoot()+"/$metadata", headers, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Network("metadata fetch failed with status %d for %s", resp.StatusCode, access.SystemService.Alias)
	}

	schema, err := odata.ParseMetadata(resp.Body)
	if err != nil {
		return nil, apperr.Server("metadata document unparseable: %v", err)
	}

	result := &SchemaResult{Schema: schema, Types: odata.ExtractTypes(schema)}
	if encoded, err := json.Marshal(result); err == nil {
		if err := g.cache.Set(ctx, cacheKey, encoded, g.schemaTTL); err != nil {
			logrus.WithError(err).Warn("Failed to cache parsed schema")
		}
	}
	return result, nil
}

// LogRequest records the call in the audit sink without ever blocking
// or failing the response path.
func (g *Gateway) LogRequest(ctx context.Context, log *entity.RequestLog) {
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, 5*time.Second)
		defer cancel()
		if err := g.logs.Insert(ctx, log); err != nil {
			logrus.WithError(err).Warn("Failed to write request log")
		}
	}()
}

func (g *Gateway) outboundHeaders(ctx context.Context, access *ResolvedAccess) (http.Header, error) {
	resolved, err := g.auth.Resolve(ctx, Chain(access)...)
	if err != nil {
		return nil, err
	}
	headers, err := g.auth.BuildHeaders(ctx, resolved, access.ServiceRoot())
	if err != nil {
		return nil, err
	}
	headers.Set("Accept", "application/json")
	return headers, nil
}

func operationForMethod(method string) (string, error) {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		return entity.OpRead, nil
	case http.MethodPost:
		return entity.OpCreate, nil
	case http.MethodPatch, http.MethodPut, "MERGE":
		return entity.OpUpdate, nil
	case http.MethodDelete:
		return entity.OpDelete, nil
	default:
		return "", apperr.Validation("unsupported_method", "method %s is not supported", method)
	}
}
