package controller_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/michal-majer/s4kit-gateway/app/backend"
	"github.com/michal-majer/s4kit-gateway/app/controller"
	"github.com/michal-majer/s4kit-gateway/app/entity"
	"github.com/michal-majer/s4kit-gateway/app/middleware"
	"github.com/michal-majer/s4kit-gateway/app/odata"
	"github.com/michal-majer/s4kit-gateway/app/secret"
	"github.com/michal-majer/s4kit-gateway/app/service"
	"github.com/michal-majer/s4kit-gateway/app/store"
)

type stubGrantRepo struct {
	bindings []*entity.GrantBinding
}

func (r *stubGrantRepo) FindBindingsByKey(_ context.Context, _ string) ([]*entity.GrantBinding, error) {
	return r.bindings, nil
}

type stubAuthConfigRepo struct{}

func (stubAuthConfigRepo) FindByID(_ context.Context, _ string) (*entity.AuthConfig, error) {
	return nil, nil
}

type stubLogSink struct {
	logs chan *entity.RequestLog
}

func (s *stubLogSink) Insert(_ context.Context, log *entity.RequestLog) error {
	if s.logs != nil {
		s.logs <- log
	}
	return nil
}

func testBinding(baseURL string, perms entity.EntityPermissions) *entity.GrantBinding {
	return &entity.GrantBinding{
		Grant:           entity.AccessGrant{ID: "grant-1", Permissions: perms},
		InstanceService: entity.InstanceService{ID: "is-1"},
		Instance: entity.Instance{
			ID: "inst-1", Environment: entity.EnvProduction, BaseURL: baseURL,
		},
		SystemService: entity.SystemService{
			ID: "svc-1", Alias: "bp", Path: "/svc", ODataVersion: odata.VersionV2,
		},
		System: entity.System{ID: "sys-1", OrganizationID: "org-1"},
	}
}

func newTestServer(t *testing.T, bindings ...*entity.GrantBinding) *echo.Echo {
	return newTestServerWithSink(t, &stubLogSink{}, bindings...)
}

func newTestServerWithSink(t *testing.T, sink *stubLogSink, bindings ...*entity.GrantBinding) *echo.Echo {
	t.Helper()

	cache := store.NewMemoryStore()
	access := service.NewAccessResolver(&stubGrantRepo{bindings: bindings}, cache, time.Minute)
	client := backend.NewClient(2*time.Second, 1<<20)
	auth := service.NewAuthResolver(stubAuthConfigRepo{}, secret.Plaintext{}, cache, client, time.Minute)
	gateway := service.NewGateway(auth, client, client, cache, time.Minute, sink)

	ctl := controller.NewGatewayController(access, gateway)

	e := echo.New()
	authenticate := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(middleware.ContextKeyAPIKey, &entity.APIKey{ID: "key-1", OrganizationID: "org-1"})
			return next(c)
		}
	}
	api := e.Group("/api", authenticate)
	api.POST("/batch", ctl.Batch)
	api.GET("/schema", ctl.Schema)
	api.Any("/*", ctl.Proxy)
	return e
}

func TestProxyResolvesServiceFromPath(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/svc/A_BusinessPartner(42)" {
			t.Errorf("unexpected backend path %s", req.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"d":{"__metadata":{"uri":"x"},"BusinessPartner":"42"}}`))
	}))
	defer backendSrv.Close()

	e := newTestServer(t, testBinding(backendSrv.URL, entity.EntityPermissions{"*": {"*"}}))

	req := httptest.NewRequest(http.MethodGet, "/api/bp/A_BusinessPartner(42)", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"d"`) {
		t.Fatalf("envelope must be stripped by default: %s", rec.Body.String())
	}
}

func TestProxyResolvesServiceFromEntity(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"d":{"results":[]}}`))
	}))
	defer backendSrv.Close()

	binding := testBinding(backendSrv.URL, entity.EntityPermissions{"*": {"*"}})
	binding.SystemService.EntityList = []string{"A_BusinessPartner"}
	e := newTestServer(t, binding)

	// One segment, no service header: the entity name selects the
	// service from the key's grants.
	req := httptest.NewRequest(http.MethodGet, "/api/A_BusinessPartner", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// The same request for an entity outside every grant must miss.
	req = httptest.NewRequest(http.MethodGet, "/api/A_Unknown", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for ungranted entity, got %d", rec.Code)
	}
}

func TestProxyUnknownServiceIs404(t *testing.T) {
	e := newTestServer(t, testBinding("http://127.0.0.1:1", entity.EntityPermissions{"*": {"*"}}))

	req := httptest.NewRequest(http.MethodGet, "/api/unknown/A_BusinessPartner", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error.Code != "service_not_found" {
		t.Fatalf("expected service_not_found, got %s", body.Error.Code)
	}
}

func TestProxyPermissionDeniedIs403(t *testing.T) {
	e := newTestServer(t, testBinding("http://127.0.0.1:1", entity.EntityPermissions{"A_BusinessPartner": {entity.OpRead}}))

	req := httptest.NewRequest(http.MethodDelete, "/api/bp/A_BusinessPartner(42)", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestProxyRawResponseHeader(t *testing.T) {
	raw := `{"d":{"__metadata":{"uri":"x"},"ok":true}}`
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(raw))
	}))
	defer backendSrv.Close()

	e := newTestServer(t, testBinding(backendSrv.URL, entity.EntityPermissions{"*": {"*"}}))

	req := httptest.NewRequest(http.MethodGet, "/api/bp/A_BusinessPartner", nil)
	req.Header.Set(controller.HeaderRawResponse, "true")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != raw {
		t.Fatalf("raw response must pass through, got %s", rec.Body.String())
	}
}

func TestBatchEndpointOrderedResults(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.Contains(req.URL.Path, "(2)") {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":{"value":"no such partner"}}}`))
			return
		}
		w.Write([]byte(`{"d":{"ok":true}}`))
	}))
	defer backendSrv.Close()

	e := newTestServer(t, testBinding(backendSrv.URL, entity.EntityPermissions{"*": {"*"}}))

	payload := `{"atomic":false,"operations":[
		{"method":"read","entity":"A_BusinessPartner","id":"1"},
		{"method":"read","entity":"A_BusinessPartner","id":"2"},
		{"method":"read","entity":"A_BusinessPartner","id":"3"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/batch", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(controller.HeaderService, "bp")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var response struct {
		Results []struct {
			Success bool `json:"success"`
			Error   *struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(response.Results) != 3 {
		t.Fatalf("expected three results, got %d", len(response.Results))
	}
	if !response.Results[0].Success || response.Results[1].Success || !response.Results[2].Success {
		t.Fatalf("expected [ok, fail, ok], got %+v", response.Results)
	}
	if response.Results[1].Error == nil || !strings.Contains(response.Results[1].Error.Message, "no such partner") {
		t.Fatalf("failed slot must carry the backend message: %+v", response.Results[1])
	}
}

func TestBatchRejectsBadOperation(t *testing.T) {
	e := newTestServer(t, testBinding("http://127.0.0.1:1", entity.EntityPermissions{"*": {"*"}}))

	payload := `{"operations":[{"method":"upsert","entity":"A_BusinessPartner"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/batch", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(controller.HeaderService, "bp")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSchemaRequiresServiceHeader(t *testing.T) {
	e := newTestServer(t, testBinding("http://127.0.0.1:1", entity.EntityPermissions{"*": {"*"}}))

	req := httptest.NewRequest(http.MethodGet, "/api/schema", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProxyRecordsRequestLog(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"d":{"BusinessPartner":"42"}}`))
	}))
	defer backendSrv.Close()

	sink := &stubLogSink{logs: make(chan *entity.RequestLog, 1)}
	e := newTestServerWithSink(t, sink, testBinding(backendSrv.URL, entity.EntityPermissions{"*": {"*"}}))

	req := httptest.NewRequest(http.MethodGet, "/api/bp/A_BusinessPartner(42)", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case log := <-sink.logs:
		if log.CreatedAt.IsZero() {
			t.Fatal("request log must carry a timestamp")
		}
		if log.Status != http.StatusOK || log.APIKeyID != "key-1" || log.ServiceID != "svc-1" {
			t.Fatalf("unexpected log record: %#v", log)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request log was never written")
	}
}
