package backend_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/michal-majer/s4kit-gateway/app/apperr"
	"github.com/michal-majer/s4kit-gateway/app/backend"
)

func TestClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test") != "yes" {
			t.Errorf("missing forwarded header")
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := backend.NewClient(5*time.Second, 1024)
	headers := http.Header{}
	headers.Set("X-Test", "yes")

	resp, err := client.Do(context.Background(), http.MethodGet, server.URL, headers, nil)
	if err != nil {
		t.Fatalf("do failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != `{"ok":true}` {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestClient_TimeoutClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := backend.NewClient(20*time.Millisecond, 1024)
	_, err := client.Do(context.Background(), http.MethodGet, server.URL, nil, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	appErr := apperr.FromError(err)
	if appErr.Category != apperr.CategoryTimeout {
		t.Fatalf("expected timeout category, got %s", appErr.Category)
	}
}

func TestClient_NetworkErrorClassified(t *testing.T) {
	client := backend.NewClient(time.Second, 1024)
	_, err := client.Do(context.Background(), http.MethodGet, "http://127.0.0.1:1", nil, nil)
	if err == nil {
		t.Fatal("expected network error")
	}
	appErr := apperr.FromError(err)
	if appErr.Category != apperr.CategoryNetwork {
		t.Fatalf("expected network category, got %s", appErr.Category)
	}
}

func TestClient_ResponseCeiling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	client := backend.NewClient(time.Second, 1024)
	_, err := client.Do(context.Background(), http.MethodGet, server.URL, nil, nil)
	if err == nil {
		t.Fatal("expected error for oversized response")
	}
	if !strings.Contains(err.Error(), "ceiling") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStatusError_Mapping(t *testing.T) {
	v2Body := []byte(`{"error":{"message":{"value":"partner does not exist"}}}`)

	err := backend.StatusError(http.StatusNotFound, v2Body)
	if err.Category != apperr.CategoryNotFound || !strings.Contains(err.Message, "partner does not exist") {
		t.Fatalf("unexpected error: %#v", err)
	}

	if err := backend.StatusError(http.StatusUnauthorized, nil); err.Category != apperr.CategoryAuthConfig {
		t.Fatalf("expected auth-config category, got %s", err.Category)
	}
	if err := backend.StatusError(http.StatusBadGateway, nil); err.Category != apperr.CategoryNetwork {
		t.Fatalf("expected network category, got %s", err.Category)
	}
	if err := backend.StatusError(http.StatusBadRequest, []byte(`{"error":{"message":"bad filter"}}`)); err.Category != apperr.CategoryValidation {
		t.Fatalf("expected validation category, got %s", err.Category)
	}
}
