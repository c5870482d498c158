package adminapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeInfo struct{}

func (fakeInfo) Info() map[string]interface{} {
	return map[string]interface{}{"dbsize": 0, "used_memory": 0}
}

func TestHealthzReturnsOK(t *testing.T) {
	s := New(":0", prometheus.NewRegistry(), fakeInfo{}, []byte(`{}`))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestDebugInfoReturnsProviderData(t *testing.T) {
	s := New(":0", prometheus.NewRegistry(), fakeInfo{}, []byte(`{}`))

	req := httptest.NewRequest(http.MethodGet, "/debug/info", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected a non-empty JSON body")
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(":0", reg, fakeInfo{}, []byte(`{}`))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSwaggerDocJSONServesProvidedDocument(t *testing.T) {
	doc := []byte(`{"swagger":"2.0"}`)
	s := New(":0", prometheus.NewRegistry(), fakeInfo{}, doc)

	req := httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != string(doc) {
		t.Fatalf("expected %q, got %q", doc, rec.Body.String())
	}
}
