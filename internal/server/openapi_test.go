package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleOpenAPI(t *testing.T) {
	h := handleOpenAPI()
	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	rec := httptest.NewRecorder()

	h(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected application/json, got %q", got)
	}

	body := rec.Body.String()
	for _, want := range []string{`"/healthz"`, `"/api/game/state"`, `"/api/game/answer"`, `"/api/shop/purchase"`, `"QuestHunt API"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s", want)
		}
	}
}

func TestDocsServed(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	rec := httptest.NewRecorder()

	e.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/html") {
		t.Fatalf("expected text/html, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), "/openapi.json") {
		t.Fatal("body missing /openapi.json")
	}
}
