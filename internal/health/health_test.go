package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokalos/citydna/internal/lastgood"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var res result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := New(Checker{Name: "broken", Check: func(context.Context) error {
		return errors.New("down")
	}})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if res := decodeBody(t, rec); res.Status != "ok" {
		t.Errorf("status field = %q", res.Status)
	}
}

func TestReadyzAllPass(t *testing.T) {
	h := New(
		SnapshotStore(lastgood.NewMemoryStore()),
		Providers(2),
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	res := decodeBody(t, rec)
	if res.Checks["snapshots"] != "ok" || res.Checks["providers"] != "ok" {
		t.Errorf("checks = %v", res.Checks)
	}
}

func TestReadyzFailingCheck(t *testing.T) {
	h := New(
		Providers(0),
		Checker{Name: "custom", Check: func(context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	res := decodeBody(t, rec)
	if res.Status != "fail" {
		t.Errorf("status field = %q, want fail", res.Status)
	}
	if res.Checks["custom"] != "ok" {
		t.Errorf("passing check reported %q", res.Checks["custom"])
	}
}

func TestRegisterRoutes(t *testing.T) {
	mux := http.NewServeMux()
	New().Register(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
