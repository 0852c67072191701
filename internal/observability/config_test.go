package observability

import (
	nethttp "net/http"
	"net/http/httptest"
	"testing"
)

func TestRegisterHonorsToggle(t *testing.T) {
	mux := nethttp.NewServeMux()
	if Register(mux, Config{}) {
		t.Fatalf("expected pprof to stay disabled by default")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/debug/pprof/", nil))
	if rec.Code != nethttp.StatusNotFound {
		t.Fatalf("expected 404 when disabled, got %d", rec.Code)
	}

	mux = nethttp.NewServeMux()
	if !Register(mux, Config{EnablePprofTrace: true}) {
		t.Fatalf("expected pprof to register")
	}
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/debug/pprof/", nil))
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("expected pprof index, got %d", rec.Code)
	}
}
