package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ambassador-ledger/internal/authz"
	"ambassador-ledger/internal/cache"
	"ambassador-ledger/internal/features"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(cache.NewInMemoryCache(), 2, time.Minute, nil)
	fixed := time.Date(2024, 6, 1, 10, 0, 30, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }
	h := RateLimitMiddleware(limiter)(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/slabs", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("expected first two requests to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third request to be limited, got %d", codes[2])
	}

	// a different client has its own budget
	req := httptest.NewRequest(http.MethodGet, "/slabs", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected other client to pass, got %d", w.Code)
	}
}

func TestGetClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := GetClientKey(req); got != "203.0.113.9" {
		t.Errorf("expected first forwarded address, got %s", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := GetClientKey(req); got != "192.0.2.1" {
		t.Errorf("expected host of RemoteAddr, got %s", got)
	}
}

func TestMaintenanceMiddleware(t *testing.T) {
	flags := features.NewDefaultManager(false)
	h := MaintenanceMiddleware(flags)(okHandler())

	flags.Enable(features.FeatureMaintenanceMode)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/leads/1/confirm", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected write to be rejected, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slabs", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected read to pass, got %d", w.Code)
	}

	flags.Disable(features.FeatureMaintenanceMode)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/leads/1/confirm", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected write to pass after maintenance, got %d", w.Code)
	}
}

func TestActorMiddleware(t *testing.T) {
	var got authz.Actor
	h := ActorMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = authz.ActorFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "u-17")
	req.Header.Set(HeaderActorRole, authz.RoleCampusHead)
	req.Header.Set(HeaderActorCampus, "4")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.ID != "u-17" || got.Name != "u-17" || got.CampusID != 4 {
		t.Errorf("unexpected actor %+v", got)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "u-17")
	req.Header.Set(HeaderActorRole, authz.RoleCampusHead)
	req.Header.Set(HeaderActorCampus, "north")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad campus header, got %d", w.Code)
	}
}
