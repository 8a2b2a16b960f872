package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Load()
	logger := logging.NewNop()
	store := repository.NewMemoryStore()
	h := handlers.NewHandlers(
		service.NewDraftService(store, cfg, nil, logger),
		nil,
		service.NewHistoryService(store, nil, false, logger),
		cfg,
		logger,
	)
	return New(h, cfg, metrics.New(), logger)
}

func TestServer_Routes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/live", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/api/v2/orders/draft?user=nobody", http.StatusNotFound},
		{http.MethodGet, "/api/v2/orders/history?user=nobody", http.StatusOK},
		{http.MethodGet, "/api/v1/orders", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.Router().ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("status = %v, want %v", w.Code, tt.want)
			}
		})
	}
}

func TestServer_RequestIDAndMetrics(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.HeaderRequestID, "req-7")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if got := w.Header().Get(middleware.HeaderRequestID); got != "req-7" {
		t.Errorf("%s = %q, want %q", middleware.HeaderRequestID, got, "req-7")
	}

	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `route="/health"`) {
		t.Error("Expected /health to be recorded in the request metrics")
	}
}
