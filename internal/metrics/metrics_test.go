package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.PaymentVerified("successful")
	m.PaymentVerified("successful")
	m.PaymentVerified("auth_failed")
	m.DraftStaged()

	if got := testutil.ToFloat64(m.verifications.WithLabelValues("successful")); got != 2 {
		t.Errorf("Expected 2 successful verifications, got %v", got)
	}
	if got := testutil.ToFloat64(m.draftsStaged); got != 1 {
		t.Errorf("Expected 1 staged draft, got %v", got)
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.PaymentVerified("successful")
	m.Notification("email", "sent")
	m.GatewayCall("ok", 0)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 from nil handler, got %d", w.Code)
	}
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `checkout_http_requests_total{code="200",method="GET",route="/ping"} 1`) {
		t.Errorf("Expected request counter for /ping in output")
	}
}
