package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/latticefort/dp-query-service/internal/config"
	"github.com/latticefort/dp-query-service/internal/services/tshaper"
)

func TestTimingShaperFloorsElapsedTimeOnError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	shaper := tshaper.New(config.ServerConfig{TimeAttackMethod: config.TimeAttackStall, TimeAttackMagnitude: 50 * time.Millisecond})

	r := gin.New()
	r.Use(TimingShaper(shaper))
	r.GET("/boom", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nope"})
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	w := httptest.NewRecorder()

	start := time.Now()
	r.ServeHTTP(w, req)
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Fatalf("expected the error response to be floored to the shaper's stall magnitude, took %s", elapsed)
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected handler's own status to survive, got %d", w.Code)
	}
}

func TestTimingShaperNilShaperIsNoop(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(TimingShaper(nil))
	r.GET("/ok", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("nil shaper should not block the response")
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}
