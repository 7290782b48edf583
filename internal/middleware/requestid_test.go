package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/ping", func(c *gin.Context) {
		id, _ := c.Get(RequestIDKey)
		c.JSON(http.StatusOK, gin.H{"request_id": id})
	})
	return router
}

func TestRequestID_Generated(t *testing.T) {
	router := newTestRouter()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got == "" {
		t.Error("response has no X-Request-ID header")
	}
}

func TestRequestID_InboundReused(t *testing.T) {
	router := newTestRouter()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "upstream-id-42")
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "upstream-id-42" {
		t.Errorf("X-Request-ID = %q, want upstream-id-42", got)
	}
}
