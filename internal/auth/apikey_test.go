package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyMiddleware(apiKey))
	r.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		serverKey  string
		header     string
		value      string
		wantStatus int
	}{
		{"auth disabled", "", "", "", http.StatusOK},
		{"missing key", "secret", "", "", http.StatusUnauthorized},
		{"wrong key", "secret", "X-API-Key", "nope", http.StatusForbidden},
		{"correct key", "secret", "X-API-Key", "secret", http.StatusOK},
		{"bearer fallback", "secret", "Authorization", "Bearer secret", http.StatusOK},
		{"wrong bearer", "secret", "Authorization", "Bearer nope", http.StatusForbidden},
		{"malformed bearer", "secret", "Authorization", "secret", http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(tc.serverKey)

			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Errorf("status = %d; want %d", w.Code, tc.wantStatus)
			}
		})
	}
}
