package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestRespondOK(t *testing.T) {
	router := setupRouter()
	router.GET("/test", func(c *gin.Context) {
		RespondOK(c, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	if w.Code != http.StatusOK {
		t.Errorf("RespondOK() status = %v, want %v", w.Code, http.StatusOK)
	}
	var response map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("RespondOK() response status = %v, want ok", response["status"])
	}
}

func TestErrorResponders(t *testing.T) {
	tests := []struct {
		name       string
		respond    func(*gin.Context)
		wantStatus int
		wantCode   ErrorCode
	}{
		{"bad request", func(c *gin.Context) { RespondBadRequest(c, "x") }, http.StatusBadRequest, ErrCodeBadRequest},
		{"unauthorized", func(c *gin.Context) { RespondUnauthorized(c, "x") }, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"not found", func(c *gin.Context) { RespondNotFound(c, "x") }, http.StatusNotFound, ErrCodeNotFound},
		{"validation", func(c *gin.Context) { RespondValidationError(c, "x") }, http.StatusBadRequest, ErrCodeValidation},
		{"internal", func(c *gin.Context) { RespondInternalError(c, "x") }, http.StatusInternalServerError, ErrCodeInternal},
		{"unavailable", func(c *gin.Context) { RespondUnavailable(c, "x") }, http.StatusServiceUnavailable, ErrCodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter()
			router.GET("/test", tt.respond)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
			var response ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
				t.Fatalf("Failed to unmarshal response: %v", err)
			}
			if response.Error.Code != tt.wantCode || response.Error.Message != "x" {
				t.Errorf("error = %+v, want code %v", response.Error, tt.wantCode)
			}
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	router := setupRouter()
	router.GET("/secure", APIKeyAuth("secret"), func(c *gin.Context) { RespondOK(c, gin.H{}) })

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong key", HeaderAPIKey, "nope", http.StatusUnauthorized},
		{"header key", HeaderAPIKey, "secret", http.StatusOK},
		{"bearer token", "Authorization", "Bearer secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/secure", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %v, want %v", w.Code, tt.want)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	router := setupRouter()
	router.GET("/limited", RateLimit(2, time.Minute), func(c *gin.Context) { RespondOK(c, gin.H{}) })

	do := func(key string) int {
		req := httptest.NewRequest("GET", "/limited", nil)
		req.Header.Set(HeaderAPIKey, key)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if do("a") != http.StatusOK || do("a") != http.StatusOK {
		t.Fatal("requests within burst were rejected")
	}
	if got := do("a"); got != http.StatusTooManyRequests {
		t.Errorf("third request status = %v, want 429", got)
	}
	if got := do("b"); got != http.StatusOK {
		t.Errorf("other caller status = %v, want 200", got)
	}
}

func TestRateLimiter_Evicts(t *testing.T) {
	l := newRateLimiter(1, time.Minute)
	l.maxVisitors = 2
	now := time.Now()

	l.allow("a", now)
	l.allow("b", now.Add(time.Second))
	l.allow("c", now.Add(2*time.Second))

	if len(l.visitors) != 2 {
		t.Fatalf("visitors = %d, want 2", len(l.visitors))
	}
	if _, ok := l.visitors["a"]; ok {
		t.Error("oldest visitor was not evicted")
	}

	// Idle visitors are dropped wholesale.
	l.allow("d", now.Add(5*time.Minute))
	if len(l.visitors) != 1 {
		t.Errorf("visitors after idle eviction = %d, want 1", len(l.visitors))
	}
}

func TestRespondError_DerivesCode(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorCode
	}{
		{http.StatusTooManyRequests, ErrCodeRateLimitExceeded},
		{http.StatusNotFound, ErrCodeNotFound},
		{http.StatusTeapot, ErrCodeInternal},
	}
	for _, tt := range tests {
		router := setupRouter()
		router.GET("/test", func(c *gin.Context) {
			RespondError(c, tt.status, "", "x")
		})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		var response ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
			t.Fatalf("Failed to unmarshal response: %v", err)
		}
		if w.Code != tt.status || response.Error.Code != tt.want {
			t.Errorf("status %d: got %d/%v, want %v", tt.status, w.Code, response.Error.Code, tt.want)
		}
	}
}
