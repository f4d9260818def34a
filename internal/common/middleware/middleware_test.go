package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS())
	router.GET("/test", func(c *gin.Context) {
		c.String(200, "OK")
	})

	t.Run("GET request with CORS headers", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		router.ServeHTTP(w, req)

		assert.Equal(t, 200, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
		assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("OPTIONS preflight request", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("OPTIONS", "/test", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		router.ServeHTTP(w, req)

		assert.Equal(t, 204, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Restricted origins", func(t *testing.T) {
		restricted := gin.New()
		restricted.Use(CORS("https://idp.example.com"))
		restricted.GET("/test", func(c *gin.Context) {
			c.String(200, "OK")
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		restricted.ServeHTTP(w, req)

		assert.Equal(t, "https://idp.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		requestID, exists := c.Get("request_id")
		assert.True(t, exists)
		assert.NotEmpty(t, requestID)
		c.String(200, "OK")
	})

	t.Run("Generates request ID", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, 200, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("Uses provided request ID", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", "custom-request-id")
		router.ServeHTTP(w, req)

		assert.Equal(t, 200, w.Code)
		assert.Equal(t, "custom-request-id", w.Header().Get("X-Request-ID"))
	})
}

func newRateLimitRouter(t *testing.T, cfg RateLimitConfig) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	router := gin.New()
	router.Use(DistributedRateLimit(client, cfg, zap.NewNop()))
	router.GET("/scim/v2/Users", func(c *gin.Context) {
		c.String(200, "OK")
	})
	router.POST("/scim/v2/Users", func(c *gin.Context) {
		c.String(201, "OK")
	})
	router.GET("/health", func(c *gin.Context) {
		c.String(200, "OK")
	})
	return router, mr
}

func TestDistributedRateLimit(t *testing.T) {
	t.Run("Allows requests within limit", func(t *testing.T) {
		router, _ := newRateLimitRouter(t, RateLimitConfig{Requests: 5, Window: time.Minute})

		for i := 0; i < 5; i++ {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/scim/v2/Users", nil)
			req.RemoteAddr = "192.168.1.1:1234"
			router.ServeHTTP(w, req)

			assert.Equal(t, 200, w.Code, "Request %d should succeed", i+1)
		}
	})

	t.Run("Blocks requests exceeding limit", func(t *testing.T) {
		router, _ := newRateLimitRouter(t, RateLimitConfig{Requests: 3, Window: time.Minute})

		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/scim/v2/Users", nil)
			req.RemoteAddr = "192.168.1.1:1234"
			router.ServeHTTP(w, req)
			assert.Equal(t, 200, w.Code)
		}

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/scim/v2/Users", nil)
		req.RemoteAddr = "192.168.1.1:1234"
		router.ServeHTTP(w, req)

		assert.Equal(t, 429, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("Write tier is stricter", func(t *testing.T) {
		router, _ := newRateLimitRouter(t, RateLimitConfig{
			Requests:      10,
			Window:        time.Minute,
			WriteRequests: 1,
			WriteWindow:   time.Minute,
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/scim/v2/Users", nil)
		req.RemoteAddr = "192.168.1.1:1234"
		router.ServeHTTP(w, req)
		assert.Equal(t, 201, w.Code)

		w = httptest.NewRecorder()
		req, _ = http.NewRequest("POST", "/scim/v2/Users", nil)
		req.RemoteAddr = "192.168.1.1:1234"
		router.ServeHTTP(w, req)
		assert.Equal(t, 429, w.Code)

		// Read tier is unaffected
		w = httptest.NewRecorder()
		req, _ = http.NewRequest("GET", "/scim/v2/Users", nil)
		req.RemoteAddr = "192.168.1.1:1234"
		router.ServeHTTP(w, req)
		assert.Equal(t, 200, w.Code)
	})

	t.Run("Health endpoint is exempt", func(t *testing.T) {
		router, _ := newRateLimitRouter(t, RateLimitConfig{Requests: 1, Window: time.Minute})

		for i := 0; i < 5; i++ {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/health", nil)
			req.RemoteAddr = "192.168.1.1:1234"
			router.ServeHTTP(w, req)
			assert.Equal(t, 200, w.Code)
		}
	})

	t.Run("Fails open when Redis is down", func(t *testing.T) {
		router, mr := newRateLimitRouter(t, RateLimitConfig{Requests: 1, Window: time.Minute})
		mr.Close()

		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/scim/v2/Users", nil)
			req.RemoteAddr = "192.168.1.1:1234"
			router.ServeHTTP(w, req)
			assert.Equal(t, 200, w.Code)
		}
	})

	t.Run("Fails open with nil client", func(t *testing.T) {
		router := gin.New()
		router.Use(DistributedRateLimit(nil, RateLimitConfig{Requests: 1, Window: time.Minute}, zap.NewNop()))
		router.GET("/test", func(c *gin.Context) {
			c.String(200, "OK")
		})

		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/test", nil)
			router.ServeHTTP(w, req)
			assert.Equal(t, 200, w.Code)
		}
	})

	t.Run("Different IPs have separate limits", func(t *testing.T) {
		router, _ := newRateLimitRouter(t, RateLimitConfig{Requests: 2, Window: time.Minute})

		for i := 0; i < 2; i++ {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/scim/v2/Users", nil)
			req.RemoteAddr = "192.168.1.1:1234"
			router.ServeHTTP(w, req)
			assert.Equal(t, 200, w.Code)
		}

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/scim/v2/Users", nil)
		req.RemoteAddr = "192.168.1.2:1234"
		router.ServeHTTP(w, req)
		assert.Equal(t, 200, w.Code)
	})
}

func TestTimeout(t *testing.T) {
	t.Run("Request completes within timeout", func(t *testing.T) {
		router := gin.New()
		router.Use(Timeout(100 * time.Millisecond))
		router.GET("/test", func(c *gin.Context) {
			time.Sleep(10 * time.Millisecond)
			c.String(200, "OK")
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, 200, w.Code)
	})

	t.Run("Request exceeds timeout", func(t *testing.T) {
		router := gin.New()
		router.Use(Timeout(10 * time.Millisecond))
		router.GET("/test", func(c *gin.Context) {
			select {
			case <-time.After(50 * time.Millisecond):
				c.String(200, "OK")
			case <-c.Request.Context().Done():
				return
			}
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, 504, w.Code)
	})
}

func TestRecovery(t *testing.T) {
	t.Run("Recovers from panic", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery())
		router.GET("/test", func(c *gin.Context) {
			panic("test panic")
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)

		assert.NotPanics(t, func() {
			router.ServeHTTP(w, req)
		})

		assert.Equal(t, 500, w.Code)
	})

	t.Run("Normal request not affected", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery())
		router.GET("/test", func(c *gin.Context) {
			c.String(200, "OK")
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, 200, w.Code)
		assert.Equal(t, "OK", w.Body.String())
	})
}

func TestSecurityHeaders(t *testing.T) {
	t.Run("Base headers always set", func(t *testing.T) {
		router := gin.New()
		router.Use(SecurityHeaders(false))
		router.GET("/test", func(c *gin.Context) {
			c.String(200, "OK")
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
	})

	t.Run("Production adds HSTS and CSP", func(t *testing.T) {
		router := gin.New()
		router.Use(SecurityHeaders(true))
		router.GET("/test", func(c *gin.Context) {
			c.String(200, "OK")
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)

		assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
		assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
	})
}

// Benchmark tests
func BenchmarkCORS(b *testing.B) {
	router := gin.New()
	router.Use(CORS())
	router.GET("/test", func(c *gin.Context) {
		c.String(200, "OK")
	})

	req, _ := http.NewRequest("GET", "/test", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}

func BenchmarkRequestID(b *testing.B) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.String(200, "OK")
	})

	req, _ := http.NewRequest("GET", "/test", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
