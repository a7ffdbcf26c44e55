package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/restaurant-identity/models"
	"github.com/upb/restaurant-identity/services/ratelimit"
	"github.com/upb/restaurant-identity/utils"
	"go.uber.org/zap"
)

type recordingAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (r *recordingAudit) Record(log *models.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
}

type failingStore struct{}

func (failingStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func newLimiter(t *testing.T, store ratelimit.Store, max int) *ratelimit.Limiter {
	t.Helper()
	limiter, err := ratelimit.NewLimiter(store, []ratelimit.Tier{{
		Name:    ratelimit.TierLogin,
		Window:  15 * time.Minute,
		Max:     max,
		Message: "Too many login attempts from this IP address. Please try again after 15 minutes.",
	}}, nil, zap.NewNop())
	require.NoError(t, err)
	return limiter
}

func TestRateLimitStage(t *testing.T) {
	logger := zap.NewNop()
	rec := &recordingAudit{}
	limiter := newLimiter(t, ratelimit.NewMemoryStore(logger), 2)
	h := NewPipeline(logger, writeTestError, RateLimit(limiter, ratelimit.TierLogin, rec, logger)).Then(okHandler())

	send := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	first := send("10.0.0.1:1234")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("RateLimit-Remaining"))
	assert.NotEmpty(t, first.Header().Get("RateLimit-Reset"))

	second := send("10.0.0.1:5678")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("RateLimit-Remaining"))

	third := send("10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))
	assert.Equal(t, "0", third.Header().Get("RateLimit-Remaining"))
	assert.Equal(t, "Too many login attempts from this IP address. Please try again after 15 minutes.", decodeMessage(t, third))

	other := send("10.0.0.2:1234")
	assert.Equal(t, http.StatusOK, other.Code)

	require.Len(t, rec.logs, 1)
	assert.Equal(t, models.AuditActionRateLimited, rec.logs[0].Action)
	assert.Equal(t, "10.0.0.1", rec.logs[0].IPAddress)
}

func TestRateLimitStage_StoreFailureAllowsRequest(t *testing.T) {
	logger := zap.NewNop()
	limiter := newLimiter(t, failingStore{}, 1)
	h := NewPipeline(logger, writeTestError, RateLimit(limiter, ratelimit.TierLogin, nil, logger)).Then(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("RateLimit-Limit"))
	}
}

func TestValidateStage(t *testing.T) {
	logger := zap.NewNop()

	var got *utils.RegisterRequest
	h := NewPipeline(logger, writeTestError, Validate[utils.RegisterRequest]("register")).
		ThenFunc(func(w http.ResponseWriter, r *http.Request) {
			body, ok := RequestBody[utils.RegisterRequest](r.Context())
			require.True(t, ok)
			got = body
			w.WriteHeader(http.StatusCreated)
		})

	t.Run("valid body is normalized into context", func(t *testing.T) {
		body := `{"firstName":" John ","lastName":"Doe","email":" John@Example.com","password":"Password123"}`
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body)))

		assert.Equal(t, http.StatusCreated, w.Code)
		require.NotNil(t, got)
		assert.Equal(t, "John", got.FirstName)
		assert.Equal(t, "john@example.com", got.Email)
	})

	t.Run("every violation is reported", func(t *testing.T) {
		body := `{"firstName":"J","email":"nope","password":"short"}`
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp utils.ErrorResponse
		require.NoError(t, jsonDecode(w, &resp))
		assert.Equal(t, "Validation failed", resp.Message)
		var fields []string
		for _, v := range resp.Errors {
			fields = append(fields, v.Field)
		}
		assert.Equal(t, []string{"firstName", "lastName", "email", "password"}, fields)
	})

	t.Run("empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/register", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(`{"firstName":`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp utils.ErrorResponse
		require.NoError(t, jsonDecode(w, &resp))
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, "body", resp.Errors[0].Field)
	})

	t.Run("body over the limit", func(t *testing.T) {
		limited := MaxBytes(16)(h)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(`{"firstName":"`+strings.Repeat("x", 64)+`"}`))
		req.ContentLength = -1
		w := httptest.NewRecorder()
		limited.ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestIPAllowlistStage(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name       string
		allowed    []string
		remoteAddr string
		expected   int
	}{
		{"empty list allows all", nil, "203.0.113.9:4000", http.StatusOK},
		{"listed address", []string{"10.0.0.1", "10.0.0.2"}, "10.0.0.2:4000", http.StatusOK},
		{"unlisted address", []string{"10.0.0.1"}, "203.0.113.9:4000", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPipeline(logger, writeTestError, IPAllowlist(tt.allowed, logger)).Then(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/api/auth/users/1", nil)
			req.RemoteAddr = tt.remoteAddr
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.expected, w.Code)
			if tt.expected == http.StatusForbidden {
				assert.Equal(t, "Access denied from this IP address", decodeMessage(t, w))
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
}

func TestMaxBytes_DeclaredLength(t *testing.T) {
	h := MaxBytes(8)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 32)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "Request entity too large", decodeMessage(t, w))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small"))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.RemoteAddr = "192.0.2.1"
	assert.Equal(t, "192.0.2.1", ClientIP(req))
}

func TestTrustedProxies(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	seen := func(mw func(http.Handler) http.Handler, remote string, headers map[string]string) string {
		var ip string
		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip = ClientIP(r)
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		return ip
	}

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"untrusted peer keeps socket address", "192.0.2.1:1234", map[string]string{"X-Real-IP": "203.0.113.7", "X-Forwarded-For": "203.0.113.7"}, "192.0.2.1"},
		{"trusted peer without headers", "10.0.0.5:1234", nil, "10.0.0.5"},
		{"trusted peer forwards client", "10.0.0.5:1234", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "203.0.113.7"},
		{"rightmost untrusted hop wins", "10.0.0.5:1234", map[string]string{"X-Forwarded-For": "198.51.100.1, 203.0.113.7, 10.0.0.9"}, "203.0.113.7"},
		{"real ip fallback", "10.0.0.5:1234", map[string]string{"X-Real-IP": "203.0.113.8"}, "203.0.113.8"},
		{"garbage header ignored", "10.0.0.5:1234", map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.0.0.5"},
		{"ipv6 peer", "[2001:db8::1]:1234", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, seen(TrustedProxies(proxies), tt.remote, tt.headers))
		})
	}

	t.Run("no proxies configured", func(t *testing.T) {
		got := seen(TrustedProxies(nil), "10.0.0.5:1234", map[string]string{"X-Forwarded-For": "203.0.113.7"})
		assert.Equal(t, "10.0.0.5", got)
	})
}

func TestRequestMeta(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("User-Agent", "curl/8.0")

	meta := RequestMeta(req)
	assert.Equal(t, "192.0.2.1", meta.IPAddress)
	assert.Equal(t, "curl/8.0", meta.UserAgent)
}

func TestStageNames(t *testing.T) {
	assert.Equal(t, "validate:login", Validate[utils.LoginRequest]("login").Name())
	assert.Equal(t, "ratelimit:login", RateLimit(nil, ratelimit.TierLogin, nil, zap.NewNop()).Name())
}
