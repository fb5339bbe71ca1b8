package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/config"
	"github.com/KAsare1/Fintrack-server/db/dbtest"
	"github.com/KAsare1/Fintrack-server/ratelimit"
)

func newTestServer(t *testing.T, authLimit int, trusted ...netip.Prefix) http.Handler {
	t.Helper()
	cfg := &config.Config{
		TrustedProxies:  trusted,
		Port:            "0",
		SecretKey:       "test-secret",
		EncryptionKey:   dbtest.Key,
		RateLimit:       100,
		RateLimitWindow: time.Minute,
		AuthRateLimit:   authLimit,
		CacheTTL:        time.Minute,
	}
	store := ratelimit.NewMemoryStore(time.Minute)
	t.Cleanup(store.Close)

	s := NewApiServer(cfg, dbtest.New(t), store)
	s.accessLog = io.Discard
	t.Cleanup(s.cache.Close)
	return s.Router()
}

func request(t *testing.T, h http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, 10)
	rr := request(t, h, "GET", "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Database != "ok" {
		t.Fatalf("health = %+v", body)
	}
}

func TestSessionFlowThroughMiddleware(t *testing.T) {
	h := newTestServer(t, 10)

	rr := request(t, h, "GET", "/api/v1/transactions", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "100" {
		t.Fatalf("rate limit headers missing: %v", rr.Header())
	}

	rr = request(t, h, "POST", "/api/v1/auth/register", `{"full_name":"Grace","email":"grace@example.com","password":"hopper1906"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", rr.Code, rr.Body.String())
	}
	var session *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == utils.SessionCookie {
			session = c
		}
	}
	if session == nil {
		t.Fatal("no session cookie")
	}

	rr = request(t, h, "POST", "/api/v1/transactions", `{"type":"expense","amount":"12.40","category":"Food","description":"Lunch","date":"2026-02-03"}`, session)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = request(t, h, "GET", "/api/v1/dashboard/summary?month=2&year=2026", "", session)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"formatted":"$12.40"`) {
		t.Fatalf("dashboard = %d %s", rr.Code, rr.Body.String())
	}

	rr = request(t, h, "GET", "/api/v1/transactions", "", &http.Cookie{Name: utils.SessionCookie, Value: "forged"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("forged token status = %d", rr.Code)
	}
}

func TestAuthRoutesHaveStricterLimit(t *testing.T) {
	h := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		rr := request(t, h, "POST", "/api/v1/auth/login", `{"email":"x@example.com","password":"whatever1"}`)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d", i, rr.Code)
		}
	}
	rr := request(t, h, "POST", "/api/v1/auth/login", `{"email":"x@example.com","password":"whatever1"}`)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("status = %d, headers = %v", rr.Code, rr.Header())
	}

	// The general limit still has room.
	if rr := request(t, h, "GET", "/api/v1/goals", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("goals status = %d", rr.Code)
	}
}

func login(t *testing.T, h http.Handler, remote, forwardedFor string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/auth/login", strings.NewReader(`{"email":"x@example.com","password":"whatever1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remote
	req.Header.Set("X-Forwarded-For", forwardedFor)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestForwardedForCannotResetTheLimit(t *testing.T) {
	h := newTestServer(t, 2)

	limited := 0
	for i := 0; i < 10; i++ {
		if login(t, h, "203.0.113.50:4000", fmt.Sprintf("198.51.100.%d", i+1)) == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 8 {
		t.Fatalf("%d of 10 attempts limited, want 8", limited)
	}
}

func TestTrustedProxyForwardsClientAddress(t *testing.T) {
	h := newTestServer(t, 2, netip.MustParsePrefix("10.0.0.0/8"))

	// Two clients behind the same proxy get separate budgets.
	for _, client := range []string{"198.51.100.1", "198.51.100.2"} {
		for i := 0; i < 2; i++ {
			if code := login(t, h, "10.0.0.5:4000", client); code != http.StatusUnauthorized {
				t.Fatalf("%s attempt %d status = %d", client, i, code)
			}
		}
		if code := login(t, h, "10.0.0.5:4000", client); code != http.StatusTooManyRequests {
			t.Fatalf("%s third attempt status = %d", client, code)
		}
	}
}

func TestRecoveredPanicAnswers500(t *testing.T) {
	cfg := &config.Config{SecretKey: "s", RateLimit: 1, RateLimitWindow: time.Minute, AuthRateLimit: 1, CacheTTL: time.Minute}
	s := NewApiServer(cfg, dbtest.New(t), ratelimit.NewMemoryStore(time.Minute))
	s.accessLog = io.Discard
	// A nil rate limit store panics inside the middleware chain.
	s.store = nil
	rr := request(t, s.Router(), "GET", "/api/v1/goals", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := &config.Config{
		SecretKey: "s", RateLimit: 10, RateLimitWindow: time.Minute, AuthRateLimit: 10, CacheTTL: time.Minute,
		CORSOrigins: []string{"https://app.example.com"},
	}
	s := NewApiServer(cfg, dbtest.New(t), ratelimit.NewMemoryStore(time.Minute))
	s.accessLog = io.Discard

	req := httptest.NewRequest("OPTIONS", "/api/v1/transactions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" ||
		rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("headers = %v", rr.Header())
	}
}
