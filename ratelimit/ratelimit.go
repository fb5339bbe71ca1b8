// Package ratelimit implements a fixed-window request limiter keyed by
// client IP. The in-memory store is per process; RedisStore shares counters
// between instances.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/gorilla/handlers"
)

// Store counts hits per key within a window.
type Store interface {
	// Increment adds one hit and returns the count in the current window
	// and when that window ends.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// New creates a limiter allowing limit requests per window. prefix keeps
// counters of different limiters apart in a shared store.
func New(store Store, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window, prefix: prefix, now: time.Now}
}

// Result describes the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	count, resetAt, err := l.store.Increment(ctx, l.prefix+":"+key, l.window)
	if err != nil {
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit}, err
	}
	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Middleware rejects over-limit clients with 429. Store failures let the
// request through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := l.Allow(r.Context(), ClientIP(r))
		if err != nil {
			slog.Warn("rate limiter store failed", "limiter", l.prefix, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			retry := int(math.Ceil(res.ResetAt.Sub(l.now()).Seconds()))
			if retry < 1 {
				retry = 1
			}
			h.Set("Retry-After", strconv.Itoa(retry))
			utils.RespondWithError(w, r, utils.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ProxyHeaders applies handlers.ProxyHeaders only to requests whose socket
// peer is one of the trusted proxies. Anyone else could pick a new
// X-Forwarded-For per request and never hit the limit, so their headers are
// ignored and RemoteAddr stays the peer address.
func ProxyHeaders(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		proxied := handlers.ProxyHeaders(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if trustedPeer(r.RemoteAddr, trusted) {
				proxied.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func trustedPeer(remoteAddr string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ClientIP(&http.Request{RemoteAddr: remoteAddr}))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the host part of RemoteAddr, which ProxyHeaders has
// already rewritten when the request came through a trusted proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
