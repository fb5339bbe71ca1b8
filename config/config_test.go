package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"SERVER_PORT", "RATE_LIMIT", "RATE_LIMIT_WINDOW", "CACHE_TTL", "CORS_ORIGINS", "COOKIE_SECURE", "LOG_LEVEL", "AUTH_RATE_LIMIT", "SMTP_PORT", "TRUSTED_PROXIES"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.RateLimit != 100 || cfg.AuthRateLimit != 10 {
		t.Errorf("rate limits = %d/%d, want 100/10", cfg.RateLimit, cfg.AuthRateLimit)
	}
	if cfg.RateLimitWindow != time.Minute || cfg.CacheTTL != 5*time.Minute {
		t.Errorf("durations = %v/%v", cfg.RateLimitWindow, cfg.CacheTTL)
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure should default to true")
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Errorf("TrustedProxies = %v, want none", cfg.TrustedProxies)
	}
}

func TestLoadTrustedProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7 ,::1")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"10.0.0.0/8", "192.168.1.7/32", "::1/128"}
	if len(cfg.TrustedProxies) != len(want) {
		t.Fatalf("TrustedProxies = %v", cfg.TrustedProxies)
	}
	for i, p := range cfg.TrustedProxies {
		if p.String() != want[i] {
			t.Errorf("TrustedProxies[%d] = %s, want %s", i, p, want[i])
		}
	}

	t.Setenv("TRUSTED_PROXIES", "10.0.0.300")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for a malformed address")
	}
}

func TestLoadParsesValues(t *testing.T) {
	t.Setenv("CORS_ORIGINS", "http://localhost:3000, https://app.example.com ,")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://app.example.com" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.RateLimitWindow != 30*time.Second {
		t.Errorf("RateLimitWindow = %v", cfg.RateLimitWindow)
	}
	if cfg.CookieSecure {
		t.Error("CookieSecure should be false")
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("RATE_LIMIT", "-3")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative RATE_LIMIT")
	}
}

func TestRequireServer(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://x", SecretKey: "s"}
	if err := cfg.RequireServer(); err == nil {
		t.Fatal("expected missing ENCRYPTION_KEY error")
	}
	cfg.EncryptionKey = "k"
	if err := cfg.RequireServer(); err != nil {
		t.Fatal(err)
	}
}
