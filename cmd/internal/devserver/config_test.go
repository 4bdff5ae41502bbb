package devserver

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	t.Parallel()
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("WAYFARER_DEV_ACCESS_TTL", "2m")
	t.Setenv("WAYFARER_DEV_COOKIE_SAMESITE", "strict")
	t.Setenv("WAYFARER_DEV_WS_ORIGINS", "localhost:5173, example.com")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.AccessTTL != 2*time.Minute || cfg.SameSite != http.SameSiteStrictMode {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(cfg.WSOriginPatterns) != 2 || cfg.WSOriginPatterns[1] != "example.com" {
		t.Fatalf("origins=%v", cfg.WSOriginPatterns)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	t.Setenv("WAYFARER_DEV_COOKIE_SAMESITE", "none")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("SameSite=None without secure cookies: err=%v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no issuer", func(c *Config) { c.Issuer = " " }},
		{"refresh shorter than access", func(c *Config) { c.RefreshTTL = time.Minute; c.AccessTTL = time.Hour }},
		{"no csrf header", func(c *Config) { c.CSRFHeader = "" }},
		{"min above max", func(c *Config) { c.PasswordMinLength = 500 }},
		{"tiny salt", func(c *Config) { c.Argon2.SaltLength = 4 }},
		{"no collections", func(c *Config) { c.Collections = nil }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
	}
}

func TestPasetoSecretFromHex(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.PasetoSecretHex = "zz"
	if _, err := New(cfg, WithLogger(quietLogger())); !errors.Is(err, ErrConfig) {
		t.Fatalf("bad key: err=%v", err)
	}
}
