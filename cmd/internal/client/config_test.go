package client

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("WAYFARER_SERVER_URL", "https://api.example.com")
	t.Setenv("WAYFARER_TIMEOUT", "12s")
	t.Setenv("WAYFARER_RENEWAL_TIMEOUT", "3s")
	t.Setenv("WAYFARER_BEARER", "true")
	t.Setenv("WAYFARER_RATE_LIMIT", "2.5")
	t.Setenv("WAYFARER_RATE_BURST", "4")
	t.Setenv("WAYFARER_PROFILE", "work")
	t.Setenv("WAYFARER_LOGIN_VIEW", "/signin")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.BaseURL != "https://api.example.com" {
		t.Fatalf("BaseURL=%q", cfg.BaseURL)
	}
	if cfg.Timeout != 12*time.Second || cfg.RenewalTimeout != 3*time.Second {
		t.Fatalf("timeouts=%s/%s", cfg.Timeout, cfg.RenewalTimeout)
	}
	if !cfg.Bearer || cfg.RateLimit != 2.5 || cfg.RateBurst != 4 {
		t.Fatalf("unexpected transport settings: %+v", cfg)
	}
	if cfg.Profile != "work" || cfg.LoginView != "/signin" {
		t.Fatalf("profile=%q login=%q", cfg.Profile, cfg.LoginView)
	}
}

func TestLoadConfigFromEnvRejectsBadValues(t *testing.T) {
	cases := []struct {
		key, value string
	}{
		{"WAYFARER_SERVER_URL", "ftp://example.com"},
		{"WAYFARER_TIMEOUT", "soon"},
		{"WAYFARER_TIMEOUT", "-1s"},
		{"WAYFARER_RENEWAL_TIMEOUT", "0s"},
		{"WAYFARER_BEARER", "maybe"},
		{"WAYFARER_RATE_LIMIT", "-3"},
		{"WAYFARER_RATE_BURST", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("err=%v want ErrConfig", err)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"no host", func(c *Config) { c.BaseURL = "http://" }, false},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, false},
		{"zero renewal timeout", func(c *Config) { c.RenewalTimeout = 0 }, false},
		{"blank csrf header", func(c *Config) { c.CSRFHeader = " " }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrConfig) {
				t.Fatalf("err=%v want ErrConfig", err)
			}
		})
	}
}
