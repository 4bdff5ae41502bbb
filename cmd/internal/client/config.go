package client

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"wayfarer/cmd/internal/app"
	"wayfarer/cmd/internal/credential"
	"wayfarer/cmd/internal/escalation"
	"wayfarer/cmd/internal/renewal"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid client config")

// Config defines the runtime configuration of a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.com.
	BaseURL string

	// Timeout bounds each HTTP exchange.
	Timeout time.Duration

	// RenewalTimeout bounds one session renewal. When it expires the whole
	// batch of waiting requests fails and the session is escalated.
	RenewalTimeout time.Duration

	CSRFCookie string
	CSRFHeader string

	// Bearer selects native-platform token transport instead of cookies.
	Bearer bool

	// RateLimit caps requests per second; 0 disables it.
	RateLimit float64
	RateBurst int

	// SessionStore locates the persisted session flag (see sessionflag.Open).
	SessionStore string
	// CookieFile persists the cookie jar between processes; empty keeps it in memory.
	CookieFile string
	Profile    string

	LoginView        string
	UserAgent        string
	MaxResponseBytes int64
}

// DefaultConfig returns a configuration suitable for local development.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "http://127.0.0.1:8080",
		Timeout:          30 * time.Second,
		RenewalTimeout:   renewal.DefaultTimeout,
		CSRFCookie:       credential.DefaultCSRFCookie,
		CSRFHeader:       credential.DefaultCSRFHeader,
		RateBurst:        10,
		Profile:          "default",
		LoginView:        escalation.DefaultLoginView,
		UserAgent:        "wayfarer-client",
		MaxResponseBytes: 4 << 20,
	}
}

// LoadConfigFromEnv loads client configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - WAYFARER_SERVER_URL
//   - WAYFARER_TIMEOUT
//   - WAYFARER_RENEWAL_TIMEOUT
//   - WAYFARER_CSRF_COOKIE, WAYFARER_CSRF_HEADER
//   - WAYFARER_BEARER
//   - WAYFARER_RATE_LIMIT, WAYFARER_RATE_BURST
//   - WAYFARER_SESSION_STORE, WAYFARER_COOKIE_FILE, WAYFARER_PROFILE
//   - WAYFARER_LOGIN_VIEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	text := map[string]*string{
		"WAYFARER_SERVER_URL":    &cfg.BaseURL,
		"WAYFARER_CSRF_COOKIE":   &cfg.CSRFCookie,
		"WAYFARER_CSRF_HEADER":   &cfg.CSRFHeader,
		"WAYFARER_SESSION_STORE": &cfg.SessionStore,
		"WAYFARER_COOKIE_FILE":   &cfg.CookieFile,
		"WAYFARER_PROFILE":       &cfg.Profile,
		"WAYFARER_LOGIN_VIEW":    &cfg.LoginView,
	}
	for key, dst := range text {
		*dst = app.EnvString(key, *dst)
	}

	if err := lookupInto(app.LookupDuration, "WAYFARER_TIMEOUT", &cfg.Timeout); err != nil {
		return Config{}, err
	}
	if err := lookupInto(app.LookupDuration, "WAYFARER_RENEWAL_TIMEOUT", &cfg.RenewalTimeout); err != nil {
		return Config{}, err
	}
	if err := lookupInto(app.LookupBool, "WAYFARER_BEARER", &cfg.Bearer); err != nil {
		return Config{}, err
	}
	if err := lookupInto(app.LookupFloat, "WAYFARER_RATE_LIMIT", &cfg.RateLimit); err != nil {
		return Config{}, err
	}
	if err := lookupInto(app.LookupInt, "WAYFARER_RATE_BURST", &cfg.RateBurst); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// lookupInto overwrites dst only when key is set and valid.
func lookupInto[T any](parse func(string) (T, bool, error), key string, dst *T) error {
	v, ok, err := parse(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if ok {
		*dst = v
	}
	return nil
}

// Validate checks invariants that New relies on.
func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base url %q", ErrConfig, c.BaseURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrConfig)
	}
	if c.RenewalTimeout <= 0 {
		return fmt.Errorf("%w: renewal timeout must be positive", ErrConfig)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: negative rate limit", ErrConfig)
	}
	if strings.TrimSpace(c.CSRFHeader) == "" || strings.TrimSpace(c.CSRFCookie) == "" {
		return fmt.Errorf("%w: csrf cookie and header names are required", ErrConfig)
	}
	return nil
}

