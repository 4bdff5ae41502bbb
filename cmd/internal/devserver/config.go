package devserver

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"wayfarer/cmd/internal/app"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("devserver: invalid config")

// DefaultCollections are the resource collections served under /{collection}.
var DefaultCollections = []string{
	"forums", "posts", "categories", "trivia", "travels", "messages",
	"notifications", "comments", "countries", "roles", "users",
}

// Argon2Params controls password hashing cost. MemoryKiB is in KiB.
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Config is the development backend's configuration.
type Config struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ClockSkew  time.Duration

	// Hex-encoded Ed25519 secret key for PASETO v4.public. Generated per
	// process when empty.
	PasetoSecretHex string
	// Key for hashing stored refresh tokens. Generated per process when empty.
	TokenHMACKey string

	AccessCookie  string
	RefreshCookie string
	CSRFCookie    string
	CSRFHeader    string
	CookiePath    string
	CookieSecure  bool
	SameSite      http.SameSite

	MaxBodyBytes      int64
	PasswordMinLength int
	PasswordMaxLength int
	Argon2            Argon2Params

	Collections []string

	WSOriginPatterns []string
	WSEventRate      float64
	WSEventBurst     int
}

// DefaultConfig returns settings suitable for local development.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads > 4 {
		threads = 4
	}
	if threads < 1 {
		threads = 1
	}
	return Config{
		Issuer:            "wayfarer-dev",
		AccessTTL:         15 * time.Minute,
		RefreshTTL:        30 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		AccessCookie:      "wayfarer_access",
		RefreshCookie:     "wayfarer_refresh",
		CSRFCookie:        "wayfarer_csrf",
		CSRFHeader:        "X-CSRF-Token",
		CookiePath:        "/",
		SameSite:          http.SameSiteLaxMode,
		MaxBodyBytes:      1 << 20,
		PasswordMinLength: 8,
		PasswordMaxLength: 256,
		Argon2: Argon2Params{
			MemoryKiB:   19 * 1024,
			Iterations:  2,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4]
			SaltLength:  16,
			KeyLength:   32,
		},
		Collections:  append([]string(nil), DefaultCollections...),
		WSEventRate:  12,
		WSEventBurst: 120,
	}
}

// LoadConfigFromEnv overlays WAYFARER_DEV_* variables on DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.Issuer = app.EnvString("WAYFARER_DEV_ISSUER", cfg.Issuer)
	cfg.AccessTTL = app.EnvDuration("WAYFARER_DEV_ACCESS_TTL", cfg.AccessTTL)
	cfg.RefreshTTL = app.EnvDuration("WAYFARER_DEV_REFRESH_TTL", cfg.RefreshTTL)
	cfg.ClockSkew = app.EnvDuration("WAYFARER_DEV_CLOCK_SKEW", cfg.ClockSkew)
	cfg.PasetoSecretHex = app.EnvString("WAYFARER_DEV_PASETO_SECRET_HEX", "")
	cfg.TokenHMACKey = app.EnvString("WAYFARER_DEV_TOKEN_HMAC_KEY", "")
	cfg.AccessCookie = app.EnvString("WAYFARER_DEV_ACCESS_COOKIE", cfg.AccessCookie)
	cfg.RefreshCookie = app.EnvString("WAYFARER_DEV_REFRESH_COOKIE", cfg.RefreshCookie)
	cfg.CSRFCookie = app.EnvString("WAYFARER_DEV_CSRF_COOKIE", cfg.CSRFCookie)
	cfg.CSRFHeader = app.EnvString("WAYFARER_DEV_CSRF_HEADER", cfg.CSRFHeader)
	cfg.CookieSecure = app.EnvBool("WAYFARER_DEV_COOKIE_SECURE", cfg.CookieSecure)
	cfg.PasswordMinLength = app.EnvInt("WAYFARER_DEV_PASSWORD_MIN_LEN", cfg.PasswordMinLength)

	switch strings.ToLower(app.EnvString("WAYFARER_DEV_COOKIE_SAMESITE", "lax")) {
	case "lax":
		cfg.SameSite = http.SameSiteLaxMode
	case "strict":
		cfg.SameSite = http.SameSiteStrictMode
	case "none":
		cfg.SameSite = http.SameSiteNoneMode
	default:
		return Config{}, fmt.Errorf("%w: WAYFARER_DEV_COOKIE_SAMESITE must be lax, strict or none", ErrConfig)
	}
	if raw := app.EnvString("WAYFARER_DEV_WS_ORIGINS", ""); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.WSOriginPatterns = append(cfg.WSOriginPatterns, p)
			}
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Issuer) == "":
		return fmt.Errorf("%w: issuer is required", ErrConfig)
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0:
		return fmt.Errorf("%w: token ttls must be positive", ErrConfig)
	case c.RefreshTTL < c.AccessTTL:
		return fmt.Errorf("%w: refresh ttl shorter than access ttl", ErrConfig)
	case c.AccessCookie == "" || c.RefreshCookie == "" || c.CSRFCookie == "" || c.CSRFHeader == "":
		return fmt.Errorf("%w: cookie and header names are required", ErrConfig)
	case c.SameSite == http.SameSiteNoneMode && !c.CookieSecure:
		return fmt.Errorf("%w: SameSite=None requires secure cookies", ErrConfig)
	case c.PasswordMinLength <= 0 || c.PasswordMinLength > c.PasswordMaxLength:
		return fmt.Errorf("%w: password length bounds", ErrConfig)
	case c.Argon2.MemoryKiB == 0 || c.Argon2.Iterations == 0 || c.Argon2.Parallelism == 0:
		return fmt.Errorf("%w: argon2 parameters must be positive", ErrConfig)
	case c.Argon2.SaltLength < 8 || c.Argon2.KeyLength < 16:
		return fmt.Errorf("%w: argon2 salt or key too short", ErrConfig)
	case len(c.Collections) == 0:
		return fmt.Errorf("%w: at least one collection is required", ErrConfig)
	}
	return nil
}
