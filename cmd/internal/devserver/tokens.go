package devserver

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

var errInvalidToken = errors.New("invalid token")

type accessClaims struct {
	UserID     string
	SessionID  string
	Generation int64
	ExpiresAt  time.Time
}

// accessTokens issues and verifies PASETO v4.public access tokens.
type accessTokens struct {
	issuer string
	ttl    time.Duration
	skew   time.Duration
	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

func newAccessTokens(cfg Config) (*accessTokens, error) {
	var secret paseto.V4AsymmetricSecretKey
	if cfg.PasetoSecretHex == "" {
		secret = paseto.NewV4AsymmetricSecretKey()
	} else {
		k, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoSecretHex)
		if err != nil {
			return nil, fmt.Errorf("%w: paseto secret: %v", ErrConfig, err)
		}
		secret = k
	}
	return &accessTokens{
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTTL,
		skew:   cfg.ClockSkew,
		secret: secret,
		public: secret.Public(),
	}, nil
}

func (m *accessTokens) issue(userID, sessionID string, gen int64, now time.Time) (string, time.Time) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	_ = tok.Set("uid", userID)
	_ = tok.Set("sid", sessionID)
	_ = tok.Set("gen", gen)

	return tok.V4Sign(m.secret, nil), exp
}

func (m *accessTokens) verify(token string, now time.Time) (accessClaims, error) {
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(now.Add(m.skew)))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return accessClaims{}, errInvalidToken
	}
	var c accessClaims
	if c.UserID, err = parsed.GetString("uid"); err != nil || c.UserID == "" {
		return accessClaims{}, errInvalidToken
	}
	if c.SessionID, err = parsed.GetString("sid"); err != nil || c.SessionID == "" {
		return accessClaims{}, errInvalidToken
	}
	if err := parsed.Get("gen", &c.Generation); err != nil {
		return accessClaims{}, errInvalidToken
	}
	c.ExpiresAt, _ = parsed.GetExpiration()
	return c, nil
}

// refreshHasher keys stored refresh tokens so a leaked store cannot be
// replayed.
type refreshHasher struct{ key []byte }

func newRefreshHasher(key string) (refreshHasher, error) {
	if key != "" {
		return refreshHasher{key: []byte(key)}, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return refreshHasher{}, err
	}
	return refreshHasher{key: b}, nil
}

func (h refreshHasher) hash(token string) string {
	m := hmac.New(sha256.New, h.key)
	_, _ = m.Write([]byte(token))
	return hex.EncodeToString(m.Sum(nil))
}

func opaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func secureStringEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
