package devserver

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

var (
	errWeakPassword = errors.New("password does not meet policy")
	errInvalidHash  = errors.New("invalid password hash")
)

// hashPassword returns $argon2id$v=19$m=..,t=..,p=..$salt$key.
func hashPassword(p Argon2Params, password string) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// verifyPassword compares in constant time. Hashes whose cost exceeds twice
// the configured limits are refused.
func verifyPassword(limits Argon2Params, encoded, password string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return false, errInvalidHash
	}
	var mem, iter uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &par); err != nil {
		return false, errInvalidHash
	}
	if mem == 0 || iter == 0 || par == 0 || mem > limits.MemoryKiB*2 || iter > limits.Iterations*2 {
		return false, errInvalidHash
	}
	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) < 8 {
		return false, errInvalidHash
	}
	want, err := b64.DecodeString(parts[5])
	if err != nil || len(want) < 16 || len(want) > 128 {
		return false, errInvalidHash
	}

	got := argon2.IDKey([]byte(password), salt, iter, mem, par, uint32(len(want))) // #nosec G115 -- bounded above
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func checkPasswordPolicy(cfg Config, password string) error {
	n := utf8.RuneCountInString(password)
	if n < cfg.PasswordMinLength || n > cfg.PasswordMaxLength {
		return fmt.Errorf("%w: length must be %d..%d", errWeakPassword, cfg.PasswordMinLength, cfg.PasswordMaxLength)
	}
	if strings.TrimSpace(password) == "" {
		return errWeakPassword
	}
	return nil
}
