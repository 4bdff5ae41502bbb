package devserver

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	t.Parallel()
	p := testConfig().Argon2

	enc, err := hashPassword(p, "correct horse battery")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(enc, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Fatalf("encoding=%q", enc)
	}

	ok, err := verifyPassword(p, enc, "correct horse battery")
	if err != nil || !ok {
		t.Fatalf("verify match: ok=%v err=%v", ok, err)
	}
	ok, err = verifyPassword(p, enc, "wrong horse battery")
	if err != nil || ok {
		t.Fatalf("verify mismatch: ok=%v err=%v", ok, err)
	}
}

func TestVerifyRejectsMalformedAndCostly(t *testing.T) {
	t.Parallel()
	p := testConfig().Argon2

	cases := []string{
		"",
		"$bcrypt$v=19$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=999999,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$a2V5a2V5a2V5a2V5a2V5",
	}
	for _, enc := range cases {
		if _, err := verifyPassword(p, enc, "x"); !errors.Is(err, errInvalidHash) {
			t.Fatalf("%q: err=%v", enc, err)
		}
	}
}

func TestPasswordPolicy(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	if err := checkPasswordPolicy(cfg, "short"); !errors.Is(err, errWeakPassword) {
		t.Fatalf("short: %v", err)
	}
	if err := checkPasswordPolicy(cfg, "        "); !errors.Is(err, errWeakPassword) {
		t.Fatalf("blank: %v", err)
	}
	if err := checkPasswordPolicy(cfg, "long enough"); err != nil {
		t.Fatalf("ok: %v", err)
	}
}
