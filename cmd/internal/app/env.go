package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Values are read with surrounding space trimmed; an empty value counts as
// unset. Lookup* report a set but unusable value as *EnvError so strict
// loaders can refuse it. Env* fall back to the default instead.

// EnvError reports an environment variable that is set but unusable.
type EnvError struct {
	Key   string
	Value string
	Want  string
}

func (e *EnvError) Error() string {
	return fmt.Sprintf("%s=%q: want %s", e.Key, e.Value, e.Want)
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// LookupBool parses a strconv.ParseBool value.
func LookupBool(key string) (bool, bool, error) {
	v, ok := lookup(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, true, &EnvError{Key: key, Value: v, Want: "a boolean"}
	}
	return b, true, nil
}

// LookupInt parses a positive integer.
func LookupInt(key string) (int, bool, error) {
	v, ok := lookup(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, true, &EnvError{Key: key, Value: v, Want: "a positive integer"}
	}
	return n, true, nil
}

// LookupFloat parses a non-negative number; zero usually means "off".
func LookupFloat(key string) (float64, bool, error) {
	v, ok := lookup(key)
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, true, &EnvError{Key: key, Value: v, Want: "a non-negative number"}
	}
	return f, true, nil
}

// LookupDuration parses a positive Go duration such as "15s".
func LookupDuration(key string) (time.Duration, bool, error) {
	v, ok := lookup(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, true, &EnvError{Key: key, Value: v, Want: "a positive duration"}
	}
	return d, true, nil
}

func envOr[T any](parse func(string) (T, bool, error), key string, def T) T {
	v, ok, err := parse(key)
	if !ok || err != nil {
		return def
	}
	return v
}

// EnvString reads a string env var with a default.
func EnvString(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func EnvBool(key string, def bool) bool { return envOr(LookupBool, key, def) }

func EnvInt(key string, def int) int { return envOr(LookupInt, key, def) }

func EnvDuration(key string, def time.Duration) time.Duration {
	return envOr(LookupDuration, key, def)
}
