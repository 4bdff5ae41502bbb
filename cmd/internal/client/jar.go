package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// FileJar is a cookie jar that survives process restarts. Cookies pass through
// a regular cookiejar.Jar for matching rules; every Set-Cookie is also
// recorded and written to path so the next process can replay it.
type FileJar struct {
	jar  *cookiejar.Jar
	path string
	log  *slog.Logger
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]storedCookie
}

type storedCookie struct {
	URL      string        `json:"url"`
	Name     string        `json:"name"`
	Value    string        `json:"value"`
	Path     string        `json:"path,omitempty"`
	Domain   string        `json:"domain,omitempty"`
	Expires  time.Time     `json:"expires,omitempty"`
	Secure   bool          `json:"secure,omitempty"`
	HttpOnly bool          `json:"http_only,omitempty"`
	SameSite http.SameSite `json:"same_site,omitempty"`
}

// NewJar returns an in-memory jar using the public suffix list.
func NewJar() (*cookiejar.Jar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// NewFileJar loads path (if present) and returns a jar persisting to it.
func NewFileJar(path string, log *slog.Logger) (*FileJar, error) {
	if log == nil {
		log = slog.Default()
	}
	jar, err := NewJar()
	if err != nil {
		return nil, err
	}
	j := &FileJar{jar: jar, path: path, log: log, now: time.Now, entries: map[string]storedCookie{}}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *FileJar) Cookies(u *url.URL) []*http.Cookie { return j.jar.Cookies(u) }

func (j *FileJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)

	now := j.now()
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		key := cookieKey(u, c)
		expires := c.Expires
		if c.MaxAge > 0 {
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		if c.MaxAge < 0 || (!expires.IsZero() && !expires.After(now)) {
			delete(j.entries, key)
			continue
		}
		j.entries[key] = storedCookie{
			URL:      (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String(),
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			SameSite: c.SameSite,
		}
	}
	if err := j.saveLocked(); err != nil {
		j.log.Warn("client.jar.save_failed", "path", j.path, "err", err)
	}
}

// Clear drops every cookie, in memory and on disk.
func (j *FileJar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, s := range j.entries {
		u, err := url.Parse(s.URL)
		if err != nil {
			continue
		}
		j.jar.SetCookies(u, []*http.Cookie{{Name: s.Name, Path: s.Path, Domain: s.Domain, MaxAge: -1}})
	}
	j.entries = map[string]storedCookie{}
	return j.saveLocked()
}

func cookieKey(u *url.URL, c *http.Cookie) string {
	domain := c.Domain
	if domain == "" {
		domain = u.Hostname()
	}
	return domain + "|" + c.Path + "|" + c.Name
}

func (j *FileJar) load() error {
	b, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cookie file: %w", err)
	}
	var stored []storedCookie
	if err := json.Unmarshal(b, &stored); err != nil {
		return fmt.Errorf("decode cookie file: %w", err)
	}

	now := j.now()
	for _, s := range stored {
		if !s.Expires.IsZero() && !s.Expires.After(now) {
			continue
		}
		u, err := url.Parse(s.URL)
		if err != nil {
			continue
		}
		c := &http.Cookie{
			Name:     s.Name,
			Value:    s.Value,
			Path:     s.Path,
			Domain:   s.Domain,
			Expires:  s.Expires,
			Secure:   s.Secure,
			HttpOnly: s.HttpOnly,
			SameSite: s.SameSite,
		}
		j.jar.SetCookies(u, []*http.Cookie{c})
		j.entries[cookieKey(u, c)] = s
	}
	return nil
}

func (j *FileJar) saveLocked() error {
	stored := make([]storedCookie, 0, len(j.entries))
	for _, s := range j.entries {
		stored = append(stored, s)
	}
	b, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return err
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, j.path)
}
