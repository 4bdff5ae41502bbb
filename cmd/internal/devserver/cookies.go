package devserver

import (
	"net/http"
	"strings"
	"time"
)

// setWebSessionCookies sets the HttpOnly access and refresh cookies and a
// fresh script-readable CSRF cookie.
func (s *Server) setWebSessionCookies(w http.ResponseWriter, access string, accessExp time.Time, refresh string, refreshExp time.Time) error {
	csrf, err := opaqueToken(32)
	if err != nil {
		return err
	}
	s.setCookie(w, s.cfg.AccessCookie, access, accessExp, true)
	s.setCookie(w, s.cfg.RefreshCookie, refresh, refreshExp, true)
	s.setCookie(w, s.cfg.CSRFCookie, csrf, refreshExp, false)
	return nil
}

func (s *Server) clearWebSessionCookies(w http.ResponseWriter) {
	s.expireCookie(w, s.cfg.AccessCookie, true)
	s.expireCookie(w, s.cfg.RefreshCookie, true)
	s.expireCookie(w, s.cfg.CSRFCookie, false)
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, exp time.Time, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     s.cfg.CookiePath,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   s.cfg.CookieSecure,
		SameSite: s.cfg.SameSite,
	})
}

func (s *Server) expireCookie(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     s.cfg.CookiePath,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   s.cfg.CookieSecure,
		SameSite: s.cfg.SameSite,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func (s *Server) csrfDoubleSubmitValid(r *http.Request) bool {
	return secureStringEqual(cookieValue(r, s.cfg.CSRFCookie), strings.TrimSpace(r.Header.Get(s.cfg.CSRFHeader)))
}

func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
