package security

import (
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	AccessCookieName   = "icc_admin_token"
	RefreshCookieName  = "icc_admin_refresh"
	VerifiedCookieName = "icc_admin_verified"

	VerifiedCookieTTL = 5 * time.Minute
	csrfCookieTTL     = 12 * time.Hour
)

// CookiePolicy decides Secure and Domain attributes per request.
type CookiePolicy struct {
	Domain     string
	Production bool
}

func (p CookiePolicy) secure(r *http.Request) bool {
	if p.Production || r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func (p CookiePolicy) domain(r *http.Request) string {
	if p.Domain == "" || isLocalHost(r.Host) {
		return ""
	}
	return p.Domain
}

func isLocalHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (p CookiePolicy) cookie(r *http.Request, name, value string, maxAge time.Duration, httpOnly bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   p.domain(r),
		HttpOnly: httpOnly,
		Secure:   p.secure(r),
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge / time.Second)
		c.Expires = time.Now().Add(maxAge)
	} else {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	}
	return c
}

// SetAuthCookies writes the access and refresh cookies and the short-lived verified flag.
func (p CookiePolicy) SetAuthCookies(w http.ResponseWriter, r *http.Request, accessToken, refreshToken string) {
	http.SetCookie(w, p.cookie(r, AccessCookieName, accessToken, AccessTokenTTL, true))
	if refreshToken != "" {
		http.SetCookie(w, p.cookie(r, RefreshCookieName, refreshToken, RefreshTokenTTL, true))
	}
	http.SetCookie(w, p.cookie(r, VerifiedCookieName, "1", VerifiedCookieTTL, false))
}

func (p CookiePolicy) SetAccessCookie(w http.ResponseWriter, r *http.Request, accessToken string) {
	http.SetCookie(w, p.cookie(r, AccessCookieName, accessToken, AccessTokenTTL, true))
}

func (p CookiePolicy) SetRefreshCookie(w http.ResponseWriter, r *http.Request, refreshToken string) {
	http.SetCookie(w, p.cookie(r, RefreshCookieName, refreshToken, RefreshTokenTTL, true))
}

// ClearAuthCookies expires both auth cookies.
func (p CookiePolicy) ClearAuthCookies(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, p.cookie(r, AccessCookieName, "", 0, true))
	http.SetCookie(w, p.cookie(r, RefreshCookieName, "", 0, true))
}

// SetCSRFCookie is readable by scripts so the client can echo it in X-CSRF-Token.
func (p CookiePolicy) SetCSRFCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, p.cookie(r, CSRFCookieName, token, csrfCookieTTL, false))
}

func CookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
