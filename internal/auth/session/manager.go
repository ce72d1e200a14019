package session

import (
	"net/http"
	"strings"
	"time"
)

const DefaultCookieName = "_sid"

// Manager reads and writes the opaque session cookie.
type Manager struct {
	cookieName string
	secure     bool
}

func NewManager(cookieName string, secure bool) *Manager {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Manager{cookieName: cookieName, secure: secure}
}

func (m *Manager) CookieName() string { return m.cookieName }

// ReadToken returns the session token from the request cookie, or "".
func (m *Manager) ReadToken(r *http.Request) string {
	c, err := r.Cookie(m.cookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// Set writes the session cookie with an expiry matching the store record.
func (m *Manager) Set(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
