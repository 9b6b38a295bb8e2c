package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
)

func (h *Handler) tokenCookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	}
}

func (h *Handler) setTokenCookies(w http.ResponseWriter, p services.TokenPair) {
	http.SetCookie(w, h.tokenCookie(common.AccessTokenCookie, p.AccessToken, p.AccessTokenExpiresAt))
	http.SetCookie(w, h.tokenCookie(common.RefreshTokenCookie, p.RefreshToken, p.RefreshTokenExpiresAt))
}

func (h *Handler) clearTokenCookies(w http.ResponseWriter) {
	for _, name := range []string{common.AccessTokenCookie, common.RefreshTokenCookie} {
		c := h.tokenCookie(name, "", time.Unix(0, 0))
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}
