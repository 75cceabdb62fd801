package controller

import (
	"net/http"
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/dto"
	"github.com/vibast-solutions/ms-go-session-auth/app/middleware"
	"github.com/vibast-solutions/ms-go-session-auth/config"

	"github.com/labstack/echo/v4"
)

const RefreshTokenCookie = "refresh_token"

// SessionCookies writes the session pair as HttpOnly cookies.
type SessionCookies struct {
	cfg config.CookieConfig
}

func NewSessionCookies(cfg config.CookieConfig) *SessionCookies {
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = "/auth/refresh"
	}
	return &SessionCookies{cfg: cfg}
}

func (s *SessionCookies) Set(ctx echo.Context, tokens dto.SessionTokens) {
	ctx.SetCookie(s.cookie(middleware.AccessTokenCookie, tokens.AccessToken, "/", tokens.AccessTTL))
	ctx.SetCookie(s.cookie(RefreshTokenCookie, tokens.RefreshToken, s.cfg.RefreshPath, tokens.RefreshTTL))
}

func (s *SessionCookies) Clear(ctx echo.Context) {
	ctx.SetCookie(s.cookie(middleware.AccessTokenCookie, "", "/", -1))
	ctx.SetCookie(s.cookie(RefreshTokenCookie, "", s.cfg.RefreshPath, -1))
}

func (s *SessionCookies) cookie(name, value, path string, ttl time.Duration) *http.Cookie {
	maxAge := int(ttl.Seconds())
	if ttl < 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   s.cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
