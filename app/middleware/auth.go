package middleware

import (
	"errors"
	"net/http"
	"strings"

	httpdto "github.com/vibast-solutions/ms-go-session-auth/app/dto/http"
	"github.com/vibast-solutions/ms-go-session-auth/app/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	AccessTokenCookie = "access_token"

	ContextUserID = "user_id"
	ContextRole   = "user_role"
	ContextClaims = "claims"
)

type accessAuthorizer interface {
	Authorize(accessToken string, access service.RouteAccess) (*service.Claims, error)
}

type AuthMiddleware struct {
	guard accessAuthorizer
}

func NewAuthMiddleware(guard accessAuthorizer) *AuthMiddleware {
	return &AuthMiddleware{guard: guard}
}

// Require guards a route with the given access declaration. The access token
// is read from the access_token cookie, then from a Bearer header.
func (m *AuthMiddleware) Require(access service.RouteAccess) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if access.Public {
				return next(c)
			}

			claims, err := m.guard.Authorize(AccessTokenFromRequest(c), access)
			if err != nil {
				if errors.Is(err, service.ErrForbidden) {
					logrus.WithField("path", c.Path()).Debug("Access denied: role not permitted")
					return c.JSON(http.StatusForbidden, httpdto.ErrorResponse{Error: "forbidden"})
				}
				logrus.WithField("path", c.Path()).Debug("Access denied: missing or invalid token")
				return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
			}

			c.Set(ContextUserID, claims.UserID)
			c.Set(ContextRole, claims.Role)
			c.Set(ContextClaims, claims)

			return next(c)
		}
	}
}

func AccessTokenFromRequest(c echo.Context) string {
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	parts := strings.Fields(c.Request().Header.Get(echo.HeaderAuthorization))
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}
