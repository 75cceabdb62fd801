package service

import (
	"github.com/vibast-solutions/ms-go-session-auth/app/entity"

	"github.com/sirupsen/logrus"
)

// RouteAccess is the access requirement declared for a route. An empty Roles
// set on a protected route admits any authenticated role.
type RouteAccess struct {
	Public bool
	Roles  []entity.Role
}

func PublicRoute() RouteAccess {
	return RouteAccess{Public: true}
}

func ProtectedRoute(roles ...entity.Role) RouteAccess {
	return RouteAccess{Roles: roles}
}

func (a RouteAccess) Permits(role entity.Role) bool {
	if len(a.Roles) == 0 {
		return true
	}
	for _, allowed := range a.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// Guard makes access decisions from access tokens alone. It never reads the
// user store or the refresh slot.
type Guard struct {
	tokens *TokenService
}

func NewGuard(tokens *TokenService) *Guard {
	return &Guard{tokens: tokens}
}

// Authorize returns nil claims and no error for public routes.
func (g *Guard) Authorize(accessToken string, access RouteAccess) (*Claims, error) {
	if access.Public {
		return nil, nil
	}
	if accessToken == "" {
		return nil, ErrUnauthorized
	}

	claims, err := g.tokens.Verify(TokenKindAccess, accessToken)
	if err != nil {
		logrus.WithError(err).Debug("Access token rejected")
		return nil, ErrUnauthorized
	}
	if !access.Permits(claims.Role) {
		return nil, ErrForbidden
	}
	return claims, nil
}
