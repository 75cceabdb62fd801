package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
	"github.com/vibast-solutions/ms-go-session-auth/app/service"
)

func TestGuard_PublicRouteBypassesToken(t *testing.T) {
	guard := service.NewGuard(service.NewTokenService(newTestConfig().JWT))

	claims, err := guard.Authorize("", service.PublicRoute())
	if err != nil || claims != nil {
		t.Fatalf("expected public bypass, got %+v %v", claims, err)
	}
	if _, err = guard.Authorize("garbage", service.PublicRoute()); err != nil {
		t.Fatalf("public route must not inspect the token, got %v", err)
	}
}

func TestGuard_ProtectedRoutes(t *testing.T) {
	tokens := service.NewTokenService(newTestConfig().JWT)
	guard := service.NewGuard(tokens)

	userToken, _ := tokens.IssueAccess(1, entity.RoleUser)
	adminToken, _ := tokens.IssueAccess(2, entity.RoleAdmin)
	refreshToken, _ := tokens.IssueRefresh(1)

	if _, err := guard.Authorize("", service.ProtectedRoute()); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for missing token, got %v", err)
	}
	if _, err := guard.Authorize(refreshToken, service.ProtectedRoute()); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for refresh token, got %v", err)
	}

	claims, err := guard.Authorize(userToken, service.ProtectedRoute())
	if err != nil || claims.UserID != 1 {
		t.Fatalf("expected any-role route to admit user, got %+v %v", claims, err)
	}

	if _, err = guard.Authorize(userToken, service.ProtectedRoute(entity.RoleAdmin)); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err = guard.Authorize(adminToken, service.ProtectedRoute(entity.RoleAdmin, entity.RoleVendor)); err != nil {
		t.Fatalf("expected admin to be admitted, got %v", err)
	}
}

func TestGuard_ExpiredToken(t *testing.T) {
	cfg := newTestConfig().JWT
	past := time.Now().Add(-time.Hour)
	issuer := service.NewTokenService(cfg, service.WithClock(func() time.Time { return past }))
	guard := service.NewGuard(service.NewTokenService(cfg))

	token, _ := issuer.IssueAccess(1, entity.RoleAdmin)
	if _, err := guard.Authorize(token, service.ProtectedRoute(entity.RoleAdmin)); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for expired token, got %v", err)
	}
}
