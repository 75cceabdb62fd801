package cmd

import (
	"github.com/vibast-solutions/ms-go-session-auth/app/controller"
	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
	"github.com/vibast-solutions/ms-go-session-auth/app/middleware"
	"github.com/vibast-solutions/ms-go-session-auth/app/service"

	"github.com/labstack/echo/v4"
)

type httpHandlers struct {
	auth     *controller.UserAuthController
	google   *controller.GoogleOAuthController
	health   *controller.HealthController
	guard    *middleware.AuthMiddleware
	throttle *middleware.Throttle
}

// registerHTTPRoutes declares every route with its access requirement.
func registerHTTPRoutes(e *echo.Echo, h httpHandlers) {
	e.GET("/health", h.health.Health)

	auth := e.Group("/auth")
	if h.throttle != nil {
		auth.Use(h.throttle.Middleware())
	}

	public := h.guard.Require(service.PublicRoute())
	auth.POST("/register", h.auth.Register, public)
	auth.POST("/login", h.auth.Login, public)
	auth.POST("/refresh", h.auth.Refresh, public)
	auth.POST("/forgot-password", h.auth.ForgotPassword, public)
	auth.POST("/reset-password", h.auth.ResetPassword, public)
	if h.google != nil {
		auth.GET("/google", h.google.Redirect, public)
		auth.GET("/google/callback", h.google.Callback, public)
	}

	anyRole := h.guard.Require(service.ProtectedRoute())
	auth.POST("/logout", h.auth.Logout, anyRole)
	auth.GET("/profile", h.auth.Profile, anyRole)

	auth.GET("/test", h.auth.RoleProbe, h.guard.Require(service.ProtectedRoute(entity.RoleUser)))
	auth.GET("/admin/ping", h.auth.RoleProbe, h.guard.Require(service.ProtectedRoute(entity.RoleAdmin)))
}
