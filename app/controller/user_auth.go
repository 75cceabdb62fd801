package controller

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/vibast-solutions/ms-go-session-auth/app/dto"
	httpdto "github.com/vibast-solutions/ms-go-session-auth/app/dto/http"
	"github.com/vibast-solutions/ms-go-session-auth/app/middleware"
	"github.com/vibast-solutions/ms-go-session-auth/app/service"
	"github.com/vibast-solutions/ms-go-session-auth/app/types"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const forgotPasswordMessage = "if the email is registered, a reset link has been sent"

type UserAuthController struct {
	userAuthService service.UserAuthService
	cookies         *SessionCookies
}

func NewUserAuthController(userAuthService service.UserAuthService, cookies *SessionCookies) *UserAuthController {
	return &UserAuthController{userAuthService: userAuthService, cookies: cookies}
}

func (c *UserAuthController) Register(ctx echo.Context) error {
	req, err := types.NewRegisterRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind register request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Register validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	logrus.WithField("email", req.Email).Info("Register request received")
	result, err := c.userAuthService.Register(ctx.Request().Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrUserExists) {
			logrus.WithField("email", req.Email).Warn("Register failed: user already exists")
			return ctx.JSON(http.StatusConflict, httpdto.ErrorResponse{Error: "user already exists"})
		}
		if errors.Is(err, service.ErrWeakPassword) {
			logrus.WithField("email", req.Email).Warn("Register failed: weak password")
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Register failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	logrus.WithFields(logrus.Fields{
		"user_id": result.User.ID,
		"email":   result.User.Email,
	}).Info("User registered")

	return c.writeSession(ctx, http.StatusCreated, "registration successful", result)
}

func (c *UserAuthController) Login(ctx echo.Context) error {
	req, err := types.NewLoginRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind login request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Login validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	logrus.WithField("email", req.Email).Info("Login request received")
	result, err := c.userAuthService.Login(ctx.Request().Context(), req, ctx.RealIP())
	if err != nil {
		var rlErr *service.RateLimitError
		if errors.As(err, &rlErr) {
			logrus.WithFields(logrus.Fields{"email": req.Email, "ip": ctx.RealIP()}).Warn("Login failed: rate limited")
			ctx.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rlErr.RetryAfter.Seconds()))))
			return ctx.JSON(http.StatusTooManyRequests, httpdto.ErrorResponse{Error: "too many login attempts, please try again later"})
		}
		if errors.Is(err, service.ErrInvalidCredentials) {
			logrus.WithField("email", req.Email).Warn("Login failed: invalid credentials")
			return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "invalid credentials"})
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Login failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	logrus.WithField("user_id", result.User.ID).Info("Login successful")
	return c.writeSession(ctx, http.StatusOK, "login successful", result)
}

func (c *UserAuthController) Refresh(ctx echo.Context) error {
	refreshToken := ""
	if cookie, err := ctx.Cookie(RefreshTokenCookie); err == nil {
		refreshToken = cookie.Value
	}
	if refreshToken == "" {
		req, err := types.NewRefreshRequestFromContext(ctx)
		if err != nil {
			logrus.WithError(err).Debug("Failed to bind refresh request")
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
		}
		refreshToken = req.RefreshToken
	}
	if refreshToken == "" {
		logrus.Debug("Refresh failed: no refresh token presented")
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
	}

	result, err := c.userAuthService.Refresh(ctx.Request().Context(), refreshToken)
	if err != nil {
		if errors.Is(err, service.ErrUnauthorized) {
			logrus.Warn("Refresh failed: token rejected")
			c.cookies.Clear(ctx)
			return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
		}
		logrus.WithError(err).Error("Refresh failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	logrus.WithField("user_id", result.User.ID).Info("Session refreshed")
	return c.writeSession(ctx, http.StatusOK, "session refreshed", result)
}

func (c *UserAuthController) Logout(ctx echo.Context) error {
	userID, ok := ctx.Get(middleware.ContextUserID).(uint64)
	if !ok {
		logrus.Warn("Logout failed: missing user_id in context")
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
	}

	logrus.WithField("user_id", userID).Info("Logout request received")
	if err := c.userAuthService.Logout(ctx.Request().Context(), userID); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Logout failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	c.cookies.Clear(ctx)
	logrus.WithField("user_id", userID).Info("Logout successful")
	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "logged out successfully"})
}

func (c *UserAuthController) ForgotPassword(ctx echo.Context) error {
	req, err := types.NewForgotPasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind forgot password request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Forgot password validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	logrus.Info("Password reset requested")
	if err = c.userAuthService.RequestPasswordReset(ctx.Request().Context(), req); err != nil {
		logrus.WithError(err).Error("Password reset request failed")
	}

	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: forgotPasswordMessage})
}

func (c *UserAuthController) ResetPassword(ctx echo.Context) error {
	req, err := types.NewResetPasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind reset password request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Reset password validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	logrus.Info("Reset password request received")
	if err = c.userAuthService.ResetPassword(ctx.Request().Context(), req); err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			logrus.Warn("Reset password failed: invalid token")
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid or expired token"})
		}
		if errors.Is(err, service.ErrWeakPassword) {
			logrus.Warn("Reset password failed: weak password")
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
		}
		logrus.WithError(err).Error("Reset password failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	logrus.Info("Password reset successful")
	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "password reset successfully"})
}

func (c *UserAuthController) Profile(ctx echo.Context) error {
	userID, ok := ctx.Get(middleware.ContextUserID).(uint64)
	if !ok {
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
	}

	profile, err := c.userAuthService.Profile(ctx.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			logrus.WithField("user_id", userID).Warn("Profile failed: user not found")
			return ctx.JSON(http.StatusNotFound, httpdto.ErrorResponse{Error: "user not found"})
		}
		logrus.WithError(err).WithField("user_id", userID).Error("Profile failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	return ctx.JSON(http.StatusOK, httpdto.ProfileResponse{User: httpdto.NewUserResponse(*profile)})
}

// RoleProbe answers role-restricted probe routes once the guard has let the
// caller through.
func (c *UserAuthController) RoleProbe(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "access granted"})
}

func (c *UserAuthController) writeSession(ctx echo.Context, status int, message string, result *dto.AuthResult) error {
	c.cookies.Set(ctx, result.Tokens)
	return ctx.JSON(status, httpdto.SessionResponse{
		Message:   message,
		User:      httpdto.NewUserResponse(result.User),
		ExpiresIn: int64(result.Tokens.AccessTTL.Seconds()),
	})
}
