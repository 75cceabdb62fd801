package types

import (
	"strings"

	"github.com/labstack/echo/v4"
)

type RegisterRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,max=72"`
	AvatarURL string `json:"avatar_url,omitempty" validate:"omitempty,http_url,max=2048"`
}

func NewRegisterRequestFromContext(ctx echo.Context) (*RegisterRequest, error) {
	var body RegisterRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.FirstName = strings.TrimSpace(body.FirstName)
	body.LastName = strings.TrimSpace(body.LastName)
	body.Email = strings.TrimSpace(body.Email)
	body.AvatarURL = strings.TrimSpace(body.AvatarURL)

	return &body, nil
}

func (r *RegisterRequest) Validate() error {
	return validateStruct(r)
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func NewLoginRequestFromContext(ctx echo.Context) (*LoginRequest, error) {
	var body LoginRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Email = strings.TrimSpace(body.Email)

	return &body, nil
}

func (r *LoginRequest) Validate() error {
	return validateStruct(r)
}

// RefreshRequest carries the refresh token in the body for clients that
// cannot send the refresh cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func NewRefreshRequestFromContext(ctx echo.Context) (*RefreshRequest, error) {
	var body RefreshRequest
	if ctx.Request().ContentLength > 0 {
		if err := ctx.Bind(&body); err != nil {
			return nil, err
		}
	}

	return &body, nil
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func NewForgotPasswordRequestFromContext(ctx echo.Context) (*ForgotPasswordRequest, error) {
	var body ForgotPasswordRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Email = strings.TrimSpace(body.Email)

	return &body, nil
}

func (r *ForgotPasswordRequest) Validate() error {
	return validateStruct(r)
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,max=72"`
}

func NewResetPasswordRequestFromContext(ctx echo.Context) (*ResetPasswordRequest, error) {
	var body ResetPasswordRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Token = strings.TrimSpace(body.Token)

	return &body, nil
}

func (r *ResetPasswordRequest) Validate() error {
	return validateStruct(r)
}
