package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrWeakPassword       = errors.New("password does not meet policy requirements")
	ErrTooManyRequests    = errors.New("too many requests")
	ErrEmailNotVerified   = errors.New("identity provider email is not verified")
)

// RateLimitError is returned when the login limiter rejects an attempt.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrTooManyRequests, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrTooManyRequests
}
