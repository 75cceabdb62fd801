package dto

import (
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
)

// UserSummary is the user projection handed out of the service layer. It
// never carries the password or refresh token hashes.
type UserSummary struct {
	ID          uint64
	FirstName   string
	LastName    string
	Email       string
	Role        entity.Role
	AvatarURL   string
	IsOAuthUser bool
	CreatedAt   time.Time
}

func NewUserSummary(user *entity.User) UserSummary {
	return UserSummary{
		ID:          user.ID,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Email:       user.Email,
		Role:        user.Role,
		AvatarURL:   user.AvatarURL.String,
		IsOAuthUser: user.IsOAuthUser,
		CreatedAt:   user.CreatedAt,
	}
}

type SessionTokens struct {
	AccessToken  string
	RefreshToken string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

type AuthResult struct {
	User   UserSummary
	Tokens SessionTokens
}
