package http

import (
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/dto"
)

type UserResponse struct {
	ID          uint64    `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	IsOAuthUser bool      `json:"is_oauth_user"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewUserResponse(user dto.UserSummary) UserResponse {
	return UserResponse{
		ID:          user.ID,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Email:       user.Email,
		Role:        string(user.Role),
		AvatarURL:   user.AvatarURL,
		IsOAuthUser: user.IsOAuthUser,
		CreatedAt:   user.CreatedAt,
	}
}

// SessionResponse is returned by register, login and refresh. Tokens travel
// in cookies only.
type SessionResponse struct {
	Message   string       `json:"message"`
	User      UserResponse `json:"user"`
	ExpiresIn int64        `json:"expires_in"`
}

type ProfileResponse struct {
	User UserResponse `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type AuthorizeResponse struct {
	Allowed bool   `json:"allowed"`
	UserID  uint64 `json:"user_id,omitempty"`
	Role    string `json:"role,omitempty"`
	Reason  string `json:"reason,omitempty"`
}
