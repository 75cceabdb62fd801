package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/dto"
	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
	"github.com/vibast-solutions/ms-go-session-auth/app/repository"

	"github.com/sirupsen/logrus"
)

// ExternalIdentity is what an OAuth provider asserts about the user.
type ExternalIdentity struct {
	Provider      string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
	AvatarURL     string
}

type OAuthLinker interface {
	LoginWithIdentity(ctx context.Context, identity ExternalIdentity) (*dto.AuthResult, error)
}

type oauthLinker struct {
	sessionIssuer
}

// NewOAuthLinker links provider identities to local accounts by email and
// starts sessions the same way password login does.
func NewOAuthLinker(userRepo userRepository, tokens *TokenService) OAuthLinker {
	return &oauthLinker{
		sessionIssuer: sessionIssuer{userRepo: userRepo, tokens: tokens},
	}
}

func (l *oauthLinker) LoginWithIdentity(ctx context.Context, identity ExternalIdentity) (*dto.AuthResult, error) {
	email := repository.NormalizeEmail(identity.Email)
	if email == "" {
		return nil, ErrInvalidCredentials
	}
	if !identity.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	user, err := l.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	switch {
	case user == nil:
		user, err = l.createUser(ctx, email, identity)
		if err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{"user_id": user.ID, "provider": identity.Provider}).Info("Account created from OAuth identity")
	case !user.IsActive:
		return nil, ErrInvalidCredentials
	case !user.IsOAuthUser:
		if err = l.userRepo.MarkOAuthUser(ctx, user.ID); err != nil {
			return nil, err
		}
		user.IsOAuthUser = true
		logrus.WithFields(logrus.Fields{"user_id": user.ID, "provider": identity.Provider}).Info("OAuth identity linked to existing account")
	}

	return l.startSession(ctx, user)
}

func (l *oauthLinker) createUser(ctx context.Context, email string, identity ExternalIdentity) (*entity.User, error) {
	now := time.Now()
	user := &entity.User{
		FirstName:    strings.TrimSpace(identity.FirstName),
		LastName:     strings.TrimSpace(identity.LastName),
		Email:        email,
		Role:         entity.DefaultRole,
		IsActive:     true,
		IsOAuthUser:  true,
		TokenVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if identity.AvatarURL != "" {
		user.AvatarURL = sql.NullString{String: identity.AvatarURL, Valid: true}
	}

	err := l.userRepo.Create(ctx, user)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		// Lost a race with a concurrent first login for the same email.
		existing, findErr := l.userRepo.FindByEmail(ctx, email)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
