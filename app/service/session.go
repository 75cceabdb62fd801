package service

import (
	"context"

	"github.com/vibast-solutions/ms-go-session-auth/app/dto"
	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
)

type sessionIssuer struct {
	userRepo userRepository
	tokens   *TokenService
}

// startSession issues a fresh pair and unconditionally replaces the stored
// refresh hash, ending any previous session.
func (s sessionIssuer) startSession(ctx context.Context, user *entity.User) (*dto.AuthResult, error) {
	pair, err := s.issuePair(user)
	if err != nil {
		return nil, err
	}
	if err = s.userRepo.SetRefreshTokenHash(ctx, user.ID, HashToken(pair.RefreshToken)); err != nil {
		return nil, err
	}

	return &dto.AuthResult{User: dto.NewUserSummary(user), Tokens: pair}, nil
}

func (s sessionIssuer) issuePair(user *entity.User) (dto.SessionTokens, error) {
	accessToken, err := s.tokens.IssueAccess(user.ID, user.Role)
	if err != nil {
		return dto.SessionTokens{}, err
	}
	refreshToken, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return dto.SessionTokens{}, err
	}

	return dto.SessionTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessTTL:    s.tokens.AccessTTL(),
		RefreshTTL:   s.tokens.RefreshTTL(),
	}, nil
}
