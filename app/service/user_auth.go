package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/dto"
	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
	"github.com/vibast-solutions/ms-go-session-auth/app/mail"
	"github.com/vibast-solutions/ms-go-session-auth/app/queue"
	"github.com/vibast-solutions/ms-go-session-auth/app/ratelimit"
	"github.com/vibast-solutions/ms-go-session-auth/app/repository"
	"github.com/vibast-solutions/ms-go-session-auth/app/types"
	"github.com/vibast-solutions/ms-go-session-auth/config"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// dummyPasswordHash is compared against when the email is unknown so that
// login timing does not reveal which accounts exist.
var dummyPasswordHash, _ = bcrypt.GenerateFromPassword([]byte("session-auth-dummy-password"), bcrypt.DefaultCost)

type userRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByID(ctx context.Context, id uint64) (*entity.User, error)
	SetRefreshTokenHash(ctx context.Context, userID uint64, hash string) error
	SwapRefreshTokenHash(ctx context.Context, userID uint64, expected, next string) (bool, error)
	ClearRefreshTokenHash(ctx context.Context, userID uint64) error
	ConsumePasswordReset(ctx context.Context, userID uint64, expectedVersion int, passwordHash string) (bool, error)
	MarkOAuthUser(ctx context.Context, userID uint64) error
}

type emailDispatcher interface {
	Enqueue(ctx context.Context, job queue.Job)
}

type UserAuthService interface {
	Register(ctx context.Context, req *types.RegisterRequest) (*dto.AuthResult, error)
	Login(ctx context.Context, req *types.LoginRequest, clientIP string) (*dto.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*dto.AuthResult, error)
	Logout(ctx context.Context, userID uint64) error
	RequestPasswordReset(ctx context.Context, req *types.ForgotPasswordRequest) error
	ResetPassword(ctx context.Context, req *types.ResetPasswordRequest) error
	Profile(ctx context.Context, userID uint64) (*dto.UserSummary, error)
}

type UserAuthServiceOption func(*userAuthService)

// WithBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) UserAuthServiceOption {
	return func(s *userAuthService) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

type userAuthService struct {
	sessionIssuer
	limiter    ratelimit.Limiter
	dispatcher emailDispatcher
	cfg        *config.Config
	bcryptCost int
}

func NewUserAuthService(
	userRepo userRepository,
	tokens *TokenService,
	limiter ratelimit.Limiter,
	dispatcher emailDispatcher,
	cfg *config.Config,
	opts ...UserAuthServiceOption,
) UserAuthService {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	svc := &userAuthService{
		sessionIssuer: sessionIssuer{userRepo: userRepo, tokens: tokens},
		limiter:       limiter,
		dispatcher:    dispatcher,
		cfg:           cfg,
		bcryptCost:    bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *userAuthService) Register(ctx context.Context, req *types.RegisterRequest) (*dto.AuthResult, error) {
	email := repository.NormalizeEmail(req.Email)

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	if err = s.cfg.Password.Policy.Validate(req.Password); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &entity.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        email,
		PasswordHash: string(hashedPassword),
		Role:         entity.DefaultRole,
		IsActive:     true,
		TokenVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.AvatarURL != "" {
		user.AvatarURL = sql.NullString{String: req.AvatarURL, Valid: true}
	}

	if err = s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	return s.startSession(ctx, user)
}

func (s *userAuthService) Login(ctx context.Context, req *types.LoginRequest, clientIP string) (*dto.AuthResult, error) {
	decision, err := s.limiter.CheckAndIncrement(ctx, LoginLimiterKey(clientIP, req.Email))
	if err != nil {
		logrus.WithError(err).Warn("Login rate limiter failed, allowing attempt")
	} else if !decision.Allowed {
		return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(req.Password))
		return nil, ErrInvalidCredentials
	}

	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	return s.startSession(ctx, user)
}

func (s *userAuthService) Refresh(ctx context.Context, refreshToken string) (*dto.AuthResult, error) {
	claims, err := s.tokens.Verify(TokenKindRefresh, refreshToken)
	if err != nil {
		logrus.WithError(err).Debug("Refresh token rejected")
		return nil, ErrUnauthorized
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive || !user.HasSession() {
		return nil, ErrUnauthorized
	}

	presented := HashToken(refreshToken)
	if user.HashedRefreshToken.String != presented {
		return nil, ErrUnauthorized
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, err
	}

	swapped, err := s.userRepo.SwapRefreshTokenHash(ctx, user.ID, presented, HashToken(pair.RefreshToken))
	if err != nil {
		return nil, err
	}
	if !swapped {
		logrus.WithField("user_id", user.ID).Warn("Refresh token rotation lost the race")
		return nil, ErrUnauthorized
	}

	return &dto.AuthResult{User: dto.NewUserSummary(user), Tokens: pair}, nil
}

func (s *userAuthService) Logout(ctx context.Context, userID uint64) error {
	return s.userRepo.ClearRefreshTokenHash(ctx, userID)
}

// RequestPasswordReset behaves identically for known and unknown emails.
func (s *userAuthService) RequestPasswordReset(ctx context.Context, req *types.ForgotPasswordRequest) error {
	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		logrus.WithError(err).Error("Password reset lookup failed")
		return nil
	}
	if user == nil || !user.IsActive {
		return nil
	}

	resetToken, err := s.tokens.IssueReset(user.ID, user.TokenVersion)
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("Failed to issue reset token")
		return nil
	}

	s.dispatcher.Enqueue(ctx, queue.NewJob(user.Email, mail.TemplatePasswordReset, map[string]string{
		"first_name": user.FirstName,
		"reset_url":  s.resetURL(resetToken),
		"expires_in": s.cfg.JWT.Reset.TTL.String(),
	}))
	return nil
}

func (s *userAuthService) ResetPassword(ctx context.Context, req *types.ResetPasswordRequest) error {
	claims, err := s.tokens.Verify(TokenKindReset, req.Token)
	if err != nil {
		logrus.WithError(err).Debug("Reset token rejected")
		return ErrInvalidToken
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		return err
	}
	if user == nil || user.TokenVersion != claims.Version {
		return ErrInvalidToken
	}

	if err = s.cfg.Password.Policy.Validate(req.NewPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.bcryptCost)
	if err != nil {
		return err
	}

	consumed, err := s.userRepo.ConsumePasswordReset(ctx, user.ID, claims.Version, string(hashedPassword))
	if err != nil {
		return err
	}
	if !consumed {
		return ErrInvalidToken
	}
	return nil
}

func (s *userAuthService) Profile(ctx context.Context, userID uint64) (*dto.UserSummary, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	summary := dto.NewUserSummary(user)
	return &summary, nil
}

func (s *userAuthService) resetURL(token string) string {
	base := s.cfg.Mail.ResetURL
	u, err := url.Parse(base)
	if err != nil || base == "" {
		return base + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
