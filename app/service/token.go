package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
	"github.com/vibast-solutions/ms-go-session-auth/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired           = errors.New("token has expired")
	ErrTokenMalformed         = errors.New("token is malformed")
	ErrTokenSignatureMismatch = errors.New("token signature mismatch")
)

type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
	TokenKindReset   TokenKind = "reset"
)

type Claims struct {
	Kind    TokenKind   `json:"kind"`
	UserID  uint64      `json:"user_id"`
	Role    entity.Role `json:"role,omitempty"`
	Version int         `json:"ver,omitempty"`
	jwt.RegisteredClaims
}

type TokenServiceOption func(*TokenService)

// WithClock replaces the time source used for issuing and verifying.
func WithClock(now func() time.Time) TokenServiceOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

type TokenService struct {
	cfg config.JWTConfig
	now func() time.Time
}

func NewTokenService(cfg config.JWTConfig, opts ...TokenServiceOption) *TokenService {
	s := &TokenService{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TokenService) AccessTTL() time.Duration {
	return s.cfg.Access.TTL
}

func (s *TokenService) RefreshTTL() time.Duration {
	return s.cfg.Refresh.TTL
}

func (s *TokenService) IssueAccess(userID uint64, role entity.Role) (string, error) {
	return s.issue(&Claims{Kind: TokenKindAccess, UserID: userID, Role: role})
}

func (s *TokenService) IssueRefresh(userID uint64) (string, error) {
	return s.issue(&Claims{Kind: TokenKindRefresh, UserID: userID})
}

// IssueReset binds the token to the user's current token_version.
func (s *TokenService) IssueReset(userID uint64, version int) (string, error) {
	return s.issue(&Claims{Kind: TokenKindReset, UserID: userID, Version: version})
}

// Verify checks signature, expiry and kind. Failures are reported as one of
// ErrTokenExpired, ErrTokenMalformed or ErrTokenSignatureMismatch.
func (s *TokenService) Verify(kind TokenKind, tokenString string) (*Claims, error) {
	cfg, err := s.configFor(kind)
	if err != nil {
		return nil, err
	}
	if tokenString == "" {
		return nil, ErrTokenMalformed
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignatureMismatch
		default:
			return nil, ErrTokenMalformed
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.Kind != kind || claims.UserID == 0 {
		return nil, ErrTokenMalformed
	}
	if kind == TokenKindAccess && !claims.Role.Valid() {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

func (s *TokenService) issue(claims *Claims) (string, error) {
	cfg, err := s.configFor(claims.Kind)
	if err != nil {
		return "", err
	}

	now := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatUint(claims.UserID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

func (s *TokenService) configFor(kind TokenKind) (config.TokenConfig, error) {
	switch kind {
	case TokenKindAccess:
		return s.cfg.Access, nil
	case TokenKindRefresh:
		return s.cfg.Refresh, nil
	case TokenKindReset:
		return s.cfg.Reset, nil
	}
	return config.TokenConfig{}, ErrTokenMalformed
}

// HashToken is the digest stored in the user's refresh token slot.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
