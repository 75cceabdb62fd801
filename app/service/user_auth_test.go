package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
	"github.com/vibast-solutions/ms-go-session-auth/app/mail"
	"github.com/vibast-solutions/ms-go-session-auth/app/ratelimit"
	"github.com/vibast-solutions/ms-go-session-auth/app/repository"
	"github.com/vibast-solutions/ms-go-session-auth/app/service"
	"github.com/vibast-solutions/ms-go-session-auth/app/types"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"
)

func registerAlice(t *testing.T, h *authHarness) *types.RegisterRequest {
	t.Helper()

	req := &types.RegisterRequest{
		FirstName: "Alice",
		LastName:  "Liddell",
		Email:     "Alice@Example.com",
		Password:  testPassword,
	}
	if _, err := h.auth.Register(context.Background(), req); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return req
}

func TestRegister_CreatesSession(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()

	res, err := h.auth.Register(ctx, &types.RegisterRequest{
		FirstName: "Alice",
		LastName:  "Liddell",
		Email:     " Alice@Example.com ",
		Password:  testPassword,
		AvatarURL: "https://cdn.example.com/alice.png",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if res.User.Email != "alice@example.com" || res.User.Role != entity.RoleCustomer {
		t.Fatalf("unexpected user summary: %+v", res.User)
	}
	if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatalf("expected token pair")
	}

	stored, _ := h.repo.FindByID(ctx, res.User.ID)
	if stored.HashedRefreshToken.String != service.HashToken(res.Tokens.RefreshToken) {
		t.Fatalf("stored refresh hash does not match issued token")
	}
	if stored.PasswordHash == testPassword || bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(testPassword)) != nil {
		t.Fatalf("password was not bcrypt hashed")
	}
	if stored.TokenVersion != 1 || !stored.IsActive || stored.IsOAuthUser {
		t.Fatalf("unexpected stored flags: %+v", stored)
	}
	if stored.AvatarURL.String != "https://cdn.example.com/alice.png" {
		t.Fatalf("avatar url not stored")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	h := newAuthHarness(t, nil)
	registerAlice(t, h)

	_, err := h.auth.Register(context.Background(), &types.RegisterRequest{
		FirstName: "Other",
		LastName:  "Alice",
		Email:     "alice@example.com",
		Password:  testPassword,
	})
	if !errors.Is(err, service.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	if h.repo.Count() != 1 {
		t.Fatalf("expected one user, got %d", h.repo.Count())
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	h := newAuthHarness(t, nil)

	_, err := h.auth.Register(context.Background(), &types.RegisterRequest{
		FirstName: "Weak",
		LastName:  "Password",
		Email:     "weak@example.com",
		Password:  "short",
	})
	if !errors.Is(err, service.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if h.repo.Count() != 0 {
		t.Fatalf("store must not be called for weak passwords")
	}
}

func TestRegister_WithSQLRepository(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	cfg := newTestConfig()
	tokens := service.NewTokenService(cfg.JWT)
	svc := service.NewUserAuthService(repository.NewUserRepository(db), tokens, nil, &captureDispatcher{}, cfg, service.WithBcryptCost(bcrypt.MinCost))

	mock.ExpectQuery(`(?s)SELECT .+ FROM users WHERE email = \?`).
		WithArgs("bob@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`(?s)INSERT INTO users`).
		WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectExec(`(?s)UPDATE users SET hashed_refresh_token = \?, updated_at = \? WHERE id = \?`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), uint64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := svc.Register(context.Background(), &types.RegisterRequest{
		FirstName: "Bob",
		LastName:  "Builder",
		Email:     "bob@example.com",
		Password:  testPassword,
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if res.User.ID != 12 {
		t.Fatalf("expected user ID 12, got %d", res.User.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newAuthHarness(t, nil)
	registerAlice(t, h)
	ctx := context.Background()

	if _, err := h.auth.Login(ctx, &types.LoginRequest{Email: "alice@example.com", Password: "Wrong1234"}, "10.0.0.1"); !errors.Is(err, service.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := h.auth.Login(ctx, &types.LoginRequest{Email: "nobody@example.com", Password: testPassword}, "10.0.0.1"); !errors.Is(err, service.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestLogin_InactiveUser(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()

	hash, _ := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	_ = h.repo.Create(ctx, &entity.User{Email: "inactive@example.com", PasswordHash: string(hash), Role: entity.RoleUser})

	if _, err := h.auth.Login(ctx, &types.LoginRequest{Email: "inactive@example.com", Password: testPassword}, "10.0.0.1"); !errors.Is(err, service.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_RateLimitedAfterThreshold(t *testing.T) {
	h := newAuthHarness(t, ratelimit.NewMemoryLimiter(3, time.Minute))
	registerAlice(t, h)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.auth.Login(ctx, &types.LoginRequest{Email: "alice@example.com", Password: "Wrong1234"}, "10.0.0.1")
		if !errors.Is(err, service.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	_, err := h.auth.Login(ctx, &types.LoginRequest{Email: "alice@example.com", Password: testPassword}, "10.0.0.1")
	var rlErr *service.RateLimitError
	if !errors.As(err, &rlErr) || !errors.Is(err, service.ErrTooManyRequests) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rlErr.RetryAfter <= 0 {
		t.Fatalf("expected positive retry after, got %v", rlErr.RetryAfter)
	}

	if _, err = h.auth.Login(ctx, &types.LoginRequest{Email: "alice@example.com", Password: testPassword}, "10.0.0.2"); err != nil {
		t.Fatalf("other client IP should not be limited: %v", err)
	}
}

func TestLogin_ReplacesPreviousSession(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()

	first, err := h.auth.Register(ctx, &types.RegisterRequest{FirstName: "A", LastName: "B", Email: "a@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err = h.auth.Login(ctx, &types.LoginRequest{Email: "a@example.com", Password: testPassword}, "10.0.0.1"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err = h.auth.Refresh(ctx, first.Tokens.RefreshToken); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("expected old refresh token to be unusable, got %v", err)
	}
}

func TestRefresh_RotationInvalidatesPrevious(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()

	res, err := h.auth.Register(ctx, &types.RegisterRequest{FirstName: "A", LastName: "B", Email: "a@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	rotated, err := h.auth.Refresh(ctx, res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if rotated.Tokens.RefreshToken == res.Tokens.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}

	if _, err = h.auth.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for rotated token, got %v", err)
	}
	if _, err = h.auth.Refresh(ctx, rotated.Tokens.RefreshToken); err != nil {
		t.Fatalf("expected latest token to work, got %v", err)
	}
}

func TestRefresh_ConcurrentRotationSingleWinner(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()

	res, err := h.auth.Register(ctx, &types.RegisterRequest{FirstName: "A", LastName: "B", Email: "a@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	var wins, losses int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.auth.Refresh(ctx, res.Tokens.RefreshToken)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, service.ErrUnauthorized):
				atomic.AddInt32(&losses, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || losses != 7 {
		t.Fatalf("expected exactly one winner, got wins=%d losses=%d", wins, losses)
	}
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	h := newAuthHarness(t, nil)
	res, err := h.auth.Register(context.Background(), &types.RegisterRequest{FirstName: "A", LastName: "B", Email: "a@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if _, err = h.auth.Refresh(context.Background(), res.Tokens.AccessToken); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLogout_IsFinal(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()

	res, err := h.auth.Register(ctx, &types.RegisterRequest{FirstName: "A", LastName: "B", Email: "a@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err = h.auth.Logout(ctx, res.User.ID); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	if _, err = h.auth.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after logout, got %v", err)
	}
}

func TestRequestPasswordReset_EnumerationSafe(t *testing.T) {
	h := newAuthHarness(t, nil)
	registerAlice(t, h)
	ctx := context.Background()

	if err := h.auth.RequestPasswordReset(ctx, &types.ForgotPasswordRequest{Email: "ghost@example.com"}); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}
	if len(h.dispatcher.Jobs()) != 0 {
		t.Fatalf("expected no job for unknown email")
	}

	if err := h.auth.RequestPasswordReset(ctx, &types.ForgotPasswordRequest{Email: "alice@example.com"}); err != nil {
		t.Fatalf("expected nil for known email, got %v", err)
	}
	jobs := h.dispatcher.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	if jobs[0].Recipient != "alice@example.com" || jobs[0].Template != mail.TemplatePasswordReset {
		t.Fatalf("unexpected job: %+v", jobs[0])
	}
}

func TestResetPassword_SingleUse(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()

	res, err := h.auth.Register(ctx, &types.RegisterRequest{FirstName: "Alice", LastName: "L", Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err = h.auth.RequestPasswordReset(ctx, &types.ForgotPasswordRequest{Email: "alice@example.com"}); err != nil {
		t.Fatalf("request reset failed: %v", err)
	}
	token := resetTokenFromJob(t, h.dispatcher.Jobs()[0])

	if err = h.auth.ResetPassword(ctx, &types.ResetPasswordRequest{Token: token, NewPassword: "NewSecret456"}); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if err = h.auth.ResetPassword(ctx, &types.ResetPasswordRequest{Token: token, NewPassword: "Another789X"}); !errors.Is(err, service.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on reuse, got %v", err)
	}

	if _, err = h.auth.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("expected session to end after reset, got %v", err)
	}
	if _, err = h.auth.Login(ctx, &types.LoginRequest{Email: "alice@example.com", Password: "NewSecret456"}, "10.0.0.1"); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}

	stored, _ := h.repo.FindByID(ctx, res.User.ID)
	if stored.TokenVersion != 2 {
		t.Fatalf("expected token version 2, got %d", stored.TokenVersion)
	}
}

func TestResetPassword_InvalidatesOlderOutstandingTokens(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	registerAlice(t, h)

	for i := 0; i < 2; i++ {
		if err := h.auth.RequestPasswordReset(ctx, &types.ForgotPasswordRequest{Email: "alice@example.com"}); err != nil {
			t.Fatalf("request reset failed: %v", err)
		}
	}
	jobs := h.dispatcher.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected two reset emails, got %d", len(jobs))
	}
	older := resetTokenFromJob(t, jobs[0])
	newer := resetTokenFromJob(t, jobs[1])
	if older == newer {
		t.Fatalf("expected distinct reset tokens")
	}

	if err := h.auth.ResetPassword(ctx, &types.ResetPasswordRequest{Token: newer, NewPassword: "NewSecret456"}); err != nil {
		t.Fatalf("reset with newer token failed: %v", err)
	}
	if err := h.auth.ResetPassword(ctx, &types.ResetPasswordRequest{Token: older, NewPassword: "Another789X"}); !errors.Is(err, service.ErrInvalidToken) {
		t.Fatalf("expected older token rejected, got %v", err)
	}
	if _, err := h.auth.Login(ctx, &types.LoginRequest{Email: "alice@example.com", Password: "NewSecret456"}, "10.0.0.1"); err != nil {
		t.Fatalf("expected newer password to stand, got %v", err)
	}
}

func TestResetPassword_ConcurrentUseSingleWinner(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	registerAlice(t, h)

	if err := h.auth.RequestPasswordReset(ctx, &types.ForgotPasswordRequest{Email: "alice@example.com"}); err != nil {
		t.Fatalf("request reset failed: %v", err)
	}
	token := resetTokenFromJob(t, h.dispatcher.Jobs()[0])

	passwords := []string{"NewSecret456", "Another789X"}
	results := make([]error, len(passwords))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, password := range passwords {
		wg.Add(1)
		go func(i int, password string) {
			defer wg.Done()
			<-start
			results[i] = h.auth.ResetPassword(ctx, &types.ResetPasswordRequest{Token: token, NewPassword: password})
		}(i, password)
	}
	close(start)
	wg.Wait()

	winner := -1
	for i, err := range results {
		switch {
		case err == nil:
			if winner != -1 {
				t.Fatalf("expected a single successful reset, both succeeded")
			}
			winner = i
		case !errors.Is(err, service.ErrInvalidToken):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winner == -1 {
		t.Fatalf("expected one reset to succeed")
	}

	loser := passwords[1-winner]
	if _, err := h.auth.Login(ctx, &types.LoginRequest{Email: "alice@example.com", Password: loser}, "10.0.0.2"); !errors.Is(err, service.ErrInvalidCredentials) {
		t.Fatalf("expected losing password rejected, got %v", err)
	}
	if _, err := h.auth.Login(ctx, &types.LoginRequest{Email: "alice@example.com", Password: passwords[winner]}, "10.0.0.3"); err != nil {
		t.Fatalf("expected winning password to log in, got %v", err)
	}
}

func TestResetPassword_WeakPasswordKeepsToken(t *testing.T) {
	h := newAuthHarness(t, nil)
	registerAlice(t, h)
	ctx := context.Background()

	_ = h.auth.RequestPasswordReset(ctx, &types.ForgotPasswordRequest{Email: "alice@example.com"})
	token := resetTokenFromJob(t, h.dispatcher.Jobs()[0])

	if err := h.auth.ResetPassword(ctx, &types.ResetPasswordRequest{Token: token, NewPassword: "weak"}); !errors.Is(err, service.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := h.auth.ResetPassword(ctx, &types.ResetPasswordRequest{Token: token, NewPassword: "NewSecret456"}); err != nil {
		t.Fatalf("expected token to remain valid after rejected password, got %v", err)
	}
}

func TestResetPassword_RejectsOtherTokens(t *testing.T) {
	h := newAuthHarness(t, nil)
	res, err := h.auth.Register(context.Background(), &types.RegisterRequest{FirstName: "A", LastName: "B", Email: "a@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	for _, token := range []string{"garbage", res.Tokens.AccessToken, res.Tokens.RefreshToken} {
		if err := h.auth.ResetPassword(context.Background(), &types.ResetPasswordRequest{Token: token, NewPassword: "NewSecret456"}); !errors.Is(err, service.ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	}
}

func TestProfile(t *testing.T) {
	h := newAuthHarness(t, nil)
	res, err := h.auth.Register(context.Background(), &types.RegisterRequest{FirstName: "A", LastName: "B", Email: "a@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	profile, err := h.auth.Profile(context.Background(), res.User.ID)
	if err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	if profile.Email != "a@example.com" || profile.FirstName != "A" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	if _, err = h.auth.Profile(context.Background(), 999); !errors.Is(err, service.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSessionScenario_RegisterRefreshReplay(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()

	registered, err := h.auth.Register(ctx, &types.RegisterRequest{
		FirstName: "Alice",
		LastName:  "Liddell",
		Email:     "alice@example.com",
		Password:  testPassword,
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	s1 := registered.Tokens.RefreshToken

	if _, err = h.auth.Refresh(ctx, s1); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	if _, err = h.auth.Refresh(ctx, s1); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("expected replayed refresh to be unauthorized, got %v", err)
	}
}
