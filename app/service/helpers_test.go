package service_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/queue"
	"github.com/vibast-solutions/ms-go-session-auth/app/ratelimit"
	"github.com/vibast-solutions/ms-go-session-auth/app/repository"
	"github.com/vibast-solutions/ms-go-session-auth/app/service"
	"github.com/vibast-solutions/ms-go-session-auth/config"

	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Secret123"

func newTestConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Access:  config.TokenConfig{Secret: "access-secret", TTL: 15 * time.Minute},
			Refresh: config.TokenConfig{Secret: "refresh-secret", TTL: 7 * 24 * time.Hour},
			Reset:   config.TokenConfig{Secret: "reset-secret", TTL: 15 * time.Minute},
		},
		Mail: config.MailConfig{ResetURL: "https://shop.example.com/reset-password"},
		Password: config.PasswordConfig{Policy: config.PasswordPolicy{
			MinLength:        8,
			RequireUppercase: true,
			RequireLowercase: true,
			RequireNumber:    true,
		}},
	}
}

type captureDispatcher struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (d *captureDispatcher) Enqueue(_ context.Context, job queue.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.jobs = append(d.jobs, job)
}

func (d *captureDispatcher) Jobs() []queue.Job {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]queue.Job(nil), d.jobs...)
}

type authHarness struct {
	cfg        *config.Config
	repo       *repository.MemoryUserRepository
	tokens     *service.TokenService
	dispatcher *captureDispatcher
	auth       service.UserAuthService
	oauth      service.OAuthLinker
}

func newAuthHarness(t *testing.T, limiter ratelimit.Limiter) *authHarness {
	t.Helper()

	cfg := newTestConfig()
	repo := repository.NewMemoryUserRepository()
	tokens := service.NewTokenService(cfg.JWT)
	dispatcher := &captureDispatcher{}

	return &authHarness{
		cfg:        cfg,
		repo:       repo,
		tokens:     tokens,
		dispatcher: dispatcher,
		auth:       service.NewUserAuthService(repo, tokens, limiter, dispatcher, cfg, service.WithBcryptCost(bcrypt.MinCost)),
		oauth:      service.NewOAuthLinker(repo, tokens),
	}
}

func resetTokenFromJob(t *testing.T, job queue.Job) string {
	t.Helper()

	u, err := url.Parse(job.Payload["reset_url"])
	if err != nil {
		t.Fatalf("invalid reset url %q: %v", job.Payload["reset_url"], err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("reset url has no token: %s", u)
	}
	return token
}
