package repository

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
)

// MemoryUserRepository keeps users in process memory. A single mutex
// serialises every read-modify-write, which gives the same conditional
// update guarantees as the SQL repository.
type MemoryUserRepository struct {
	mu      sync.Mutex
	nextID  uint64
	byID    map[uint64]*entity.User
	byEmail map[string]uint64
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[uint64]*entity.User),
		byEmail: make(map[string]uint64),
	}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := NormalizeEmail(user.Email)
	if _, exists := r.byEmail[email]; exists {
		return ErrDuplicateEmail
	}

	r.nextID++
	user.ID = r.nextID
	stored := *user
	stored.Email = email
	r.byID[stored.ID] = &stored
	r.byEmail[email] = stored.ID
	return nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return r.copyOf(id), nil
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id uint64) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.copyOf(id), nil
}

func (r *MemoryUserRepository) SetRefreshTokenHash(_ context.Context, userID uint64, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user, ok := r.byID[userID]; ok {
		user.HashedRefreshToken = sql.NullString{String: hash, Valid: true}
		user.UpdatedAt = time.Now()
	}
	return nil
}

func (r *MemoryUserRepository) SwapRefreshTokenHash(_ context.Context, userID uint64, expected, next string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[userID]
	if !ok || !user.HashedRefreshToken.Valid || user.HashedRefreshToken.String != expected {
		return false, nil
	}
	user.HashedRefreshToken = sql.NullString{String: next, Valid: true}
	user.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryUserRepository) ClearRefreshTokenHash(_ context.Context, userID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user, ok := r.byID[userID]; ok {
		user.HashedRefreshToken = sql.NullString{}
		user.UpdatedAt = time.Now()
	}
	return nil
}

func (r *MemoryUserRepository) ConsumePasswordReset(_ context.Context, userID uint64, expectedVersion int, passwordHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[userID]
	if !ok || user.TokenVersion != expectedVersion {
		return false, nil
	}
	user.PasswordHash = passwordHash
	user.TokenVersion++
	user.HashedRefreshToken = sql.NullString{}
	user.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryUserRepository) MarkOAuthUser(_ context.Context, userID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user, ok := r.byID[userID]; ok {
		user.IsOAuthUser = true
		user.UpdatedAt = time.Now()
	}
	return nil
}

// Count returns the number of stored users.
func (r *MemoryUserRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.byID)
}

func (r *MemoryUserRepository) copyOf(id uint64) *entity.User {
	user, ok := r.byID[id]
	if !ok {
		return nil
	}
	clone := *user
	return &clone
}
