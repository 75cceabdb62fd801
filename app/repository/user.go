package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
)

const userColumns = `id, first_name, last_name, email, password_hash, role, is_active, is_oauth_user,
		       avatar_url, hashed_refresh_token, token_version, created_at, updated_at`

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	query := `
		INSERT INTO users (first_name, last_name, email, password_hash, role, is_active, is_oauth_user,
		                   avatar_url, hashed_refresh_token, token_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		user.FirstName,
		user.LastName,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.IsActive,
		user.IsOAuthUser,
		user.AvatarURL,
		user.HashedRefreshToken,
		user.TokenVersion,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return ErrDuplicateEmail
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	user.ID = uint64(id)
	return nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE email = ?
	`
	return r.findOne(ctx, query, NormalizeEmail(email))
}

func (r *UserRepository) FindByID(ctx context.Context, id uint64) (*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE id = ?
	`
	return r.findOne(ctx, query, id)
}

// SetRefreshTokenHash overwrites the session slot unconditionally.
func (r *UserRepository) SetRefreshTokenHash(ctx context.Context, userID uint64, hash string) error {
	query := `UPDATE users SET hashed_refresh_token = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, hash, time.Now(), userID)
	return err
}

// SwapRefreshTokenHash replaces the slot only while it still holds expected.
// It reports false when another writer got there first.
func (r *UserRepository) SwapRefreshTokenHash(ctx context.Context, userID uint64, expected, next string) (bool, error) {
	query := `
		UPDATE users SET hashed_refresh_token = ?, updated_at = ?
		WHERE id = ? AND hashed_refresh_token = ?
	`
	result, err := r.db.ExecContext(ctx, query, next, time.Now(), userID, expected)
	if err != nil {
		return false, err
	}
	return singleRowAffected(result)
}

func (r *UserRepository) ClearRefreshTokenHash(ctx context.Context, userID uint64) error {
	query := `UPDATE users SET hashed_refresh_token = NULL, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, time.Now(), userID)
	return err
}

// ConsumePasswordReset stores the new hash, bumps token_version and drops the
// session, guarded on the version the reset token was issued against.
func (r *UserRepository) ConsumePasswordReset(ctx context.Context, userID uint64, expectedVersion int, passwordHash string) (bool, error) {
	query := `
		UPDATE users SET
			password_hash = ?,
			token_version = token_version + 1,
			hashed_refresh_token = NULL,
			updated_at = ?
		WHERE id = ? AND token_version = ?
	`
	result, err := r.db.ExecContext(ctx, query, passwordHash, time.Now(), userID, expectedVersion)
	if err != nil {
		return false, err
	}
	return singleRowAffected(result)
}

func (r *UserRepository) MarkOAuthUser(ctx context.Context, userID uint64) error {
	query := `UPDATE users SET is_oauth_user = 1, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, time.Now(), userID)
	return err
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.User, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	user, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func scanUser(scan rowScanner) (*entity.User, error) {
	user := &entity.User{}
	var role string
	if err := scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.PasswordHash,
		&role,
		&user.IsActive,
		&user.IsOAuthUser,
		&user.AvatarURL,
		&user.HashedRefreshToken,
		&user.TokenVersion,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	user.Role = entity.Role(role)
	return user, nil
}

// NormalizeEmail is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
