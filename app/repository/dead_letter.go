package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
)

type DeadLetterRepository struct {
	db DBTX
}

func NewDeadLetterRepository(db DBTX) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

func (r *DeadLetterRepository) Create(ctx context.Context, letter *entity.DeadLetter) error {
	query := `
		INSERT INTO email_dead_letters (job_id, recipient, template, payload_json, attempts, last_error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		letter.JobID,
		letter.Recipient,
		letter.Template,
		letter.PayloadJSON,
		letter.Attempts,
		letter.LastError,
		letter.FailedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	letter.ID = uint64(id)
	return nil
}

func (r *DeadLetterRepository) List(ctx context.Context, limit int) ([]*entity.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, job_id, recipient, template, payload_json, attempts, last_error, failed_at
		FROM email_dead_letters
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	letters := make([]*entity.DeadLetter, 0)
	for rows.Next() {
		letter, err := scanDeadLetter(rows.Scan)
		if err != nil {
			return nil, err
		}
		letters = append(letters, letter)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return letters, nil
}

func (r *DeadLetterRepository) FindByID(ctx context.Context, id uint64) (*entity.DeadLetter, error) {
	query := `
		SELECT id, job_id, recipient, template, payload_json, attempts, last_error, failed_at
		FROM email_dead_letters WHERE id = ?
	`
	letter, err := scanDeadLetter(r.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return letter, nil
}

func (r *DeadLetterRepository) Delete(ctx context.Context, id uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM email_dead_letters WHERE id = ?`, id)
	return err
}

func scanDeadLetter(scan rowScanner) (*entity.DeadLetter, error) {
	letter := &entity.DeadLetter{}
	if err := scan(
		&letter.ID,
		&letter.JobID,
		&letter.Recipient,
		&letter.Template,
		&letter.PayloadJSON,
		&letter.Attempts,
		&letter.LastError,
		&letter.FailedAt,
	); err != nil {
		return nil, err
	}
	return letter, nil
}
