package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/MehdiDinari/homebook/internal/models"
)

type WithdrawalRepository struct {
	db DBTX
}

func NewWithdrawalRepository(db DBTX) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

const withdrawalColumns = `id, teacher_user_id, amount_cents, currency, method, payout_email, status, note,
	admin_note, external_ref, processed_at, created_at, updated_at`

func (r *WithdrawalRepository) Create(ctx context.Context, w *models.WithdrawalRequest) (*models.WithdrawalRequest, error) {
	query := `
		INSERT INTO withdrawal_requests (teacher_user_id, amount_cents, currency, method, payout_email, status, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + withdrawalColumns
	return r.scanOne(r.db.QueryRow(
		ctx,
		query,
		w.TeacherUserID,
		w.AmountCents,
		w.Currency,
		w.Method,
		w.PayoutEmail,
		w.Status,
		w.Note,
	))
}

func (r *WithdrawalRepository) GetByID(ctx context.Context, id int64, forUpdate bool) (*models.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

type UpdateWithdrawalInput struct {
	Status         string
	AdminNote      *string
	ExternalRef    *string
	StampProcessed bool
	ClearProcessed bool
}

// UpdateStatus writes the settlement outcome. processed_at is stamped on
// terminal transitions and cleared when a request moves back to an open
// status.
func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, id int64, input UpdateWithdrawalInput) (*models.WithdrawalRequest, error) {
	query := `
		UPDATE withdrawal_requests
		SET status = $2,
		    admin_note = COALESCE($3, admin_note),
		    external_ref = COALESCE($4, external_ref),
		    processed_at = CASE WHEN $5 THEN NOW() WHEN $6 THEN NULL ELSE processed_at END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + withdrawalColumns
	return r.scanOne(r.db.QueryRow(
		ctx,
		query,
		id,
		input.Status,
		input.AdminNote,
		input.ExternalRef,
		input.StampProcessed,
		input.ClearProcessed,
	))
}

func (r *WithdrawalRepository) ListByTeacher(ctx context.Context, teacherUserID int64, limit int) ([]models.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE teacher_user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	return r.scanMany(ctx, query, teacherUserID, limit)
}

func (r *WithdrawalRepository) ListAll(ctx context.Context, status string, limit int) ([]models.WithdrawalRequest, error) {
	if status != "" {
		query := `SELECT ` + withdrawalColumns + `
			FROM withdrawal_requests
			WHERE status = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`
		return r.scanMany(ctx, query, status, limit)
	}
	query := `SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		ORDER BY created_at DESC, id DESC
		LIMIT $1`
	return r.scanMany(ctx, query, limit)
}

// PendingCents sums open requests for the teacher wallet view.
func (r *WithdrawalRepository) PendingCents(ctx context.Context, teacherUserID int64) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM withdrawal_requests
		WHERE teacher_user_id = $1 AND status IN ('pending', 'processing')
	`
	var total int64
	if err := r.db.QueryRow(ctx, query, teacherUserID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// PaidCents sums settled requests for the teacher wallet view.
func (r *WithdrawalRepository) PaidCents(ctx context.Context, teacherUserID int64) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM withdrawal_requests
		WHERE teacher_user_id = $1 AND status = 'paid'
	`
	var total int64
	if err := r.db.QueryRow(ctx, query, teacherUserID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *WithdrawalRepository) scanOne(row rowScanner) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := row.Scan(
		&w.ID,
		&w.TeacherUserID,
		&w.AmountCents,
		&w.Currency,
		&w.Method,
		&w.PayoutEmail,
		&w.Status,
		&w.Note,
		&w.AdminNote,
		&w.ExternalRef,
		&w.ProcessedAt,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WithdrawalRepository) scanMany(ctx context.Context, query string, args ...any) ([]models.WithdrawalRequest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *WithdrawalRepository) collect(rows pgx.Rows) ([]models.WithdrawalRequest, error) {
	requests := make([]models.WithdrawalRequest, 0)
	for rows.Next() {
		var w models.WithdrawalRequest
		if err := rows.Scan(
			&w.ID,
			&w.TeacherUserID,
			&w.AmountCents,
			&w.Currency,
			&w.Method,
			&w.PayoutEmail,
			&w.Status,
			&w.Note,
			&w.AdminNote,
			&w.ExternalRef,
			&w.ProcessedAt,
			&w.CreatedAt,
			&w.UpdatedAt,
		); err != nil {
			return nil, err
		}
		requests = append(requests, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}
