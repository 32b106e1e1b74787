package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/MehdiDinari/homebook/internal/models"
)

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, student_user_id, teacher_user_id, subscription_id, months, sessions_per_month,
	amount_cents, currency, provider, status, checkout_token, checkout_url, provider_order_id, provider_capture_id,
	paid_at, teacher_earnings_cents, platform_fee_cents, created_at, updated_at`

func (r *PaymentRepository) Create(ctx context.Context, tx *models.PaymentTransaction) (*models.PaymentTransaction, error) {
	query := `
		INSERT INTO payment_transactions (student_user_id, teacher_user_id, subscription_id, months, sessions_per_month,
			amount_cents, currency, provider, status, checkout_token, checkout_url, provider_order_id,
			paid_at, teacher_earnings_cents, platform_fee_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING ` + paymentColumns
	return r.scanOne(r.db.QueryRow(
		ctx,
		query,
		tx.StudentUserID,
		tx.TeacherUserID,
		tx.SubscriptionID,
		tx.Months,
		tx.SessionsPerMonth,
		tx.AmountCents,
		tx.Currency,
		tx.Provider,
		tx.Status,
		tx.CheckoutToken,
		tx.CheckoutURL,
		tx.ProviderOrderID,
		tx.PaidAt,
		tx.TeacherEarningsCents,
		tx.PlatformFeeCents,
	))
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*models.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// GetByToken resolves a checkout token, optionally locking the row for
// the duration of a confirm transaction.
func (r *PaymentRepository) GetByToken(ctx context.Context, token string, forUpdate bool) (*models.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE checkout_token = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	return r.scanOne(r.db.QueryRow(ctx, query, token))
}

// MarkPaidIfPending performs the single pending-to-paid transition. The
// status guard makes a double confirm a no-op at the database level.
func (r *PaymentRepository) MarkPaidIfPending(ctx context.Context, id int64, earningsCents, feeCents int64, captureID *string) (*models.PaymentTransaction, error) {
	query := `
		UPDATE payment_transactions
		SET status = 'paid',
		    paid_at = NOW(),
		    teacher_earnings_cents = $2,
		    platform_fee_cents = $3,
		    provider_capture_id = COALESCE($4, provider_capture_id),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + paymentColumns
	return r.scanOne(r.db.QueryRow(ctx, query, id, earningsCents, feeCents, captureID))
}

// BackfillSplit fills earnings and fee on already-paid rows that predate
// split tracking. It never touches rows with a non-zero split.
func (r *PaymentRepository) BackfillSplit(ctx context.Context, id int64, earningsCents, feeCents int64) (*models.PaymentTransaction, error) {
	query := `
		UPDATE payment_transactions
		SET teacher_earnings_cents = $2, platform_fee_cents = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'paid' AND teacher_earnings_cents = 0 AND platform_fee_cents = 0
		RETURNING ` + paymentColumns
	return r.scanOne(r.db.QueryRow(ctx, query, id, earningsCents, feeCents))
}

func (r *PaymentRepository) LinkSubscription(ctx context.Context, id, subscriptionID int64) error {
	query := `
		UPDATE payment_transactions
		SET subscription_id = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, subscriptionID)
	return err
}

// FindPaidForSubscription locates an existing paid transaction for a
// subscription and provider, used to keep wallet-points subscribes
// idempotent.
func (r *PaymentRepository) FindPaidForSubscription(ctx context.Context, subscriptionID int64, provider string) (*models.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payment_transactions
		WHERE subscription_id = $1 AND provider = $2 AND status = 'paid'
		ORDER BY id
		LIMIT 1`
	return r.scanOne(r.db.QueryRow(ctx, query, subscriptionID, provider))
}

func (r *PaymentRepository) ListByStudent(ctx context.Context, studentUserID int64, limit int) ([]models.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payment_transactions
		WHERE student_user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	return r.scanMany(ctx, query, studentUserID, limit)
}

func (r *PaymentRepository) ListByTeacher(ctx context.Context, teacherUserID int64, limit int) ([]models.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payment_transactions
		WHERE teacher_user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	return r.scanMany(ctx, query, teacherUserID, limit)
}

// ListPaidByTeacher feeds the wallet reconciliation sweep.
func (r *PaymentRepository) ListPaidByTeacher(ctx context.Context, teacherUserID int64) ([]models.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payment_transactions
		WHERE teacher_user_id = $1 AND status = 'paid'
		ORDER BY id`
	rows, err := r.db.Query(ctx, query, teacherUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

// TeacherEarnings sums paid transactions for one teacher.
func (r *PaymentRepository) TeacherEarnings(ctx context.Context, teacherUserID int64) (gross, earnings, fee int64, count int, err error) {
	query := `
		SELECT COALESCE(SUM(amount_cents), 0), COALESCE(SUM(teacher_earnings_cents), 0),
		       COALESCE(SUM(platform_fee_cents), 0), COUNT(*)
		FROM payment_transactions
		WHERE teacher_user_id = $1 AND status = 'paid'
	`
	if err := r.db.QueryRow(ctx, query, teacherUserID).Scan(&gross, &earnings, &fee, &count); err != nil {
		return 0, 0, 0, 0, err
	}
	return gross, earnings, fee, count, nil
}

// PlatformRevenue sums every paid transaction platform-wide.
func (r *PaymentRepository) PlatformRevenue(ctx context.Context) (gross, earnings, fee int64, count int, err error) {
	query := `
		SELECT COALESCE(SUM(amount_cents), 0), COALESCE(SUM(teacher_earnings_cents), 0),
		       COALESCE(SUM(platform_fee_cents), 0), COUNT(*)
		FROM payment_transactions
		WHERE status = 'paid'
	`
	if err := r.db.QueryRow(ctx, query).Scan(&gross, &earnings, &fee, &count); err != nil {
		return 0, 0, 0, 0, err
	}
	return gross, earnings, fee, count, nil
}

// StudentPaidStats returns the paid transaction count and refunded cents
// for the money summary.
func (r *PaymentRepository) StudentPaidStats(ctx context.Context, studentUserID int64) (paidCount int, refundedCents int64, err error) {
	query := `
		SELECT COUNT(*) FILTER (WHERE status = 'paid'),
		       COALESCE(SUM(amount_cents) FILTER (WHERE status = 'refunded'), 0)
		FROM payment_transactions
		WHERE student_user_id = $1
	`
	if err := r.db.QueryRow(ctx, query, studentUserID).Scan(&paidCount, &refundedCents); err != nil {
		return 0, 0, err
	}
	return paidCount, refundedCents, nil
}

func (r *PaymentRepository) scanOne(row rowScanner) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := row.Scan(
		&tx.ID,
		&tx.StudentUserID,
		&tx.TeacherUserID,
		&tx.SubscriptionID,
		&tx.Months,
		&tx.SessionsPerMonth,
		&tx.AmountCents,
		&tx.Currency,
		&tx.Provider,
		&tx.Status,
		&tx.CheckoutToken,
		&tx.CheckoutURL,
		&tx.ProviderOrderID,
		&tx.ProviderCaptureID,
		&tx.PaidAt,
		&tx.TeacherEarningsCents,
		&tx.PlatformFeeCents,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *PaymentRepository) scanMany(ctx context.Context, query string, args ...any) ([]models.PaymentTransaction, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *PaymentRepository) collect(rows pgx.Rows) ([]models.PaymentTransaction, error) {
	txs := make([]models.PaymentTransaction, 0)
	for rows.Next() {
		var tx models.PaymentTransaction
		if err := rows.Scan(
			&tx.ID,
			&tx.StudentUserID,
			&tx.TeacherUserID,
			&tx.SubscriptionID,
			&tx.Months,
			&tx.SessionsPerMonth,
			&tx.AmountCents,
			&tx.Currency,
			&tx.Provider,
			&tx.Status,
			&tx.CheckoutToken,
			&tx.CheckoutURL,
			&tx.ProviderOrderID,
			&tx.ProviderCaptureID,
			&tx.PaidAt,
			&tx.TeacherEarningsCents,
			&tx.PlatformFeeCents,
			&tx.CreatedAt,
			&tx.UpdatedAt,
		); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}
