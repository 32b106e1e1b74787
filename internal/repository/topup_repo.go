package repository

import (
	"context"

	"github.com/MehdiDinari/homebook/internal/models"
)

type TopupRepository struct {
	db DBTX
}

func NewTopupRepository(db DBTX) *TopupRepository {
	return &TopupRepository{db: db}
}

const topupColumns = `id, student_user_id, amount_cents, currency, provider, status, checkout_token, checkout_url,
	provider_order_id, provider_capture_id, paid_at, created_at, updated_at`

func (r *TopupRepository) Create(ctx context.Context, tx *models.WalletTopupTransaction) (*models.WalletTopupTransaction, error) {
	query := `
		INSERT INTO wallet_topup_transactions (student_user_id, amount_cents, currency, provider, status, checkout_token, checkout_url, provider_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + topupColumns
	return r.scanOne(r.db.QueryRow(
		ctx,
		query,
		tx.StudentUserID,
		tx.AmountCents,
		tx.Currency,
		tx.Provider,
		tx.Status,
		tx.CheckoutToken,
		tx.CheckoutURL,
		tx.ProviderOrderID,
	))
}

func (r *TopupRepository) GetByToken(ctx context.Context, token string, forUpdate bool) (*models.WalletTopupTransaction, error) {
	query := `SELECT ` + topupColumns + ` FROM wallet_topup_transactions WHERE checkout_token = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	return r.scanOne(r.db.QueryRow(ctx, query, token))
}

func (r *TopupRepository) MarkPaidIfPending(ctx context.Context, id int64, captureID *string) (*models.WalletTopupTransaction, error) {
	query := `
		UPDATE wallet_topup_transactions
		SET status = 'paid',
		    paid_at = NOW(),
		    provider_capture_id = COALESCE($2, provider_capture_id),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + topupColumns
	return r.scanOne(r.db.QueryRow(ctx, query, id, captureID))
}

func (r *TopupRepository) ListByStudent(ctx context.Context, studentUserID int64, limit int) ([]models.WalletTopupTransaction, error) {
	query := `SELECT ` + topupColumns + `
		FROM wallet_topup_transactions
		WHERE student_user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, studentUserID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]models.WalletTopupTransaction, 0)
	for rows.Next() {
		var tx models.WalletTopupTransaction
		if err := rows.Scan(
			&tx.ID,
			&tx.StudentUserID,
			&tx.AmountCents,
			&tx.Currency,
			&tx.Provider,
			&tx.Status,
			&tx.CheckoutToken,
			&tx.CheckoutURL,
			&tx.ProviderOrderID,
			&tx.ProviderCaptureID,
			&tx.PaidAt,
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

func (r *TopupRepository) scanOne(row rowScanner) (*models.WalletTopupTransaction, error) {
	var tx models.WalletTopupTransaction
	err := row.Scan(
		&tx.ID,
		&tx.StudentUserID,
		&tx.AmountCents,
		&tx.Currency,
		&tx.Provider,
		&tx.Status,
		&tx.CheckoutToken,
		&tx.CheckoutURL,
		&tx.ProviderOrderID,
		&tx.ProviderCaptureID,
		&tx.PaidAt,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
