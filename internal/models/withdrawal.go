package models

import "time"

const (
	WithdrawalPending    = "pending"
	WithdrawalProcessing = "processing"
	WithdrawalPaid       = "paid"
	WithdrawalRejected   = "rejected"
	WithdrawalCancelled  = "cancelled"

	WithdrawMethodPayPal = "paypal"
	WithdrawMethodManual = "manual"
	WithdrawMethodBank   = "bank"
)

// WithdrawalRequest holds teacher funds from creation until settlement.
// The hold is a ledger debit written when the request is created; paid,
// rejected and cancelled are terminal.
type WithdrawalRequest struct {
	ID            int64      `json:"id"`
	TeacherUserID int64      `json:"teacher_user_id"`
	AmountCents   int64      `json:"amount_cents"`
	Currency      string     `json:"currency"`
	Method        string     `json:"method"`
	PayoutEmail   *string    `json:"payout_email"`
	Status        string     `json:"status"`
	Note          *string    `json:"note"`
	AdminNote     *string    `json:"admin_note"`
	ExternalRef   *string    `json:"external_ref"`
	ProcessedAt   *time.Time `json:"processed_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Finalized reports whether the request reached a terminal status.
func (w *WithdrawalRequest) Finalized() bool {
	switch w.Status {
	case WithdrawalPaid, WithdrawalRejected, WithdrawalCancelled:
		return true
	}
	return false
}
