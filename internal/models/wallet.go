package models

import "time"

const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// StudentBalance is the mutable points counter for a student. It is
// created lazily with a default grant and always updated in the same
// transaction as the matching wallet ledger row.
type StudentBalance struct {
	ID            int64     `json:"id"`
	StudentUserID int64     `json:"student_user_id"`
	Balance       int       `json:"balance"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WalletEntry is an immutable credit/debit row on the student wallet
// ledger. Entries carrying both reference fields are deduplicated on
// (student, direction, source, reference_type, reference_id).
type WalletEntry struct {
	ID            int64     `json:"id"`
	StudentUserID int64     `json:"student_user_id"`
	Direction     string    `json:"direction"`
	AmountCents   int64     `json:"amount_cents"`
	PointsDelta   int       `json:"points_delta"`
	Source        string    `json:"source"`
	ReferenceType *string   `json:"reference_type"`
	ReferenceID   *string   `json:"reference_id"`
	Note          *string   `json:"note"`
	CreatedAt     time.Time `json:"created_at"`
}

// TeacherWalletEntry is the teacher-side ledger row. The teacher wallet
// has no points dimension; balances are always recomputed from entries.
type TeacherWalletEntry struct {
	ID            int64     `json:"id"`
	TeacherUserID int64     `json:"teacher_user_id"`
	Direction     string    `json:"direction"`
	AmountCents   int64     `json:"amount_cents"`
	Source        string    `json:"source"`
	ReferenceType *string   `json:"reference_type"`
	ReferenceID   *string   `json:"reference_id"`
	Note          *string   `json:"note"`
	CreatedAt     time.Time `json:"created_at"`
}

// StudentMoney aggregates a student's monetary history.
type StudentMoney struct {
	StudentUserID    int64  `json:"student_user_id"`
	Currency         string `json:"currency"`
	DepositedCents   int64  `json:"deposited_cents"`
	SpentCents       int64  `json:"spent_cents"`
	RefundedCents    int64  `json:"refunded_cents"`
	PaidTransactions int    `json:"paid_transactions"`
	PointsBalance    int    `json:"points_balance"`
}

// TeacherEarnings aggregates paid transactions for one teacher.
type TeacherEarnings struct {
	TeacherUserID    int64  `json:"teacher_user_id"`
	Currency         string `json:"currency"`
	GrossCents       int64  `json:"gross_cents"`
	EarningsCents    int64  `json:"earnings_cents"`
	PlatformFeeCents int64  `json:"platform_fee_cents"`
	PaidTransactions int    `json:"paid_transactions"`
}

// PlatformRevenue is the admin-wide revenue summary.
type PlatformRevenue struct {
	Currency            string `json:"currency"`
	GrossCents          int64  `json:"gross_cents"`
	TeacherEarningsCents int64 `json:"teacher_earnings_cents"`
	PlatformFeeCents    int64  `json:"platform_fee_cents"`
	PaidTransactions    int    `json:"paid_transactions"`
}

// TeacherWallet is the settlement view of a teacher's wallet.
type TeacherWallet struct {
	TeacherUserID           int64  `json:"teacher_user_id"`
	Currency                string `json:"currency"`
	TotalEarnedCents        int64  `json:"total_earned_cents"`
	TotalWithdrawnCents     int64  `json:"total_withdrawn_cents"`
	PendingWithdrawalsCents int64  `json:"pending_withdrawals_cents"`
	AvailableCents          int64  `json:"available_cents"`
}
