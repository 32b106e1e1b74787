package models

import "time"

const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"

	ProviderMock         = "mock"
	ProviderStripe       = "stripe"
	ProviderPayPal       = "paypal"
	ProviderWalletPoints = "wallet_points"
)

// PaymentTransaction tracks one subscription checkout from pending to
// paid. checkout_token is unique; the paid transition happens exactly
// once and rows are never deleted.
type PaymentTransaction struct {
	ID                   int64      `json:"id"`
	StudentUserID        int64      `json:"student_user_id"`
	TeacherUserID        int64      `json:"teacher_user_id"`
	SubscriptionID       *int64     `json:"subscription_id"`
	Months               int        `json:"months"`
	SessionsPerMonth     int        `json:"sessions_per_month"`
	AmountCents          int64      `json:"amount_cents"`
	Currency             string     `json:"currency"`
	Provider             string     `json:"provider"`
	Status               string     `json:"status"`
	CheckoutToken        string     `json:"checkout_token"`
	CheckoutURL          string     `json:"checkout_url"`
	ProviderOrderID      *string    `json:"provider_order_id"`
	ProviderCaptureID    *string    `json:"provider_capture_id"`
	PaidAt               *time.Time `json:"paid_at"`
	TeacherEarningsCents int64      `json:"teacher_earnings_cents"`
	PlatformFeeCents     int64      `json:"platform_fee_cents"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// WalletTopupTransaction mirrors PaymentTransaction for buying points
// into the student's own wallet; there is no teacher side.
type WalletTopupTransaction struct {
	ID                int64      `json:"id"`
	StudentUserID     int64      `json:"student_user_id"`
	AmountCents       int64      `json:"amount_cents"`
	Currency          string     `json:"currency"`
	Provider          string     `json:"provider"`
	Status            string     `json:"status"`
	CheckoutToken     string     `json:"checkout_token"`
	CheckoutURL       string     `json:"checkout_url"`
	ProviderOrderID   *string    `json:"provider_order_id"`
	ProviderCaptureID *string    `json:"provider_capture_id"`
	PaidAt            *time.Time `json:"paid_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
