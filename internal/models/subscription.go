package models

import "time"

const (
	SubscriptionActive    = "active"
	SubscriptionExpired   = "expired"
	SubscriptionCancelled = "cancelled"
)

// Subscription is the single active teacher-student pairing. At most one
// row exists per (teacher, student, status); debits for it live on the
// wallet ledger, the row itself is never mutated in place.
type Subscription struct {
	ID               int64      `json:"id"`
	TeacherUserID    int64      `json:"teacher_user_id"`
	StudentUserID    int64      `json:"student_user_id"`
	Months           int        `json:"months"`
	SessionsPerMonth int        `json:"sessions_per_month"`
	PointsCost       int        `json:"points_cost"`
	Status           string     `json:"status"`
	StartsAt         time.Time  `json:"starts_at"`
	EndsAt           *time.Time `json:"ends_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// SubscriptionDetail joins the subscription with directory display data.
type SubscriptionDetail struct {
	Subscription
	TeacherName string `json:"teacher_name"`
	StudentName string `json:"student_name"`
}
