package repository

import (
	"context"

	"github.com/MehdiDinari/homebook/internal/models"
)

type SubscriptionRepository struct {
	db DBTX
}

func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	query := `
		INSERT INTO subscriptions (teacher_user_id, student_user_id, months, sessions_per_month, points_cost, status, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, teacher_user_id, student_user_id, months, sessions_per_month, points_cost, status, starts_at, ends_at, created_at, updated_at
	`
	var created models.Subscription
	err := r.db.QueryRow(
		ctx,
		query,
		sub.TeacherUserID,
		sub.StudentUserID,
		sub.Months,
		sub.SessionsPerMonth,
		sub.PointsCost,
		sub.Status,
		sub.StartsAt,
		sub.EndsAt,
	).Scan(
		&created.ID,
		&created.TeacherUserID,
		&created.StudentUserID,
		&created.Months,
		&created.SessionsPerMonth,
		&created.PointsCost,
		&created.Status,
		&created.StartsAt,
		&created.EndsAt,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id int64) (*models.Subscription, error) {
	query := `
		SELECT id, teacher_user_id, student_user_id, months, sessions_per_month, points_cost, status, starts_at, ends_at, created_at, updated_at
		FROM subscriptions
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// GetActivePair returns the single active subscription for a
// teacher-student pair, locked against concurrent checkout confirms.
func (r *SubscriptionRepository) GetActivePair(ctx context.Context, teacherUserID, studentUserID int64, forUpdate bool) (*models.Subscription, error) {
	query := `
		SELECT id, teacher_user_id, student_user_id, months, sessions_per_month, points_cost, status, starts_at, ends_at, created_at, updated_at
		FROM subscriptions
		WHERE teacher_user_id = $1 AND student_user_id = $2 AND status = 'active'
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	return r.scanOne(r.db.QueryRow(ctx, query, teacherUserID, studentUserID))
}

// ExistsActive is the session-access check: does the student currently
// subscribe to the teacher.
func (r *SubscriptionRepository) ExistsActive(ctx context.Context, teacherUserID, studentUserID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE teacher_user_id = $1 AND student_user_id = $2 AND status = 'active'
			  AND (ends_at IS NULL OR ends_at > NOW())
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, teacherUserID, studentUserID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// UpdateStatusIfCurrent transitions the subscription only when it still
// holds the expected status, so expire and cancel cannot race.
func (r *SubscriptionRepository) UpdateStatusIfCurrent(ctx context.Context, id int64, current, next string) (*models.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING id, teacher_user_id, student_user_id, months, sessions_per_month, points_cost, status, starts_at, ends_at, created_at, updated_at
	`
	return r.scanOne(r.db.QueryRow(ctx, query, id, current, next))
}

// ExpireDue flips every lapsed active subscription to expired and
// returns how many rows changed.
func (r *SubscriptionRepository) ExpireDue(ctx context.Context) (int64, error) {
	query := `
		UPDATE subscriptions
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND ends_at IS NOT NULL AND ends_at <= NOW()
	`
	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *SubscriptionRepository) ListByStudent(ctx context.Context, studentUserID int64) ([]models.SubscriptionDetail, error) {
	query := `
		SELECT s.id, s.teacher_user_id, s.student_user_id, s.months, s.sessions_per_month, s.points_cost,
		       s.status, s.starts_at, s.ends_at, s.created_at, s.updated_at,
		       COALESCE(t.display_name, ''), COALESCE(st.display_name, '')
		FROM subscriptions s
		LEFT JOIN users t ON t.id = s.teacher_user_id
		LEFT JOIN users st ON st.id = s.student_user_id
		WHERE s.student_user_id = $1
		ORDER BY s.created_at DESC
	`
	return r.scanDetails(ctx, query, studentUserID)
}

func (r *SubscriptionRepository) ListByTeacher(ctx context.Context, teacherUserID int64) ([]models.SubscriptionDetail, error) {
	query := `
		SELECT s.id, s.teacher_user_id, s.student_user_id, s.months, s.sessions_per_month, s.points_cost,
		       s.status, s.starts_at, s.ends_at, s.created_at, s.updated_at,
		       COALESCE(t.display_name, ''), COALESCE(st.display_name, '')
		FROM subscriptions s
		LEFT JOIN users t ON t.id = s.teacher_user_id
		LEFT JOIN users st ON st.id = s.student_user_id
		WHERE s.teacher_user_id = $1
		ORDER BY s.created_at DESC
	`
	return r.scanDetails(ctx, query, teacherUserID)
}

// ListActiveTeacherIDs returns the teachers a student can currently reach,
// used when assembling the student dashboard.
func (r *SubscriptionRepository) ListActiveTeacherIDs(ctx context.Context, studentUserID int64) ([]int64, error) {
	query := `
		SELECT teacher_user_id
		FROM subscriptions
		WHERE student_user_id = $1 AND status = 'active'
		  AND (ends_at IS NULL OR ends_at > NOW())
	`
	rows, err := r.db.Query(ctx, query, studentUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SubscriptionRepository) scanOne(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.TeacherUserID,
		&sub.StudentUserID,
		&sub.Months,
		&sub.SessionsPerMonth,
		&sub.PointsCost,
		&sub.Status,
		&sub.StartsAt,
		&sub.EndsAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) scanDetails(ctx context.Context, query string, arg any) ([]models.SubscriptionDetail, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details := make([]models.SubscriptionDetail, 0)
	for rows.Next() {
		var d models.SubscriptionDetail
		if err := rows.Scan(
			&d.ID,
			&d.TeacherUserID,
			&d.StudentUserID,
			&d.Months,
			&d.SessionsPerMonth,
			&d.PointsCost,
			&d.Status,
			&d.StartsAt,
			&d.EndsAt,
			&d.CreatedAt,
			&d.UpdatedAt,
			&d.TeacherName,
			&d.StudentName,
		); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}
