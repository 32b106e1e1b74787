package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/MehdiDinari/homebook/internal/models"
)

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, teacher_user_id, target_student_user_id, title, kind, status, starts_at, duration_minutes, meeting_url, created_at, updated_at`

func (r *SessionRepository) Create(ctx context.Context, session *models.TeacherSession) (*models.TeacherSession, error) {
	query := `
		INSERT INTO teacher_sessions (teacher_user_id, target_student_user_id, title, kind, status, starts_at, duration_minutes, meeting_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + sessionColumns
	return r.scanOne(r.db.QueryRow(
		ctx,
		query,
		session.TeacherUserID,
		session.TargetStudentUserID,
		session.Title,
		session.Kind,
		session.Status,
		session.StartsAt,
		session.DurationMinutes,
		session.MeetingURL,
	))
}

func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*models.TeacherSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM teacher_sessions WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *SessionRepository) ListByTeacher(ctx context.Context, teacherUserID int64) ([]models.TeacherSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM teacher_sessions
		WHERE teacher_user_id = $1
		ORDER BY starts_at DESC`
	rows, err := r.db.Query(ctx, query, teacherUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

// ListForTeachers returns the sessions a student can see: every session of
// the subscribed teachers that is either untargeted or targeted at the
// student.
func (r *SessionRepository) ListForTeachers(ctx context.Context, teacherIDs []int64, studentUserID int64) ([]models.TeacherSession, error) {
	if len(teacherIDs) == 0 {
		return []models.TeacherSession{}, nil
	}
	query := `SELECT ` + sessionColumns + `
		FROM teacher_sessions
		WHERE teacher_user_id = ANY($1)
		  AND (target_student_user_id IS NULL OR target_student_user_id = $2)
		ORDER BY starts_at`
	rows, err := r.db.Query(ctx, query, teacherIDs, studentUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

type UpdateSessionInput struct {
	Title               *string
	StartsAt            *time.Time
	DurationMinutes     *int
	TargetStudentUserID *int64
	ClearTarget         bool
	MeetingURL          *string
	Status              *string
}

// Update applies a partial reschedule. Only fields present in the input
// are written.
func (r *SessionRepository) Update(ctx context.Context, id int64, input UpdateSessionInput) (*models.TeacherSession, error) {
	set := "updated_at = NOW()"
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		set += fmt.Sprintf(", %s = $%d", column, len(args))
	}

	if input.Title != nil {
		add("title", *input.Title)
	}
	if input.StartsAt != nil {
		add("starts_at", *input.StartsAt)
	}
	if input.DurationMinutes != nil {
		add("duration_minutes", *input.DurationMinutes)
	}
	if input.ClearTarget {
		set += ", target_student_user_id = NULL"
	} else if input.TargetStudentUserID != nil {
		add("target_student_user_id", *input.TargetStudentUserID)
	}
	if input.MeetingURL != nil {
		add("meeting_url", *input.MeetingURL)
	}
	if input.Status != nil {
		add("status", *input.Status)
	}

	query := `UPDATE teacher_sessions SET ` + set + ` WHERE id = $1 RETURNING ` + sessionColumns
	return r.scanOne(r.db.QueryRow(ctx, query, args...))
}

// UpdateStatusIfChanged writes the derived status back only when it
// actually moved, keeping updated_at meaningful.
func (r *SessionRepository) UpdateStatusIfChanged(ctx context.Context, id int64, status string) error {
	query := `
		UPDATE teacher_sessions
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status <> $2
	`
	_, err := r.db.Exec(ctx, query, id, status)
	return err
}

func (r *SessionRepository) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM teacher_sessions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteEndedLive prunes live sessions whose window closed at least
// graceMinutes ago. Course sessions are never pruned.
func (r *SessionRepository) DeleteEndedLive(ctx context.Context, graceMinutes int) (int64, error) {
	query := `
		DELETE FROM teacher_sessions
		WHERE kind = 'live' AND status = 'ended'
		  AND starts_at + make_interval(mins => GREATEST(duration_minutes, 1)) + make_interval(mins => $1) <= NOW()
	`
	tag, err := r.db.Exec(ctx, query, graceMinutes)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepository) CreateAccessToken(ctx context.Context, token *models.SessionAccessToken) (*models.SessionAccessToken, error) {
	query := `
		INSERT INTO session_access_tokens (session_id, token, created_by_user_id, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, session_id, token, created_by_user_id, expires_at, used_at, created_at
	`
	var created models.SessionAccessToken
	err := r.db.QueryRow(ctx, query, token.SessionID, token.Token, token.CreatedByUserID, token.ExpiresAt).Scan(
		&created.ID,
		&created.SessionID,
		&created.Token,
		&created.CreatedByUserID,
		&created.ExpiresAt,
		&created.UsedAt,
		&created.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *SessionRepository) GetAccessToken(ctx context.Context, token string) (*models.SessionAccessToken, error) {
	query := `
		SELECT id, session_id, token, created_by_user_id, expires_at, used_at, created_at
		FROM session_access_tokens
		WHERE token = $1
	`
	var at models.SessionAccessToken
	err := r.db.QueryRow(ctx, query, token).Scan(
		&at.ID,
		&at.SessionID,
		&at.Token,
		&at.CreatedByUserID,
		&at.ExpiresAt,
		&at.UsedAt,
		&at.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &at, nil
}

// MarkAccessTokenUsed stamps used_at once; later redemptions keep the
// first timestamp.
func (r *SessionRepository) MarkAccessTokenUsed(ctx context.Context, id int64) error {
	query := `
		UPDATE session_access_tokens
		SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL
	`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

func (r *SessionRepository) InsertPresenceEvent(ctx context.Context, sessionID, userID int64, event string) (*models.PresenceEvent, error) {
	query := `
		INSERT INTO session_presence_events (session_id, user_id, event)
		VALUES ($1, $2, $3)
		RETURNING id, session_id, user_id, event, event_at
	`
	var pe models.PresenceEvent
	err := r.db.QueryRow(ctx, query, sessionID, userID, event).Scan(
		&pe.ID,
		&pe.SessionID,
		&pe.UserID,
		&pe.Event,
		&pe.EventAt,
	)
	if err != nil {
		return nil, err
	}
	return &pe, nil
}

// LatestPresenceByUser returns each participant's most recent event with
// display data, newest event wins per user.
func (r *SessionRepository) LatestPresenceByUser(ctx context.Context, sessionID int64) ([]models.PresenceUser, []string, error) {
	query := `
		SELECT DISTINCT ON (p.user_id) p.user_id, p.event, p.event_at,
		       COALESCE(u.display_name, ''), COALESCE(u.roles, '{}')
		FROM session_presence_events p
		LEFT JOIN users u ON u.id = p.user_id
		WHERE p.session_id = $1
		ORDER BY p.user_id, p.event_at DESC, p.id DESC
	`
	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	users := make([]models.PresenceUser, 0)
	events := make([]string, 0)
	for rows.Next() {
		var user models.PresenceUser
		var event string
		var roles []string
		if err := rows.Scan(&user.UserID, &event, &user.LastEventAt, &user.DisplayName, &roles); err != nil {
			return nil, nil, err
		}
		user.RoleTag = models.RoleTag(roles)
		users = append(users, user)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return users, events, nil
}

func (r *SessionRepository) scanOne(row rowScanner) (*models.TeacherSession, error) {
	var session models.TeacherSession
	err := row.Scan(
		&session.ID,
		&session.TeacherUserID,
		&session.TargetStudentUserID,
		&session.Title,
		&session.Kind,
		&session.Status,
		&session.StartsAt,
		&session.DurationMinutes,
		&session.MeetingURL,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) collect(rows pgx.Rows) ([]models.TeacherSession, error) {
	sessions := make([]models.TeacherSession, 0)
	for rows.Next() {
		var session models.TeacherSession
		if err := rows.Scan(
			&session.ID,
			&session.TeacherUserID,
			&session.TargetStudentUserID,
			&session.Title,
			&session.Kind,
			&session.Status,
			&session.StartsAt,
			&session.DurationMinutes,
			&session.MeetingURL,
			&session.CreatedAt,
			&session.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
