package models

import "time"

const (
	SessionKindLive   = "live"
	SessionKindCourse = "course"

	SessionScheduled = "scheduled"
	SessionLive      = "live"
	SessionEnded     = "ended"
)

// TeacherSession is a scheduled or live teaching slot. A nil
// TargetStudentUserID means the session is open to every student with an
// active subscription to the teacher.
type TeacherSession struct {
	ID                  int64     `json:"id"`
	TeacherUserID       int64     `json:"teacher_user_id"`
	TargetStudentUserID *int64    `json:"target_student_user_id"`
	Title               string    `json:"title"`
	Kind                string    `json:"kind"`
	Status              string    `json:"status"`
	StartsAt            time.Time `json:"starts_at"`
	DurationMinutes     int       `json:"duration_minutes"`
	MeetingURL          *string   `json:"meeting_url"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// EndsAt returns the wall-clock end of the session window.
func (s *TeacherSession) EndsAt() time.Time {
	minutes := s.DurationMinutes
	if minutes < 1 {
		minutes = 1
	}
	return s.StartsAt.Add(time.Duration(minutes) * time.Minute)
}

// SessionAccessToken is a short-lived capability for joining a session
// without full identity resolution (embedded links).
type SessionAccessToken struct {
	ID              int64      `json:"id"`
	SessionID       int64      `json:"session_id"`
	Token           string     `json:"token"`
	CreatedByUserID int64      `json:"created_by_user_id"`
	ExpiresAt       time.Time  `json:"expires_at"`
	UsedAt          *time.Time `json:"used_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)

// PresenceEvent is one append-only joined/left record for a session.
type PresenceEvent struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	UserID    int64     `json:"user_id"`
	Event     string    `json:"event"`
	EventAt   time.Time `json:"event_at"`
}

// PresenceUser is one online participant in a presence snapshot.
type PresenceUser struct {
	UserID      int64     `json:"user_id"`
	DisplayName string    `json:"display_name"`
	RoleTag     string    `json:"role_tag,omitempty"`
	LastEventAt time.Time `json:"last_event_at"`
}

// PresenceSnapshot is the derived "who is online" view.
type PresenceSnapshot struct {
	SessionID   int64          `json:"session_id"`
	OnlineCount int            `json:"online_count"`
	Users       []PresenceUser `json:"users"`
}
