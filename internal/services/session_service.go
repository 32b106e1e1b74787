package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/repository"
)

const (
	// liveLeadTime is how long before starts_at a live session opens.
	liveLeadTime = 10 * time.Minute

	// presenceStaleness bounds how old a joined event may be and still
	// count as online.
	presenceStaleness = 120 * time.Second

	accessTokenDefaultTTL = 60 * time.Minute
	accessTokenMaxTTL     = 24 * time.Hour
)

// LiveStatus derives the status a session should hold at the given
// instant. Course sessions never move on their own; live sessions walk
// scheduled -> live -> ended from the clock alone.
func LiveStatus(session *models.TeacherSession, now time.Time) string {
	if session.Kind != models.SessionKindLive {
		return session.Status
	}
	if !now.Before(session.EndsAt()) {
		return models.SessionEnded
	}
	if !now.Add(liveLeadTime).Before(session.StartsAt) {
		return models.SessionLive
	}
	return models.SessionScheduled
}

// SessionAccess is the visibility decision for one actor and session.
type SessionAccess struct {
	Allowed bool
	Owner   bool
}

type sessionStore interface {
	Create(ctx context.Context, session *models.TeacherSession) (*models.TeacherSession, error)
	GetByID(ctx context.Context, id int64) (*models.TeacherSession, error)
	ListByTeacher(ctx context.Context, teacherUserID int64) ([]models.TeacherSession, error)
	ListForTeachers(ctx context.Context, teacherIDs []int64, studentUserID int64) ([]models.TeacherSession, error)
	Update(ctx context.Context, id int64, input repository.UpdateSessionInput) (*models.TeacherSession, error)
	UpdateStatusIfChanged(ctx context.Context, id int64, status string) error
	Delete(ctx context.Context, id int64) (bool, error)
	DeleteEndedLive(ctx context.Context, graceMinutes int) (int64, error)
	CreateAccessToken(ctx context.Context, token *models.SessionAccessToken) (*models.SessionAccessToken, error)
	GetAccessToken(ctx context.Context, token string) (*models.SessionAccessToken, error)
	MarkAccessTokenUsed(ctx context.Context, id int64) error
	InsertPresenceEvent(ctx context.Context, sessionID, userID int64, event string) (*models.PresenceEvent, error)
	LatestPresenceByUser(ctx context.Context, sessionID int64) ([]models.PresenceUser, []string, error)
}

type subscriptionAccess interface {
	ExistsActive(ctx context.Context, teacherUserID, studentUserID int64) (bool, error)
	ListActiveTeacherIDs(ctx context.Context, studentUserID int64) ([]int64, error)
}

type eventPublisher interface {
	Publish(topic, eventType string, payload any)
}

type SessionService struct {
	sessions     sessionStore
	subs         subscriptionAccess
	publisher    eventPublisher
	graceMinutes int
	logger       *zap.Logger
	now          func() time.Time
}

func NewSessionService(
	sessions sessionStore,
	subs subscriptionAccess,
	publisher eventPublisher,
	graceMinutes int,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		sessions:     sessions,
		subs:         subs,
		publisher:    publisher,
		graceMinutes: graceMinutes,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func sessionTopic(sessionID int64) string {
	return fmt.Sprintf("session:%d", sessionID)
}

func defaultMeetingURL(kind string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("https://meet.jit.si/homebook-%s-%s", kind, suffix)
}

// Access decides whether the actor may see and join a session. Owners
// and admins always can; a targeted session admits only its student, an
// open one admits any active subscriber of the teacher.
func (s *SessionService) Access(ctx context.Context, actor Actor, session *models.TeacherSession) (SessionAccess, error) {
	if actor.ID() == session.TeacherUserID {
		return SessionAccess{Allowed: true, Owner: true}, nil
	}
	if actor.Roles.Admin {
		return SessionAccess{Allowed: true}, nil
	}
	if !actor.Roles.Student {
		return SessionAccess{}, nil
	}
	if session.TargetStudentUserID != nil && *session.TargetStudentUserID != actor.ID() {
		return SessionAccess{}, nil
	}

	subscribed, err := s.subs.ExistsActive(ctx, session.TeacherUserID, actor.ID())
	if err != nil {
		return SessionAccess{}, fmt.Errorf("check subscription: %w", err)
	}
	return SessionAccess{Allowed: subscribed}, nil
}

// CreateSessionInput describes a new teaching slot.
type CreateSessionInput struct {
	TeacherUserID       int64
	TargetStudentUserID *int64
	Title               string
	Kind                string
	StartsAt            time.Time
	DurationMinutes     int
	MeetingURL          string
}

func (s *SessionService) CreateSession(ctx context.Context, actor Actor, input CreateSessionInput) (*models.TeacherSession, error) {
	teacherID := input.TeacherUserID
	if teacherID == 0 {
		teacherID = actor.ID()
	}
	if !actor.Roles.Admin && actor.ID() != teacherID {
		return nil, ErrForbidden
	}
	if !actor.Roles.Teacher && !actor.Roles.Admin {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if input.Kind != models.SessionKindLive && input.Kind != models.SessionKindCourse {
		return nil, fmt.Errorf("%w: kind must be live or course", ErrInvalidInput)
	}
	if input.DurationMinutes < 1 {
		input.DurationMinutes = 60
	}
	if input.TargetStudentUserID != nil {
		subscribed, err := s.subs.ExistsActive(ctx, teacherID, *input.TargetStudentUserID)
		if err != nil {
			return nil, fmt.Errorf("check subscription: %w", err)
		}
		if !subscribed {
			return nil, fmt.Errorf("%w: student is not subscribed to this teacher", ErrInvalidInput)
		}
	}

	meetingURL := strings.TrimSpace(input.MeetingURL)
	if meetingURL == "" {
		meetingURL = defaultMeetingURL(input.Kind)
	}

	session := &models.TeacherSession{
		TeacherUserID:       teacherID,
		TargetStudentUserID: input.TargetStudentUserID,
		Title:               strings.TrimSpace(input.Title),
		Kind:                input.Kind,
		Status:              models.SessionScheduled,
		StartsAt:            input.StartsAt.UTC(),
		DurationMinutes:     input.DurationMinutes,
		MeetingURL:          &meetingURL,
	}
	session.Status = LiveStatus(session, s.now())

	created, err := s.sessions.Create(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.publisher.Publish(sessionTopic(created.ID), "session.created", created)
	return created, nil
}

// refresh applies the derived status, writing it back only on change.
func (s *SessionService) refresh(ctx context.Context, session *models.TeacherSession) {
	derived := LiveStatus(session, s.now())
	if derived == session.Status {
		return
	}
	if err := s.sessions.UpdateStatusIfChanged(ctx, session.ID, derived); err != nil {
		s.logger.Warn("session status write-back failed", zap.Int64("session_id", session.ID), zap.Error(err))
		return
	}
	session.Status = derived
}

// ListOptions controls dashboard filtering.
type ListOptions struct {
	IncludeHistory bool
	AutoCleanup    bool
}

// ListForTeacher returns a teacher's sessions with statuses refreshed.
// Ended live sessions are hidden unless history is requested, and the
// cleanup flag prunes those past the grace window.
func (s *SessionService) ListForTeacher(ctx context.Context, actor Actor, teacherUserID int64, opts ListOptions) ([]models.TeacherSession, error) {
	if !actor.Roles.Admin && actor.ID() != teacherUserID {
		return nil, ErrForbidden
	}

	if opts.AutoCleanup {
		if pruned, err := s.sessions.DeleteEndedLive(ctx, s.graceMinutes); err != nil {
			s.logger.Warn("session cleanup failed", zap.Error(err))
		} else if pruned > 0 {
			s.logger.Info("pruned ended live sessions", zap.Int64("count", pruned))
		}
	}

	sessions, err := s.sessions.ListByTeacher(ctx, teacherUserID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return s.present(ctx, sessions, opts), nil
}

// StudentDashboard lists the sessions visible to a student across all
// active subscriptions.
func (s *SessionService) StudentDashboard(ctx context.Context, actor Actor, opts ListOptions) ([]models.TeacherSession, error) {
	if !actor.Roles.Student && !actor.Roles.Admin {
		return nil, ErrForbidden
	}

	teacherIDs, err := s.subs.ListActiveTeacherIDs(ctx, actor.ID())
	if err != nil {
		return nil, fmt.Errorf("list subscribed teachers: %w", err)
	}
	sessions, err := s.sessions.ListForTeachers(ctx, teacherIDs, actor.ID())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return s.present(ctx, sessions, opts), nil
}

func (s *SessionService) present(ctx context.Context, sessions []models.TeacherSession, opts ListOptions) []models.TeacherSession {
	out := make([]models.TeacherSession, 0, len(sessions))
	for i := range sessions {
		s.refresh(ctx, &sessions[i])
		if !opts.IncludeHistory &&
			sessions[i].Kind == models.SessionKindLive &&
			sessions[i].Status == models.SessionEnded {
			continue
		}
		out = append(out, sessions[i])
	}
	return out
}

func (s *SessionService) getAccessible(ctx context.Context, actor Actor, sessionID int64) (*models.TeacherSession, SessionAccess, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, SessionAccess{}, fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return nil, SessionAccess{}, fmt.Errorf("load session: %w", err)
	}
	access, err := s.Access(ctx, actor, session)
	if err != nil {
		return nil, SessionAccess{}, err
	}
	if !access.Allowed {
		return nil, SessionAccess{}, ErrForbidden
	}
	s.refresh(ctx, session)
	return session, access, nil
}

func (s *SessionService) GetSession(ctx context.Context, actor Actor, sessionID int64) (*models.TeacherSession, error) {
	session, _, err := s.getAccessible(ctx, actor, sessionID)
	return session, err
}

// RescheduleInput is a partial update of a session's slot.
type RescheduleInput struct {
	Title               *string
	StartsAt            *time.Time
	DurationMinutes     *int
	TargetStudentUserID *int64
	ClearTarget         bool
	MeetingURL          *string
}

// Reschedule moves or retitles a session. The owner and admins may
// always do it; a student may when the session is assigned to them, or
// when it is an untargeted course slot.
func (s *SessionService) Reschedule(ctx context.Context, actor Actor, sessionID int64, input RescheduleInput) (*models.TeacherSession, error) {
	session, access, err := s.getAccessible(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	if !access.Owner && !actor.Roles.Admin {
		assigned := session.TargetStudentUserID != nil && *session.TargetStudentUserID == actor.ID()
		openCourse := session.Kind == models.SessionKindCourse && session.TargetStudentUserID == nil
		if !assigned && !openCourse {
			return nil, ErrForbidden
		}
		// Students may move the slot, not retarget or relabel it.
		input.TargetStudentUserID = nil
		input.ClearTarget = false
		input.Title = nil
		input.MeetingURL = nil
	}

	if input.DurationMinutes != nil && *input.DurationMinutes < 1 {
		return nil, fmt.Errorf("%w: duration must be at least one minute", ErrInvalidInput)
	}

	update := repository.UpdateSessionInput{
		Title:               input.Title,
		StartsAt:            input.StartsAt,
		DurationMinutes:     input.DurationMinutes,
		TargetStudentUserID: input.TargetStudentUserID,
		ClearTarget:         input.ClearTarget,
		MeetingURL:          input.MeetingURL,
	}

	if input.StartsAt != nil || input.DurationMinutes != nil {
		probe := *session
		if input.StartsAt != nil {
			probe.StartsAt = input.StartsAt.UTC()
		}
		if input.DurationMinutes != nil {
			probe.DurationMinutes = *input.DurationMinutes
		}
		status := models.SessionScheduled
		if probe.Kind == models.SessionKindLive {
			status = LiveStatus(&probe, s.now())
		}
		update.Status = &status
	}

	updated, err := s.sessions.Update(ctx, sessionID, update)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	s.publisher.Publish(sessionTopic(updated.ID), "session.updated", updated)
	return updated, nil
}

func (s *SessionService) DeleteSession(ctx context.Context, actor Actor, sessionID int64) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return fmt.Errorf("load session: %w", err)
	}
	if !actor.Roles.Admin && actor.ID() != session.TeacherUserID {
		return ErrForbidden
	}

	deleted, err := s.sessions.Delete(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if deleted {
		s.publisher.Publish(sessionTopic(sessionID), "session.deleted", map[string]int64{"session_id": sessionID})
	}
	return nil
}

// JoinResult carries what a participant needs to enter the room.
type JoinResult struct {
	Session    *models.TeacherSession `json:"session"`
	MeetingURL string                 `json:"meeting_url"`
}

// Join records the participant and hands back the meeting URL.
func (s *SessionService) Join(ctx context.Context, actor Actor, sessionID int64) (*JoinResult, error) {
	session, _, err := s.getAccessible(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionEnded {
		return nil, fmt.Errorf("%w: session already ended", ErrConflict)
	}

	if err := s.RecordPresence(ctx, sessionID, actor.ID(), models.PresenceJoined); err != nil {
		return nil, err
	}
	s.publisher.Publish(sessionTopic(sessionID), "session.joined", map[string]int64{
		"session_id": sessionID,
		"user_id":    actor.ID(),
	})

	meetingURL := ""
	if session.MeetingURL != nil {
		meetingURL = *session.MeetingURL
	}
	return &JoinResult{Session: session, MeetingURL: meetingURL}, nil
}

// RecordPresence appends a joined/left event and fans out the refreshed
// snapshot. Events are never rewritten; the snapshot is derived.
func (s *SessionService) RecordPresence(ctx context.Context, sessionID, userID int64, event string) error {
	if event != models.PresenceJoined && event != models.PresenceLeft {
		return fmt.Errorf("%w: unknown presence event %q", ErrInvalidInput, event)
	}
	if _, err := s.sessions.InsertPresenceEvent(ctx, sessionID, userID, event); err != nil {
		return fmt.Errorf("insert presence event: %w", err)
	}

	snapshot, err := s.presenceSnapshot(ctx, sessionID)
	if err != nil {
		s.logger.Warn("presence snapshot failed", zap.Int64("session_id", sessionID), zap.Error(err))
		return nil
	}
	s.publisher.Publish(sessionTopic(sessionID), "presence", snapshot)
	return nil
}

// Presence returns who is online right now.
func (s *SessionService) Presence(ctx context.Context, actor Actor, sessionID int64) (*models.PresenceSnapshot, error) {
	if _, _, err := s.getAccessible(ctx, actor, sessionID); err != nil {
		return nil, err
	}
	return s.presenceSnapshot(ctx, sessionID)
}

func (s *SessionService) presenceSnapshot(ctx context.Context, sessionID int64) (*models.PresenceSnapshot, error) {
	users, events, err := s.sessions.LatestPresenceByUser(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("latest presence: %w", err)
	}
	return BuildPresenceSnapshot(sessionID, users, events, s.now()), nil
}

// BuildPresenceSnapshot keeps only users whose latest event is a recent
// join, sorted by display name for stable output.
func BuildPresenceSnapshot(sessionID int64, users []models.PresenceUser, events []string, now time.Time) *models.PresenceSnapshot {
	online := make([]models.PresenceUser, 0, len(users))
	for i := range users {
		if events[i] != models.PresenceJoined {
			continue
		}
		if now.Sub(users[i].LastEventAt) > presenceStaleness {
			continue
		}
		online = append(online, users[i])
	}
	sort.Slice(online, func(i, j int) bool {
		if online[i].DisplayName == online[j].DisplayName {
			return online[i].UserID < online[j].UserID
		}
		return online[i].DisplayName < online[j].DisplayName
	})
	return &models.PresenceSnapshot{
		SessionID:   sessionID,
		OnlineCount: len(online),
		Users:       online,
	}
}

// CreateAccessToken mints a short-lived join link for a session.
func (s *SessionService) CreateAccessToken(ctx context.Context, actor Actor, sessionID int64, ttl time.Duration) (*models.SessionAccessToken, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !actor.Roles.Admin && actor.ID() != session.TeacherUserID {
		return nil, ErrForbidden
	}

	if ttl <= 0 {
		ttl = accessTokenDefaultTTL
	}
	if ttl > accessTokenMaxTTL {
		ttl = accessTokenMaxTTL
	}

	token, err := s.sessions.CreateAccessToken(ctx, &models.SessionAccessToken{
		SessionID:       sessionID,
		Token:           strings.ReplaceAll(uuid.NewString(), "-", ""),
		CreatedByUserID: actor.ID(),
		ExpiresAt:       s.now().Add(ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}
	return token, nil
}

// RedeemAccessToken resolves a join link to its session. The first
// redemption stamps used_at; the stamp is informational, tokens stay
// valid until they expire.
func (s *SessionService) RedeemAccessToken(ctx context.Context, token string) (*models.TeacherSession, error) {
	at, err := s.sessions.GetAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("access token not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load access token: %w", err)
	}
	if s.now().After(at.ExpiresAt) {
		return nil, fmt.Errorf("access token expired: %w", ErrForbidden)
	}
	if err := s.sessions.MarkAccessTokenUsed(ctx, at.ID); err != nil {
		return nil, fmt.Errorf("mark token used: %w", err)
	}

	session, err := s.sessions.GetByID(ctx, at.SessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	s.refresh(ctx, session)
	return session, nil
}

// PruneEndedLive deletes ended live sessions past the grace window.
func (s *SessionService) PruneEndedLive(ctx context.Context, actor Actor) (int64, error) {
	if !actor.Roles.Admin {
		return 0, ErrForbidden
	}
	return s.sessions.DeleteEndedLive(ctx, s.graceMinutes)
}
