package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/repository"
)

var sessionTestTime = time.Date(2030, 5, 10, 12, 0, 0, 0, time.UTC)

type stubSessionStore struct {
	session       *models.TeacherSession
	sessionErr    error
	created       *models.TeacherSession
	list          []models.TeacherSession
	listErr       error
	updated       *models.TeacherSession
	updateErr     error
	deleted       bool
	pruned        int64
	prunedErr     error
	accessToken   *models.SessionAccessToken
	tokenErr      error
	presenceUsers []models.PresenceUser
	presenceEvts  []string
	presenceErr   error

	lastCreate      *models.TeacherSession
	lastUpdate      repository.UpdateSessionInput
	lastStatusWrite string
	lastEvent       string
	lastEventUser   int64
	tokenUsed       bool
}

func (s *stubSessionStore) Create(_ context.Context, session *models.TeacherSession) (*models.TeacherSession, error) {
	s.lastCreate = session
	if s.created != nil {
		return s.created, nil
	}
	out := *session
	out.ID = 1
	return &out, nil
}

func (s *stubSessionStore) GetByID(_ context.Context, _ int64) (*models.TeacherSession, error) {
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	return s.session, nil
}

func (s *stubSessionStore) ListByTeacher(_ context.Context, _ int64) ([]models.TeacherSession, error) {
	return s.list, s.listErr
}

func (s *stubSessionStore) ListForTeachers(_ context.Context, _ []int64, _ int64) ([]models.TeacherSession, error) {
	return s.list, s.listErr
}

func (s *stubSessionStore) Update(_ context.Context, _ int64, input repository.UpdateSessionInput) (*models.TeacherSession, error) {
	s.lastUpdate = input
	if s.updated != nil {
		return s.updated, s.updateErr
	}
	return s.session, s.updateErr
}

func (s *stubSessionStore) UpdateStatusIfChanged(_ context.Context, _ int64, status string) error {
	s.lastStatusWrite = status
	return nil
}

func (s *stubSessionStore) Delete(_ context.Context, _ int64) (bool, error) {
	s.deleted = true
	return true, nil
}

func (s *stubSessionStore) DeleteEndedLive(_ context.Context, _ int) (int64, error) {
	return s.pruned, s.prunedErr
}

func (s *stubSessionStore) CreateAccessToken(_ context.Context, token *models.SessionAccessToken) (*models.SessionAccessToken, error) {
	out := *token
	out.ID = 1
	return &out, nil
}

func (s *stubSessionStore) GetAccessToken(_ context.Context, _ string) (*models.SessionAccessToken, error) {
	if s.tokenErr != nil {
		return nil, s.tokenErr
	}
	return s.accessToken, nil
}

func (s *stubSessionStore) MarkAccessTokenUsed(_ context.Context, _ int64) error {
	s.tokenUsed = true
	return nil
}

func (s *stubSessionStore) InsertPresenceEvent(_ context.Context, sessionID, userID int64, event string) (*models.PresenceEvent, error) {
	s.lastEvent = event
	s.lastEventUser = userID
	return &models.PresenceEvent{ID: 1, SessionID: sessionID, UserID: userID, Event: event, EventAt: sessionTestTime}, nil
}

func (s *stubSessionStore) LatestPresenceByUser(_ context.Context, _ int64) ([]models.PresenceUser, []string, error) {
	return s.presenceUsers, s.presenceEvts, s.presenceErr
}

type stubSubAccess struct {
	active     bool
	activeErr  error
	teacherIDs []int64
}

func (s *stubSubAccess) ExistsActive(_ context.Context, _, _ int64) (bool, error) {
	return s.active, s.activeErr
}

func (s *stubSubAccess) ListActiveTeacherIDs(_ context.Context, _ int64) ([]int64, error) {
	return s.teacherIDs, nil
}

type capturePublisher struct {
	topics []string
	types  []string
}

func (p *capturePublisher) Publish(topic, eventType string, _ any) {
	p.topics = append(p.topics, topic)
	p.types = append(p.types, eventType)
}

func newTestSessionService(store *stubSessionStore, subs *stubSubAccess, publisher *capturePublisher) *SessionService {
	return &SessionService{
		sessions:     store,
		subs:         subs,
		publisher:    publisher,
		graceMinutes: 30,
		logger:       zap.NewNop(),
		now:          func() time.Time { return sessionTestTime },
	}
}

func studentActor(id int64) Actor {
	return Actor{User: &models.User{ID: id}, Roles: models.RoleSet{Student: true}}
}

func teacherActor(id int64) Actor {
	return Actor{User: &models.User{ID: id}, Roles: models.RoleSet{Teacher: true}}
}

func adminActor(id int64) Actor {
	return Actor{User: &models.User{ID: id}, Roles: models.RoleSet{Admin: true}}
}

func liveSession(startsAt time.Time, duration int) *models.TeacherSession {
	return &models.TeacherSession{
		ID:              10,
		TeacherUserID:   7,
		Title:           "Algebra",
		Kind:            models.SessionKindLive,
		Status:          models.SessionScheduled,
		StartsAt:        startsAt,
		DurationMinutes: duration,
	}
}

func TestLiveStatusWalksLiveSessions(t *testing.T) {
	cases := []struct {
		name     string
		startsIn time.Duration
		duration int
		want     string
	}{
		{"well before start", 30 * time.Minute, 60, models.SessionScheduled},
		{"inside lead window", 5 * time.Minute, 60, models.SessionLive},
		{"exactly at lead", 10 * time.Minute, 60, models.SessionLive},
		{"running", -5 * time.Minute, 60, models.SessionLive},
		{"past end", -61 * time.Minute, 60, models.SessionEnded},
		{"exactly at end", -60 * time.Minute, 60, models.SessionEnded},
	}
	for _, tc := range cases {
		session := liveSession(sessionTestTime.Add(tc.startsIn), tc.duration)
		if got := LiveStatus(session, sessionTestTime); got != tc.want {
			t.Errorf("%s: LiveStatus = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestLiveStatusLeavesCourseSessionsAlone(t *testing.T) {
	session := &models.TeacherSession{
		Kind:            models.SessionKindCourse,
		Status:          models.SessionScheduled,
		StartsAt:        sessionTestTime.Add(-2 * time.Hour),
		DurationMinutes: 60,
	}
	if got := LiveStatus(session, sessionTestTime); got != models.SessionScheduled {
		t.Fatalf("course session moved to %q", got)
	}
}

func TestBuildPresenceSnapshotFiltersAndSorts(t *testing.T) {
	users := []models.PresenceUser{
		{UserID: 3, DisplayName: "Zoe", LastEventAt: sessionTestTime.Add(-30 * time.Second)},
		{UserID: 1, DisplayName: "Anna", LastEventAt: sessionTestTime.Add(-10 * time.Second)},
		{UserID: 2, DisplayName: "Marc", LastEventAt: sessionTestTime.Add(-5 * time.Minute)},
		{UserID: 4, DisplayName: "Leo", LastEventAt: sessionTestTime.Add(-20 * time.Second)},
	}
	events := []string{models.PresenceJoined, models.PresenceJoined, models.PresenceJoined, models.PresenceLeft}

	snapshot := BuildPresenceSnapshot(10, users, events, sessionTestTime)
	if snapshot.OnlineCount != 2 {
		t.Fatalf("expected 2 online, got %d", snapshot.OnlineCount)
	}
	if snapshot.Users[0].DisplayName != "Anna" || snapshot.Users[1].DisplayName != "Zoe" {
		t.Fatalf("unexpected ordering: %+v", snapshot.Users)
	}
}

func TestBuildPresenceSnapshotBreaksNameTiesByUserID(t *testing.T) {
	users := []models.PresenceUser{
		{UserID: 9, DisplayName: "Anna", LastEventAt: sessionTestTime},
		{UserID: 2, DisplayName: "Anna", LastEventAt: sessionTestTime},
	}
	events := []string{models.PresenceJoined, models.PresenceJoined}

	snapshot := BuildPresenceSnapshot(10, users, events, sessionTestTime)
	if snapshot.Users[0].UserID != 2 || snapshot.Users[1].UserID != 9 {
		t.Fatalf("unexpected tie break: %+v", snapshot.Users)
	}
}

func TestAccessOwnerAndAdmin(t *testing.T) {
	service := newTestSessionService(&stubSessionStore{}, &stubSubAccess{}, &capturePublisher{})
	session := liveSession(sessionTestTime, 60)

	access, err := service.Access(context.Background(), teacherActor(7), session)
	if err != nil || !access.Allowed || !access.Owner {
		t.Fatalf("owner access = %+v, err %v", access, err)
	}

	access, err = service.Access(context.Background(), adminActor(99), session)
	if err != nil || !access.Allowed || access.Owner {
		t.Fatalf("admin access = %+v, err %v", access, err)
	}
}

func TestAccessTargetedSessionAdmitsOnlyItsStudent(t *testing.T) {
	target := int64(42)
	session := liveSession(sessionTestTime, 60)
	session.TargetStudentUserID = &target

	service := newTestSessionService(&stubSessionStore{}, &stubSubAccess{active: true}, &capturePublisher{})

	access, err := service.Access(context.Background(), studentActor(42), session)
	if err != nil || !access.Allowed {
		t.Fatalf("target student denied: %+v, err %v", access, err)
	}

	access, err = service.Access(context.Background(), studentActor(43), session)
	if err != nil || access.Allowed {
		t.Fatalf("other student admitted: %+v, err %v", access, err)
	}
}

func TestAccessOpenSessionRequiresActiveSubscription(t *testing.T) {
	session := liveSession(sessionTestTime, 60)

	service := newTestSessionService(&stubSessionStore{}, &stubSubAccess{active: false}, &capturePublisher{})
	access, err := service.Access(context.Background(), studentActor(42), session)
	if err != nil || access.Allowed {
		t.Fatalf("unsubscribed student admitted: %+v, err %v", access, err)
	}

	service = newTestSessionService(&stubSessionStore{}, &stubSubAccess{active: true}, &capturePublisher{})
	access, err = service.Access(context.Background(), studentActor(42), session)
	if err != nil || !access.Allowed {
		t.Fatalf("subscriber denied: %+v, err %v", access, err)
	}
}

func TestCreateSessionValidatesInput(t *testing.T) {
	service := newTestSessionService(&stubSessionStore{}, &stubSubAccess{}, &capturePublisher{})

	_, err := service.CreateSession(context.Background(), studentActor(42), CreateSessionInput{
		Title: "Algebra", Kind: models.SessionKindLive, StartsAt: sessionTestTime,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for student, got %v", err)
	}

	_, err = service.CreateSession(context.Background(), teacherActor(7), CreateSessionInput{
		Title: "  ", Kind: models.SessionKindLive, StartsAt: sessionTestTime,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank title, got %v", err)
	}

	_, err = service.CreateSession(context.Background(), teacherActor(7), CreateSessionInput{
		Title: "Algebra", Kind: "webinar", StartsAt: sessionTestTime,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad kind, got %v", err)
	}

	_, err = service.CreateSession(context.Background(), teacherActor(7), CreateSessionInput{
		TeacherUserID: 8, Title: "Algebra", Kind: models.SessionKindLive, StartsAt: sessionTestTime,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for other teacher, got %v", err)
	}
}

func TestCreateSessionRequiresSubscribedTarget(t *testing.T) {
	target := int64(42)
	store := &stubSessionStore{}
	service := newTestSessionService(store, &stubSubAccess{active: false}, &capturePublisher{})

	_, err := service.CreateSession(context.Background(), teacherActor(7), CreateSessionInput{
		TargetStudentUserID: &target,
		Title:               "Algebra",
		Kind:                models.SessionKindLive,
		StartsAt:            sessionTestTime.Add(time.Hour),
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unsubscribed target, got %v", err)
	}
	if store.lastCreate != nil {
		t.Fatalf("session created for unsubscribed target")
	}

	service = newTestSessionService(store, &stubSubAccess{active: true}, &capturePublisher{})
	created, err := service.CreateSession(context.Background(), teacherActor(7), CreateSessionInput{
		TargetStudentUserID: &target,
		Title:               "Algebra",
		Kind:                models.SessionKindLive,
		StartsAt:            sessionTestTime.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.TargetStudentUserID == nil || *created.TargetStudentUserID != target {
		t.Fatalf("target dropped: %+v", created.TargetStudentUserID)
	}
}

func TestCreateSessionDefaultsDurationAndMeetingURL(t *testing.T) {
	store := &stubSessionStore{}
	publisher := &capturePublisher{}
	service := newTestSessionService(store, &stubSubAccess{}, publisher)

	created, err := service.CreateSession(context.Background(), teacherActor(7), CreateSessionInput{
		Title:    "Algebra",
		Kind:     models.SessionKindLive,
		StartsAt: sessionTestTime.Add(5 * time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if store.lastCreate.DurationMinutes != 60 {
		t.Fatalf("expected default duration 60, got %d", store.lastCreate.DurationMinutes)
	}
	if store.lastCreate.MeetingURL == nil || !strings.HasPrefix(*store.lastCreate.MeetingURL, "https://meet.jit.si/homebook-live-") {
		t.Fatalf("unexpected meeting url: %v", store.lastCreate.MeetingURL)
	}
	if store.lastCreate.Status != models.SessionLive {
		t.Fatalf("expected derived live status inside lead window, got %q", store.lastCreate.Status)
	}
	if created.ID == 0 {
		t.Fatalf("expected created id")
	}
	if len(publisher.types) != 1 || publisher.types[0] != "session.created" {
		t.Fatalf("expected session.created event, got %v", publisher.types)
	}
}

func TestJoinRejectsEndedSession(t *testing.T) {
	store := &stubSessionStore{session: liveSession(sessionTestTime.Add(-2*time.Hour), 60)}
	service := newTestSessionService(store, &stubSubAccess{active: true}, &capturePublisher{})

	_, err := service.Join(context.Background(), studentActor(42), 10)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestJoinRecordsPresenceAndReturnsMeetingURL(t *testing.T) {
	meetingURL := "https://meet.jit.si/homebook-live-abc"
	session := liveSession(sessionTestTime.Add(5*time.Minute), 60)
	session.MeetingURL = &meetingURL
	store := &stubSessionStore{session: session}
	publisher := &capturePublisher{}
	service := newTestSessionService(store, &stubSubAccess{active: true}, publisher)

	result, err := service.Join(context.Background(), studentActor(42), 10)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.MeetingURL != meetingURL {
		t.Fatalf("unexpected meeting url %q", result.MeetingURL)
	}
	if store.lastEvent != models.PresenceJoined || store.lastEventUser != 42 {
		t.Fatalf("expected joined event for user 42, got %q/%d", store.lastEvent, store.lastEventUser)
	}
}

func TestRecordPresenceRejectsUnknownEvent(t *testing.T) {
	service := newTestSessionService(&stubSessionStore{}, &stubSubAccess{}, &capturePublisher{})
	if err := service.RecordPresence(context.Background(), 10, 42, "lurking"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListForTeacherHidesEndedLiveUnlessHistory(t *testing.T) {
	store := &stubSessionStore{list: []models.TeacherSession{
		*liveSession(sessionTestTime.Add(-2*time.Hour), 60),
		*liveSession(sessionTestTime.Add(time.Hour), 60),
		{ID: 11, TeacherUserID: 7, Title: "Course", Kind: models.SessionKindCourse, Status: models.SessionScheduled, StartsAt: sessionTestTime.Add(-2 * time.Hour), DurationMinutes: 60},
	}}
	service := newTestSessionService(store, &stubSubAccess{}, &capturePublisher{})

	visible, err := service.ListForTeacher(context.Background(), teacherActor(7), 7, ListOptions{})
	if err != nil {
		t.Fatalf("ListForTeacher: %v", err)
	}
	if len(visible) != 2 {
		t.Fatalf("expected ended live hidden, got %d sessions", len(visible))
	}

	all, err := service.ListForTeacher(context.Background(), teacherActor(7), 7, ListOptions{IncludeHistory: true})
	if err != nil {
		t.Fatalf("ListForTeacher history: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected full history, got %d sessions", len(all))
	}
}

func TestRescheduleStripsStudentOnlyFields(t *testing.T) {
	target := int64(42)
	session := liveSession(sessionTestTime.Add(time.Hour), 60)
	session.TargetStudentUserID = &target
	store := &stubSessionStore{session: session}
	service := newTestSessionService(store, &stubSubAccess{active: true}, &capturePublisher{})

	title := "Hijacked"
	newStart := sessionTestTime.Add(2 * time.Hour)
	_, err := service.Reschedule(context.Background(), studentActor(42), 10, RescheduleInput{
		Title:       &title,
		StartsAt:    &newStart,
		ClearTarget: true,
	})
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if store.lastUpdate.Title != nil {
		t.Fatalf("student retitled the session")
	}
	if store.lastUpdate.ClearTarget {
		t.Fatalf("student cleared the target")
	}
	if store.lastUpdate.StartsAt == nil || !store.lastUpdate.StartsAt.Equal(newStart) {
		t.Fatalf("expected moved start, got %v", store.lastUpdate.StartsAt)
	}
	if store.lastUpdate.Status == nil || *store.lastUpdate.Status != models.SessionScheduled {
		t.Fatalf("expected recomputed scheduled status, got %v", store.lastUpdate.Status)
	}
}

func TestRescheduleRejectsUnassignedStudent(t *testing.T) {
	target := int64(42)
	session := liveSession(sessionTestTime.Add(time.Hour), 60)
	session.TargetStudentUserID = &target
	store := &stubSessionStore{session: session}
	service := newTestSessionService(store, &stubSubAccess{active: true}, &capturePublisher{})

	newStart := sessionTestTime.Add(2 * time.Hour)
	_, err := service.Reschedule(context.Background(), studentActor(42), 10, RescheduleInput{StartsAt: &newStart})
	if err != nil {
		t.Fatalf("assigned student rejected: %v", err)
	}

	// An open live slot is not student-movable.
	session.TargetStudentUserID = nil
	_, err = service.Reschedule(context.Background(), studentActor(42), 10, RescheduleInput{StartsAt: &newStart})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestRedeemAccessTokenExpired(t *testing.T) {
	store := &stubSessionStore{
		accessToken: &models.SessionAccessToken{
			ID:        1,
			SessionID: 10,
			Token:     "abc",
			ExpiresAt: sessionTestTime.Add(-time.Minute),
		},
	}
	service := newTestSessionService(store, &stubSubAccess{}, &capturePublisher{})

	_, err := service.RedeemAccessToken(context.Background(), "abc")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if store.tokenUsed {
		t.Fatalf("expired token was stamped used")
	}
}

func TestRedeemAccessTokenStampsUsedAndStaysValid(t *testing.T) {
	used := sessionTestTime.Add(-time.Minute)
	store := &stubSessionStore{
		session: liveSession(sessionTestTime.Add(time.Hour), 60),
		accessToken: &models.SessionAccessToken{
			ID:        1,
			SessionID: 10,
			Token:     "abc",
			ExpiresAt: sessionTestTime.Add(time.Hour),
			UsedAt:    &used,
		},
	}
	service := newTestSessionService(store, &stubSubAccess{}, &capturePublisher{})

	session, err := service.RedeemAccessToken(context.Background(), "abc")
	if err != nil {
		t.Fatalf("RedeemAccessToken: %v", err)
	}
	if session.ID != 10 {
		t.Fatalf("unexpected session %d", session.ID)
	}
	if !store.tokenUsed {
		t.Fatalf("expected used stamp write")
	}
}

func TestRedeemAccessTokenNotFound(t *testing.T) {
	store := &stubSessionStore{tokenErr: pgx.ErrNoRows}
	service := newTestSessionService(store, &stubSubAccess{}, &capturePublisher{})

	_, err := service.RedeemAccessToken(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAccessTokenClampsTTL(t *testing.T) {
	store := &stubSessionStore{session: liveSession(sessionTestTime.Add(time.Hour), 60)}
	service := newTestSessionService(store, &stubSubAccess{}, &capturePublisher{})

	token, err := service.CreateAccessToken(context.Background(), teacherActor(7), 10, 0)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	if !token.ExpiresAt.Equal(sessionTestTime.Add(accessTokenDefaultTTL)) {
		t.Fatalf("expected default ttl, got %v", token.ExpiresAt)
	}

	token, err = service.CreateAccessToken(context.Background(), teacherActor(7), 10, 48*time.Hour)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	if !token.ExpiresAt.Equal(sessionTestTime.Add(accessTokenMaxTTL)) {
		t.Fatalf("expected ttl clamped to max, got %v", token.ExpiresAt)
	}

	_, err = service.CreateAccessToken(context.Background(), studentActor(42), 10, time.Hour)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestPruneEndedLiveRequiresAdmin(t *testing.T) {
	store := &stubSessionStore{pruned: 3}
	service := newTestSessionService(store, &stubSubAccess{}, &capturePublisher{})

	if _, err := service.PruneEndedLive(context.Background(), teacherActor(7)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	pruned, err := service.PruneEndedLive(context.Background(), adminActor(1))
	if err != nil || pruned != 3 {
		t.Fatalf("PruneEndedLive = (%d, %v)", pruned, err)
	}
}
