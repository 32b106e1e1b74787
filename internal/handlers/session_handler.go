package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/services"
)

type sessionApplicationService interface {
	CreateSession(ctx context.Context, actor services.Actor, input services.CreateSessionInput) (*models.TeacherSession, error)
	ListForTeacher(ctx context.Context, actor services.Actor, teacherUserID int64, opts services.ListOptions) ([]models.TeacherSession, error)
	StudentDashboard(ctx context.Context, actor services.Actor, opts services.ListOptions) ([]models.TeacherSession, error)
	GetSession(ctx context.Context, actor services.Actor, sessionID int64) (*models.TeacherSession, error)
	Reschedule(ctx context.Context, actor services.Actor, sessionID int64, input services.RescheduleInput) (*models.TeacherSession, error)
	DeleteSession(ctx context.Context, actor services.Actor, sessionID int64) error
	Join(ctx context.Context, actor services.Actor, sessionID int64) (*services.JoinResult, error)
	Presence(ctx context.Context, actor services.Actor, sessionID int64) (*models.PresenceSnapshot, error)
	RecordPresence(ctx context.Context, sessionID, userID int64, event string) error
	CreateAccessToken(ctx context.Context, actor services.Actor, sessionID int64, ttl time.Duration) (*models.SessionAccessToken, error)
	RedeemAccessToken(ctx context.Context, token string) (*models.TeacherSession, error)
	PruneEndedLive(ctx context.Context, actor services.Actor) (int64, error)
}

type SessionHandler struct {
	service sessionApplicationService
}

func NewSessionHandler(service *services.SessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

type createSessionRequest struct {
	TeacherUserID       int64  `json:"teacher_user_id"`
	TargetStudentUserID *int64 `json:"target_student_user_id"`
	Title               string `json:"title"`
	Kind                string `json:"kind"`
	StartsAt            string `json:"starts_at"`
	DurationMinutes     int    `json:"duration_minutes"`
	MeetingURL          string `json:"meeting_url"`
}

func (h *SessionHandler) Create(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	startsAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartsAt))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "starts_at must be a valid RFC3339 timestamp"})
	}

	session, err := h.service.CreateSession(c.Context(), actor, services.CreateSessionInput{
		TeacherUserID:       req.TeacherUserID,
		TargetStudentUserID: req.TargetStudentUserID,
		Title:               req.Title,
		Kind:                strings.TrimSpace(req.Kind),
		StartsAt:            startsAt,
		DurationMinutes:     req.DurationMinutes,
		MeetingURL:          req.MeetingURL,
	})
	if err != nil {
		return mapError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session": session})
}

func listOptions(c *fiber.Ctx) services.ListOptions {
	return services.ListOptions{
		IncludeHistory: c.QueryBool("include_history"),
		AutoCleanup:    c.QueryBool("auto_cleanup"),
	}
}

func (h *SessionHandler) ListForTeacher(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	teacherID, err := subjectID(c, actor)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid teacher id"})
	}

	sessions, err := h.service.ListForTeacher(c.Context(), actor, teacherID, listOptions(c))
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *SessionHandler) Dashboard(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	sessions, err := h.service.StudentDashboard(c.Context(), actor, listOptions(c))
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *SessionHandler) Get(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	sessionID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	session, err := h.service.GetSession(c.Context(), actor, sessionID)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"session": session})
}

type rescheduleRequest struct {
	Title               *string `json:"title"`
	StartsAt            *string `json:"starts_at"`
	DurationMinutes     *int    `json:"duration_minutes"`
	TargetStudentUserID *int64  `json:"target_student_user_id"`
	ClearTarget         bool    `json:"clear_target"`
	MeetingURL          *string `json:"meeting_url"`
}

func (h *SessionHandler) Reschedule(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	sessionID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	var req rescheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	input := services.RescheduleInput{
		Title:               req.Title,
		DurationMinutes:     req.DurationMinutes,
		TargetStudentUserID: req.TargetStudentUserID,
		ClearTarget:         req.ClearTarget,
		MeetingURL:          req.MeetingURL,
	}
	if req.StartsAt != nil {
		startsAt, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.StartsAt))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "starts_at must be a valid RFC3339 timestamp"})
		}
		input.StartsAt = &startsAt
	}

	session, err := h.service.Reschedule(c.Context(), actor, sessionID, input)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) Delete(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	sessionID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	if err := h.service.DeleteSession(c.Context(), actor, sessionID); err != nil {
		return mapError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SessionHandler) Join(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	sessionID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	result, err := h.service.Join(c.Context(), actor, sessionID)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(result)
}

func (h *SessionHandler) Leave(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	sessionID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	if err := h.service.RecordPresence(c.Context(), sessionID, actor.ID(), models.PresenceLeft); err != nil {
		return mapError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SessionHandler) Presence(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	sessionID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	snapshot, err := h.service.Presence(c.Context(), actor, sessionID)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(snapshot)
}

type createAccessTokenRequest struct {
	TTLMinutes int `json:"ttl_minutes"`
}

func (h *SessionHandler) CreateAccessToken(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	sessionID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	var req createAccessTokenRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	token, err := h.service.CreateAccessToken(c.Context(), actor, sessionID, time.Duration(req.TTLMinutes)*time.Minute)
	if err != nil {
		return mapError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"access_token": token})
}

// RedeemAccessToken is the only session route usable without identity
// headers; the token is the capability.
func (h *SessionHandler) RedeemAccessToken(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Params("token"))
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "token is required"})
	}

	session, err := h.service.RedeemAccessToken(c.Context(), token)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) Prune(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	pruned, err := h.service.PruneEndedLive(c.Context(), actor)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"pruned": pruned})
}
