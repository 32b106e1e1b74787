package handlers

import (
	"context"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/services"
	sessionws "github.com/MehdiDinari/homebook/internal/websocket"
)

type sessionSocketService interface {
	GetSession(ctx context.Context, actor services.Actor, sessionID int64) (*models.TeacherSession, error)
	RecordPresence(ctx context.Context, sessionID, userID int64, event string) error
}

// SessionSocketHandler upgrades authenticated clients onto a session's
// realtime topic.
type SessionSocketHandler struct {
	hub     *sessionws.Hub
	service sessionSocketService
	logger  *zap.Logger
}

func NewSessionSocketHandler(hub *sessionws.Hub, service *services.SessionService, logger *zap.Logger) *SessionSocketHandler {
	return &SessionSocketHandler{hub: hub, service: service, logger: logger}
}

// Upgrade verifies the websocket handshake and the actor's access to the
// session before the protocol switch.
func (h *SessionSocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	sessionID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	if _, err := h.service.GetSession(c.Context(), actor, sessionID); err != nil {
		return mapError(c, err)
	}

	c.Locals("session_id", sessionID)
	c.Locals("ws_user_id", actor.ID())
	return c.Next()
}

func (h *SessionSocketHandler) Handle(conn *websocket.Conn) {
	sessionID, ok := conn.Locals("session_id").(int64)
	if !ok {
		_ = conn.Close()
		return
	}
	userID, ok := conn.Locals("ws_user_id").(int64)
	if !ok {
		_ = conn.Close()
		return
	}

	client := sessionws.NewClient(h.hub, conn, sessionws.SessionTopic(sessionID), userID)
	h.hub.Register(client)

	if err := h.service.RecordPresence(context.Background(), sessionID, userID, models.PresenceJoined); err != nil {
		h.logger.Warn("record join presence", zap.Int64("session_id", sessionID), zap.Error(err))
	}

	go client.WritePump()
	client.ReadPump(h.service)

	if err := h.service.RecordPresence(context.Background(), sessionID, userID, models.PresenceLeft); err != nil {
		h.logger.Warn("record leave presence", zap.Int64("session_id", sessionID), zap.Error(err))
	}
}
