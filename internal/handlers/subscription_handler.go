package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/services"
)

type subscriptionApplicationService interface {
	Subscribe(ctx context.Context, actor services.Actor, input services.SubscribeInput) (*services.SubscribeResult, error)
	ListMine(ctx context.Context, actor services.Actor) ([]models.SubscriptionDetail, error)
	ListForTeacher(ctx context.Context, actor services.Actor, teacherUserID int64) ([]models.SubscriptionDetail, error)
	Cancel(ctx context.Context, actor services.Actor, subscriptionID int64) (*models.Subscription, error)
	ExpireDue(ctx context.Context, actor services.Actor) (int64, error)
	ListTeachers(ctx context.Context, roleAlias string) ([]models.User, error)
}

type SubscriptionHandler struct {
	service          subscriptionApplicationService
	teacherRoleAlias string
}

func NewSubscriptionHandler(service *services.SubscriptionService, teacherRoleAlias string) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, teacherRoleAlias: teacherRoleAlias}
}

type subscribeRequest struct {
	TeacherUserID    int64 `json:"teacher_user_id"`
	Months           int   `json:"months"`
	SessionsPerMonth int   `json:"sessions_per_month"`
}

func (h *SubscriptionHandler) Subscribe(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.TeacherUserID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "teacher_user_id is required"})
	}

	result, err := h.service.Subscribe(c.Context(), actor, services.SubscribeInput{
		TeacherUserID:    req.TeacherUserID,
		Months:           req.Months,
		SessionsPerMonth: req.SessionsPerMonth,
	})
	if err != nil {
		return mapError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *SubscriptionHandler) ListMine(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	subscriptions, err := h.service.ListMine(c.Context(), actor)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"subscriptions": subscriptions})
}

func (h *SubscriptionHandler) ListForTeacher(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	teacherID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid teacher id"})
	}

	subscriptions, err := h.service.ListForTeacher(c.Context(), actor, teacherID)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"subscriptions": subscriptions})
}

func (h *SubscriptionHandler) Cancel(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	subscriptionID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid subscription id"})
	}

	subscription, err := h.service.Cancel(c.Context(), actor, subscriptionID)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": subscription})
}

func (h *SubscriptionHandler) ExpireDue(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	expired, err := h.service.ExpireDue(c.Context(), actor)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"expired": expired})
}

func (h *SubscriptionHandler) ListTeachers(c *fiber.Ctx) error {
	if _, err := requireActor(c); err != nil {
		return err
	}

	teachers, err := h.service.ListTeachers(c.Context(), h.teacherRoleAlias)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"teachers": teachers})
}
