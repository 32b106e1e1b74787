package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/services"
)

type withdrawalApplicationService interface {
	CreateWithdrawal(ctx context.Context, actor services.Actor, input services.CreateWithdrawalInput) (*models.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, actor services.Actor, id int64, input services.UpdateWithdrawalInput) (*models.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, actor services.Actor, teacherUserID int64, status string) ([]models.WithdrawalRequest, error)
	GetWithdrawal(ctx context.Context, actor services.Actor, id int64) (*models.WithdrawalRequest, error)
}

type WithdrawalHandler struct {
	service withdrawalApplicationService
}

func NewWithdrawalHandler(service *services.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{service: service}
}

type createWithdrawalRequest struct {
	AmountCents int64   `json:"amount_cents"`
	Method      string  `json:"method"`
	PayoutEmail *string `json:"payout_email"`
	Note        *string `json:"note"`
}

func (h *WithdrawalHandler) Create(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	var req createWithdrawalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	request, err := h.service.CreateWithdrawal(c.Context(), actor, services.CreateWithdrawalInput{
		AmountCents: req.AmountCents,
		Method:      strings.TrimSpace(req.Method),
		PayoutEmail: req.PayoutEmail,
		Note:        req.Note,
	})
	if err != nil {
		return mapError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"withdrawal": request})
}

type updateWithdrawalRequest struct {
	Status    string  `json:"status"`
	AdminNote *string `json:"admin_note"`
}

func (h *WithdrawalHandler) Update(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid withdrawal id"})
	}

	var req updateWithdrawalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	request, err := h.service.UpdateWithdrawal(c.Context(), actor, id, services.UpdateWithdrawalInput{
		Status:    strings.TrimSpace(req.Status),
		AdminNote: req.AdminNote,
	})
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"withdrawal": request})
}

func (h *WithdrawalHandler) List(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	teacherID := actor.ID()
	if c.Query("all") == "true" {
		teacherID = 0
	}
	requests, err := h.service.ListWithdrawals(c.Context(), actor, teacherID, strings.TrimSpace(c.Query("status")))
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"withdrawals": requests})
}

func (h *WithdrawalHandler) Get(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid withdrawal id"})
	}

	request, err := h.service.GetWithdrawal(c.Context(), actor, id)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"withdrawal": request})
}
