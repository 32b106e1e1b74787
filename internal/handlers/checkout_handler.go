package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/services"
)

type checkoutApplicationService interface {
	CreateCheckout(ctx context.Context, actor services.Actor, input services.CreateCheckoutInput) (*models.PaymentTransaction, error)
	ConfirmCheckout(ctx context.Context, actor services.Actor, token string) (*services.ConfirmResult, error)
	CreateTopup(ctx context.Context, actor services.Actor, input services.CreateTopupInput) (*models.WalletTopupTransaction, error)
	ConfirmTopup(ctx context.Context, actor services.Actor, token string) (*models.WalletTopupTransaction, *models.StudentBalance, error)
	ListPayments(ctx context.Context, actor services.Actor, subjectUserID int64, asTeacher bool) ([]models.PaymentTransaction, error)
	ListTopups(ctx context.Context, actor services.Actor, studentUserID int64) ([]models.WalletTopupTransaction, error)
}

type CheckoutHandler struct {
	service checkoutApplicationService
}

func NewCheckoutHandler(service *services.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{service: service}
}

type createCheckoutRequest struct {
	TeacherUserID    int64  `json:"teacher_user_id"`
	Months           int    `json:"months"`
	SessionsPerMonth int    `json:"sessions_per_month"`
	Provider         string `json:"provider"`
	SuccessURL       string `json:"success_url"`
	CancelURL        string `json:"cancel_url"`
}

func (h *CheckoutHandler) CreateCheckout(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	var req createCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.TeacherUserID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "teacher_user_id is required"})
	}

	transaction, err := h.service.CreateCheckout(c.Context(), actor, services.CreateCheckoutInput{
		TeacherUserID:    req.TeacherUserID,
		Months:           req.Months,
		SessionsPerMonth: req.SessionsPerMonth,
		Provider:         strings.TrimSpace(req.Provider),
		SuccessURL:       strings.TrimSpace(req.SuccessURL),
		CancelURL:        strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		return mapError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"transaction": transaction})
}

type confirmRequest struct {
	Token string `json:"token"`
}

func confirmToken(c *fiber.Ctx) string {
	var req confirmRequest
	if err := c.BodyParser(&req); err == nil && strings.TrimSpace(req.Token) != "" {
		return strings.TrimSpace(req.Token)
	}
	return strings.TrimSpace(c.Query("checkout_token"))
}

func (h *CheckoutHandler) ConfirmCheckout(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	token := confirmToken(c)
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "token is required"})
	}

	result, err := h.service.ConfirmCheckout(c.Context(), actor, token)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(result)
}

type createTopupRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Provider    string `json:"provider"`
	SuccessURL  string `json:"success_url"`
	CancelURL   string `json:"cancel_url"`
}

func (h *CheckoutHandler) CreateTopup(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	var req createTopupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	transaction, err := h.service.CreateTopup(c.Context(), actor, services.CreateTopupInput{
		AmountCents: req.AmountCents,
		Provider:    strings.TrimSpace(req.Provider),
		SuccessURL:  strings.TrimSpace(req.SuccessURL),
		CancelURL:   strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		return mapError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"transaction": transaction})
}

func (h *CheckoutHandler) ConfirmTopup(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	token := confirmToken(c)
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "token is required"})
	}

	transaction, balance, err := h.service.ConfirmTopup(c.Context(), actor, token)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{
		"transaction": transaction,
		"balance":     balance,
	})
}

func (h *CheckoutHandler) ListPayments(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	subject, err := subjectID(c, actor)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	asTeacher := c.Query("side") == "teacher"
	transactions, err := h.service.ListPayments(c.Context(), actor, subject, asTeacher)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"transactions": transactions})
}

func (h *CheckoutHandler) ListTopups(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	subject, err := subjectID(c, actor)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	transactions, err := h.service.ListTopups(c.Context(), actor, subject)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"transactions": transactions})
}
