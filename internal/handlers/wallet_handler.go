package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/services"
)

type walletApplicationService interface {
	GetStudentWallet(ctx context.Context, actor services.Actor, studentUserID int64) (*services.StudentWallet, error)
	StudentMoney(ctx context.Context, actor services.Actor, studentUserID int64) (*models.StudentMoney, error)
	TeacherEarnings(ctx context.Context, actor services.Actor, teacherUserID int64) (*models.TeacherEarnings, error)
	PlatformRevenue(ctx context.Context, actor services.Actor) (*models.PlatformRevenue, error)
	TeacherWallet(ctx context.Context, actor services.Actor, teacherUserID int64) (*models.TeacherWallet, error)
	ListTeacherEntries(ctx context.Context, actor services.Actor, teacherUserID int64) ([]models.TeacherWalletEntry, error)
	ReconcileTeacherWallet(ctx context.Context, actor services.Actor, teacherUserID int64) (int, int64, error)
}

type WalletHandler struct {
	service walletApplicationService
}

func NewWalletHandler(service *services.WalletService) *WalletHandler {
	return &WalletHandler{service: service}
}

// subjectID resolves an optional :id param, defaulting to the actor.
func subjectID(c *fiber.Ctx, actor services.Actor) (int64, error) {
	raw := c.Params("id")
	if raw == "" {
		return actor.ID(), nil
	}
	return parseIDParam(c, "id")
}

func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	studentID, err := subjectID(c, actor)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	wallet, err := h.service.GetStudentWallet(c.Context(), actor, studentID)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(wallet)
}

func (h *WalletHandler) StudentMoney(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	studentID, err := subjectID(c, actor)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	summary, err := h.service.StudentMoney(c.Context(), actor, studentID)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(summary)
}

func (h *WalletHandler) TeacherEarnings(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	teacherID, err := subjectID(c, actor)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	summary, err := h.service.TeacherEarnings(c.Context(), actor, teacherID)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(summary)
}

func (h *WalletHandler) PlatformRevenue(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	summary, err := h.service.PlatformRevenue(c.Context(), actor)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(summary)
}

func (h *WalletHandler) TeacherWallet(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	teacherID, err := subjectID(c, actor)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	wallet, err := h.service.TeacherWallet(c.Context(), actor, teacherID)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(wallet)
}

func (h *WalletHandler) TeacherEntries(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	teacherID, err := subjectID(c, actor)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	entries, err := h.service.ListTeacherEntries(c.Context(), actor, teacherID)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func (h *WalletHandler) Reconcile(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	teacherID, err := subjectID(c, actor)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	examined, creditedCents, err := h.service.ReconcileTeacherWallet(c.Context(), actor, teacherID)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{
		"examined":       examined,
		"credited_cents": creditedCents,
	})
}
