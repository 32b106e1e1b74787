package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/MehdiDinari/homebook/internal/middleware"
	"github.com/MehdiDinari/homebook/internal/payments"
	"github.com/MehdiDinari/homebook/internal/services"
)

func actorFromCtx(c *fiber.Ctx) (services.Actor, bool) {
	actor, ok := c.Locals(middleware.ActorKey).(services.Actor)
	if !ok || actor.User == nil {
		return services.Actor{}, false
	}
	return actor, true
}

func requireActor(c *fiber.Ctx) (services.Actor, error) {
	actor, ok := actorFromCtx(c)
	if !ok {
		return services.Actor{}, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}
	return actor, nil
}

func parseIDParam(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// mapError translates service errors to HTTP statuses. Provider-side
// failures surface as 502 so clients can distinguish them from our own
// validation and state errors.
func mapError(c *fiber.Ctx, err error) error {
	var providerErr *payments.ProviderError
	switch {
	case errors.As(err, &providerErr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Payment provider error"})
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, payments.ErrUnknownProvider):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	case errors.Is(err, services.ErrConflict),
		errors.Is(err, services.ErrAlreadyFinalized):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrInsufficientBalance),
		errors.Is(err, services.ErrInsufficientFunds):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrPaymentNotCompleted):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payment not completed"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
}
