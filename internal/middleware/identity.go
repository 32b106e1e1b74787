package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/repository"
	"github.com/MehdiDinari/homebook/internal/services"
)

const ActorKey = "actor"

// IdentityRequired resolves the caller from the X-Directory-User-Id
// header, refreshes the local shadow row and stores the Actor in locals.
// Authentication itself happens upstream; an unverifiable id is a 401.
func IdentityRequired(
	directory services.DirectoryService,
	users *repository.UserRepository,
	aliases models.RoleAliases,
	logger *zap.Logger,
) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rawID := strings.TrimSpace(c.Get("X-Directory-User-Id"))
		if rawID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing identity header",
			})
		}
		directoryUserID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || directoryUserID <= 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid identity header",
			})
		}

		email := strings.TrimSpace(c.Get("X-User-Email"))
		displayName := strings.TrimSpace(c.Get("X-User-Name"))
		roles := splitRoles(c.Get("X-User-Roles"))

		account, err := directory.ResolveByID(c.Context(), directoryUserID)
		if err != nil {
			logger.Warn("directory resolve failed, trusting headers",
				zap.Int64("directory_user_id", directoryUserID),
				zap.Error(err),
			)
		} else {
			if account.Email != "" {
				email = account.Email
			}
			if account.DisplayName != "" {
				displayName = account.DisplayName
			}
			if len(account.Roles) > 0 {
				roles = account.Roles
			}
		}

		user, err := users.Upsert(c.Context(), repository.UpsertUserInput{
			DirectoryUserID: directoryUserID,
			Email:           email,
			DisplayName:     displayName,
			Roles:           normalizeRoles(roles),
		})
		if err != nil {
			logger.Error("identity upsert failed", zap.Int64("directory_user_id", directoryUserID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to resolve identity",
			})
		}

		c.Locals(ActorKey, services.Actor{
			User:  user,
			Roles: models.ResolveRoles(user.Roles, aliases),
		})
		return c.Next()
	}
}

func splitRoles(header string) []string {
	parts := strings.Split(header, ",")
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		role := strings.TrimSpace(part)
		if role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		out = append(out, strings.ToLower(strings.TrimSpace(role)))
	}
	return out
}
