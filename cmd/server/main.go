package main

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"github.com/MehdiDinari/homebook/internal/app"
	"github.com/MehdiDinari/homebook/internal/config"
	"github.com/MehdiDinari/homebook/internal/database"
	"github.com/MehdiDinari/homebook/internal/routes"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.AppEnv)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := database.ConnectDB(cfg.DBUrl, logger); err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.CloseDB()

	fiberApp := fiber.New()

	fiberApp.Use(cors.New())
	fiberApp.Use(fiberlogger.New())
	fiberApp.Use(recover.New())

	fiberApp.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	routes.RegisterRoutes(fiberApp, cfg, database.DB, logger)

	logger.Info("Server starting", zap.String("port", cfg.Port), zap.String("env", cfg.AppEnv))
	if err := fiberApp.Listen(":" + cfg.Port); err != nil {
		logger.Fatal("Server failed to start", zap.Error(err))
	}
}
