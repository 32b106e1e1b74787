package main

import (
	"errors"
	"log"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
	"github.com/MehdiDinari/homebook/internal/app"
	"github.com/MehdiDinari/homebook/internal/config"
)

// findMigrationsDir walks up from the working directory, then falls
// back to the binary's location, so the runner works from the repo
// root, a package directory, or a deployed bundle.
func findMigrationsDir() (string, error) {
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		dir := cwd
		for i := 0; i < 6; i++ {
			candidates = append(candidates, filepath.Join(dir, "migrations"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, "migrations"),
			filepath.Join(exeDir, "..", "migrations"),
		)
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return filepath.Abs(candidate)
		}
	}
	return "", errors.New("no migrations directory found")
}

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

	dir, err := findMigrationsDir()
	if err != nil {
		logger.Fatal("Failed to locate migrations", zap.Error(err))
	}

	m, err := migrate.New("file://"+dir, cfg.DBUrl)
	if err != nil {
		logger.Fatal("Failed to open migrator", zap.Error(err))
	}

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		logger.Fatal("Unknown migration command", zap.String("command", command))
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No schema changes to apply", zap.String("migrations", dir))
		return
	}
	if err != nil {
		logger.Fatal("Migration failed", zap.String("command", command), zap.Error(err))
	}
	logger.Info("Migrations applied", zap.String("command", command), zap.String("migrations", dir))
}
