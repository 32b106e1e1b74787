package app

import (
	"go.uber.org/zap"
)

// NewLogger builds the process logger: human-readable in development,
// JSON everywhere else, always on stdout.
func NewLogger(env string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "development" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stdout"}
	return cfg.Build()
}
