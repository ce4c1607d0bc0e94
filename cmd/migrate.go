package cmd

import (
	"fmt"
	"log/slog"

	"github.com/campusnotes/notechat/internal/config"
	"github.com/campusnotes/notechat/internal/database"
)

// runMigrate applies all pending database migrations and exits.
func runMigrate(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := database.Migrate(cfg.MigrateURL(), logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database schema is up to date")
	return nil
}
