// Package cmd provides the notechat CLI commands.
//
// Commands:
//   - serve: HTTP API server for the portal frontend
//   - migrate: apply pending database migrations
//
// Signal handling and graceful shutdown are implemented for serve via
// context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/campusnotes/notechat/internal/log"
)

// Execute is the main entry point for the notechat application.
func Execute() error {
	logger := log.New(log.Config{
		Level: logLevel(),
		JSON:  os.Getenv("NOTECHAT_LOG_JSON") != "",
	})

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(logger)
	case "migrate":
		return runMigrate(logger)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

func logLevel() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("notechat - external resource access and chat persistence for the notes portal")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  notechat serve [addr]  Start HTTP API server (default: 127.0.0.1:3500)")
	fmt.Println("  notechat migrate       Apply pending database migrations")
	fmt.Println("  notechat --version     Show version information")
	fmt.Println("  notechat --help        Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  NOTECHAT_GEMINI_API_KEYS   Required: comma-separated generation API keys")
	fmt.Println("  NOTECHAT_POSTGRES_*        PostgreSQL connection settings")
	fmt.Println("  DEBUG                      Optional: enable debug logging")
	fmt.Println("  NOTECHAT_LOG_JSON          Optional: JSON log output")
}
