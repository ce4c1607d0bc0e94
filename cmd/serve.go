package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/campusnotes/notechat/internal/api"
	"github.com/campusnotes/notechat/internal/chat"
	"github.com/campusnotes/notechat/internal/chatstore"
	"github.com/campusnotes/notechat/internal/config"
	"github.com/campusnotes/notechat/internal/database"
	"github.com/campusnotes/notechat/internal/drive"
	"github.com/campusnotes/notechat/internal/gemini"
	"github.com/campusnotes/notechat/internal/vault"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 3 * time.Minute // generation turns can take a while
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// runServe initializes and starts the HTTP API server.
func runServe(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr, err := parseServeAddr()
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting notechat server", "version", Version)

	pool, err := database.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	tokenVault, err := vault.New(cfg.TokenDir, logger.With("component", "vault"))
	if err != nil {
		return fmt.Errorf("initializing token vault: %w", err)
	}

	fetcher, err := drive.NewFetcher(drive.Config{
		Tokens:      tokenVault,
		StorageHost: cfg.StorageHost,
		PublicHost:  cfg.PublicHost,
		Logger:      logger.With("component", "drive"),
	})
	if err != nil {
		return fmt.Errorf("creating document fetcher: %w", err)
	}

	generator, err := gemini.New(gemini.Config{
		Keys:       cfg.GenerationKeys,
		Model:      cfg.ModelName,
		Host:       cfg.AIHost,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger.With("component", "gemini"),
	})
	if err != nil {
		return fmt.Errorf("creating generation client: %w", err)
	}

	store := chatstore.New(chatstore.NewPGQuerier(pool), nil,
		logger.With("component", "chatstore"))

	manager, err := chat.NewManager(chat.ManagerConfig{
		Fetcher:   fetcher,
		Generator: generator,
		Store:     store,
		Logger:    logger.With("component", "chat"),
	})
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	defer manager.CloseAll()

	apiServer, err := api.NewServer(api.ServerConfig{
		Manager: manager,
		Store:   store,
		Vault:   tokenVault,
		Logger:  logger.With("component", "api"),
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready", "addr", addr, "api", "/api/*", "health", "/healthz")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
