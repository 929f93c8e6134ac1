package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/exchron/exchron-engine/internal/api"
	"github.com/exchron/exchron-engine/internal/api/handlers"
	"github.com/exchron/exchron-engine/internal/core/config"
	"github.com/exchron/exchron-engine/internal/database/repositories"
	"github.com/exchron/exchron-engine/internal/session"
	"github.com/exchron/exchron-engine/internal/telemetry"
	"github.com/exchron/exchron-engine/pkg/database"
	"github.com/exchron/exchron-engine/pkg/logger"
)

// verifyPortAvailable checks if the given port is available for use
func verifyPortAvailable(host string, port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port number: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, portNum))
	if err != nil {
		return fmt.Errorf("port %s is not available: %w", port, err)
	}
	ln.Close()
	return nil
}

func RunServer() {
	log := logger.Get()

	cfg, err := config.GetConfigManager().GetConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	telemetryShutdown, err := telemetry.InitTelemetry(shutdownCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}

	// The session store is optional; without it the engine runs
	// memory-only and sessions do not survive a restart.
	var (
		db   *sql.DB
		repo session.Repository
	)
	if cfg.Database.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err = database.Connect(ctx, cfg.Database.URL)
		if err != nil {
			cancel()
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		if err := database.EnsureSchema(ctx, db); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
		cancel()

		repo = repositories.NewSessionRepository(sqlx.NewDb(db, "postgres"))
		log.Info().Msg("Successfully connected to database")
	} else {
		log.Warn().Msg("No database URL configured, sessions are memory-only")
	}

	sessionService := session.NewService(repo, cfg.Training)
	if err := sessionService.Rehydrate(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to rehydrate stored sessions")
	}

	stallMonitor := session.NewStallMonitor(sessionService, cfg.Training.StallCheckInterval)
	go stallMonitor.Start(shutdownCtx)

	sessionHandler := handlers.NewSessionHandler(sessionService, cfg.Server.Websocket)
	router := api.NewRouter(
		sessionHandler,
		cfg.Server.Endpoint,
	)

	if err := verifyPortAvailable(cfg.Server.Host, cfg.Server.Port); err != nil {
		log.Fatal().
			Err(err).
			Str("host", cfg.Server.Host).
			Str("port", cfg.Server.Port).
			Msg("Server port is not available")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		<-stopChan
		log.Info().Msg("Shutdown signal received, gracefully shutting down...")
		shutdownCancel()
	}()

	go func() {
		log.Info().
			Str("address", server.Addr).
			Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-shutdownCtx.Done()

	serverShutdownCtx, serverShutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer serverShutdownCancel()

	if err := server.Shutdown(serverShutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	} else {
		log.Info().Msg("Server HTTP connections gracefully closed")
	}

	if err := telemetryShutdown(serverShutdownCtx); err != nil {
		log.Error().Err(err).Msg("Telemetry shutdown error")
	}

	if db != nil {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		} else {
			log.Info().Msg("Database connection closed")
		}
	}

	log.Info().Msg("Shutdown complete")
}
