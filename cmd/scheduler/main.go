package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dhima/cronback-scheduler/internal/activemap"
	"github.com/dhima/cronback-scheduler/internal/controller"
	"github.com/dhima/cronback-scheduler/internal/dispatch"
	"github.com/dhima/cronback-scheduler/internal/logging"
	"github.com/dhima/cronback-scheduler/internal/runstore"
	"github.com/dhima/cronback-scheduler/internal/triggerstore"
	"github.com/dhima/cronback-scheduler/internal/validator"
	"github.com/dhima/cronback-scheduler/pkg/clock"
	"github.com/dhima/cronback-scheduler/pkg/config"
	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

func main() {
	cfg := config.FromEnv()

	logger, err := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting cronback scheduler",
		zap.String("environment", cfg.Environment),
		zap.String("database_url", maskPassword(cfg.DatabaseURL)))

	db, err := sql.Open("mysql", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}
	logger.Info("database connection established")

	triggers := triggerstore.NewMySQLStore(db)
	runs := runstore.NewMySQLStore(db)

	migrateCtx := context.Background()
	if err := triggers.Migrate(migrateCtx); err != nil {
		logger.Fatal("trigger store migration failed", zap.Error(err))
	}
	if err := runs.Migrate(migrateCtx); err != nil {
		logger.Fatal("run store migration failed", zap.Error(err))
	}
	logger.Info("schema migrations applied")

	urlValidator := validator.New(cfg.SkipPublicIPValidation)
	manager := dispatch.NewManager(runs, runs, urlValidator, logger)
	active := activemap.New(clock.RealClock{}.Now)

	ctrl := controller.New(triggers, runs, runs, active, manager, urlValidator, clock.RealClock{}, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("recovering active triggers and in-flight runs")
	if err := ctrl.Recover(ctx); err != nil {
		logger.Fatal("recovery failed", zap.Error(err))
	}

	ctrl.Start(ctx)
	logger.Info("spinner and checkpoint loop started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		logger.Error("final checkpoint encountered errors during shutdown", zap.Error(err))
	}

	logger.Info("cronback scheduler shut down successfully")
}

// maskPassword masks the password in the database URL for logging.
func maskPassword(dsn string) string {
	if idx := strings.Index(dsn, "@"); idx > 0 {
		if colonIdx := strings.Index(dsn, ":"); colonIdx > 0 && colonIdx < idx {
			return dsn[:colonIdx+1] + "****" + dsn[idx:]
		}
	}
	return dsn
}
