// Package main initializes and starts the wallet sync server, setting up
// configuration, logging, the database connection, repositories, services,
// handlers, and the HTTP listener.
package main

import (
	"cmp"
	"context"
	"fmt"
	"time"

	nethttp "net/http"

	"github.com/dkravets/credwallet/internal/config"
	"github.com/dkravets/credwallet/internal/db"
	"github.com/dkravets/credwallet/internal/logger"
	"github.com/dkravets/credwallet/internal/repository"
	"github.com/dkravets/credwallet/internal/server/handler/http"
	"github.com/dkravets/credwallet/internal/service"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()
	addr := options.Port
	dsn := options.DatabaseDSN

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init("Info"); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	// Initialize PostgreSQL connection.
	postgresDB, err := db.InitPostgres(dsn)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}

	// Prune soft-deleted entity rows in the background.
	db.StartTombstoneCleaner(context.Background(), postgresDB,
		time.Hour,       // interval
		30*24*time.Hour, // retention: 30 days
		zapLogger,
	)

	// Wire repository, service and handler for the mutation API.
	mutationRepo := repository.NewPostgresMutationRepository(postgresDB)
	mutationService := service.NewMutationService(mutationRepo)
	mutationHandler := &http.MutationHandler{MutationService: mutationService}

	// Build the router with middleware and routes.
	router := http.NewRouter(mutationHandler, zapLogger)

	server := &nethttp.Server{
		Addr:    addr,
		Handler: router,
	}

	zapLogger.Info("starting sync server", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil {
		zapLogger.Fatal("failed to start sync server", zap.Error(err))
	}
}
