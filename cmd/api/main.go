package main

import (
	"flag"
	"os"

	"github.com/jmorazan/reconcile-backend/internal/api"
	"github.com/jmorazan/reconcile-backend/internal/application/recon"
	"github.com/jmorazan/reconcile-backend/internal/infrastructure/config"
	"github.com/jmorazan/reconcile-backend/internal/infrastructure/logging"
	"github.com/jmorazan/reconcile-backend/internal/infrastructure/storage"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	flag.Parse()

	cfg := config.LoadOrEnvWithPath(*configFile)
	logger := logging.NewLogger(cfg.Observability.Logging)

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	store.SetMaxRetries(cfg.Storage.MaxRetries)

	engine := recon.NewEngine(store, cfg.Reconciliation.Tuning(), logger)
	server := api.NewServer(engine, store, logger)

	logger.Info("Starting reconciliation API",
		"port", cfg.Server.Port,
		"db", cfg.Storage.DatabasePath)

	if err := server.Run(cfg.Server.Port, cfg.Server.CORSOrigins); err != nil {
		logger.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
