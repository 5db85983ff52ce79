// Command rematch re-runs automatic matching over every unsettled
// record. Useful after tuning thresholds or importing a backlog.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/jmorazan/reconcile-backend/internal/application/recon"
	"github.com/jmorazan/reconcile-backend/internal/infrastructure/config"
	"github.com/jmorazan/reconcile-backend/internal/infrastructure/logging"
	"github.com/jmorazan/reconcile-backend/internal/infrastructure/storage"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	cfg := config.LoadOrEnvWithPath(*configFile)
	if *verbose {
		cfg.Observability.Logging.Level = slog.LevelDebug.String()
	}
	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "rematch")

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	store.SetMaxRetries(cfg.Storage.MaxRetries)

	engine := recon.NewEngine(store, cfg.Reconciliation.Tuning(), logger)

	result, err := engine.RematchAll(context.Background())
	if err != nil {
		logger.Error("Rematch pass failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Rematch pass complete",
		"sales_examined", result.SalesExamined,
		"sales_settled", result.SalesSettled,
		"deposits_examined", result.DepositsExamined,
		"deposits_settled", result.DepositsSettled,
		"errors", len(result.Errors))

	if len(result.Errors) > 0 {
		for _, e := range result.Errors {
			logger.Warn("Record skipped", "error", e)
		}
		os.Exit(1)
	}
}
