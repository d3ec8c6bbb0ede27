package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/clearledger/reconcile/internal/api/dto"
	"github.com/clearledger/reconcile/internal/application/service"
	"github.com/clearledger/reconcile/internal/domain/ledger"
	"github.com/clearledger/reconcile/internal/infrastructure/config"
	"github.com/clearledger/reconcile/internal/infrastructure/logging"
	"github.com/clearledger/reconcile/internal/infrastructure/storage"
)

func main() {
	var (
		configFile      = flag.String("config", "", "Configuration file path")
		dbPath          = flag.String("db", "", "Database path (overrides config)")
		jobID           = flag.Int64("job", 0, "Reconciliation job id")
		entityID        = flag.Int64("entity", 0, "Entity id")
		externalFile    = flag.String("external", "", "Processor export to ingest (JSON)")
		internalFile    = flag.String("internal", "", "Bank export to ingest (JSON)")
		runStages       = flag.Bool("run", false, "Run the three matching stages")
		commitmentsFile = flag.String("commitments", "", "Installment commitments to allocate (JSON)")
		restore         = flag.Bool("restore", false, "Restore working rows to pre-allocation amounts")
		journals        = flag.Bool("journals", false, "Print the split journals as JSON")
		deleteFrom      = flag.Int("delete-from", 0, "Delete stage results from this stage onward")
		verbose         = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := logging.NewLogger(config.LoggingConfig{
		Level:  logLevel.String(),
		Format: "text",
	})

	if *jobID == 0 || *entityID == 0 {
		logger.Error("both -job and -entity are required")
		os.Exit(1)
	}
	scope := ledger.Scope{JobID: *jobID, EntityID: *entityID}

	cfg := loadConfig(*configFile)
	if *dbPath != "" {
		cfg.Storage.DatabasePath = *dbPath
	}

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to open storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	svc := service.NewReconService(store, cfg, logger)
	ctx := context.Background()

	if *externalFile != "" {
		var req dto.IngestExternalRequest
		readJSON(*externalFile, &req, logger)
		count, err := svc.IngestExternal(ctx, scope, req.ToExternalEntries())
		if err != nil {
			logger.Error("external ingest failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("external entries ingested", slog.Int("count", count))
	}

	if *internalFile != "" {
		var req dto.IngestInternalRequest
		readJSON(*internalFile, &req, logger)
		count, err := svc.IngestInternal(ctx, scope.JobID, req.ToInternalEntries())
		if err != nil {
			logger.Error("internal ingest failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("internal entries ingested", slog.Int("count", count))
	}

	if *deleteFrom > 0 {
		if err := svc.DeleteFromStage(ctx, scope, *deleteFrom); err != nil {
			logger.Error("delete failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("stage results deleted", slog.Int("from_stage", *deleteFrom))
	}

	if *runStages {
		s1, err := svc.RunStage1(ctx, scope)
		if err != nil {
			logger.Error("stage 1 failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("stage 1 done",
			slog.Int("pairs", len(s1.Pairs)),
			slog.Int("unmatched_external", len(s1.UnmatchedExternal)),
			slog.Int("out_of_cutoff", len(s1.OutOfCutoff)))

		s2, err := svc.RunStage2(ctx, scope)
		if err != nil {
			logger.Error("stage 2 failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("stage 2 done",
			slog.Int("pairs", len(s2.Pairs)),
			slog.Int("unmatched_external", len(s2.UnmatchedExternal)))

		s3, err := svc.RunStage3(ctx, scope)
		if err != nil {
			logger.Error("stage 3 failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("stage 3 done",
			slog.Int("fees", len(s3.Fees)),
			slog.Int("refunds", len(s3.Refunds)),
			slog.Int("cross_entity", len(s3.CrossEntity)),
			slog.Int("near_matches", len(s3.NearMatches)),
			slog.Int("residual", len(s3.Residual)))
	}

	if *restore {
		if err := svc.RestoreAllocations(ctx, scope); err != nil {
			logger.Error("restore failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("allocations restored")
	}

	if *commitmentsFile != "" {
		var req dto.AllocateRequest
		readJSON(*commitmentsFile, &req, logger)
		report, err := svc.Allocate(ctx, scope, req.ToCommitments(""))
		if err != nil {
			logger.Error("allocation failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("allocation applied",
			slog.String("batch", report.BatchID),
			slog.Int("matched", report.MatchedCount),
			slog.Int("unmatched", len(report.Unmatched)),
			slog.Bool("verified", report.VerificationPassed))
		for _, u := range report.Unmatched {
			logger.Warn("commitment not applied",
				slog.String("client", u.ClientID),
				slog.String("amount", u.Amount.StringFixed(2)),
				slog.String("reason", u.Reason))
		}
	}

	if *journals {
		split, err := svc.SplitJournals(ctx, scope)
		if err != nil {
			logger.Error("journal split failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(dto.NewJournalsResponse(split)); err != nil {
			logger.Error("encode journals", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
}

func loadConfig(configFile string) *config.Config {
	if configFile != "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			slog.Error("failed to load config file",
				slog.String("file", configFile),
				slog.String("error", err.Error()))
			os.Exit(1)
		}
		return cfg
	}
	return config.LoadFromEnv()
}

func readJSON(path string, v any, logger *slog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read file", slog.String("file", path), slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.Error("failed to parse file", slog.String("file", path), slog.String("error", err.Error()))
		os.Exit(1)
	}
}
