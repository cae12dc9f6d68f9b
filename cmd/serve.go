package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rollmark/rollmark/internal/auth"
	"github.com/rollmark/rollmark/internal/config"
	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/database/postgres"
	"github.com/rollmark/rollmark/internal/facematch"
	"github.com/rollmark/rollmark/internal/ledger"
	"github.com/rollmark/rollmark/internal/oracle"
	"github.com/rollmark/rollmark/internal/rollup"
	"github.com/rollmark/rollmark/internal/scheduler"
	"github.com/rollmark/rollmark/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Starts the HTTP API server. Runs pending database migrations, loads
the reference-face index into memory and schedules the monthly low-attendance
alert scan.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	ctx := cmd.Context()

	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	subjects := postgres.NewSubjectRepository(pool)
	students := postgres.NewStudentRepository(pool)
	ledgerRepo := postgres.NewLedgerRepository(pool)
	alerts := postgres.NewAlertRepository(pool)

	location, err := time.LoadLocation(cfg.School.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %q: %w", cfg.School.Timezone, err)
	}

	index := database.NewRosterIndex(facematch.Metric(cfg.Matching.Metric))
	faces, err := students.ListReferenceFaces(ctx)
	if err != nil {
		return fmt.Errorf("loading reference faces: %w", err)
	}
	if err := index.Build(faces); err != nil {
		return fmt.Errorf("building roster index: %w", err)
	}
	log.Printf("Loaded %d reference faces into the roster index", index.Count())

	ledgerSvc := ledger.NewService(ledgerRepo, location, cfg.School.FutureSkewDays)
	rollups := rollup.NewService(ledgerRepo, cfg.Risk.AtRiskPercentage)

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.QRTokenLifetime)*time.Second)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	alertScan := scheduler.New(subjects, alerts, rollups, cfg.Risk.AtRiskPercentage, location)
	if err := alertScan.Start(); err != nil {
		return fmt.Errorf("starting alert scheduler: %w", err)
	}
	defer alertScan.Stop()

	oracleClient := oracle.New(&cfg.Oracle)

	server := web.NewServer(cfg, port, host, web.Stores{
		Subjects: subjects,
		Students: students,
		Alerts:   alerts,
	}, ledgerSvc, rollups, oracleClient, index, tokens)

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	return server.Start()
}
