package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hostscrape/internal/auth"
	"hostscrape/internal/browser"
	"hostscrape/internal/config"
	"hostscrape/internal/db"
	"hostscrape/internal/dedup"
	"hostscrape/internal/events"
	"hostscrape/internal/logging"
	"hostscrape/internal/metrics"
	"hostscrape/internal/models"
	"hostscrape/internal/pipeline"
	"hostscrape/internal/scheduler"
	"hostscrape/internal/scrapers"
	"hostscrape/internal/session"
	"hostscrape/internal/store"
	"hostscrape/internal/web"
)

func main() {
	os.Exit(run())
}

// run keeps cleanup on the exit path: deferred pool, sweeper and scheduler
// teardown fire for both the attended and the service mode.
func run() int {
	// 1. Config: env defaults, then file, then flags.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	configPath, err := config.ResolveConfigPath(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to resolve config file: %v", err)
	}
	fileCfg, err := config.LoadFileConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}
	if err := config.ApplyFileConfig(cfg, fileCfg); err != nil {
		log.Fatalf("Failed to apply config file: %v", err)
	}

	fs := flag.NewFlagSet("hostscrape", flag.ExitOnError)
	cfg.BindFlags(fs)
	fs.String("config", configPath, "Path to a yaml or toml config file")
	accountID := fs.Int64("account", 0, "Run one attended scrape for this account and exit")
	categoriesArg := fs.String("categories", "", "Comma-separated categories for -account (default: all)")
	_ = fs.Parse(os.Args[1:])
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 2. Logging
	logger := logging.Init(cfg.InstanceID)

	// 3. Database
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		return 1
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Error("Failed to ensure schema", "error", err)
		return 1
	}

	// 4. Components
	sessions := session.NewStore(pool, cfg.SessionTTL)
	records := store.NewStore(pool)
	resolver := dedup.NewResolver(records, logger)

	launcher := &browser.Launcher{
		Headless:    cfg.Headless,
		NavTimeout:  cfg.NavTimeout,
		StepTimeout: cfg.StepTimeout,
		Logger:      logger,
	}
	machine := auth.NewMachine(sessions, launcher, auth.DefaultMarkers(), cfg.RetryAttempts, logger)
	pipe := pipeline.New(resolver, cfg.CategoryDelay, logger, scrapers.All(logger)...)

	broker := events.NewBroker(0)
	sched := scheduler.New(ctx, machine, pipe, records, events.NewTaskNotifier(broker),
		scheduler.NewMetrics(prometheus.DefaultRegisterer),
		scheduler.Options{
			MaxConcurrent:      cfg.MaxConcurrentTasks,
			KeepRecentTerminal: cfg.KeepRecentTerminal,
		}, logger)

	sweeper, err := session.NewSweeper(sessions, cfg.SweepSchedule, logger)
	if err != nil {
		logger.Error("Failed to set up session sweeper", "error", err)
		return 1
	}
	sweeper.Start()
	defer sweeper.Stop()

	metrics.StartCollector(ctx, pool, 0, logger)

	// 5. Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down...", "signal", sig)
		cancel()
	}()

	// 6. Run: one attended task, or the HTTP service.
	if *accountID > 0 {
		return runAttended(sched, *accountID, *categoriesArg, logger)
	}

	logger.Info("HTTP API listening",
		"addr", cfg.HTTPAddr, "instance_id", cfg.InstanceID, "code_mode", cfg.CodeMode)
	server := web.NewServer(pool, sched, cfg.HTTPAddr, cfg.AuthToken, supplierFactory(cfg), broker)
	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server failed", "error", err)
		return 1
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := sched.Close(drainCtx); err != nil {
		logger.Warn("Shutdown with tasks still running", "error", err)
	}
	logger.Info("Stopped cleanly")
	return 0
}

// supplierFactory picks how web-submitted logins obtain one-time codes:
// service mode waits for codes registered via POST /code, interactive mode
// prompts the terminal the service runs in.
func supplierFactory(cfg *config.Config) web.SupplierFactory {
	if cfg.CodeMode == "service" {
		return func(creds auth.Credentials) auth.CredentialSupplier {
			return auth.NewInboxSupplier(creds, cfg.CodeWait)
		}
	}
	return func(creds auth.Credentials) auth.CredentialSupplier {
		return auth.NewConsoleCodeSupplier(creds, os.Stdin, os.Stdout)
	}
}

// taskSubmitter is the slice of the scheduler the attended run needs.
type taskSubmitter interface {
	Submit(accountID int64, categories []models.Category, creds auth.CredentialSupplier) (string, error)
	GetStatus(taskID string) (*models.Task, error)
}

// runAttended submits a single task driven by terminal prompts and waits
// for it, printing the result payload to stdout.
func runAttended(sched taskSubmitter, accountID int64, categoriesArg string, logger *slog.Logger) int {
	categories, err := parseCategories(categoriesArg)
	if err != nil {
		logger.Error("Invalid categories", "error", err)
		return 1
	}

	supplier := auth.NewConsoleSupplier(os.Stdin, os.Stdout)
	taskID, err := sched.Submit(accountID, categories, supplier)
	if err != nil {
		logger.Error("Failed to submit task", "error", err)
		return 1
	}

	for {
		task, err := sched.GetStatus(taskID)
		if err != nil {
			logger.Error("Task vanished", "task_id", taskID, "error", err)
			return 1
		}
		if task.Status.Terminal() {
			out, _ := json.MarshalIndent(task, "", "  ")
			fmt.Println(string(out))
			if task.Status == models.StatusFailed {
				return 1
			}
			return 0
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func parseCategories(arg string) ([]models.Category, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, nil
	}
	var out []models.Category
	for _, part := range strings.Split(arg, ",") {
		category, err := models.ParseCategory(part)
		if err != nil {
			return nil, err
		}
		out = append(out, category)
	}
	return out, nil
}
