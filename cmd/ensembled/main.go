// Command ensembled runs the AI ensemble orchestrator. It serves health and
// metrics endpoints in daemon mode, or answers a single prompt with -prompt.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dev.helix.ensemble/internal/auth"
	"dev.helix.ensemble/internal/calibration"
	"dev.helix.ensemble/internal/config"
	"dev.helix.ensemble/internal/dispatch"
	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/memory"
	"dev.helix.ensemble/internal/metrics"
	"dev.helix.ensemble/internal/models"
	"dev.helix.ensemble/internal/orchestrator"
	"dev.helix.ensemble/internal/reliability"
	"dev.helix.ensemble/internal/router"
	"dev.helix.ensemble/internal/synthesis"
	"dev.helix.ensemble/internal/voting"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	prompt := flag.String("prompt", "", "answer a single prompt and exit")
	userID := flag.String("user", "cli", "user ID for one-shot mode")
	sessionID := flag.String("session", "", "session ID for one-shot mode")
	tier := flag.String("tier", "", "tier override for one-shot mode (free or premium)")
	flag.Parse()

	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.Monitoring.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	store := config.NewStore(cfg, *configPath, logger)
	orch, monitor := buildPipeline(store, cfg, logger)
	defer orch.Shutdown()
	defer monitor.Shutdown()

	if *prompt != "" {
		runOnce(orch, *prompt, *userID, *sessionID, *tier)
		return
	}
	runDaemon(store, cfg, orch, logger)
}

// buildPipeline wires every pipeline component from the loaded configuration.
func buildPipeline(store *config.Store, cfg *config.Config, logger *logrus.Logger) (*orchestrator.Orchestrator, *reliability.Monitor) {
	registry := llm.NewRegistry(cfg, llm.DefaultBreakerConfig(), &http.Client{Timeout: 60 * time.Second})

	tracker := reliability.NewTracker(logger)
	go tracker.Start(context.Background())

	monitor := reliability.NewMonitor(tracker, registry.Breakers(), metrics.Collectors(), cfg.Monitoring.HealthInterval, logger)
	monitor.WatchBreakers(registry.ModelIDs())
	go monitor.Start(context.Background())

	var embedder calibration.Embedder
	if e, ok := registry.Embedder(); ok {
		embedder = e
	}
	semantic := calibration.NewSemanticScorer(embedder, logger)
	calibrator := calibration.NewCalibrator()

	var mem memory.SessionMemory = memory.NopMemory{}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		mem = memory.NewRedisMemory(client, logger)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Store:      store,
		Registry:   registry,
		Router:     router.New(registry, tracker, logger),
		Dispatcher: dispatch.New(registry, tracker, cfg.Ensemble.MaxConcurrentPerTier, logger),
		Voting:     voting.NewEngine(calibrator, semantic, tracker, registry, logger),
		Synthesis:  synthesis.NewEngine(registry, logger),
		Tracker:    tracker,
		Calibrator: calibrator,
		Memory:     mem,
		Tiers:      auth.FromEnv(),
		Logger:     logger,
	})
	return orch, monitor
}

// runOnce answers a single prompt and prints the outcome as JSON.
func runOnce(orch *orchestrator.Orchestrator, prompt, userID, sessionID, tier string) {
	req := &models.Request{
		Prompt:    prompt,
		UserID:    userID,
		SessionID: sessionID,
		Tier:      models.Tier(tier),
		Explain:   true,
	}
	outcome := orch.Process(context.Background(), req)

	encoded, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode outcome:", err)
		os.Exit(1)
	}
	fmt.Println(string(encoded))
	if outcome.Status == models.OutcomeError {
		os.Exit(1)
	}
}

// runDaemon serves health and metrics until SIGINT/SIGTERM, reloading the
// configuration on SIGHUP and on file changes.
func runDaemon(store *config.Store, cfg *config.Config, orch *orchestrator.Orchestrator, logger *logrus.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := store.Watch(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			_ = store.Reload()
		}
	}()

	mux := http.NewServeMux()
	if cfg.Monitoring.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"rolling": orch.Aggregate().Snapshot(),
		})
	})

	server := &http.Server{Addr: cfg.Monitoring.MetricsAddr, Handler: mux}
	go func() {
		logger.WithField("addr", server.Addr).Info("Monitoring server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Monitoring server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
