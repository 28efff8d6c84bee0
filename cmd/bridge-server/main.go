package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chainsafe/gasless-bridge/pkg/bridge"
	"github.com/chainsafe/gasless-bridge/pkg/config"
	"github.com/chainsafe/gasless-bridge/pkg/db"
	"github.com/chainsafe/gasless-bridge/pkg/ethereum"
	"github.com/chainsafe/gasless-bridge/pkg/gas"
	"github.com/chainsafe/gasless-bridge/pkg/pgutil"
	"github.com/chainsafe/gasless-bridge/pkg/pricefeed"
	"github.com/chainsafe/gasless-bridge/pkg/reserve"
	"github.com/chainsafe/gasless-bridge/pkg/signer"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting gasless bridge server")

	// Initialize persistence
	store, cleanup, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer cleanup()

	// Initialize Ethereum client
	ethClient, err := ethereum.NewClient(&cfg.Ethereum, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Ethereum client", zap.Error(err))
	}
	defer ethClient.Close()

	// Initialize signing
	localSigner, err := signer.NewLocalSigner(cfg.Ethereum.SignerPrivateKey)
	if err != nil {
		logger.Fatal("Failed to initialize signer", zap.Error(err))
	}
	chainID := big.NewInt(cfg.Ethereum.ChainID)
	pipeline := ethereum.NewPipeline(localSigner, chainID, logger)
	logger.Info("Delivery account ready",
		zap.String("address", localSigner.Address().Hex()),
		zap.Int64("chain_id", cfg.Ethereum.ChainID))

	// Initialize reserve accounting, restoring the last snapshot
	ledger, err := newLedger(cfg, store, logger)
	if err != nil {
		logger.Fatal("Failed to initialize reserve ledger", zap.Error(err))
	}

	// Domain components
	estimator := gas.NewEstimator(ethClient, cfg.Gas, logger)
	limits, err := bridge.QuoteLimitsFromConfig(cfg.Bridge)
	if err != nil {
		logger.Fatal("Invalid bridge configuration", zap.Error(err))
	}
	quotes := bridge.NewQuoteEngine(ledger, estimator, store, limits, cfg.Gas, logger)
	orchestrator := bridge.NewOrchestrator(ledger, store, pipeline, ethClient,
		localSigner.Address(), chainID, cfg.Bridge.MinPaymentProofLen, logger).
		WithBroadcaster(ethClient)
	converter := pricefeed.NewConverter(pricefeed.NewHTTPFeed(cfg.PriceFeed), logger)

	// Background reconciliation
	engine := bridge.NewEngine(ledger, store, cfg.Bridge.SettlementTimeout, cfg.Bridge.ReconcileInterval, logger)
	engine.Start()
	defer engine.Stop()

	// Setup HTTP server for API and metrics
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint (liveness)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Readiness: the bridge cannot take traffic with a critical reserve
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if ledger.IsBelowCritical() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("RESERVE_CRITICAL"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	// Metrics endpoint
	if cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled", zap.Int("port", cfg.Monitoring.MetricsPort))
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/quotes", handleRequestQuote(quotes, logger))
		r.Get("/quotes", handleListQuotes(quotes, logger))
		r.Get("/quotes/{id}", handleGetQuote(quotes, logger))

		r.Post("/settlements", handleSettle(orchestrator, logger))
		r.Get("/settlements", handleListSettlements(orchestrator, logger))
		r.Get("/settlements/{id}", handleGetSettlement(orchestrator, logger))

		r.Get("/estimate", handleEstimate(estimator, converter, logger))
		r.Get("/reserve", handleReserveStatus(ledger, logger))
		r.Get("/audit", handleAuditLog(store, logger))

		r.Route("/admin", func(r chi.Router) {
			r.Post("/fund", handleFundReserve(ledger, store, logger))
			r.Post("/thresholds", handleSetThresholds(ledger, logger))
			r.Post("/daily-limit", handleSetDailyLimit(ledger, logger))
		})
	})

	// Start HTTP server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("address", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, gracefully shutting down...")

	// Persist the reserve before going down
	state := ledger.Snapshot()
	if err := store.SaveReserveSnapshot(context.Background(), &state); err != nil {
		logger.Error("Failed to persist reserve snapshot", zap.Error(err))
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Bridge server stopped")
}

func newStore(cfg *config.Config, logger *zap.Logger) (bridge.Store, func(), error) {
	if cfg.Database.InMemory {
		logger.Warn("Using in-memory store, state will not survive a restart")
		return db.NewMemoryStore(), func() {}, nil
	}

	bunDB, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	store := db.NewPgStore(bunDB)
	if err := store.InitSchema(context.Background()); err != nil {
		_ = bunDB.Close()
		return nil, nil, err
	}
	logger.Info("Database connection established", zap.String("database", cfg.Database.Database))
	return store, func() { _ = bunDB.Close() }, nil
}

func newLedger(cfg *config.Config, store bridge.Store, logger *zap.Logger) (*reserve.Ledger, error) {
	warning, err := config.ParseWei(cfg.Reserve.ThresholdWarning)
	if err != nil {
		return nil, fmt.Errorf("reserve.threshold_warning: %w", err)
	}
	critical, err := config.ParseWei(cfg.Reserve.ThresholdCritical)
	if err != nil {
		return nil, fmt.Errorf("reserve.threshold_critical: %w", err)
	}
	dailyLimit, err := config.ParseWei(cfg.Reserve.DailyLimit)
	if err != nil {
		return nil, fmt.Errorf("reserve.daily_limit: %w", err)
	}

	ledger := reserve.NewLedger(warning, critical, dailyLimit, logger)

	snapshot, err := store.LoadReserveSnapshot(context.Background())
	switch {
	case err == nil:
		ledger.Restore(*snapshot)
		logger.Info("Reserve state restored",
			zap.String("total_wei", snapshot.TotalBalance.String()),
			zap.String("locked_wei", snapshot.LockedBalance.String()))
	case errors.Is(err, bridge.ErrNotFound):
		logger.Info("No reserve snapshot found, starting with an empty reserve")
	default:
		return nil, fmt.Errorf("loading reserve snapshot: %w", err)
	}

	return ledger, nil
}
