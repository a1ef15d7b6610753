package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowd/config"
	"escrowd/core/events"
	"escrowd/escrow"
	"escrowd/ledger"
	"escrowd/observability/logging"
	"escrowd/pricing"
	"escrowd/rpc"
	"escrowd/storage"
)

const (
	shutdownTimeout  = 10 * time.Second
	eventLogCapacity = 1024
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the escrowd configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("escrowd", cfg.Environment, cfg.LogFile)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	source, err := buildPriceSource(cfg)
	if err != nil {
		logger.Error("configure price source", "error", err)
		os.Exit(1)
	}

	minimum, err := pricing.ParseDecimal(cfg.MinimumDeposit, pricing.NativeDecimals)
	if err != nil {
		logger.Error("parse minimum deposit", "value", cfg.MinimumDeposit, "error", err)
		os.Exit(1)
	}

	owner, err := parseOwner(cfg.OwnerAddress)
	if err != nil {
		logger.Error("parse owner address", "value", cfg.OwnerAddress, "error", err)
		os.Exit(1)
	}

	recorder := events.NewRecorder(eventLogCapacity)
	engine := escrow.NewEngine()
	engine.SetState(escrow.NewStore(db))
	engine.SetLedger(ledger.NewLedger(db))
	engine.SetConverter(pricing.NewConverter(source, cfg.PriceFeedAsset, cfg.PriceFeedVs))
	engine.SetMinimumDeposit(minimum)
	engine.SetEmitter(recorder)

	instance, err := engine.Initialize(owner, cfg.InstanceLabel)
	if err != nil {
		logger.Error("initialize escrow", "error", err)
		os.Exit(1)
	}
	logger.Info("escrow instance ready",
		"id", hex.EncodeToString(instance.ID[:]),
		"owner", cfg.OwnerAddress,
		"label", cfg.InstanceLabel,
		"status", instance.Status.String(),
	)

	server := rpc.NewServer(engine, recorder)

	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Handle("/rpc", server)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("escrowd listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down escrowd")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildPriceSource(cfg *config.Config) (pricing.PriceSource, error) {
	if strings.TrimSpace(cfg.PriceFeedURL) != "" {
		client := &http.Client{Timeout: 10 * time.Second}
		maxAge := time.Duration(cfg.MaxQuoteAgeSecs) * time.Second
		return pricing.NewHTTPSource(client, cfg.PriceFeedURL, cfg.PriceFeedAsset, cfg.PriceFeedVs, cfg.PriceDecimals, maxAge), nil
	}
	price, err := pricing.ParseDecimal(cfg.StaticPrice, cfg.PriceDecimals)
	if err != nil {
		return nil, fmt.Errorf("static price %q: %w", cfg.StaticPrice, err)
	}
	return pricing.NewStaticSource(price, cfg.PriceDecimals), nil
}

func parseOwner(value string) ([20]byte, error) {
	var owner [20]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return owner, err
	}
	if len(raw) != 20 {
		return owner, fmt.Errorf("owner address must be 20 bytes, got %d", len(raw))
	}
	copy(owner[:], raw)
	return owner, nil
}
