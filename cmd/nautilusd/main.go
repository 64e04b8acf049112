// nautilusd is the event-driven trading platform's entry point: load
// configuration, assemble the kernel, and run until signaled to stop.
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts the kernel, waits for SIGINT/SIGTERM
//	internal/kernel            — orchestrator: wires clock/bus/cache/engines/adapters/strategies into one process
//	internal/runtime           — actor/strategy lifecycle plus the reference Avellaneda-Stoikov maker
//	internal/data              — book mirror, synthetic quotes, bar aggregation
//	internal/execution         — order submission, cancellation, fill application, reconciliation
//	internal/matching          — local order book simulation for backtests
//	internal/portfolio         — position and exposure aggregation across instruments
//	internal/risk              — pre-trade checks, kill switch, daily loss limits
//	internal/adapters          — venue REST/WS clients, auth, rate limiting, instrument discovery
//	internal/cache             — shared in-memory state with an optional durable backend
//	internal/observability     — dashboard REST+WebSocket API and Prometheus metrics
//
// How it makes money:
//
//	The reference Maker strategy captures the bid-ask spread on whatever
//	instruments the kernel discovers and subscribes it to. It posts a
//	buy below mid price and a sell above mid price; when both sides
//	fill, the spread is earned. The Avellaneda-Stoikov model skews
//	quotes by inventory risk so the strategy leans toward offsetting
//	fills as its position grows.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nautilus-trader/nautilus-core-go/internal/kernel"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("NAUTILUS_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := kernel.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	k, err := kernel.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create kernel", "error", err)
		os.Exit(1)
	}

	if err := k.Start(); err != nil {
		logger.Error("failed to start kernel", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	if cfg.Observability.Enabled {
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Observability.Port))
	}

	logger.Info("nautilusd started",
		"environment", cfg.Environment,
		"trader_id", cfg.TraderID,
		"order_size", cfg.Strategy.OrderSizeUSD,
		"max_exposure", cfg.Risk.MaxGlobalExposure,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	k.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
