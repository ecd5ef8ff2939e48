// Package app wires configuration, the scenario pool, rolling stock, run
// history and the session hub into one runnable HTTP server.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"stoptrainer/server"
	"stoptrainer/server/internal/config"
	"stoptrainer/server/internal/history"
	"stoptrainer/server/internal/net/ws"
	"stoptrainer/server/internal/scenario"
	"stoptrainer/server/internal/sim"
	"stoptrainer/server/internal/stock"
	"stoptrainer/server/internal/telemetry"
)

const shutdownGrace = 10 * time.Second

// Run starts the server and blocks until ctx is canceled or the listener
// fails.
func Run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store := buildScenarioStore(cfg, logger)
	rs := buildStock(cfg, logger)
	metrics := telemetry.NewCounters()

	var hist *history.Store
	if cfg.HistoryDB != "" {
		h, err := history.Open(cfg.HistoryDB)
		if err != nil {
			logger.Warn("run history disabled", zap.Error(err))
		} else {
			hist = h
			defer hist.Close()
		}
	}

	tascCfg := sim.DefaultTASCConfig()
	tascCfg.TakeoverDistance = cfg.TASCTakeoverM
	if !cfg.TASCHoldFinalNotch {
		tascCfg.Policy = sim.PolicyReleaseToManual
	}

	hub := server.NewHub(server.HubConfig{
		TickRate:  cfg.TickRate,
		SendRate:  cfg.SendRate,
		TASC:      tascCfg,
		Stock:     rs,
		Scenarios: store,
		History:   hist,
		Logger:    logger,
		Metrics:   metrics,
	})
	defer hub.Shutdown()

	if cfg.WatchScenarios && cfg.ScenarioDir != "" {
		go func() {
			if err := store.Watch(cfg.ScenarioDir, ctx.Done()); err != nil {
				logger.Warn("scenario watch stopped", zap.Error(err))
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewHandler(hub, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(hub.DiagnosticsSnapshot(r.Context())); err != nil {
			logger.Warn("diagnostics encode failed", zap.Error(err))
		}
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildScenarioStore(cfg config.Config, logger *zap.Logger) *scenario.Store {
	var pool []scenario.Scenario
	if cfg.ScenarioDir != "" {
		loaded, err := scenario.LoadDir(cfg.ScenarioDir, logger)
		if err != nil {
			logger.Warn("scenario dir unreadable, using built-in default", zap.Error(err))
		} else {
			pool = loaded
		}
	}
	return scenario.NewStore(pool, nil, logger)
}

func buildStock(cfg config.Config, logger *zap.Logger) stock.RollingStock {
	if cfg.StockFile == "" {
		return stock.Default()
	}
	rs, err := stock.Load(cfg.StockFile)
	if err != nil {
		logger.Warn("stock file unreadable, using built-in default", zap.Error(err))
		return stock.Default()
	}
	logger.Info("rolling stock loaded", zap.String("name", rs.Name), zap.Int("notches", rs.Notches()))
	return rs
}
