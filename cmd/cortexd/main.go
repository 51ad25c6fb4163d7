// Package main provides the entry point for the cortexmesh daemon.
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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortexmesh/core/internal/bootstrap"
	"github.com/cortexmesh/core/internal/config"
	"github.com/cortexmesh/core/internal/logging"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file")
	httpAddr   = flag.String("addr", ":8088", "Health/metrics listen address")
	runMigrate = flag.Bool("migrate", false, "Apply pending store migrations and exit")
	printLogs  = flag.Bool("verbose", false, "Log to stderr at info level")
	version    = flag.Bool("version", false, "Print version and exit")
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("cortexd %s (%s)\n", Version, BuildTime)
		os.Exit(0)
	}

	logCfg := logging.DefaultConfig()
	if !*printLogs {
		logCfg.Level = logging.WarnLevel
	}
	logging.Init(logCfg)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("loading configuration")
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("wiring components")
	}

	if *runMigrate {
		if err := app.Store.Migrate(cfg.Store.MigrationsPath); err != nil {
			logging.Fatal().Err(err).Msg("applying migrations")
		}
		logging.Info().Msg("migrations applied")
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go app.Run(ctx)

	srv := &http.Server{Addr: *httpAddr, Handler: healthRouter(app)}
	go func() {
		logging.Info().Str("addr", *httpAddr).Msg("health/metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error().Err(err).Msg("health server error")
		}
	}()

	logging.Info().Msg("cortexd started")
	<-ctx.Done()
	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := app.Close(); err != nil {
		logging.Error().Err(err).Msg("error during shutdown")
	}
}

// healthResponse is the /healthz payload: pool and agent-registry
// vitals, enough for a liveness/readiness probe without pulling in the
// full /metrics scrape.
type healthResponse struct {
	PoolHealthy    bool   `json:"pool_healthy"`
	CircuitBreaker string `json:"circuit_breaker"`
	LeasedConns    int    `json:"leased_connections"`
	AgentCount     int    `json:"agent_count"`
}

func healthRouter(app *bootstrap.App) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := app.Pool.HealthStatus()
		resp := healthResponse{
			PoolHealthy:    status.Healthy,
			CircuitBreaker: status.CircuitBreakerState,
			LeasedConns:    status.LeasedConnections,
			AgentCount:     app.Coordinator.Count(),
		}
		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
