package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/protei/telemetry-broker/internal/broker"
	"github.com/protei/telemetry-broker/internal/config"
	"github.com/protei/telemetry-broker/internal/logger"
	"github.com/protei/telemetry-broker/internal/metrics"
)

const appName = "telemetry-broker"

var (
	configPath = flag.String("config", "", "Path to service_config.json (overrides resolution order if set)")
	adminAddr  = flag.String("admin-addr", ":9090", "Address for the /metrics and /healthz admin surface")
	logLevel   = flag.String("log-level", "info", "Minimum log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.ResolvePath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", path, err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Path:       cfg.LogFile,
		Level:      *logLevel,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
		Compress:   true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info(appName+" starting", "config_path", path)

	met := metrics.New(prometheus.DefaultRegisterer)
	b := broker.New(cfg, log, met)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := b.Start(ctx); err != nil {
		log.Error("startup failed", "error", err.Error())
		os.Exit(1)
	}

	admin := startAdminServer(*adminAddr, log, b)

	waitForShutdownSignal(log)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()

	if err := b.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err.Error())
	}
	if err := admin.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown error", "error", err.Error())
	}

	log.Info(appName + " stopped")
}

// startAdminServer binds the observability surface spec.md's original
// never had (SPEC_FULL.md §6.4): a separate address so it never competes
// with the UAV/UI-facing ports the config schema governs.
func startAdminServer(addr string, log *logger.Logger, b *broker.Broker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ingress=%d egress=%d commands_routed=%d commands_dropped=%d\n",
			b.Stats.TelemetryIngress.Load(),
			b.Stats.TelemetryEgress.Load(),
			b.Stats.CommandsRouted.Load(),
			b.Stats.CommandsDropped.Load())
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server error", "error", err.Error())
		}
	}()
	log.Info("admin surface listening", "addr", addr)
	return srv
}

// waitForShutdownSignal blocks until the process receives an interrupt or
// terminate signal (spec.md §9: "the signal handler's only job is to set
// it" — here, to unblock this wait and let main drive the bounded
// Broker.Shutdown call).
func waitForShutdownSignal(log *logger.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())
}
