// Command ltpd is a standalone LTP engine daemon: it binds a UDP socket,
// runs one engine.Engine over it, and exposes Prometheus metrics plus a
// JSON session snapshot for cmd/ltpcheck. Grounded on cmd/ptp4u/main.go's
// flag-parsing, single-purpose daemon shape.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/deepspacecomm/ltpengine/ltp/engine"
	"github.com/deepspacecomm/ltpengine/ltp/udptransport"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML daemon config file")
	logLevel := flag.String("loglevel", "", "override the config file's log level (debug, info, warn, error)")
	listenAddr := flag.String("listenaddr", "", "override the config file's UDP listen address")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "ltpd: -config is required")
		os.Exit(1)
	}

	cfg, err := readDaemonConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ltpd: invalid log level %q: %v\n", cfg.LogLevel, err)
		os.Exit(1)
	}
	log.SetLevel(level)

	if err := cfg.Engine.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("ltpd: exiting")
	}
}

func run(cfg *daemonConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transport, err := udptransport.New(cfg.ListenAddr, cfg.Peers)
	if err != nil {
		return fmt.Errorf("ltpd: building transport: %w", err)
	}
	defer transport.Close()

	registry := prometheus.NewRegistry()
	stats := engine.NewStats(registry)

	eng, err := engine.New(cfg.Engine, transport, loggingCallbacks(), stats)
	if err != nil {
		return fmt.Errorf("ltpd: constructing engine: %w", err)
	}
	defer eng.Close()
	transport.SetEngine(eng)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/sessions", sessionsHandler(eng))
	httpServer := &http.Server{Addr: cfg.MonitoringAddr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return transport.Run(ctx) })
	g.Go(func() error {
		log.WithField("addr", cfg.MonitoringAddr).Info("ltpd: serving metrics and session snapshots")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ltpd: monitoring server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return httpServer.Close()
	})

	log.WithFields(log.Fields{
		"engineId":    cfg.Engine.ThisEngineID,
		"engineIndex": cfg.Engine.EngineIndex,
		"listenAddr":  cfg.ListenAddr,
	}).Info("ltpd: starting")

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// sessionsHandler serves engine.Engine.Snapshot() as JSON for cmd/ltpcheck.
func sessionsHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(eng.Snapshot()); err != nil {
			log.WithError(err).Warn("ltpd: encoding session snapshot")
		}
	}
}
