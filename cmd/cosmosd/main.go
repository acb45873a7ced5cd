// Command cosmosd is the long-running daemon entry point: it holds one
// Engine open for the process lifetime, serves Prometheus metrics, and
// shuts down gracefully on SIGINT/SIGTERM, grounded on the teacher's
// cmd/conductord/main.go (flag parsing, signal handling, graceful
// shutdown via context.WithCancel).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LPM-HMS/cosmos2/cosmos"
	"github.com/LPM-HMS/cosmos2/cosmos/tool"
	"github.com/LPM-HMS/cosmos2/internal/config"
	"github.com/LPM-HMS/cosmos2/internal/log"
)

func main() {
	cfgPath := flag.String("config", "", "path to a cosmos config file")
	flag.Parse()

	fileCfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cosmosd:", err)
		os.Exit(1)
	}
	if err := fileCfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "cosmosd:", err)
		os.Exit(1)
	}

	logger := log.New(fileCfg.LoggerConfig())
	logger.Info("starting cosmosd", "listen_addr", fileCfg.Daemon.ListenAddr, "default_drm", fileCfg.DefaultDRM)

	tools := tool.NewRegistry()
	if err := tools.Register(tool.NewShell("shell", nil, nil)); err != nil {
		logger.Error("register built-in shell tool", log.Error(err))
		os.Exit(1)
	}

	engineCfg := fileCfg.EngineConfig()
	engineCfg.Log = logger
	engine, err := cosmos.New(engineCfg, tools)
	if err != nil {
		logger.Error("assemble engine", log.Error(err))
		os.Exit(1)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.InitDB(ctx); err != nil {
		logger.Error("initialize schema", log.Error(err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: fileCfg.Daemon.ListenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", log.Error(err))
		}
	}()

	resumeStale(ctx, engine, logger)

	<-ctx.Done()
	logger.Info("shutting down cosmosd")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", log.Error(err))
	}
}

// resumeStale restarts every persisted Execution left in a non-terminal
// state (no_attempt, running or failed_but_running) by a prior process,
// the daemon-side half of
// spec §4.6's "Resume": a daemon restart must not silently abandon
// in-flight work. Each resumed Execution runs on its own goroutine so
// one slow pipeline never blocks another from starting.
func resumeStale(ctx context.Context, engine *cosmos.Engine, logger *slog.Logger) {
	execs, err := engine.Store.ListExecutions(ctx)
	if err != nil {
		logger.Warn("list executions for resume", log.Error(err))
		return
	}
	for _, e := range execs {
		if e.Status.Terminal() {
			continue
		}
		id := e.ID
		logger.Info("resuming execution", "execution_id", id, "status", string(e.Status))
		go func() {
			if err := engine.Resume(ctx, id); err != nil {
				logger.Warn("execution ended", "execution_id", id, log.Error(err))
			}
		}()
	}
}
