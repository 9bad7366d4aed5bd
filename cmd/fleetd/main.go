// Command fleetd is the dispatcher process: it connects to the main proxy
// core, bootstraps any configured nodes, and runs the deduplicating
// operation queue and per-node circuit breaker until told to stop.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/proxyfleet/dispatcher/internal/adapter/catalog"
	"github.com/proxyfleet/dispatcher/internal/config"
	"github.com/proxyfleet/dispatcher/internal/core/domain"
	"github.com/proxyfleet/dispatcher/internal/fleet"
	"github.com/proxyfleet/dispatcher/internal/logger"
	"github.com/proxyfleet/dispatcher/internal/version"
	"github.com/proxyfleet/dispatcher/pkg/certfetch"
	"github.com/proxyfleet/dispatcher/pkg/container"
	"github.com/proxyfleet/dispatcher/pkg/format"
	"github.com/proxyfleet/dispatcher/pkg/nerdstats"
	"github.com/proxyfleet/dispatcher/pkg/profiler"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	} else {
		version.PrintVersionInfo(false, vlog)
	}

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(&logger.Config{
		Level:      cfg.Logging.Level,
		LogDir:     cfg.Logging.LogDir,
		Theme:      cfg.Logging.Theme,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		FileOutput: cfg.Logging.FileOutput,
		PrettyLogs: cfg.Logging.PrettyLogs,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())
	if container.IsContainerised() {
		styledLogger.Info("Running inside a container")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	inboundCatalog, err := catalog.New(ctx, cfg.Catalog.Path, styledLogger)
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to load inbound catalog", "error", err)
	}

	dispatcher := fleet.New(fleet.Config{
		ConnectTimeout:          cfg.Channel.ConnectTimeout,
		CallTimeout:             cfg.Channel.CallTimeout,
		BreakerFailureThreshold: cfg.Breaker.FailureThreshold,
		BreakerRecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		BreakerHalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		BreakerSuccessThreshold: cfg.Breaker.SuccessThreshold,
		QueueFlushInterval:      cfg.Queue.FlushInterval,
		QueueMaxBatchSize:       cfg.Queue.MaxBatchSize,
		QueueMaxWaitTime:        cfg.Queue.MaxWaitTime,
	}, inboundCatalog, certfetch.New(), styledLogger)

	if err := dispatcher.Start(ctx, cfg.Main.Host, cfg.Main.Port); err != nil {
		logger.FatalWithLogger(logInstance, "Failed to start fleet dispatcher", "error", err)
	}

	// facade is what an HTTP/admin layer would depend on: it routes to the
	// dispatcher while it is started, and to legacyFacade (here a stub;
	// production would inject whatever synchronous collaborator pre-dates
	// the dispatcher) for any call made while it is not.
	facade := fleet.NewFacade(dispatcher, &legacyFacade{log: styledLogger})
	_ = facade

	for _, n := range cfg.Nodes {
		node := domain.NodeView{
			ID:       n.ID,
			Name:     n.Name,
			Address:  n.Address,
			RESTPort: n.RESTPort,
			RPCPort:  n.RPCPort,
		}
		if err := dispatcher.ConnectNode(ctx, node); err != nil {
			styledLogger.Error("Failed to connect bootstrapped node", "node_id", n.ID, "name", n.Name, "error", err)
		}
	}

	debugServer := startDebugServer(dispatcher, styledLogger)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = debugServer.Shutdown(shutdownCtx)
	shutdownCancel()

	dispatcher.Stop()

	reportProcessStats(styledLogger, startTime)

	styledLogger.Info("fleetd has shutdown")
}

// legacyFacade is the fallback ports.UserFacade a Facade routes to while the
// dispatcher isn't started. This process has nothing to fall back to, so it
// just reports the condition; a deployment with a pre-dispatcher code path
// would inject that collaborator here instead.
type legacyFacade struct {
	log *logger.StyledLogger
}

func (l *legacyFacade) AddUser(_ context.Context, user domain.UserView) error {
	l.log.Warn("add user requested before dispatcher start; no legacy path configured", "user_id", user.ID)
	return domain.ErrNotStarted
}

func (l *legacyFacade) UpdateUser(_ context.Context, user domain.UserView) error {
	l.log.Warn("update user requested before dispatcher start; no legacy path configured", "user_id", user.ID)
	return domain.ErrNotStarted
}

func (l *legacyFacade) RemoveUser(_ context.Context, user domain.UserView) error {
	l.log.Warn("remove user requested before dispatcher start; no legacy path configured", "user_id", user.ID)
	return domain.ErrNotStarted
}

// getStats reports the dispatcher's health as JSON for operators and the
// pprof mux it shares a process with.
func getStats(d *fleet.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := d.GetStats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"started":            stats.Started,
			"main_channel_state": stats.MainChannelState.String(),
			"connected_nodes":    stats.ConnectedNodes,
			"open_circuits":      stats.OpenCircuits,
			"queue": map[string]any{
				"enqueued":     stats.Queue.Enqueued,
				"deduplicated": stats.Queue.Deduplicated,
				"flushed":      stats.Queue.Flushed,
				"batches":      stats.Queue.Batches,
				"pending":      stats.Queue.Pending,
			},
		})
	}
}

// startDebugServer exposes stats and pprof together on one local-only mux
// so both share a single graceful-shutdown path.
func startDebugServer(d *fleet.Dispatcher, log *logger.StyledLogger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/stats", getStats(d))
	profiler.RegisterPprof(mux)

	server := &http.Server{
		Addr:         profiler.DefaultDebugAddress,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("debug server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("debug server stopped unexpectedly", "error", err)
		}
	}()

	return server
}

func reportProcessStats(log *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	log.Info("Process Memory Stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	log.Info("Runtime Stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)

	log.Info("Goroutine Stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
	)

	if stats.NumGC > 0 {
		log.Info("Garbage Collection Stats",
			"num_gc_cycles", stats.NumGC,
			"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
		)
	}
}
