// Command reflection3 is the entry point for the Reflection Orchestrator
// sidecar. It loads configuration, wires up the self-assessment, routing,
// cross-review, and artifact components, subscribes to the host runtime's
// session event stream, drives the per-session IDLE_WAIT/RUNNING/
// COOLDOWN_ABORT state machine around orchestrator.HandleIdle, and handles
// graceful shutdown on SIGINT/SIGTERM — mirroring the teacher's own
// cmd/main.go in shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencode-sh/reflection3/internal/artifact"
	"github.com/opencode-sh/reflection3/internal/assessment"
	"github.com/opencode-sh/reflection3/internal/config"
	"github.com/opencode-sh/reflection3/internal/crossreview"
	"github.com/opencode-sh/reflection3/internal/healthserver"
	"github.com/opencode-sh/reflection3/internal/hostclient"
	"github.com/opencode-sh/reflection3/internal/logging"
	"github.com/opencode-sh/reflection3/internal/orchestrator"
	"github.com/opencode-sh/reflection3/internal/registry"
	"github.com/opencode-sh/reflection3/internal/routing"
	"github.com/opencode-sh/reflection3/internal/signals"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "config/reflection3.yaml", "path to reflection3.yaml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config %q: %w", *cfgPath, err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}

	var errLogger *logging.ErrorLogger
	if cfg.Logging.ErrorLogDir != "" && cfg.Logging.ErrorLogFilename != "" {
		errLogger = logging.NewErrorLogger(cfg.Logging.ErrorLogDir, cfg.Logging.ErrorLogFilename)
	}

	logger.Info("configuration loaded",
		slog.String("config", *cfgPath),
		slog.String("host_base_url", cfg.Host.BaseURL),
		slog.Int("max_attempts", cfg.Attempts.MaxAttempts),
		slog.Bool("routing_enabled", cfg.Routing.Enabled),
	)

	debugSink := logging.NewDebugSink(".reflection/debug.log", cfg.Debug)

	client := hostclient.NewHTTPClient(cfg.Host.BaseURL, cfg.Host.Token, logger)
	reg := registry.New()

	pollInterval := time.Duration(cfg.Timeouts.PollIntervalSeconds) * time.Second
	judgeTimeout := time.Duration(cfg.Timeouts.JudgeResponseTimeoutSeconds) * time.Second
	abortCooldown := time.Duration(cfg.Timeouts.AbortCooldownSeconds) * time.Second
	abortRaceDelay := time.Duration(cfg.Timeouts.AbortRaceDelayMS) * time.Millisecond

	assessmentRunner := assessment.NewRunner(client, reg, pollInterval, judgeTimeout, logger)

	var classifier *routing.Classifier
	if cfg.Routing.Enabled {
		classifier = &routing.Classifier{
			Client:       client,
			Registry:     reg,
			PollInterval: pollInterval,
			Timeout:      judgeTimeout,
			Logger:       logger,
		}
	}

	reviewer := &crossreview.Reviewer{
		Client:       client,
		Registry:     reg,
		PollInterval: pollInterval,
		Timeout:      judgeTimeout,
		Logger:       logger,
	}

	orch := &orchestrator.Orchestrator{
		Client:         client,
		Registry:       reg,
		Config:         cfg,
		Probe:          signals.FileSystemProbe{},
		Assessment:     assessmentRunner,
		Routing:        classifier,
		CrossReview:    reviewer,
		Artifact:       artifact.NewWriter(),
		Debug:          debugSink,
		Logger:         logger,
		AbortCooldown:  abortCooldown,
		AbortRaceDelay: abortRaceDelay,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := client.Events(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to host event stream: %w", err)
	}

	healthSrv := healthserver.New(cfg.Health.Addr, logger, func() healthserver.Status {
		return healthserver.Status{OK: true, Version: "reflection3"}
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil {
			serverErr <- err
		}
	}()

	go purgeAbortsPeriodically(ctx, reg, abortCooldown)
	go dispatchEvents(ctx, events, orch, reg, errLogger, logger, abortRaceDelay, abortCooldown)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("signal received, shutting down", slog.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("health server error: %w", err)
	}

	cancel()
	if err := healthSrv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// dispatchEvents consumes the host event stream and drives the per-session
// IDLE_WAIT/RUNNING/COOLDOWN_ABORT state machine (spec.md §4.8). Abort
// events update the registry immediately; idle events are fanned out to
// their own goroutine so a slow reflection on one session never blocks
// idle events for another.
func dispatchEvents(ctx context.Context, events <-chan hostclient.Event, orch *orchestrator.Orchestrator, reg *registry.Store, errLogger *logging.ErrorLogger, logger *slog.Logger, raceDelay, cooldown time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Type {
			case hostclient.EventSessionIdle:
				go handleIdleEvent(ctx, orch, reg, errLogger, logger, evt.SessionID, raceDelay, cooldown)
			case hostclient.EventSessionError:
				reg.RecordAbort(evt.SessionID, time.Now())
				logger.Debug("recorded abort", slog.String("session", evt.SessionID))
			}
		}
	}
}

// handleIdleEvent implements the IDLE_WAIT → RUNNING transition: a session
// already judged, already running, or within its abort cooldown is ignored
// outright; otherwise the goroutine waits ABORT_RACE_DELAY and re-checks the
// abort registry before entering RUNNING, closing the race where an abort
// event arrives just after the idle event that triggered this reflection.
func handleIdleEvent(ctx context.Context, orch *orchestrator.Orchestrator, reg *registry.Store, errLogger *logging.ErrorLogger, logger *slog.Logger, sessionID string, raceDelay, cooldown time.Duration) {
	now := time.Now()
	if reg.IsJudge(sessionID) || reg.IsRunning(sessionID) || reg.InCooldown(sessionID, now, cooldown) {
		return
	}

	select {
	case <-time.After(raceDelay):
	case <-ctx.Done():
		return
	}

	if reg.InCooldown(sessionID, time.Now(), cooldown) {
		return
	}
	if !reg.TryEnterRunning(sessionID) {
		return
	}
	defer reg.ExitRunning(sessionID)

	result := orch.HandleIdle(ctx, sessionID)
	switch result.Kind {
	case orchestrator.ResultTransportFailure, orchestrator.ResultParseFallback, orchestrator.ResultAborted:
		logger.Warn("reflection did not complete cleanly",
			slog.String("session", sessionID),
			slog.String("result", string(result.Kind)),
		)
		if errLogger != nil {
			_ = errLogger.Log(sessionID, "n/a", string(result.Kind), fmt.Errorf("HandleIdle returned %s", result.Kind))
		}
	}
}

// purgeAbortsPeriodically evicts abort records once they age out of the
// cooldown window, so the in-memory registry does not grow without bound
// across a long-lived sidecar process.
func purgeAbortsPeriodically(ctx context.Context, reg *registry.Store, cooldown time.Duration) {
	ticker := time.NewTicker(cooldown)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.PurgeExpiredAborts(time.Now(), cooldown)
		}
	}
}
