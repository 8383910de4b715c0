package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hairizuan-noorazman/ui-orchestrator/engine"
	"github.com/hairizuan-noorazman/ui-orchestrator/events"
	"github.com/hairizuan-noorazman/ui-orchestrator/internal/uuidutil"
	"github.com/hairizuan-noorazman/ui-orchestrator/logger"
	"github.com/hairizuan-noorazman/ui-orchestrator/orchestrator"
	"github.com/hairizuan-noorazman/ui-orchestrator/scenario"
	"github.com/hairizuan-noorazman/ui-orchestrator/session"
	"github.com/hairizuan-noorazman/ui-orchestrator/storage"
)

const shutdownTimeout = 30 * time.Second

// errSessionFailed makes the process exit non-zero when the session did not
// succeed.
var errSessionFailed = errors.New("session did not succeed")

func newRunCmd() *cobra.Command {
	var scenarioPath string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario and stream its events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(flagConfig)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runScenario(cmd.Context(), cmd.OutOrStdout(), cfg, scenarioPath, timeout)
		},
	}

	cmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "scenario file path")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stop the session after this long (0 means no limit)")
	cmd.MarkFlagRequired("scenario")
	return cmd
}

func runScenario(ctx context.Context, out io.Writer, cfg *Config, scenarioPath string, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.NewLogrusLoggerWithOptions(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer log.Close()
	log.Info(ctx, "starting runner", map[string]interface{}{
		"version": Version,
		"commit":  Commit,
		"date":    BuildDate,
	})

	if cfg.Tracing.Enabled {
		shutdownTracing, err := setupTracing(ctx, os.Stderr)
		if err != nil {
			return err
		}
		defer shutdownTracing(context.Background())
	}

	sc, err := scenario.LoadFileWithDefaults(scenarioPath, cfg.Browser.Options())
	if err != nil {
		return err
	}
	for _, i := range sc.Actions.UnknownTypes() {
		log.Warn(ctx, "scenario has unsupported action type", map[string]interface{}{
			"action_index": i,
			"type":         string(sc.Actions[i].Type),
		})
	}

	blob, err := storage.New(ctx, storage.Config{
		Type:          cfg.Storage.Type,
		BaseDir:       cfg.Storage.BaseDir,
		S3Bucket:      cfg.Storage.S3Bucket,
		S3Region:      cfg.Storage.S3Region,
		S3Endpoint:    cfg.Storage.S3Endpoint,
		PresignExpiry: cfg.Storage.S3PresignExpiry,
	})
	if err != nil {
		return err
	}

	hub := events.NewHub(events.HubConfig{
		SubscriberBuffer: cfg.Events.SubscriberBuffer,
		PublishTimeout:   cfg.Events.PublishTimeout,
	})
	defer hub.Close()

	var sink events.Sink = hub
	if cfg.Events.NATSURL != "" {
		natsSink, err := events.DialNATS(events.NATSConfig{URL: cfg.Events.NATSURL})
		if err != nil {
			return err
		}
		defer natsSink.Close()
		sink = events.MultiSink{hub, natsSink}
		log.Info(ctx, "publishing events to NATS", map[string]interface{}{
			"url": cfg.Events.NATSURL,
		})
	}

	if cfg.Metrics.Addr != "" {
		server, err := startMetricsServer(ctx, cfg.Metrics.Addr, hub, log)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	var chromeOpts []engine.ChromeOption
	if cfg.Browser.ExecPath != "" {
		chromeOpts = append(chromeOpts, engine.WithExecPath(cfg.Browser.ExecPath))
	}
	eng := engine.NewChromeEngine(log, chromeOpts...)

	reg := session.NewRegistry(log,
		session.WithRetention(cfg.Orchestrator.Retention),
		session.WithRemoveHook(hub.Forget),
	)
	shots := storage.NewScreenshotStore(blob)
	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrentSessions: cfg.Orchestrator.MaxConcurrentSessions,
		WarmupDelay:           cfg.Orchestrator.WarmupDelay,
		CleanupInterval:       cfg.Orchestrator.CleanupInterval,
	}, eng, sink, reg,
		orchestrator.WithLogger(log),
		orchestrator.WithScreenshotStore(shots),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := orch.Shutdown(shutdownCtx); err != nil {
			log.Error(context.Background(), "orchestrator shutdown", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	var locate locator
	if shots != nil {
		locate = shots.URL
	}
	return execute(ctx, out, orch, hub, sc, timeout, locate)
}

// execute starts the scenario, prints its events until the stream ends and
// reports the result. Interrupts and the timeout stop the session; the stream
// still runs to its Completed event.
func execute(ctx context.Context, out io.Writer, orch *orchestrator.Orchestrator, hub *events.Hub, sc *scenario.Scenario, timeout time.Duration, locate locator) error {
	handle, err := orch.Start(ctx, orchestrator.StartRequest{
		TargetURL:   sc.TargetURL,
		Script:      sc.Actions,
		Options:     sc.Options,
		SessionName: sc.Name,
	})
	if err != nil {
		return err
	}

	ch, unsubscribe := hub.Subscribe(handle.SessionID)
	defer unsubscribe()
	short := uuidutil.Short(handle.SessionID)
	fmt.Fprintf(os.Stderr, "session %s started (%s)\n", short, handle.SessionID)

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	interrupted := ctx.Done()

	stopSession := func(reason string) {
		interrupted, deadline = nil, nil
		fmt.Fprintf(os.Stderr, "stopping session %s: %s\n", short, reason)
		if _, err := orch.Stop(context.Background(), handle.SessionID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to stop session: %v\n", err)
		}
	}

	for done := false; !done; {
		select {
		case ev, ok := <-ch:
			if !ok {
				done = true
				continue
			}
			if err := printEvent(out, ev, flagJSON); err != nil {
				return err
			}
		case <-interrupted:
			stopSession("interrupted")
		case <-deadline:
			stopSession("timeout after " + timeout.String())
		}
	}

	res, err := orch.GetResult(handle.SessionID)
	if err != nil {
		return err
	}
	if err := printResult(context.WithoutCancel(ctx), out, res, flagJSON, locate); err != nil {
		return err
	}
	if !res.Success {
		return errSessionFailed
	}
	return nil
}
