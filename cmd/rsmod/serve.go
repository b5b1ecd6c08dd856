package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Nozemi/rsmod/internal/api"
	"github.com/Nozemi/rsmod/internal/cli"
	"github.com/Nozemi/rsmod/internal/config"
	"github.com/Nozemi/rsmod/internal/db"
	"github.com/Nozemi/rsmod/internal/events"
	"github.com/Nozemi/rsmod/internal/handler"
	"github.com/Nozemi/rsmod/internal/metrics"
	"github.com/Nozemi/rsmod/internal/network"
	"github.com/Nozemi/rsmod/internal/packet"
	"github.com/Nozemi/rsmod/internal/scheduler"
	"github.com/Nozemi/rsmod/internal/telemetry"
	"github.com/Nozemi/rsmod/internal/util"
)

const (
	bindRetries   = 15
	bindRetryWait = 3 * time.Second
	shutdownGrace = 30 * time.Second
)

func serveCmd() *cobra.Command {
	var (
		configDir   string
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configDir, interactive)
		},
	}

	cmd.Flags().StringVarP(&configDir, "config-dir", "c", config.DefaultConfigDir, "configuration directory")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", true, "read console commands from stdin")
	return cmd
}

func serve(configDir string, interactive bool) error {
	fmt.Printf(Banner, Version)
	fmt.Println()

	// Defaults until the config is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting rsmod")

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app := cfg.GetApplicationData()
	logCfg := util.LogConfig{
		Level:      app.Logging.Level,
		Directory:  app.Logging.Directory,
		MaxSizeMB:  app.Logging.MaxSizeMB,
		MaxBackups: app.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, run '%s init' or fix the errors above", AppName)
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("threads", sysInfo.CPUThreads).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The descriptor table is immutable once built; a duplicate opcode is a
	// programming error and stops startup.
	handlers := handler.NewLogging(util.ComponentLogger("handler"))
	table, err := packet.NewTable(handlers)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build client message table")
	}

	eventBus := events.NewEventBus()
	m := metrics.New(metrics.WithConstLabels(prometheus.Labels{"device": cfg.GetGateway().Device}))

	gwOpts := []network.Option{
		network.WithEventBus(eventBus),
		network.WithMetrics(m),
	}

	var store *db.ViolationStore
	if app.Audit.Enabled {
		store, err = db.NewViolationStore(app.Audit.DBPath)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open violation store, audit disabled")
		} else {
			defer store.Close()
			gwOpts = append(gwOpts, network.WithViolationRecorder(store))
		}
	}

	gateway, err := network.NewGateway(cfg.GetGateway(), table, gwOpts...)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	var mqttHandler *telemetry.MQTTHandler
	if app.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, Version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		}
	}

	schedOpts := []scheduler.Option{}
	var violations cli.ViolationQuery
	apiOpts := []api.Option{api.WithMetrics(m), api.WithVersion(Version)}
	if store != nil {
		schedOpts = append(schedOpts, scheduler.WithPurger(store))
		apiOpts = append(apiOpts, api.WithViolations(store))
		violations = store
	}
	if mqttHandler != nil {
		schedOpts = append(schedOpts, scheduler.WithStatusPublisher(mqttHandler, scheduler.DefaultStatusInterval))
	}
	sched := scheduler.NewScheduler(cfg, gateway, gateway.Device().String(),
		table.OpcodeCount(gateway.Device()), schedOpts...)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	shutdownCh := make(chan struct{}, 1)

	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("address", cfg.GetGateway().Address()).Msg("starting client gateway")
		if err := startWithRetry(ctx, "gateway", gateway.Start, bindRetries); err != nil {
			log.Error().Err(err).Msg("gateway failed after retries")
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()

	if app.API.Enabled {
		apiServer := api.NewServer(cfg, eventBus, gateway, apiOpts...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", app.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, bindRetries); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if interactive {
		console := cli.NewCLI(cfg, eventBus, gateway, violations, os.Stdin, os.Stdout)
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer stopCancel()

	if err := gateway.Stop(stopCtx); err != nil {
		log.Warn().Err(err).Msg("gateway shutdown error")
	}
	// Cancelling the root context stops the API, MQTT and scheduler.
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-stopCtx.Done():
		log.Warn().Dur("grace", shutdownGrace).Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("rsmod stopped")
	return nil
}

// startWithRetry attempts to start a listener with retry on bind errors.
// Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(bindRetryWait):
			}
		}
	}
	return lastErr
}
