// Rendezvous - UDP game rendezvous and lobby service
//
// Rendezvous lets game hosts advertise their games over UDP, answers
// client searches with reachable host endpoints, relays join intents for
// NAT traversal, and echoes observed external addresses back to clients.
// Around the lobby core it exposes a read-only REST API, an interactive
// console, MQTT telemetry, and a SQLite game-history log.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/outpost-project/rendezvous/internal/api"
	"github.com/outpost-project/rendezvous/internal/cli"
	"github.com/outpost-project/rendezvous/internal/config"
	"github.com/outpost-project/rendezvous/internal/db"
	"github.com/outpost-project/rendezvous/internal/events"
	"github.com/outpost-project/rendezvous/internal/lobby"
	"github.com/outpost-project/rendezvous/internal/scheduler"
	"github.com/outpost-project/rendezvous/internal/telemetry"
	"github.com/outpost-project/rendezvous/internal/util"
)

const (
	AppName    = "Rendezvous"
	AppVersion = "1.0.0"
	Banner     = `
  ____                _
 |  _ \ ___ _ __   __| | ___ _____   _____  _   _ ___
 | |_) / _ \ '_ \ / _' |/ _ \_  / \ / / _ \| | | / __|
 |  _ <  __/ | | | (_| |  __// /\ V / (_) | |_| \__ \
 |_| \_\___|_| |_|\__,_|\___/___| \_/ \___/ \__,_|___/
                                                v%s
 UDP Game Rendezvous & Lobby Service
`
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	port := flag.Int("port", 0, "override the primary UDP port")
	noCLI := flag.Bool("no-cli", false, "disable the interactive console")
	flag.Parse()

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting Rendezvous")

	// Load configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *port != 0 {
		cfg.ServerData.Port = *port
	}

	// Re-initialize logger with config-based settings
	logCfg := util.LogConfig{
		Level:      cfg.ApplicationData.Logging.Level,
		Directory:  cfg.ApplicationData.Logging.Directory,
		MaxBackups: cfg.ApplicationData.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	// Validate configuration
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize core components
	bus := events.NewBus()
	lb := lobby.New(cfg, bus)

	// Game-history log (optional)
	var history *db.History
	if cfg.ApplicationData.History.Enabled {
		history, err = db.OpenHistory(cfg.ApplicationData.History.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open history database, history disabled")
		} else {
			history.SubscribeTo(bus)
		}
	}

	// MQTT telemetry (optional)
	var mqttHandler *telemetry.MQTTHandler
	if cfg.ApplicationData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, bus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	apiServer := api.NewServer(cfg, lb, history)
	sched := scheduler.NewScheduler(cfg, bus, lb, history)
	cliHandler := cli.NewCLI(cfg, bus, lb)

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: the lobby core. A bind failure here is fatal.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.GetServerData().Port).Msg("starting rendezvous lobby")
		if err := lb.Start(ctx); err != nil {
			log.Error().Err(err).Msg("lobby failed")
			errCh <- fmt.Errorf("lobby: %w", err)
		}
	}()

	// Task 2: REST API (non-fatal: the lobby keeps serving without it)
	if cfg.ApplicationData.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.ApplicationData.API.Port).Msg("starting REST API server")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("API server failed (non-fatal)")
			}
		}()
	}

	// Task 3: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed (non-fatal)")
			}
		}()
	}

	// Task 4: Scheduler (counters ticks, history pruning)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// Task 5: Interactive CLI
	if !*noCLI {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting interactive CLI")
			cliHandler.Start(ctx)
		}()
	}

	// The CLI "quit" command emits a shutdown event.
	shutdownCh := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, event events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	// Wait for all goroutines with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	bus.Stop()

	if mqttHandler != nil {
		mqttHandler.PublishShutdown()
	}
	if history != nil {
		history.Close()
	}

	log.Info().Msg("Rendezvous stopped")
}
