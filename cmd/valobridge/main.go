// Valobridge - Valorant presence to Discord bridge
//
// Valobridge signs watched Riot accounts in to the Valorant chat service,
// follows friend presence to track live matches, and posts live match
// cards to linked Discord channels. It exposes a REST API for link
// management and publishes real-time telemetry via MQTT.
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

	"github.com/rs/zerolog/log"

	"github.com/valobridge-project/valobridge/internal/api"
	"github.com/valobridge-project/valobridge/internal/cli"
	"github.com/valobridge-project/valobridge/internal/config"
	"github.com/valobridge-project/valobridge/internal/discord"
	"github.com/valobridge-project/valobridge/internal/events"
	"github.com/valobridge-project/valobridge/internal/refdata"
	"github.com/valobridge-project/valobridge/internal/riot"
	"github.com/valobridge-project/valobridge/internal/store"
	"github.com/valobridge-project/valobridge/internal/telemetry"
	"github.com/valobridge-project/valobridge/internal/tracker"
	"github.com/valobridge-project/valobridge/internal/util"
	"github.com/valobridge-project/valobridge/internal/xmpp"
)

const (
	AppName    = "Valobridge"
	AppVersion = "1.0.0"
	Banner     = `
 __      __   _       _          _     _
 \ \    / /  | |     | |        (_)   | |
  \ \  / /_ _| | ___ | |__  _ __ _  __| | __ _  ___
   \ \/ / _' | |/ _ \| '_ \| '__| |/ _' |/ _' |/ _ \
    \  / (_| | | (_) | |_) | |  | | (_| | (_| |  __/
     \/ \__,_|_|\___/|_.__/|_|  |_|\__,_|\__, |\___|
                                          __/ |
                                         |___/  v%s
 Valorant presence to Discord bridge
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Valobridge")

	// Load configuration
	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appData := cfg.GetApplicationData()

	// Re-initialize logger with config-based settings
	logCfg := util.LogConfig{
		Level:      appData.Logging.Level,
		Directory:  appData.Logging.Directory,
		MaxBackups: appData.Logging.MaxAge,
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
		if cfg.IsFirstRun() {
			log.Fatal().Str("path", cfg.Path()).
				Msg("first run detected: add at least one Riot account and the Discord bot token to the config file")
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	// Log system info
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
	eventBus := events.NewBus()

	links, err := store.Open(appData.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open identity-link store")
	}
	defer links.Close()

	// Game reference data (map names, rank names, player card art).
	// Failure is non-fatal: match cards degrade to raw identifiers.
	catalog := refdata.NewCatalog(appData.Refdata.BaseURL)
	if err := catalog.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to load game reference data, match cards will show raw ids")
	}

	discordConn := discord.NewConnector(appData.Discord.BotToken)

	// One chat session per watched account
	riotData := cfg.GetRiotData()
	sessions := make([]*xmpp.Session, 0, len(riotData.Accounts))
	trackers := make(map[string]*tracker.Tracker, len(riotData.Accounts))
	for _, acc := range riotData.Accounts {
		client := riot.NewClient(acc.Username, acc.Password)
		tr := tracker.New(acc.Username, links, discordConn, client, catalog, eventBus)
		sess := xmpp.NewSession(acc.Username, client, tr, links, eventBus, appData.Discord.InviteURL)
		sess.SetChatEndpoint(riotData.ChatHostOverride, riotData.ChatPort)
		sessions = append(sessions, sess)
		trackers[acc.Username] = tr
	}

	// Initialize REST API
	apiServer := api.NewServer(cfg, eventBus, sessions, trackers)
	apiServer.SetDependencies(discordConn, links)

	// Initialize MQTT telemetry
	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// Initialize CLI
	cliHandler := cli.NewCLI(cfg, eventBus, sessions, trackers, links)

	var wg sync.WaitGroup
	errCh := make(chan error, len(sessions)+2)

	// Chat sessions: a bad password on any account is fatal; a multi-factor
	// challenge waits for the CLI 'mfa' command, anything else reconnects
	// internally.
	for _, sess := range sessions {
		sess := sess
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("account", sess.Account()).Msg("starting chat session")
			if err := sess.Run(ctx); err != nil {
				errCh <- fmt.Errorf("session %s: %w", sess.Account(), err)
			}
		}()
	}

	// REST API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", appData.API.Port).Msg("starting REST API server")
		if err := apiServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// MQTT telemetry
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

	// Interactive CLI
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// Shutdown via CLI quit command
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, event events.Event) error {
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

	if mqttHandler != nil {
		mqttHandler.PublishShutdown()
	}

	// Stop the event bus last
	eventBus.Stop()

	log.Info().Msg("Valobridge stopped")
}
