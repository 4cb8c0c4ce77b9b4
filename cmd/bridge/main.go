package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/SteelMorgan/mc-bridge/internal/admin"
	"github.com/SteelMorgan/mc-bridge/internal/archive"
	"github.com/SteelMorgan/mc-bridge/internal/bridge"
	"github.com/SteelMorgan/mc-bridge/internal/chat"
	"github.com/SteelMorgan/mc-bridge/internal/config"
	"github.com/SteelMorgan/mc-bridge/internal/domain"
	"github.com/SteelMorgan/mc-bridge/internal/manifest"
	"github.com/SteelMorgan/mc-bridge/internal/mapping"
	"github.com/SteelMorgan/mc-bridge/internal/observability"
	"github.com/SteelMorgan/mc-bridge/internal/panel"
	"github.com/SteelMorgan/mc-bridge/internal/rcon"
	"github.com/SteelMorgan/mc-bridge/internal/remotefile"
	"github.com/SteelMorgan/mc-bridge/internal/service"
	"github.com/SteelMorgan/mc-bridge/internal/store"
	"github.com/SteelMorgan/mc-bridge/internal/updater"
	"github.com/rs/zerolog/log"
)

const version = "0.3.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	closeLog := observability.InitLogger(cfg.LogLevel, cfg.LogFile)
	defer closeLog()

	log.Info().
		Str("version", version).
		Msg("Starting chat bridge")

	shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "mc-bridge",
		ServiceVersion: version,
		Endpoint:       cfg.TracingEndpoint,
		Protocol:       cfg.TracingProtocol,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer shutdownTracer(context.Background())
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StateDBPath), 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create state directory")
	}
	db, err := store.Open(cfg.StateDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state store")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Remote endpoints. Interfaces stay nil when unconfigured so the
	// affected operations report domain.ErrNotConfigured.
	var console bridge.Console
	if cfg.RCON.IsConfigured() {
		console = rcon.NewConsole(rcon.Config{
			Host:     cfg.RCON.Host,
			Port:     cfg.RCON.Port,
			Password: cfg.RCON.Password,
		})
	} else {
		log.Warn().Msg("RCON is not configured, inbound relay and player checks disabled")
	}

	var files *remotefile.Client
	if cfg.SFTP.IsConfigured() {
		files = remotefile.NewClient(remotefile.Config{
			Host:               cfg.SFTP.Host,
			Port:               cfg.SFTP.Port,
			Username:           cfg.SFTP.Username,
			Password:           cfg.SFTP.Password,
			HostKeyFingerprint: cfg.SFTP.HostKeyFingerprint,
		})
	} else {
		log.Warn().Msg("SFTP is not configured, log polling and uploads disabled")
	}

	var panelClient *panel.Client
	if cfg.Panel.IsConfigured() {
		panelClient = panel.NewClient(panel.Config{
			URL:      cfg.Panel.URL,
			APIKey:   cfg.Panel.APIKey,
			ServerID: cfg.Panel.ServerID,
		})
	} else {
		log.Warn().Msg("Panel API is not configured, updates disabled")
	}

	var discord *chat.Discord
	if cfg.Discord.IsConfigured() {
		discord, err = chat.NewDiscord(chat.Config{
			Token:      cfg.Discord.Token,
			ChannelID:  cfg.Discord.ChannelID,
			WebhookURL: cfg.Discord.WebhookURL,
			UseWebhook: cfg.Discord.UseWebhook,
		})
		if err != nil {
			log.Error().Err(err).Msg("Invalid Discord configuration, chat relay disabled")
			discord = nil
		}
	} else {
		log.Warn().Msg("Discord is not configured, chat relay disabled")
	}

	channels := mapping.NewChannelMap(cfg.Discord.ChannelID)
	if cfg.ChannelMapPath != "" {
		loaded, err := mapping.LoadChannelMap(cfg.ChannelMapPath, cfg.Discord.ChannelID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load channel map, relaying the default channel only")
		} else {
			channels = loaded
		}
	}

	// Log tail bridge
	bridgeOpts := []bridge.Option{bridge.WithRelayPolicy(channels)}
	if console != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithConsole(console))
	}
	if files != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithFetcher(files))
	}
	if discord != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithSink(discord))
	}
	if cfg.ClickHouse.IsConfigured() {
		chatArchive, err := archive.Open(ctx, archive.Config{
			Host:     cfg.ClickHouse.Host,
			Port:     cfg.ClickHouse.Port,
			Database: cfg.ClickHouse.DB,
			Source:   cfg.RemoteLogPath,
		})
		if err != nil {
			log.Error().Err(err).Msg("Chat archive unavailable, continuing without it")
		} else {
			defer chatArchive.Close()
			bridgeOpts = append(bridgeOpts, bridge.WithArchive(chatArchive))
		}
	}

	relay := bridge.New(bridge.Config{
		ChatEnabled:   cfg.ChatEnabled,
		RemoteLogPath: cfg.RemoteLogPath,
		ScratchDir:    cfg.ScratchDir,
	}, db, bridgeOpts...)

	// Update orchestrator
	var (
		target  updater.Target
		uploads updater.Uploader
		status  admin.StatusSource
	)
	if panelClient != nil {
		target, status = panelClient, panelClient
	}
	if files != nil {
		uploads = files
	}
	orchestrator := updater.New(updater.Config{
		Enabled:          cfg.UpdaterEnabled,
		RemoteBinaryPath: cfg.RemoteBinaryPath,
		ScratchDir:       cfg.ScratchDir,
		StopTimeout:      cfg.StopTimeout,
		Announce:         cfg.UpdateAnnounce,
	}, db, manifest.NewClient(cfg.ManifestURL), target, uploads, console)

	if discord != nil {
		err := discord.Open(func(ctx context.Context, msg domain.InboundMessage) {
			// Failures are logged by the bridge
			_ = relay.HandleInbound(ctx, msg)
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to open Discord session, inbound relay disabled")
		} else {
			defer discord.Close()
		}
	}

	scheduler := service.NewScheduler(
		service.Task{
			Name:           "log_tail",
			Interval:       cfg.PollInterval,
			RunImmediately: true,
			Timeout:        2 * time.Minute,
			Run:            relay.Tick,
		},
		service.Task{
			Name:           "update_check",
			Interval:       cfg.UpdateInterval,
			RunImmediately: true,
			Run: func(ctx context.Context) error {
				_, err := orchestrator.CheckAndDeploy(ctx)
				return err
			},
		},
	)
	scheduler.Start(ctx)

	var adminServer *admin.Server
	if cfg.AdminPort > 0 {
		if cfg.AdminToken == "" && !isLoopback(cfg.AdminHost) {
			log.Warn().
				Str("host", cfg.AdminHost).
				Msg("Admin server reachable off-host without ADMIN_TOKEN, anyone can trigger a deploy")
		}
		adminServer = admin.NewServer(admin.Config{
			Host:  cfg.AdminHost,
			Port:  cfg.AdminPort,
			Token: cfg.AdminToken,
		}, orchestrator, relay, status)
		go adminServer.Start(ctx)
	}

	log.Info().Msg("Chat bridge started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down gracefully...")
	cancel()

	if adminServer != nil {
		if err := adminServer.Stop(); err != nil {
			log.Error().Err(err).Msg("Error during admin server shutdown")
		}
	}
	scheduler.Wait()

	log.Info().Msg("Chat bridge stopped")
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
