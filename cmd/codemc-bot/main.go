// Package main is the entrypoint for the CodeMC onboarding bot.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/CodeMC/bot/internal/components/api/interactions"
	"github.com/CodeMC/bot/internal/components/chat/discord"
	"github.com/CodeMC/bot/internal/components/commands"
	"github.com/CodeMC/bot/internal/components/credential"
	"github.com/CodeMC/bot/internal/components/links"
	"github.com/CodeMC/bot/internal/components/provisioning"
	"github.com/CodeMC/bot/internal/components/reconcile"
	"github.com/CodeMC/bot/internal/components/remote"
	"github.com/CodeMC/bot/internal/components/remote/jenkins"
	"github.com/CodeMC/bot/internal/components/remote/nexus"
	"github.com/CodeMC/bot/internal/platform/cache/memory"
	"github.com/CodeMC/bot/internal/platform/cfg"
	"github.com/CodeMC/bot/internal/platform/config"
	httpclient "github.com/CodeMC/bot/internal/platform/http/client"
	"github.com/CodeMC/bot/internal/platform/http/server"
	"github.com/CodeMC/bot/internal/platform/store"

	// Register store drivers
	_ "github.com/CodeMC/bot/internal/platform/store/json"
	_ "github.com/CodeMC/bot/internal/platform/store/mirror"
	_ "github.com/CodeMC/bot/internal/platform/store/sqlite"
)

func main() {
	flags := pflag.NewFlagSet("codemc-bot", pflag.ContinueOnError)
	configPath := flags.String("config", "", "Path to TOML config file (optional)")
	modeFlag := flags.String("mode", "", "Operating mode: production or dev (overrides config)")
	listenAddr := flags.String("listen", "", "Listen address (overrides config)")
	loggingLevel := flags.String("logging-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	storeDriver := flags.String("store-driver", "", "Link store driver: json, sqlite or mirror (overrides config)")
	dataDir := flags.String("data-dir", "", "Link store data directory (overrides config)")
	ssrfMode := flags.String("ssrf-mode", "", "SSRF protection mode: strict or off (overrides config)")
	skipRegister := flags.Bool("skip-register", false, "Do not register slash commands on startup")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load config with precedence: mode preset -> TOML file -> env -> CLI flags
	c, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:   listenAddr,
			LoggingLevel: loggingLevel,
			StoreDriver:  storeDriver,
			DataDir:      dataDir,
			SSRFMode:     ssrfMode,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := c.Validate(); err != nil {
		bootstrapLogger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(c.Logging.Level)}))
	slog.SetDefault(logger)

	// Log effective config with secrets redacted
	logger.Info("effective configuration", "config", c.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := build(ctx, c, logger, !*skipRegister)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	logger.Info("bot started, press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("bot stopped")
}

// build wires every component. cleanup closes the link store.
func build(ctx context.Context, c *config.Config, logger *slog.Logger, register bool) (*server.Server, func(), error) {
	httpClient := httpclient.NewContextClient(httpclient.New(&c.OutboundHTTP))

	isGroup, err := remote.NewGroupPredicate(c.Provisioning.GroupNamePattern)
	if err != nil {
		return nil, nil, err
	}

	var jenkinsCfg jenkins.Config
	if err := cfg.Decode(c.Service("jenkins"), &jenkinsCfg); err != nil {
		return nil, nil, fmt.Errorf("decode services.jenkins: %w", err)
	}
	ci, err := jenkins.NewClient(jenkins.ClientConfig{
		Config:     jenkinsCfg,
		HTTPClient: httpClient,
		IsGroup:    isGroup,
		Logger:     logger.With("remote", "jenkins"),
	})
	if err != nil {
		return nil, nil, err
	}

	var nexusCfg nexus.Config
	if err := cfg.Decode(c.Service("nexus"), &nexusCfg); err != nil {
		return nil, nil, fmt.Errorf("decode services.nexus: %w", err)
	}
	repo, err := nexus.NewClient(nexus.ClientConfig{
		Config:     nexusCfg,
		HTTPClient: httpClient,
		Logger:     logger.With("remote", "nexus"),
	})
	if err != nil {
		return nil, nil, err
	}

	chatClient, err := discord.NewClient(discord.ClientConfig{
		APIURL:        c.Discord.APIURL,
		Token:         c.Discord.Token,
		ApplicationID: c.Discord.ApplicationID,
		HTTPClient:    httpClient,
		Logger:        logger.With("remote", "discord"),
	})
	if err != nil {
		return nil, nil, err
	}

	driver, linkStore, err := store.NewLinkStore(&store.DriverConfig{
		Driver:  c.Store.Driver,
		DataDir: c.Store.DataDir,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := driver.Init(ctx); err != nil {
		driver.Close()
		return nil, nil, fmt.Errorf("init %s store: %w", driver.Name(), err)
	}
	cleanup := func() {
		if err := driver.Close(); err != nil {
			logger.Warn("store close error", "error", err)
		}
	}
	fail := func(err error) (*server.Server, func(), error) {
		cleanup()
		return nil, nil, err
	}

	registry := links.NewRegistry(linkStore, logger)

	orchestrator, err := provisioning.New(provisioning.Config{
		GuildID:           c.Discord.GuildID,
		RequestChannelID:  c.Discord.RequestChannelID,
		AcceptedChannelID: c.Discord.AcceptedChannelID,
		RejectedChannelID: c.Discord.RejectedChannelID,
		AuthorRoleID:      c.Discord.AuthorRoleID,
		FreestyleJobs:     c.Provisioning.FreestyleJobs,
		AcceptedTemplate:  c.Provisioning.AcceptedTemplate,
		DeniedTemplate:    c.Provisioning.DeniedTemplate,
	}, provisioning.Deps{
		Chat:        chatClient,
		Roles:       chatClient,
		CI:          ci,
		Repository:  repo,
		Links:       registry,
		IsGroup:     isGroup,
		Credentials: credential.Generate,
		Logger:      logger,
	})
	if err != nil {
		return fail(err)
	}

	reconciler := reconcile.New(ci, repo, isGroup, credential.Generate, logger)

	cmds, err := commands.New(commands.Config{
		GuildID:      c.Discord.GuildID,
		AuthorRoleID: c.Discord.AuthorRoleID,
	}, commands.Deps{
		Roles:        chatClient,
		CI:           ci,
		Repository:   repo,
		Links:        registry,
		Reconciler:   reconciler,
		Orchestrator: orchestrator,
		IsGroup:      isGroup,
		Credentials:  credential.Generate,
		Logger:       logger,
	})
	if err != nil {
		return fail(err)
	}

	publicKey, err := interactions.ParsePublicKey(c.Discord.PublicKey)
	if err != nil {
		return fail(err)
	}

	ttl := time.Duration(c.Provisioning.InteractionDedupTTLSeconds) * time.Second
	dedup := memory.New(ttl, time.Minute)
	handler := interactions.NewHandler(cmds, chatClient, dedup, ttl, logger)
	svc, err := interactions.NewService(handler, publicKey, dedup, logger)
	if err != nil {
		dedup.Close()
		return fail(err)
	}

	if register {
		if err := chatClient.RegisterCommands(ctx, c.Discord.GuildID, interactions.Commands()); err != nil {
			logger.Warn("failed to register slash commands", "guild_id", c.Discord.GuildID, "error", err)
		} else {
			logger.Info("registered slash commands", "guild_id", c.Discord.GuildID)
		}
	}

	srv, err := server.New(c, logger, svc)
	if err != nil {
		svc.Close()
		return fail(err)
	}
	return srv, cleanup, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return slog.LevelDebug - 4 // slog has no trace, use debug-4
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
