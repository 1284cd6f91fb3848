// Copyright 2024-2026 Aiku AI

// Command mattermost-modmail runs a modmail bot on a Mattermost server. Users
// who message the bot directly get a private staff channel in which staff
// can read and answer them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/mattermost-modmail/pkg/commands"
	"github.com/aiku/mattermost-modmail/pkg/connector"
	"github.com/aiku/mattermost-modmail/pkg/infractions"
	"github.com/aiku/mattermost-modmail/pkg/logsink"
	"github.com/aiku/mattermost-modmail/pkg/reactionrole"
	"github.com/aiku/mattermost-modmail/pkg/relay"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string
	saveConfig bool
)

var rootCmd = &cobra.Command{
	Use:           "mattermost-modmail",
	Short:         "A modmail bot for Mattermost",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mattermost-modmail %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	rootCmd.Flags().BoolVar(&saveConfig, "save-config", true, "write the upgraded config back to disk")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	envErr := godotenv.Load()

	cfg, err := connector.Load(configPath, saveConfig)
	if errors.Is(err, connector.ErrConfigCreated) {
		fmt.Fprintf(os.Stderr, "Wrote example config to %s, edit it and restart.\n", configPath)
		return nil
	} else if err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn().Err(envErr).Msg("Failed to load .env file")
	}

	var sink *logsink.Sink
	if cfg.LogWebhook.URL != "" {
		minLevel, err := logsink.ParseLevel(cfg.LogWebhook.MinLevel)
		if err != nil {
			return fmt.Errorf("invalid log_webhook.min_level: %w", err)
		}
		sink = logsink.New(connector.NewWebhookBroadcaster(cfg.LogWebhook.URL, nil), logsink.Options{
			As:        relay.Identity{Name: cfg.LogWebhook.Username, AvatarURL: cfg.LogWebhook.IconURL},
			MinLevel:  minLevel,
			MaxLength: cfg.Modmail.MaxMessageLength,
		})
		hooked := log.Hook(sink)
		log = &hooked
	}
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting mattermost-modmail")

	err = serve(ctx, cfg, *log)
	if err != nil {
		log.Error().Err(err).Msg("Modmail stopped with an error")
	} else {
		log.Info().Msg("Modmail stopped")
	}

	if sink != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = sink.Close(closeCtx)
	}
	return err
}

func serve(ctx context.Context, cfg *connector.Config, log zerolog.Logger) error {
	store, err := infractions.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	roles := reactionrole.NewTable(cfg.ReactionRoles.Path)
	if err = roles.Load(); err != nil {
		return err
	}
	log.Info().Int("pairs", len(roles.List())).Msg("Loaded reaction roles")

	mm := connector.New(cfg, log)
	if err = mm.Start(ctx); err != nil {
		return err
	}

	log.Info().Str("username", mm.Username()).Msg("Connected to Mattermost")

	engine := relay.NewEngine(mm, cfg.RelayConfig(), log)
	dispatcher := relay.NewDispatcher(engine, log)
	dispatcher.SetCommandHandler(commands.New(commands.Config{
		Prefix:          cfg.Modmail.CommandPrefix,
		StaffChannelID:  cfg.Modmail.StaffChannelID,
		IgnoredChannels: cfg.Modmail.IgnoredCommandChannels,
		MaxReplyLength:  cfg.Modmail.MaxMessageLength,
	}, mm, engine, store, roles, log))
	dispatcher.SetReactionHandler(reactionrole.NewHandler(roles, mm, log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mm.Run(gctx, dispatcher)
	})
	if cfg.AdminAPI.Addr != "" {
		g.Go(func() error {
			return connector.NewAdminAPI(engine, log).Serve(gctx, cfg.AdminAPI.Addr)
		})
	}
	go func() {
		<-gctx.Done()
		mm.Stop()
	}()

	err = g.Wait()
	dispatcher.Wait()
	return err
}
