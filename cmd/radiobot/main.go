// main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/LightQuotient/discord-radio-bot/internal/config"
	"github.com/LightQuotient/discord-radio-bot/internal/health"
	"github.com/LightQuotient/discord-radio-bot/internal/logging"
	"github.com/LightQuotient/discord-radio-bot/internal/radiobot"
	"github.com/LightQuotient/discord-radio-bot/internal/sentryhelper"
	"github.com/LightQuotient/discord-radio-bot/internal/stream"
)

var version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:           "radiobot",
	Short:         "Discord voice radio bot",
	Long:          "radiobot joins a Discord voice channel and streams internet radio stations into it on command.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Format = cfg.LogFormat
	logCfg.Sampling = cfg.LogSampling
	logger := logging.New(logCfg, os.Stdout)
	radiobot.RouteLogs(logger)

	reporter, err := sentryhelper.New(cfg.SentryDSN, cfg.Environment, version, logger)
	if err != nil {
		return err
	}
	defer reporter.Flush(2 * time.Second)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := radiobot.NewMetrics(reg)

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return fmt.Errorf("error creating Discord session: %w", err)
	}

	decoder, err := stream.NewDecoder(cfg.AudioDecoder, cfg.FFmpegPath, logging.WithComponent(logger, "ffmpeg"))
	if err != nil {
		return err
	}
	opener := stream.NewOpener(decoder, cfg.StreamConnectTimeout, logging.WithComponent(logger, "stream"))

	bot := radiobot.New(radiobot.NewGateway(session), radiobot.Options{
		Prefix:       cfg.CommandPrefix,
		GuildID:      cfg.GuildID,
		Allow:        radiobot.NewAllowList(cfg.AllowedUsers...),
		VolumeLevel:  cfg.DefaultVolume,
		Opener:       opener,
		NewEncoder:   radiobot.OpusEncoderFactory(cfg.OpusBitrate),
		CommandRate:  rate.Limit(cfg.CommandRate),
		CommandBurst: cfg.CommandBurst,
		Metrics:      metrics,
		Reporter:     reporter,
		Logger:       logger,
	})
	radiobot.Attach(session, bot, cfg.CommandPrefix+"help | Radio-BOT")

	if len(cfg.AllowedUsers) == 0 {
		logger.Warn("ALLOWED_USERS is empty, every command will be denied")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthSrv := health.NewServer(cfg.HealthAddr, reg, logger)
	healthErr := make(chan error, 1)
	go func() { healthErr <- healthSrv.ListenAndServe() }()

	botCtx, cancelBot := context.WithCancel(context.Background())
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		_ = bot.Run(botCtx)
	}()

	if err := session.Open(); err != nil {
		cancelBot()
		<-botDone
		shutdownHealth(healthSrv, logger)
		return fmt.Errorf("error opening Discord session: %w", err)
	}
	logger.Info("Bot is now running. Press CTRL-C to exit.")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
	case runErr = <-healthErr:
		logger.Error("Health server failed", "error", runErr)
		runErr = fmt.Errorf("health server: %w", runErr)
	}

	cancelBot()
	<-botDone
	if err := session.Close(); err != nil {
		logger.Warn("Error closing Discord session", "error", err)
	}
	shutdownHealth(healthSrv, logger)
	logger.Info("Bot stopped.")
	return runErr
}

func shutdownHealth(srv *health.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Health server shutdown failed", "error", err)
	}
}
