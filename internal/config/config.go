// Package config reads the bot's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting the process needs.
type Config struct {
	Token         string   `env:"TOKEN,required,notEmpty"`
	AllowedUsers  []string `env:"ALLOWED_USERS" envSeparator:","`
	GuildID       string   `env:"GUILD_ID"`
	CommandPrefix string   `env:"COMMAND_PREFIX" envDefault:"-"`

	HealthAddr string `env:"HEALTH_ADDR" envDefault:":3000"`

	AudioDecoder         string        `env:"AUDIO_DECODER" envDefault:"native"`
	FFmpegPath           string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	DefaultVolume        int           `env:"DEFAULT_VOLUME" envDefault:"10"`
	OpusBitrate          int           `env:"OPUS_BITRATE" envDefault:"96000"`
	StreamConnectTimeout time.Duration `env:"STREAM_CONNECT_TIMEOUT" envDefault:"10s"`

	CommandRate  float64 `env:"COMMAND_RATE" envDefault:"0"`
	CommandBurst int     `env:"COMMAND_BURST" envDefault:"5"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	LogSampling bool   `env:"LOG_SAMPLING" envDefault:"false"`

	SentryDSN   string `env:"SENTRY_DSN"`
	Environment string `env:"ENV" envDefault:"production"`
}

// Load reads envFile, if it exists, into the process environment and then
// parses the environment. Variables already set win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.AllowedUsers = trimAll(cfg.AllowedUsers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the bot cannot start with.
func (c *Config) Validate() error {
	if c.DefaultVolume < 1 || c.DefaultVolume > 20 {
		return fmt.Errorf("DEFAULT_VOLUME must be between 1 and 20, got %d", c.DefaultVolume)
	}
	switch c.AudioDecoder {
	case "native", "ffmpeg":
	default:
		return fmt.Errorf("AUDIO_DECODER must be native or ffmpeg, got %q", c.AudioDecoder)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if strings.TrimSpace(c.CommandPrefix) == "" {
		return errors.New("COMMAND_PREFIX must not be blank")
	}
	if c.OpusBitrate <= 0 {
		return fmt.Errorf("OPUS_BITRATE must be positive, got %d", c.OpusBitrate)
	}
	if c.StreamConnectTimeout <= 0 {
		return fmt.Errorf("STREAM_CONNECT_TIMEOUT must be positive, got %s", c.StreamConnectTimeout)
	}
	if c.CommandRate < 0 || c.CommandBurst < 0 {
		return errors.New("COMMAND_RATE and COMMAND_BURST must not be negative")
	}
	return nil
}

func trimAll(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
