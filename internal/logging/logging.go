// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogsampling "github.com/samber/slog-sampling"
)

// Config holds the logger configuration.
type Config struct {
	Level  string
	Format string
	// Sampling drops most repeats of an identical message once more than
	// SamplingThreshold were logged within SamplingTick.
	Sampling          bool
	SamplingTick      time.Duration
	SamplingThreshold uint64
	SamplingRate      float64
}

// DefaultConfig returns INFO level JSON output without sampling.
func DefaultConfig() Config {
	return Config{
		Level:             "INFO",
		Format:            "json",
		SamplingTick:      5 * time.Second,
		SamplingThreshold: 10,
		SamplingRate:      0.05,
	}
}

// New creates a logger writing to w.
func New(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	if !cfg.Sampling {
		return slog.New(handler)
	}

	// Allow the first N identical messages per tick, then only a fraction.
	threshold := slogsampling.ThresholdSamplingOption{
		Tick:      cfg.SamplingTick,
		Threshold: cfg.SamplingThreshold,
		Rate:      cfg.SamplingRate,
		Matcher:   slogsampling.MatchByLevelAndMessage(),
	}
	return slog.New(
		slogmulti.
			Pipe(threshold.NewMiddleware()).
			Handler(handler),
	)
}

// ParseLevel maps DEBUG, INFO, WARNING (or WARN) and ERROR to slog levels.
// Anything else is INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent adds a component field to the logger.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}
