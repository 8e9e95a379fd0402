package runtime

import (
	"io"
	"log/slog"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/loqalabs/loqa-asr/internal/config"
)

// NewLogger builds the process logger: JSON for machines, or a colored
// console handler when telemetry.log_format is "console".
func NewLogger(cfg config.TelemetryConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	if cfg.LogFormat == "console" {
		handler := charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			Level:           charmlog.Level(level),
		})
		return slog.New(handler)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
