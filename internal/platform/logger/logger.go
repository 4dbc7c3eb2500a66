package logger

import (
	"io"
	"log/slog"
	"os"

	"trustcore/internal/platform/config"
)

// New returns the process logger: JSON in production, text elsewhere.
func New(cfg config.Server) *slog.Logger {
	return newWithWriter(cfg, os.Stdout)
}

func newWithWriter(cfg config.Server, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", "trustcore", "env", cfg.Environment)
}
