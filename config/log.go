package config

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

func ensureLogDir(path string) error {
	dir := path
	if filepath.Ext(path) != "" {
		dir = filepath.Dir(path)
	}
	return os.MkdirAll(dir, 0o755)
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewLogger builds a text logger writing to console and a rotating file.
// The returned closer flushes and closes the file.
func NewLogger(cfg LogConfig, console io.Writer) (*slog.Logger, io.Closer, error) {
	logPath := strings.TrimSpace(cfg.Path)
	if logPath == "" {
		logPath = "logs/overfit.log"
	}

	if err := ensureLogDir(logPath); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// a bare directory gets a default file name
	if filepath.Ext(logPath) == "" {
		logPath = filepath.Join(logPath, "overfit.log")
	}

	rotating := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	var w io.Writer = rotating
	if console != nil {
		w = io.MultiWriter(console, rotating)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: true,
	})

	log.SetOutput(w)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	return slog.New(handler), rotating, nil
}
