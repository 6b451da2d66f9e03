package utils

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
)

// NewLogger builds a text slog.Logger that writes to stdout and, when dir is
// not empty, to a rotating dir/stdout.log. The returned closer flushes the
// file; it is a no-op without a dir.
func NewLogger(dir string, level slog.Level) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if dir != "" {
		fileLogger := &lumberjack.Logger{
			Filename:   filepath.Join(dir, "stdout.log"),
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		w = io.MultiWriter(os.Stdout, fileLogger)
		closer = fileLogger
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closer
}

// DiscardLogger drops everything; handy for tests.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
