package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a JSON structured logger writing to w. Production callers pass
// os.Stdout; tests pass a buffer to assert on degraded-mode warnings.
func New(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}
