package glesres

import (
	"log/slog"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/glesres/internal/logging"
)

// SetLogger configures the logger for glesres and all its sub-packages.
// By default, glesres produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior). The logger
// is also handed to the wgpu HAL so device diagnostics share the same output.
//
// Log levels used by glesres:
//   - [slog.LevelDebug]: allocations, kicks, ghosts and residency changes
//   - [slog.LevelWarn]: recoverable failures (hardware mipmap fallback,
//     deferred release after a drain timeout)
//
// Example:
//
//	glesres.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = logging.Nop()
	}
	logging.Set(l)
	hal.SetLogger(l)
}

// Logger returns the current logger used by glesres.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.Logger()
}
