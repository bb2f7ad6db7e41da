package gate

import (
	"context"
	"log/slog"
)

// Shell is the native wrapper around the app. The gate only uses it to tell
// the device it is ready to show something other than the splash screen.
type Shell interface {
	HideSplash(ctx context.Context) error
}

// ShellFunc adapts a function to Shell.
type ShellFunc func(ctx context.Context) error

// HideSplash calls f.
func (f ShellFunc) HideSplash(ctx context.Context) error { return f(ctx) }

// LoggerShell records readiness in the log. Used when no device channel exists.
type LoggerShell struct {
	Logger *slog.Logger
}

// HideSplash logs the ready signal.
func (s LoggerShell) HideSplash(context.Context) error {
	if s.Logger != nil {
		s.Logger.Debug("splash hidden")
	}
	return nil
}
