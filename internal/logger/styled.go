package logger

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pterm/pterm"

	"github.com/tobenna/switchboard/theme"
)

// osExit is swapped out by tests exercising Fatal.
var osExit = os.Exit

// StyledLogger is the logging facade the routing core takes. It narrows
// slog to the calls the application makes and lets the terminal variant
// colour endpoint and provider names.
type StyledLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	InfoWithEndpoint(msg string, endpoint string, args ...any)
	WarnWithEndpoint(msg string, endpoint string, args ...any)
	InfoWithCount(msg string, count int, args ...any)

	// Fatal logs at error level and exits. Startup paths only; the running
	// daemon never calls it.
	Fatal(msg string, args ...any)

	With(args ...any) StyledLogger
}

// ThemedLogger wraps slog.Logger with theme-aware formatting methods
type ThemedLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

func NewStyledLogger(logger *slog.Logger, appTheme *theme.Theme) *ThemedLogger {
	return &ThemedLogger{
		logger: logger,
		theme:  appTheme,
	}
}

func (sl *ThemedLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *ThemedLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *ThemedLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *ThemedLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *ThemedLogger) InfoWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Endpoint.Sprint(endpoint))
	sl.logger.Info(styledMsg, args...)
}

func (sl *ThemedLogger) WarnWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Endpoint.Sprint(endpoint))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *ThemedLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Counts}.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *ThemedLogger) Fatal(msg string, args ...any) {
	sl.logger.Error(msg, args...)
	osExit(1)
}

// With creates a new ThemedLogger with additional key-value pairs
func (sl *ThemedLogger) With(args ...any) StyledLogger {
	return &ThemedLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// NewWithTheme creates both a regular logger and a styled logger
func NewWithTheme(cfg *Config) (*slog.Logger, StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	return logger, NewStyledLogger(logger, appTheme), cleanup, nil
}
