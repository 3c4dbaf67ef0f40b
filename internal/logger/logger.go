// Package logger builds the daemon's slog backends: a colourful terminal
// handler for interactive use, JSON for pipes, and an optional rotated log
// file. Routing components log through the StyledLogger facade in styled.go.
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tobenna/switchboard/pkg/format"
	"github.com/tobenna/switchboard/theme"
)

type Config struct {
	Level      string
	LogDir     string
	Theme      string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	FileOutput bool
	PrettyLogs bool
}

const DefaultLogOutputName = "switchboard.log"

// forceColorEnv overrides TTY detection; NO_COLOR and FORCE_COLOR are
// honoured first (https://no-color.org/).
const forceColorEnv = "SWITCHBOARD_FORCE_COLORS"

// New assembles the logger from cfg. The returned cleanup flushes and closes
// the file sink, when one was opened.
func New(cfg *Config) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.Level)

	var handlers []slog.Handler
	var closers []io.Closer

	if cfg.PrettyLogs && colorsWanted(os.Stdout) {
		handlers = append(handlers, terminalSink(level, theme.GetTheme(cfg.Theme)))
	} else {
		handlers = append(handlers, jsonSink(os.Stdout, level))
	}

	if cfg.FileOutput {
		handler, closer, err := fileSink(cfg, level)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, handler)
		closers = append(closers, closer)
	}

	root := handlers[0]
	if len(handlers) > 1 {
		root = &teeHandler{handlers: handlers}
	}

	cleanup := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	return slog.New(root), cleanup, nil
}

// colorsWanted decides whether the terminal sink may emit ANSI colour.
// Precedence: NO_COLOR kills colour, FORCE_COLOR and the app-specific
// override force it, otherwise colour follows TTY detection on out.
func colorsWanted(out *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if fc := os.Getenv("FORCE_COLOR"); fc != "" {
		return fc != "0"
	}
	if sb := os.Getenv(forceColorEnv); sb != "" {
		return strings.EqualFold(sb, "true") || sb == "1"
	}
	return isatty.IsTerminal(out.Fd())
}

func terminalSink(level slog.Level, appTheme *theme.Theme) slog.Handler {
	plogger := pterm.DefaultLogger.
		WithLevel(ptermLevel(level)).
		WithWriter(os.Stdout).
		WithFormatter(pterm.LogFormatterColorful).
		WithKeyStyles(map[string]pterm.Style{
			"level": *appTheme.Info,
			"msg":   *appTheme.Info,
			"time":  *appTheme.Muted,
		})
	return pterm.NewSlogHandler(plogger)
}

func jsonSink(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: normalizeAttr,
	})
}

func fileSink(cfg *Config, level slog.Level) (slog.Handler, io.Closer, error) {
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, DefaultLogOutputName),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}

	return jsonSink(rotator, level), rotator, nil
}

// normalizeAttr keeps the JSON sinks machine-friendly: timestamps become
// "ts" in RFC3339, durations are rendered compactly, and any ANSI colour
// that leaked in from a styled message is stripped.
func normalizeAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.String("ts", a.Value.Time().Format(time.RFC3339))
	}

	switch a.Value.Kind() {
	case slog.KindDuration:
		return slog.String(a.Key, format.Duration(a.Value.Duration()))
	case slog.KindString:
		if s := a.Value.String(); strings.ContainsRune(s, '\x1b') {
			return slog.String(a.Key, stripAnsiCodes(s))
		}
	}
	return a
}

func stripAnsiCodes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if inEscape {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// teeHandler duplicates records across sinks. A failing sink does not stop
// the others; errors are joined for the caller.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}

func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func ptermLevel(level slog.Level) pterm.LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return pterm.LogLevelTrace
	case level <= slog.LevelInfo:
		return pterm.LogLevelInfo
	case level <= slog.LevelWarn:
		return pterm.LogLevelWarn
	default:
		return pterm.LogLevelError
	}
}
