package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// SetLevel sets the global minimum level: debug, info, warn or error.
func SetLevel(level string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// Output formats accepted by SetFormat.
const (
	FormatAuto    = "auto"
	FormatJSON    = "json"
	FormatConsole = "console"
)

var format atomic.Value

// SetFormat selects the output of loggers created afterwards. auto uses the
// console writer when APP_ENV=dev and JSON lines otherwise.
func SetFormat(f string) error {
	switch f = strings.ToLower(f); f {
	case "", FormatAuto, FormatJSON, FormatConsole:
		format.Store(f)
		return nil
	}
	return fmt.Errorf("log format %q: want auto, json or console", f)
}

func console() bool {
	f, _ := format.Load().(string)
	switch f {
	case FormatConsole:
		return true
	case FormatJSON:
		return false
	}
	return strings.ToLower(os.Getenv("APP_ENV")) == "dev"
}

// NewZerologLogger creates a logger tagged with component, writing to
// stdout in the format chosen by SetFormat.
func NewZerologLogger(component string) Logger {
	var w io.Writer = os.Stdout
	if console() {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(component, w)
}

// NewWithWriter writes JSON lines to w.
func NewWithWriter(component string, w io.Writer) *ZerologLogger {
	z := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
