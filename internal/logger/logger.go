// Package logger wraps zerolog with a fixed on-disk line format and
// lumberjack-backed rotation, the way Protei_Monitoring's internal logger
// wraps it, but with the output format fixed to the broker's
// "[TS] LEVEL: msg" convention instead of zerolog's own JSON/console shapes.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how the logger writes.
type Config struct {
	Path       string // empty means stdout only
	Level      string // debug, info, warn, error
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger is a thin leveled wrapper over zerolog.
type Logger struct {
	zl zerolog.Logger
}

const timeFormat = "2006-01-02 15:04:05.000"

// New builds a Logger writing lines of the form
// "[2026-07-31 09:02:17.123] INFO: message key=value ...".
func New(cfg Config) (*Logger, error) {
	var writer io.Writer = os.Stdout

	if cfg.Path != "" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		writer = io.MultiWriter(os.Stdout, &stderrGuard{
			w: &lumberjack.Logger{
				Filename:   cfg.Path,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   cfg.Compress,
			},
		})
	}

	console := zerolog.ConsoleWriter{
		Out:        writer,
		NoColor:    true,
		TimeFormat: timeFormat,
		PartsOrder: []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName},
		FormatTimestamp: func(i interface{}) string {
			return "[" + fmt.Sprint(i) + "]"
		},
		FormatLevel: func(i interface{}) string {
			return fmt.Sprintf("%s:", levelName(i))
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s=", i)
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprint(i)
		},
	}

	zerolog.TimeFieldFormat = timeFormat
	zl := zerolog.New(console).With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zl = zl.Level(level)

	return &Logger{zl: zl}, nil
}

func levelName(i interface{}) string {
	s, ok := i.(string)
	if !ok {
		return "INFO"
	}
	switch s {
	case "debug":
		return "DEBUG"
	case "info":
		return "INFO"
	case "warn":
		return "WARN"
	case "error", "fatal", "panic":
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.emit(l.zl.Debug(), msg, fields...) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.emit(l.zl.Info(), msg, fields...) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.emit(l.zl.Warn(), msg, fields...) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.emit(l.zl.Error(), msg, fields...) }

func (l *Logger) emit(event *zerolog.Event, msg string, fields ...interface{}) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

// WithComponent returns a child logger that tags every line with a
// component field, mirroring Protei_Monitoring's WithComponent.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

// stderrGuard reports the first write failure to stderr and then swallows
// further errors so log I/O failures never take down the broker
// (spec.md §7: "Log I/O failure ... never crash the broker").
type stderrGuard struct {
	w       io.Writer
	mu      sync.Mutex
	warned  bool
	lastErr time.Time
}

func (g *stderrGuard) Write(p []byte) (int, error) {
	_, err := g.w.Write(p)
	if err != nil {
		g.mu.Lock()
		if !g.warned {
			fmt.Fprintf(os.Stderr, "logger: disk write failed, continuing with stdout only: %v\n", err)
			g.warned = true
		}
		g.mu.Unlock()
	}
	return len(p), nil
}
