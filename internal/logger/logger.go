// Package logger wraps zerolog behind a small key-value interface so the
// rest of the control plane depends on an interface, not the concrete
// logging library.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logging contract used across the control plane.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

type zlog struct {
	l zerolog.Logger
}

// Config selects the log level and output sinks.
type Config struct {
	Level      string   // debug|info|warn|error
	Writers    []string // "console", "file"
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a Logger from Config, fanning out to console and/or a rotated
// file sink depending on Writers.
func New(cfg Config) Logger {
	var writers []io.Writer
	wantConsole, wantFile := false, false
	for _, w := range cfg.Writers {
		switch w {
		case "console":
			wantConsole = true
		case "file":
			wantFile = true
		}
	}
	if wantConsole || len(cfg.Writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}
	if wantFile {
		path := cfg.FilePath
		if path == "" {
			path = "agentd.log"
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    firstNonZero(cfg.MaxSizeMB, 50),
			MaxBackups: firstNonZero(cfg.MaxBackups, 5),
			MaxAge:     firstNonZero(cfg.MaxAgeDays, 14),
		})
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}
	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	l = l.Level(levelFromString(cfg.Level))
	return &zlog{l: l}
}

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return &zlog{l: zerolog.Nop()}
}

func levelFromString(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func firstNonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func (z *zlog) event(e *zerolog.Event, msg string, kv ...any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if key == "" {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func (z *zlog) Debug(msg string, kv ...any) { z.event(z.l.Debug(), msg, kv...) }
func (z *zlog) Info(msg string, kv ...any)  { z.event(z.l.Info(), msg, kv...) }
func (z *zlog) Warn(msg string, kv ...any)  { z.event(z.l.Warn(), msg, kv...) }

func (z *zlog) Err(err error, msg string, kv ...any) {
	z.event(z.l.Error().Err(err), msg, kv...)
}

func (z *zlog) With(kv ...any) Logger {
	ctx := z.l.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if key == "" {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &zlog{l: ctx.Logger()}
}
