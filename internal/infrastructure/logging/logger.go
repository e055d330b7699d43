package logging

import (
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MaxWidgetTextLength caps widget-supplied strings written to the log
const MaxWidgetTextLength = 2048

// Logger is the process logger
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// Config selects level, encoding and sinks.
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool   // colored console output instead of JSON
	OutputPaths []string
}

// New builds a logger. Production output is JSON without stack traces;
// development output is colored console text.
func New(cfg Config) (*Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:             level,
		Development:       cfg.Development,
		Encoding:          "json",
		EncoderConfig:     encoderConfig(cfg.Development),
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
	}
	if cfg.Development {
		zapCfg.Encoding = "console"
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger, level: level}, nil
}

// NewWithLevel creates a logger at the given level, falling back to info
// when the level is not recognised.
func NewWithLevel(level string, development bool) *Logger {
	cfg := Config{Level: level, Development: development}
	if logger, err := New(cfg); err == nil {
		return logger
	}
	cfg.Level = "info"
	if logger, err := New(cfg); err == nil {
		logger.Warn("Unknown log level, using info", zap.String("level", level))
		return logger
	}
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// Level returns the current minimum level
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// Instance tags a log line with a widget instance id.
func Instance(id string) zap.Field {
	return zap.String("instance_id", id)
}

// Canvas tags a log line with a canvas id.
func Canvas(id string) zap.Field {
	return zap.String("canvas_id", id)
}

// WidgetText records untrusted widget-supplied text, truncated.
func WidgetText(key, text string) zap.Field {
	return zap.String(key, Truncate(text, MaxWidgetTextLength))
}

// Truncate shortens s to at most max bytes without splitting a rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func encoderConfig(development bool) zapcore.EncoderConfig {
	if development {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeDuration = zapcore.StringDurationEncoder
		return cfg
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.SecondsDurationEncoder
	return cfg
}
