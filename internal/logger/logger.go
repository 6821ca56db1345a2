// Package logger собирает zap-логгер для бота: JSON в production,
// цветной консольный вывод в development.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New создаёт логгер для окружения env ("development" или любое другое)
// с минимальным уровнем level ("debug", "info", "warn", "error").
func New(env, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(env, "development") {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// NewNamed как New, но сразу с именем сервиса в каждом сообщении.
func NewNamed(env, level, name string) (*zap.Logger, error) {
	l, err := New(env, level)
	if err != nil {
		return nil, err
	}
	return l.Named(name), nil
}
