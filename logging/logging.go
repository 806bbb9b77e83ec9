// Package logging builds the zap loggers used across reqres.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel    = "REQRES_LOG_LEVEL"
	EnvLogEncoding = "REQRES_LOG_ENCODING"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// New builds a logger for profile, then applies the environment overrides.
func New(profile Profile) (*zap.Logger, error) {
	cfg := defaultConfig(profile)
	applyEnvOverrides(&cfg)
	return cfg.Build()
}

// Must is New for program entry points.
func Must(profile Profile) *zap.Logger {
	l, err := New(profile)
	if err != nil {
		panic(err)
	}
	return l
}

func defaultConfig(profile Profile) zap.Config {
	switch profile {
	case ProfileTest:
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.EncoderConfig.TimeKey = ""
		return cfg
	default:
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		return cfg
	}
}

func applyEnvOverrides(cfg *zap.Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	if enc, ok := parseEncoding(os.Getenv(EnvLogEncoding)); ok {
		cfg.Encoding = enc
	}
}

func parseLevel(raw string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zapcore.InfoLevel, false
	case "debug", "trace":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}

func parseEncoding(raw string) (string, bool) {
	switch v := strings.ToLower(strings.TrimSpace(raw)); v {
	case "json", "console":
		return v, true
	default:
		return "", false
	}
}
