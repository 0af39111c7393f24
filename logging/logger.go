// Package logging builds the zap logger shared by every client component.
//
// Configuration comes from the logging section of the client config:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, console
//	  output: "stderr"   # stdout, stderr
//
// Every entry carries the library name and version.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"opengemini-client/config"
	"opengemini-client/transport"
)

// New creates a logger from cfg.
//
// Parameters:
//   - cfg: logging section of the client configuration
//
// Returns:
//   - *zap.Logger: configured logger
//   - error: only if zap cannot open the output
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "console", "text":
		zc = zap.NewDevelopmentConfig()
	default:
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	output := "stderr"
	if strings.ToLower(cfg.Output) == "stdout" {
		output = "stdout"
	}
	zc.OutputPaths = []string{output}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(
		zap.String("library", transport.LibraryName),
		zap.String("version", transport.Version),
	), nil
}

// parseLevel converts a string level; unknown values mean info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
