// Package logger holds the process-wide zap logger.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names used across the service.
const (
	FieldJob        = "job"
	FieldTrigger    = "trigger"
	FieldRunID      = "run_id"
	FieldCount      = "count"
	FieldPrefix     = "prefix"
	FieldDurationMS = "duration_ms"
	FieldStatus     = "status"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldError      = "error"
	FieldTimezone   = "timezone"
)

var (
	// Global logger instance
	Logger *zap.SugaredLogger
	// JSONOutput reports whether the JSON encoder is active
	JSONOutput bool
)

func init() {
	// no-op until Initialize runs so packages can log from tests safely
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger. JSON output is meant for production,
// the console encoder for local runs.
func Initialize(jsonOutput bool) error {
	JSONOutput = jsonOutput

	var zapLogger *zap.Logger
	var err error

	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
		zapLogger, err = config.Build()
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		zapLogger = zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(encoderConfig),
				zapcore.AddSync(os.Stdout),
				zap.InfoLevel,
			),
		)
	}

	if err != nil {
		return err
	}

	Logger = zapLogger.Sugar()
	return nil
}

// Named returns a child of the global logger scoped to a component.
func Named(component string) *zap.SugaredLogger {
	return Logger.Named(component)
}

// Sync flushes buffered entries; errors from syncing stdout are ignored.
func Sync() {
	_ = Logger.Sync()
}
