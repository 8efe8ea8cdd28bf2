package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// Init initializes the global logger. Development environments get a
// colored console encoder; everything else logs JSON.
func Init(environment, level string) error {
	var cfg zap.Config

	if environment == "development" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	built, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	logger = built
	return nil
}

// SetLogger replaces the global logger. The logger should carry
// zap.AddCallerSkip(1) like the one built by Init.
func SetLogger(l *zap.Logger) {
	logger = l
}

// Logger returns the global logger instance.
func Logger() *zap.Logger {
	if logger == nil {
		// Init has not been called
		logger, _ = zap.NewProduction(zap.AddCallerSkip(1))
	}
	return logger
}

// Sync flushes any buffered log entries.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// Info logs an info message.
func Info(msg string, fields ...zap.Field) {
	Logger().Info(msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...zap.Field) {
	Logger().Error(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) {
	Logger().Warn(msg, fields...)
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) {
	Logger().Debug(msg, fields...)
}

// Fatal logs a fatal message and exits.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
	os.Exit(1)
}

// With creates a child logger with the given fields. The child does not
// carry the package-level caller skip.
func With(fields ...zap.Field) *zap.Logger {
	return Logger().WithOptions(zap.AddCallerSkip(-1)).With(fields...)
}

// Tenant returns a child logger scoped to one tenant.
func Tenant(tenantID int64) *zap.Logger {
	return With(zap.Int64("tenant_id", tenantID))
}
