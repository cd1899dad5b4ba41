package logger

import (
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DriverLogSink forwards mongo driver log records to zap.
type DriverLogSink struct {
	log *zap.SugaredLogger
}

var _ options.LogSink = (*DriverLogSink)(nil)

// NewDriverLogSink builds a sink on a production zap logger at the given level.
// A nil zap logger is replaced by zap.NewNop.
func NewDriverLogSink(base *zap.Logger) *DriverLogSink {
	if base == nil {
		base = zap.NewNop()
	}
	return &DriverLogSink{log: base.Named("mongo-driver").Sugar()}
}

// NewZapLogger returns a JSON zap logger honouring level ("debug", "info", ...).
func NewZapLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Info is called by the driver for informational and debug records.
func (s *DriverLogSink) Info(level int, message string, keysAndValues ...interface{}) {
	if level <= int(options.LogLevelInfo) {
		s.log.Infow(message, keysAndValues...)
		return
	}
	s.log.Debugw(message, keysAndValues...)
}

// Error is called by the driver for failures.
func (s *DriverLogSink) Error(err error, message string, keysAndValues ...interface{}) {
	s.log.Errorw(message, append(keysAndValues, "error", err)...)
}

// DriverLoggerOptions attaches the sink to command and connection components.
func DriverLoggerOptions(sink options.LogSink, level string) *options.LoggerOptions {
	driverLevel := options.LogLevelInfo
	if level == "debug" {
		driverLevel = options.LogLevelDebug
	}
	return options.Logger().
		SetSink(sink).
		SetComponentLevel(options.LogComponentConnection, driverLevel).
		SetComponentLevel(options.LogComponentServerSelection, driverLevel)
}
