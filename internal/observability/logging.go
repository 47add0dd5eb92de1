package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger shared by every gateway component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger

	// WithContext adds the request ID and the active span's trace and span
	// IDs found in ctx.
	WithContext(ctx context.Context) Logger

	// SetLevel changes the level of this logger and every logger derived
	// from it.
	SetLevel(level string) error
	Sync() error
}

// Field is a zap field.
type Field = zap.Field

var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Error    = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
	Time     = zap.Time
	Strings  = zap.Strings
)

// Log formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// LogConfig selects level, encoding and destination. Output is "stdout",
// "stderr" or a file path.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// DefaultLogConfig logs JSON at info to stdout.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: FormatJSON,
		Output: "stdout",
	}
}

type zapLogger struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

var (
	globalLogger Logger
	globalMu     sync.RWMutex
)

// NewLogger builds a zap logger from cfg. Timestamps are ISO8601 and
// durations are milliseconds.
func NewLogger(cfg LogConfig) (Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	output := cfg.Output
	if output == "" {
		output = "stdout"
	}
	sink, _, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("opening log output %q: %w", output, err)
	}

	core := zapcore.NewCore(encoder, sink, atomicLevel)
	return &zapLogger{
		logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)),
		level:  atomicLevel,
	}, nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	ec := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	switch format {
	case "", FormatJSON:
		return zapcore.NewJSONEncoder(ec), nil
	case FormatConsole:
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// NewLoggerFromZap wraps logger, typically an observer core in tests. Its
// own core decides what is enabled; SetLevel has no effect on it.
func NewLoggerFromZap(logger *zap.Logger) Logger {
	return &zapLogger{
		logger: logger,
		level:  zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.logger.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.logger.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.logger.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.logger.Error(msg, fields...) }
func (l *zapLogger) Fatal(msg string, fields ...Field) { l.logger.Fatal(msg, fields...) }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{
		logger: l.logger.With(fields...),
		level:  l.level,
	}
}

func (l *zapLogger) WithContext(ctx context.Context) Logger {
	fields := contextFields(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

func (l *zapLogger) SetLevel(level string) error {
	parsed, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(parsed)
	return nil
}

func (l *zapLogger) Sync() error {
	return l.logger.Sync()
}

type requestIDKey struct{}

// contextFields reads the request ID set by ContextWithRequestID and the
// span recorded in ctx by OpenTelemetry.
func contextFields(ctx context.Context) []Field {
	var fields []Field
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, String("request_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			String("trace_id", sc.TraceID().String()),
			String("span_id", sc.SpanID().String()),
		)
	}
	return fields
}

// ContextWithRequestID attaches the gateway request ID to ctx.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request ID attached to ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// SetGlobalLogger installs the process-wide logger.
func SetGlobalLogger(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the process-wide logger, or a default JSON logger
// when none was installed.
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		logger, _ := NewLogger(DefaultLogConfig())
		return logger
	}
	return globalLogger
}

// NopLogger discards everything.
func NopLogger() Logger {
	return &zapLogger{
		logger: zap.NewNop(),
		level:  zap.NewAtomicLevel(),
	}
}
