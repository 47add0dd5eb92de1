package observability

import (
	"fmt"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
)

// NewLogr adapts a Logger to logr. V(0) maps to Info and higher verbosity to
// Debug.
func NewLogr(logger Logger) logr.Logger {
	return logr.New(&logrSink{logger: logger})
}

// RouteOTelDiagnostics sends OpenTelemetry's internal logs and export errors
// to logger.
func RouteOTelDiagnostics(logger Logger) {
	l := logger.With(String("component", "otel"))
	otel.SetLogger(NewLogr(l))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		l.Warn("opentelemetry error", Error(err))
	}))
}

type logrSink struct {
	logger Logger
	name   string
}

func (s *logrSink) Init(logr.RuntimeInfo) {}

func (s *logrSink) Enabled(int) bool { return true }

func (s *logrSink) Info(level int, msg string, keysAndValues ...interface{}) {
	fields := s.fields(keysAndValues)
	if level > 0 {
		s.logger.Debug(msg, fields...)
		return
	}
	s.logger.Info(msg, fields...)
}

func (s *logrSink) Error(err error, msg string, keysAndValues ...interface{}) {
	s.logger.Error(msg, append(s.fields(keysAndValues), Error(err))...)
}

func (s *logrSink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	return &logrSink{logger: s.logger.With(s.fields(keysAndValues)...), name: s.name}
}

func (s *logrSink) WithName(name string) logr.LogSink {
	if s.name != "" {
		name = s.name + "." + name
	}
	return &logrSink{logger: s.logger, name: name}
}

// fields converts logr key/value pairs. A dangling key gets a nil value.
func (s *logrSink) fields(keysAndValues []interface{}) []Field {
	fields := make([]Field, 0, len(keysAndValues)/2+1)
	if s.name != "" {
		fields = append(fields, String("logger", s.name))
	}
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		var value interface{}
		if i+1 < len(keysAndValues) {
			value = keysAndValues[i+1]
		}
		fields = append(fields, Any(key, value))
	}
	return fields
}
