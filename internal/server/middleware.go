package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/secretgw/internal/observability"
	"github.com/vyrodovalexey/secretgw/internal/ratelimit"
)

const (
	// RequestIDHeader is the header carrying the request ID.
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "requestID"
)

// maxRequestIDLength bounds caller-supplied request IDs.
const maxRequestIDLength = 128

// requestID reuses a sane caller-supplied X-Request-ID or generates one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(observability.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// accessLog logs one line per request. Bodies are never logged.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := []observability.Field{
			observability.String("method", c.Request.Method),
			observability.String("route", route),
			observability.Int("status", status),
			observability.Duration("latency", time.Since(start)),
			observability.String("client_ip", c.ClientIP()),
		}

		logger := s.logger.WithContext(c.Request.Context())
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request completed", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request completed", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}
}

// recovery turns a panic into a 500 internal_error.
func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithContext(c.Request.Context()).Error("panic recovered",
					observability.Any("panic", rec),
					observability.String("method", c.Request.Method),
					observability.String("route", c.FullPath()),
					observability.String("stack", string(debug.Stack())),
				)
				if span := trace.SpanFromContext(c.Request.Context()); span.IsRecording() {
					span.RecordError(fmt.Errorf("panic: %v", rec))
					span.SetStatus(codes.Error, "panic")
				}
				s.metrics.RecordError(errorInternal)
				abortWithError(c, http.StatusInternalServerError, errorInternal, "internal error")
			}
		}()
		c.Next()
	}
}

// observe records request metrics against the matched route pattern.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		start := time.Now()
		s.metrics.IncActiveRequests(method)
		defer s.metrics.DecActiveRequests(method)

		c.Next()

		s.metrics.RecordRequest(method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// tracing starts a server span per request, continuing any propagated trace.
func (s *Server) tracing() gin.HandlerFunc {
	tracer := s.tracerProvider.Tracer(s.config.ServiceName)
	propagator := otel.GetTextMapPropagator()

	return func(c *gin.Context) {
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("request.id", requestIDFrom(c)),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// timeout bounds the whole request, outbound store calls included.
func (s *Server) timeout() gin.HandlerFunc {
	d := s.config.RequestTimeout
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// bodyLimit caps request bodies.
func (s *Server) bodyLimit() gin.HandlerFunc {
	limit := s.config.MaxBodyBytes
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// rateLimit rejects requests over budget with 429 rate_limited. A limiter
// failure fails open.
func (s *Server) rateLimit() gin.HandlerFunc {
	keyFunc := s.config.RateLimitKey
	if keyFunc == nil {
		keyFunc = ratelimit.IPKeyFunc
	}

	return func(c *gin.Context) {
		key := keyFunc(c.Request)
		res, err := s.limiter.Allow(c.Request.Context(), key)
		if err != nil {
			s.logger.WithContext(c.Request.Context()).Warn("rate limit check failed, allowing request",
				observability.Error(err),
			)
			c.Next()
			return
		}

		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}

		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
			s.metrics.RecordRateLimitHit(c.FullPath())
			s.metrics.RecordError(errorRateLimited)
			abortWithError(c, http.StatusTooManyRequests, errorRateLimited, "rate limit exceeded")
			return
		}

		c.Next()
	}
}

// retryAfterSeconds rounds up to whole seconds, at least one.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
