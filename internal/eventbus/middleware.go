package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrorHandlingMiddleware recovers panics raised by downstream middleware
// via the continuation boundary and logs a structured error instead of
// letting them escape. Never cancels on its own.
func ErrorHandlingMiddleware(logger *zap.Logger) MiddlewareFunc {
	return func(ev *BusEvent, next Next) (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("eventbus middleware chain panic",
					zap.String("event_type", ev.Type), zap.Any("recover", r))
				ok = false
			}
		}()
		return next(ev)
	}
}

// PerformanceMiddleware logs a warning when the rest of the chain plus
// handler dispatch setup exceeds thresholdMs. Never cancels.
func PerformanceMiddleware(logger *zap.Logger, thresholdMs int64) MiddlewareFunc {
	if thresholdMs <= 0 {
		thresholdMs = 100
	}
	return func(ev *BusEvent, next Next) bool {
		start := time.Now()
		ok := next(ev)
		if elapsed := time.Since(start).Milliseconds(); elapsed > thresholdMs {
			logger.Warn("slow event",
				zap.String("event_type", ev.Type), zap.Int64("elapsed_ms", elapsed))
		}
		return ok
	}
}

// RateLimiterConfig configures RateLimitingMiddleware.
type RateLimiterConfig struct {
	WindowMs int64
	MaxEvents int
	Exempt    map[string]bool
}

// RateLimitingMiddleware enforces a per-event-type sliding window counter.
// The (maxEvents+1)-th event in the window is cancelled; after windowMs of
// quiescence for that type the count resets (spec.md §8 boundary
// behaviors).
func RateLimitingMiddleware(cfg RateLimiterConfig) MiddlewareFunc {
	if cfg.WindowMs <= 0 {
		cfg.WindowMs = 60_000
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 100
	}
	type window struct {
		count     int
		windowEnd time.Time
	}
	var mu sync.Mutex
	windows := make(map[string]*window)

	return func(ev *BusEvent, next Next) bool {
		if cfg.Exempt[ev.Type] {
			return next(ev)
		}
		mu.Lock()
		now := time.Now()
		w, ok := windows[ev.Type]
		if !ok || now.After(w.windowEnd) {
			w = &window{count: 0, windowEnd: now.Add(time.Duration(cfg.WindowMs) * time.Millisecond)}
			windows[ev.Type] = w
		}
		w.count++
		exceeded := w.count > cfg.MaxEvents
		mu.Unlock()
		if exceeded {
			return false
		}
		return next(ev)
	}
}

// ValidationFunc validates a payload for a specific event type; a nil
// error means the payload is acceptable.
type ValidationFunc func(ev BusEvent) error

// ValidationMiddleware checks the event type is in the known registry
// (schemas map) and, if present, that the payload passes the registered
// schema validator. Cancels only when strict and validation fails.
func ValidationMiddleware(schemas map[string]ValidationFunc, strict bool, logger *zap.Logger) MiddlewareFunc {
	return func(ev *BusEvent, next Next) bool {
		fn, known := schemas[ev.Type]
		if !known {
			if strict {
				logger.Error("rejected unknown event type", zap.String("event_type", ev.Type))
				return false
			}
			return next(ev)
		}
		if fn != nil {
			if err := fn(*ev); err != nil {
				logger.Error("event failed validation",
					zap.String("event_type", ev.Type), zap.Error(err))
				if strict {
					return false
				}
			}
		}
		return next(ev)
	}
}

// LoggingConfig configures LoggingMiddleware.
type LoggingConfig struct {
	IncludePayload bool
	Exclude        map[string]bool
}

// LoggingMiddleware emits a structured log line per event. Never cancels.
func LoggingMiddleware(logger *zap.Logger, cfg LoggingConfig) MiddlewareFunc {
	return func(ev *BusEvent, next Next) bool {
		if !cfg.Exclude[ev.Type] {
			fields := []zap.Field{
				zap.String("event_type", ev.Type),
				zap.String("game_code", ev.GameCode),
				zap.Time("timestamp", ev.Timestamp),
			}
			if cfg.IncludePayload {
				fields = append(fields, zap.Any("payload", ev.Payload))
			}
			logger.Info("event emitted", fields...)
		}
		return next(ev)
	}
}

// DefaultMiddlewareStack installs the five built-ins in the recommended
// order (spec.md §4.2): error-catch, performance, rate-limit, validation,
// logging.
func DefaultMiddlewareStack(logger *zap.Logger, schemas map[string]ValidationFunc, strict bool) []MiddlewareFunc {
	return []MiddlewareFunc{
		ErrorHandlingMiddleware(logger),
		PerformanceMiddleware(logger, 100),
		RateLimitingMiddleware(RateLimiterConfig{WindowMs: 60_000, MaxEvents: 100}),
		ValidationMiddleware(schemas, strict, logger),
		LoggingMiddleware(logger, LoggingConfig{}),
	}
}
