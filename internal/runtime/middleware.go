package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	tferrors "github.com/drblury/tagflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/tagflow/internal/runtime/handlers"
	idspkg "github.com/drblury/tagflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/tagflow/internal/runtime/logging"
	"github.com/drblury/tagflow/internal/runtime/mq"
)

// TracerName is the OpenTelemetry instrumentation name used by TracerMiddleware.
const TracerName = "github.com/drblury/tagflow"

// MiddlewareBuilder constructs a middleware using the provided service instance.
// Returning a nil middleware skips the registration.
type MiddlewareBuilder func(*Service) (Middleware, error)

// MiddlewareRegistration captures how a middleware should be added to the
// chain every listener of a Service runs.
type MiddlewareRegistration struct {
	Name       string
	Middleware Middleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard middleware chain used by the Service constructor.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

// LogMessagesMiddleware logs the body and properties of handled messages at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (Middleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (Middleware, error) {
			return tracerMiddleware(otel.Tracer(TracerName)), nil
		},
	}
}

// MetricsMiddleware records Prometheus counters and latencies per topic and tag.
// It is skipped unless metrics are enabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (Middleware, error) {
			if s.Conf == nil || !s.Conf.MetricsEnabled {
				return nil, nil
			}
			m, err := s.listenerMetrics()
			if err != nil {
				return nil, err
			}
			return m.middleware, nil
		},
	}
}

// RecovererMiddleware converts panics into HandlerErrors carrying the stack.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "recoverer",
		Builder: func(s *Service) (Middleware, error) {
			return recovererMiddleware(s.Logger), nil
		},
	}
}

// RegisterMiddleware appends the supplied middleware to the chain. Only
// handlers registered afterwards use it.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw Middleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.registry.Use(mw)
	return nil
}

func correlationIDMiddleware(next InvokeFunc) InvokeFunc {
	return func(ctx context.Context, env *mq.Envelope) error {
		if env.Property(handlerpkg.PropertyCorrelationID) == "" {
			env.Properties = env.Properties.With(handlerpkg.PropertyCorrelationID, idspkg.CreateULID())
		}
		return next(ctx, env)
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) Middleware {
	return func(next InvokeFunc) InvokeFunc {
		return func(ctx context.Context, env *mq.Envelope) error {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_id":      env.ID,
				"topic":           env.Topic,
				"tag":             env.Tag,
				"keys":            env.KeysString(),
				"body":            string(env.Body),
				"properties":      env.Properties,
				"reconsume_times": env.ReconsumeTimes,
			})
			return next(ctx, env)
		}
	}
}

func tracerMiddleware(tracer trace.Tracer) Middleware {
	return func(next InvokeFunc) InvokeFunc {
		return func(ctx context.Context, env *mq.Envelope) error {
			ctx, span := tracer.Start(ctx, env.Topic+" process",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.system", "tagflow"),
					attribute.String("messaging.destination.name", env.Topic),
					attribute.String("messaging.message.id", env.ID),
					attribute.String("messaging.tag", env.Tag),
					attribute.Int("messaging.reconsume_times", env.ReconsumeTimes),
				),
			)
			defer span.End()

			err := next(ctx, env)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

func recovererMiddleware(logger loggingpkg.ServiceLogger) Middleware {
	return func(next InvokeFunc) InvokeFunc {
		return func(ctx context.Context, env *mq.Envelope) (err error) {
			defer func() {
				if r := recover(); r != nil {
					stack := string(debug.Stack())
					handlerpkg.LoggerFrom(ctx, logger).Error("Handler panicked", fmt.Errorf("%v", r), loggingpkg.LogFields{
						"stack": stack,
					})
					err = &tferrors.HandlerError{Key: SubscriptionKeyFrom(ctx), Panic: r, Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			return next(ctx, env)
		}
	}
}
