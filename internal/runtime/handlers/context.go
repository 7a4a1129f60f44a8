package handlers

import (
	"context"

	loggingpkg "github.com/drblury/tagflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/tagflow/internal/runtime/metadata"
	"github.com/drblury/tagflow/internal/runtime/mq"
)

type envelopeContextKey struct{}

type loggerContextKey struct{}

// WithEnvelope stores the envelope being dispatched in ctx so handlers that
// receive a decoded payload can still reach topic, tag and properties.
func WithEnvelope(ctx context.Context, env *mq.Envelope) context.Context {
	return context.WithValue(ctx, envelopeContextKey{}, env)
}

// EnvelopeFrom returns the envelope being dispatched, if any.
func EnvelopeFrom(ctx context.Context) (*mq.Envelope, bool) {
	if ctx == nil {
		return nil, false
	}
	env, ok := ctx.Value(envelopeContextKey{}).(*mq.Envelope)
	return env, ok && env != nil
}

// WithLogger stores a logger scoped to the current message.
func WithLogger(ctx context.Context, logger loggingpkg.ServiceLogger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFrom returns the message-scoped logger, or fallback when none is set.
func LoggerFrom(ctx context.Context, fallback loggingpkg.ServiceLogger) loggingpkg.ServiceLogger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerContextKey{}).(loggingpkg.ServiceLogger); ok && logger != nil {
			return logger
		}
	}
	return fallback
}

// Properties returns a copy of the dispatched envelope's properties.
func Properties(ctx context.Context) metadatapkg.Metadata {
	env, ok := EnvelopeFrom(ctx)
	if !ok {
		return metadatapkg.Metadata{}
	}
	return env.Properties.Clone()
}

// CorrelationID returns the correlation id of the dispatched envelope.
func CorrelationID(ctx context.Context) string {
	env, ok := EnvelopeFrom(ctx)
	if !ok {
		return ""
	}
	return env.Property(PropertyCorrelationID)
}
