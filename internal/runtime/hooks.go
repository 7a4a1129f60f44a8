package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/tagflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/tagflow/internal/runtime/metadata"
	"github.com/drblury/tagflow/internal/runtime/mq"
)

// DeliveryInfo describes one listener invocation to hooks.
type DeliveryInfo struct {
	// Key is the subscription key of the listener.
	Key            string
	Topic          string
	Tag            string
	MessageID      string
	Properties     metadatapkg.Metadata
	ReconsumeTimes int
	Context        context.Context
	StartedAt      time.Time
	// Duration is set for OnDone and OnError only.
	Duration time.Duration
}

// DeliveryHooks are optional callbacks around handler invocations.
type DeliveryHooks struct {
	OnStart func(info DeliveryInfo)
	OnDone  func(info DeliveryInfo)
	OnError func(info DeliveryInfo, err error)
}

// Merge returns hooks that call h first, then other.
func (h DeliveryHooks) Merge(other DeliveryHooks) DeliveryHooks {
	return DeliveryHooks{
		OnStart: chainHooks(h.OnStart, other.OnStart),
		OnDone:  chainHooks(h.OnDone, other.OnDone),
		OnError: chainErrorHooks(h.OnError, other.OnError),
	}
}

func chainHooks(a, b func(DeliveryInfo)) func(DeliveryInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DeliveryInfo) {
		a(info)
		b(info)
	}
}

func chainErrorHooks(a, b func(DeliveryInfo, error)) func(DeliveryInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DeliveryInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

// DeliveryHooksMiddleware runs hooks around every handler invocation.
func DeliveryHooksMiddleware(hooks DeliveryHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "delivery_hooks",
		Middleware: deliveryHooksMiddleware(hooks),
	}
}

func deliveryHooksMiddleware(hooks DeliveryHooks) Middleware {
	return func(next InvokeFunc) InvokeFunc {
		return func(ctx context.Context, env *mq.Envelope) error {
			info := DeliveryInfo{
				Key:            SubscriptionKeyFrom(ctx),
				Topic:          env.Topic,
				Tag:            env.Tag,
				MessageID:      env.ID,
				Properties:     env.Properties,
				ReconsumeTimes: env.ReconsumeTimes,
				Context:        ctx,
				StartedAt:      time.Now(),
			}
			if hooks.OnStart != nil {
				hooks.OnStart(info)
			}

			err := next(ctx, env)
			info.Duration = time.Since(info.StartedAt)

			if err != nil {
				if hooks.OnError != nil {
					hooks.OnError(info, err)
				}
			} else if hooks.OnDone != nil {
				hooks.OnDone(info)
			}
			return err
		}
	}
}

// LoggingHooks logs every delivery at info level and failures at error level.
func LoggingHooks(logger loggingpkg.ServiceLogger) DeliveryHooks {
	fields := func(info DeliveryInfo) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"key":             info.Key,
			"topic":           info.Topic,
			"tag":             info.Tag,
			"message_id":      info.MessageID,
			"reconsume_times": info.ReconsumeTimes,
		}
	}
	return DeliveryHooks{
		OnStart: func(info DeliveryInfo) {
			logger.Info("Delivery started", fields(info))
		},
		OnDone: func(info DeliveryInfo) {
			f := fields(info)
			f["duration_ms"] = info.Duration.Milliseconds()
			logger.Info("Delivery committed", f)
		},
		OnError: func(info DeliveryInfo, err error) {
			f := fields(info)
			f["duration_ms"] = info.Duration.Milliseconds()
			logger.Error("Delivery failed", err, f)
		},
	}
}

// AlertingHooks calls alert for every failed delivery.
func AlertingHooks(alert func(info DeliveryInfo, err error)) DeliveryHooks {
	return DeliveryHooks{OnError: alert}
}
