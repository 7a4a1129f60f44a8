package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/drblury/tagflow/internal/runtime/codec"
	tferrors "github.com/drblury/tagflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/tagflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/tagflow/internal/runtime/logging"
	"github.com/drblury/tagflow/internal/runtime/mq"
)

// InvokeFunc is one step of message processing. A nil error commits the
// message, anything else asks for redelivery.
type InvokeFunc func(ctx context.Context, env *mq.Envelope) error

// Middleware wraps an InvokeFunc. The first middleware of a chain is the
// outermost.
type Middleware func(next InvokeFunc) InvokeFunc

// ListenerOptions configures BuildListener.
type ListenerOptions struct {
	Key         SubscriptionKey
	Logger      loggingpkg.ServiceLogger
	Middlewares []Middleware
	Stats       *SubscriptionStats
	Classifier  ErrorClassifier
}

// BuildListener adapts handler to a broker listener. The listener decodes the
// body according to pt, runs the middleware chain around the handler and maps
// the outcome to Commit or RetryLater. It never panics.
func BuildListener[T any](handler Handler[T], pt handlerpkg.PayloadType, opts ListenerOptions) mq.Listener {
	logger := opts.Logger
	if logger == nil {
		logger = loggingpkg.NewDiscardServiceLogger()
	}
	key := opts.Key.String()

	invoke := InvokeFunc(func(ctx context.Context, env *mq.Envelope) error {
		payload, err := decodePayload[T](env, pt)
		if err != nil {
			return err
		}
		if err := handler.OnMessage(ctx, payload); err != nil {
			return &tferrors.HandlerError{Key: key, Err: err}
		}
		return nil
	})
	for i := len(opts.Middlewares) - 1; i >= 0; i-- {
		if mw := opts.Middlewares[i]; mw != nil {
			invoke = mw(invoke)
		}
	}

	return func(ctx context.Context, env *mq.Envelope) (action mq.Action) {
		if env == nil {
			logger.Error("Listener received nil envelope", tferrors.ErrEnvelopeRequired, loggingpkg.LogFields{"key": key})
			return mq.RetryLater
		}
		fields := loggingpkg.LogFields{
			"topic":      env.Topic,
			"tag":        env.Tag,
			"message_id": env.ID,
			"key":        key,
		}
		msgLogger := logger.With(fields)
		ctx = handlerpkg.WithLogger(handlerpkg.WithEnvelope(ctx, env), msgLogger)
		ctx = context.WithValue(ctx, subscriptionKeyContextKey{}, key)

		var inv invocation
		if opts.Stats != nil {
			inv = opts.Stats.onMessageStart(env)
		}

		err := safeInvoke(ctx, invoke, env, key)

		if opts.Stats != nil {
			opts.Stats.onMessageFinish(inv, err, opts.Classifier)
		}
		if err != nil {
			msgLogger.Error("Message processing failed, retrying later", err, loggingpkg.LogFields{
				"reconsume_times": env.ReconsumeTimes,
			})
			return mq.RetryLater
		}
		return mq.Commit
	}
}

type subscriptionKeyContextKey struct{}

// SubscriptionKeyFrom returns the key of the subscription processing the
// message carried by ctx.
func SubscriptionKeyFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(subscriptionKeyContextKey{}).(string)
	return key
}

func safeInvoke(ctx context.Context, invoke InvokeFunc, env *mq.Envelope, key string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &tferrors.HandlerError{Key: key, Panic: r, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return invoke(ctx, env)
}

var errPayloadMismatch = errors.New("payload does not match handler type")

// decodePayload turns env into the handler's payload type.
func decodePayload[T any](env *mq.Envelope, pt handlerpkg.PayloadType) (T, error) {
	var zero T
	switch pt.Kind {
	case handlerpkg.PayloadEnvelope:
		if v, ok := any(env).(T); ok {
			return v, nil
		}
		if v, ok := any(*env).(T); ok {
			return v, nil
		}
	case handlerpkg.PayloadBytes, handlerpkg.PayloadAny:
		body := append([]byte(nil), env.Body...)
		if v, ok := any(body).(T); ok {
			return v, nil
		}
	default:
		return codec.DecodeAs[T](env.Body)
	}
	return zero, &tferrors.DecodeError{Type: pt.Type, Err: errPayloadMismatch}
}
