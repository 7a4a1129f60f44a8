package runtime

import (
	"context"

	codecpkg "github.com/drblury/tagflow/internal/runtime/codec"
	errspkg "github.com/drblury/tagflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/tagflow/internal/runtime/handlers"
	idspkg "github.com/drblury/tagflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/tagflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/tagflow/internal/runtime/metadata"
	"github.com/drblury/tagflow/internal/runtime/mq"
)

// SendOption customises an outgoing envelope.
type SendOption func(*mq.Envelope)

// WithTag sets the message tag used by consumer tag expressions.
func WithTag(tag string) SendOption {
	return func(env *mq.Envelope) { env.Tag = tag }
}

// WithKeys sets the business keys of the message.
func WithKeys(keys ...string) SendOption {
	return func(env *mq.Envelope) { env.Keys = append([]string(nil), keys...) }
}

// WithProperty adds a user property.
func WithProperty(key, value string) SendOption {
	return func(env *mq.Envelope) { env.Properties = env.Properties.With(key, value) }
}

// Producer encodes payloads and hands them to a broker client.
type Producer struct {
	client mq.ProducerClient
	logger loggingpkg.ServiceLogger
}

// NewProducer wraps client. A nil logger discards output.
func NewProducer(client mq.ProducerClient, logger loggingpkg.ServiceLogger) (*Producer, error) {
	if client == nil {
		return nil, errspkg.ErrProducerRequired
	}
	if logger == nil {
		logger = loggingpkg.NewDiscardServiceLogger()
	}
	return &Producer{client: client, logger: logger.With(loggingpkg.LogFields{"component": "producer"})}, nil
}

// NewEnvelope encodes payload into an envelope addressed to topic. The message
// id is a fresh ULID and the correlation id of ctx, if any, is carried over.
func NewEnvelope(ctx context.Context, topic string, payload any, opts ...SendOption) (*mq.Envelope, error) {
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	body, err := codecpkg.Encode(payload)
	if err != nil {
		return nil, err
	}
	env := &mq.Envelope{
		Topic:      topic,
		ID:         idspkg.CreateULID(),
		Body:       body,
		Properties: metadatapkg.Metadata{},
	}
	if ctx != nil {
		if cid := handlerpkg.CorrelationID(ctx); cid != "" {
			env.Properties[handlerpkg.PropertyCorrelationID] = cid
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(env)
		}
	}
	return env, nil
}

// SendSync encodes payload and blocks until the broker acknowledged it.
func (p *Producer) SendSync(ctx context.Context, topic string, payload any, opts ...SendOption) (mq.SendResult, error) {
	env, err := NewEnvelope(ctx, topic, payload, opts...)
	if err != nil {
		return mq.SendResult{}, err
	}
	return p.SendEnvelope(ctx, env)
}

// SendEnvelope sends an already built envelope and blocks for the
// acknowledgment. An empty id is replaced by a ULID.
func (p *Producer) SendEnvelope(ctx context.Context, env *mq.Envelope) (mq.SendResult, error) {
	if env == nil {
		return mq.SendResult{}, errspkg.ErrEnvelopeRequired
	}
	if env.Topic == "" {
		return mq.SendResult{}, errspkg.ErrTopicRequired
	}
	if env.ID == "" {
		env.ID = idspkg.CreateULID()
	}
	res, err := p.client.Send(ctx, env)
	if err != nil {
		return mq.SendResult{}, &errspkg.SendError{Topic: env.Topic, Err: err}
	}
	if res.MessageID == "" {
		res.MessageID = env.ID
	}
	if res.Topic == "" {
		res.Topic = env.Topic
	}
	return res, nil
}

// SendOneway encodes payload and sends it without waiting. Only encode
// failures are returned.
func (p *Producer) SendOneway(ctx context.Context, topic string, payload any, opts ...SendOption) error {
	env, err := NewEnvelope(ctx, topic, payload, opts...)
	if err != nil {
		return err
	}
	p.client.SendOneway(ctx, env)
	return nil
}

// SendAsync encodes payload and returns. Exactly one of onSuccess or
// onFailure runs later on a goroutine owned by the broker client. Encode
// failures are returned and no callback runs.
func (p *Producer) SendAsync(ctx context.Context, topic string, payload any, onSuccess func(mq.SendResult), onFailure func(error), opts ...SendOption) error {
	env, err := NewEnvelope(ctx, topic, payload, opts...)
	if err != nil {
		return err
	}
	p.client.SendAsync(ctx, env, func(res mq.SendResult, err error) {
		if err != nil {
			err = &errspkg.SendError{Topic: env.Topic, Err: err}
			if onFailure != nil {
				onFailure(err)
				return
			}
			p.logger.Error("Async send failed", err, loggingpkg.LogFields{"topic": env.Topic, "message_id": env.ID})
			return
		}
		if res.MessageID == "" {
			res.MessageID = env.ID
		}
		if onSuccess != nil {
			onSuccess(res)
		}
	})
	return nil
}
