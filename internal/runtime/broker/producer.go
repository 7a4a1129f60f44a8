package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	tferrors "github.com/drblury/tagflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/tagflow/internal/runtime/logging"
	"github.com/drblury/tagflow/internal/runtime/mq"
)

// DefaultSendTimeout bounds Send when no timeout is configured.
const DefaultSendTimeout = 3 * time.Second

// Producer publishes envelopes through a Watermill publisher. It implements
// mq.ProducerClient.
type Producer struct {
	publisher message.Publisher
	logger    loggingpkg.ServiceLogger
	timeout   time.Duration
	group     string

	pending sync.WaitGroup
	closed  atomic.Bool
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithSendTimeout overrides DefaultSendTimeout.
func WithSendTimeout(d time.Duration) ProducerOption {
	return func(p *Producer) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithProducerGroup tags every log line with the producer group.
func WithProducerGroup(group string) ProducerOption {
	return func(p *Producer) {
		p.group = group
	}
}

func NewProducer(publisher message.Publisher, logger loggingpkg.ServiceLogger, opts ...ProducerOption) (*Producer, error) {
	if publisher == nil {
		return nil, tferrors.ErrPublisherRequired
	}
	if logger == nil {
		logger = loggingpkg.NewDiscardServiceLogger()
	}
	p := &Producer{publisher: publisher, timeout: DefaultSendTimeout}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logger.With(loggingpkg.LogFields{"producer_group": p.group})
	return p, nil
}

// Send publishes env and waits for the publisher to return, at most the send
// timeout.
func (p *Producer) Send(ctx context.Context, env *mq.Envelope) (mq.SendResult, error) {
	if env == nil {
		return mq.SendResult{}, tferrors.ErrEnvelopeRequired
	}
	if env.Topic == "" {
		return mq.SendResult{}, tferrors.ErrTopicRequired
	}
	if p.closed.Load() {
		return mq.SendResult{}, tferrors.ErrProducerShutdown
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := ToMessage(env)
	msg.SetContext(ctx)

	done := make(chan error, 1)
	go func() {
		done <- p.publisher.Publish(env.Topic, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return mq.SendResult{}, err
		}
	case <-ctx.Done():
		return mq.SendResult{}, ctx.Err()
	}

	p.logger.Trace("Message sent", loggingpkg.LogFields{"topic": env.Topic, "tag": env.Tag, "message_id": msg.UUID})
	return mq.SendResult{MessageID: msg.UUID, Topic: env.Topic}, nil
}

// SendOneway publishes env in the background. Failures are only logged.
func (p *Producer) SendOneway(ctx context.Context, env *mq.Envelope) {
	p.goSend(ctx, env, func(_ mq.SendResult, err error) {
		if err != nil {
			p.logger.Error("Oneway send failed", err, loggingpkg.LogFields{"topic": topicOf(env)})
		}
	})
}

// SendAsync publishes env in the background and calls cb exactly once.
func (p *Producer) SendAsync(ctx context.Context, env *mq.Envelope, cb mq.SendCallback) {
	if cb == nil {
		cb = func(mq.SendResult, error) {}
	}
	p.goSend(ctx, env, cb)
}

func (p *Producer) goSend(ctx context.Context, env *mq.Envelope, cb mq.SendCallback) {
	if p.closed.Load() {
		go cb(mq.SendResult{}, tferrors.ErrProducerShutdown)
		return
	}
	if env != nil {
		env = env.Clone()
	}
	// Background sends must outlive a request-scoped ctx.
	if ctx != nil {
		ctx = context.WithoutCancel(ctx)
	}
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		cb(p.Send(ctx, env))
	}()
}

// Close waits for background sends and refuses new ones. It does not close the
// publisher, which belongs to the transport.
func (p *Producer) Close() error {
	p.closed.Store(true)
	p.pending.Wait()
	return nil
}

func topicOf(env *mq.Envelope) string {
	if env == nil {
		return ""
	}
	return env.Topic
}
