// Package broker is the Watermill-backed broker client. It turns a transport
// into tagflow consumers and a producer client.
package broker

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	tferrors "github.com/drblury/tagflow/internal/runtime/errors"
	"github.com/drblury/tagflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/tagflow/internal/runtime/logging"
	"github.com/drblury/tagflow/internal/runtime/mq"
	"github.com/drblury/tagflow/transport"
)

// ConsumerFactory creates Watermill consumers on one transport. It implements
// mq.ConsumerFactory.
type ConsumerFactory struct {
	transport  transport.Transport
	logger     loggingpkg.ServiceLogger
	instanceID string
	observer   DeadLetterObserver
}

// DeadLetterObserver is told about every message moved to a dead-letter topic.
type DeadLetterObserver interface {
	ObserveDeadLetter(env *mq.Envelope, group string, reconsumeTimes int)
}

// FactoryOption configures a ConsumerFactory.
type FactoryOption func(*ConsumerFactory)

// WithDeadLetterObserver reports dead-lettered messages to o.
func WithDeadLetterObserver(o DeadLetterObserver) FactoryOption {
	return func(f *ConsumerFactory) { f.observer = o }
}

// NewConsumerFactory returns a factory for tr. Broadcasting consumers created
// by the factory share one per-process instance id.
func NewConsumerFactory(tr transport.Transport, logger loggingpkg.ServiceLogger, opts ...FactoryOption) *ConsumerFactory {
	if logger == nil {
		logger = loggingpkg.NewDiscardServiceLogger()
	}
	f := &ConsumerFactory{
		transport:  tr,
		logger:     logger,
		instanceID: ids.CreateULID(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// InstanceID identifies this process among broadcasting consumers.
func (f *ConsumerFactory) InstanceID() string {
	return f.instanceID
}

func (f *ConsumerFactory) NewConsumer(opts mq.ConsumerOptions, sub mq.Subscription, listener mq.Listener) (mq.Consumer, error) {
	if listener == nil {
		return nil, tferrors.ErrHandlerRequired
	}
	if sub.Topic == "" {
		return nil, tferrors.ErrTopicRequired
	}
	if opts.ConsumeThreadNums <= 0 {
		opts.ConsumeThreadNums = 1
	}
	return &Consumer{
		opts:      opts,
		sub:       sub,
		listener:  listener,
		transport: f.transport,
		groupOpts: transport.GroupOptions{
			Group:        TransportGroup(opts.Group, sub.Expression),
			Topic:        sub.Topic,
			Broadcasting: opts.MessageModel == mq.Broadcasting,
			InstanceID:   f.instanceID,
		},
		logger: f.logger.With(loggingpkg.LogFields{
			"consumer": opts.Name,
			"group":    opts.Group,
			"topic":    sub.Topic,
			"tags":     sub.Expression,
		}),
		attempts: newAttemptCounter(),
		observer: f.observer,
	}, nil
}

// TransportGroup returns the group a subscription joins on the transport.
// Subscriptions of one group with different tag expressions must not compete
// for messages, so a non-wildcard expression is appended to the group.
func TransportGroup(group, expression string) string {
	expr := strings.TrimSpace(expression)
	if expr == "" || expr == mq.WildcardTag {
		return group
	}
	tags := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.ReplaceAll(expr, " ", ""))
	return group + "-" + tags
}

// Consumer is one running subscription. Messages whose tag does not match
// the subscription are acknowledged without reaching the listener.
type Consumer struct {
	opts      mq.ConsumerOptions
	sub       mq.Subscription
	listener  mq.Listener
	transport transport.Transport
	groupOpts transport.GroupOptions
	logger    loggingpkg.ServiceLogger
	attempts  *attemptCounter
	observer  DeadLetterObserver

	mu         sync.Mutex
	started    bool
	stopped    bool
	cancel     context.CancelFunc
	subscriber message.Subscriber
	owned      bool
	wg         sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// Start subscribes and launches ConsumeThreadNums workers. The consumer keeps
// running until ctx is cancelled or Shutdown is called.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return tferrors.ErrConsumerShutdown
	}
	if c.started {
		return tferrors.ErrConsumerStarted
	}

	subscriber, owned, err := c.transport.SubscriberFor(c.groupOpts)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	messages, err := subscriber.Subscribe(runCtx, c.sub.Topic)
	if err != nil {
		cancel()
		if owned {
			_ = subscriber.Close()
		}
		return err
	}

	c.started = true
	c.cancel = cancel
	c.subscriber = subscriber
	c.owned = owned
	for i := 0; i < c.opts.ConsumeThreadNums; i++ {
		c.wg.Add(1)
		go c.work(runCtx, messages)
	}
	c.logger.Info("Consumer started", loggingpkg.LogFields{
		"transport_group": c.groupOpts.EffectiveGroup(),
		"threads":         c.opts.ConsumeThreadNums,
		"model":           string(c.opts.MessageModel),
	})
	return nil
}

// Shutdown stops the workers and waits for in-flight listeners to return.
// Later calls return the result of the first.
func (c *Consumer) Shutdown() error {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		cancel, subscriber, owned := c.cancel, c.subscriber, c.owned
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		c.wg.Wait()
		if owned && subscriber != nil {
			c.shutdownErr = subscriber.Close()
		}
		c.logger.Info("Consumer stopped", nil)
	})
	return c.shutdownErr
}

func (c *Consumer) work(ctx context.Context, messages <-chan *message.Message) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *message.Message) {
	env := FromMessage(msg, c.sub.Topic)
	if !c.sub.Matches(env.Tag) {
		msg.Ack()
		return
	}
	env.ReconsumeTimes = max(env.ReconsumeTimes, c.attempts.get(msg.UUID))

	listenCtx := ctx
	cancel := context.CancelFunc(func() {})
	if c.opts.ConsumeTimeout > 0 {
		listenCtx, cancel = context.WithTimeout(ctx, c.opts.ConsumeTimeout)
	}
	action := c.listener(listenCtx, env)
	cancel()

	if action == mq.Commit {
		c.attempts.forget(msg.UUID)
		msg.Ack()
		return
	}

	failures := c.attempts.inc(msg.UUID)
	if c.opts.MaxReconsumeTimes > 0 && failures > c.opts.MaxReconsumeTimes {
		if err := c.deadLetter(msg, env, failures); err != nil {
			c.logger.Error("Dead-letter publish failed, redelivering", err, loggingpkg.LogFields{"message_id": msg.UUID})
			msg.Nack()
			return
		}
		c.attempts.forget(msg.UUID)
		msg.Ack()
		return
	}

	sleep(ctx, c.opts.SuspendTime)
	msg.Nack()
}

func (c *Consumer) deadLetter(msg *message.Message, env *mq.Envelope, failures int) error {
	if c.transport.Publisher == nil {
		return tferrors.ErrPublisherRequired
	}
	topic := mq.DeadLetterTopic(c.opts.Group)
	dlq := msg.Copy()
	dlq.Metadata.Set(MetadataTopic, topic)
	dlq.Metadata.Set(MetadataOriginTopic, env.Topic)
	dlq.Metadata.Set(MetadataOriginGroup, c.opts.Group)
	dlq.Metadata.Set(MetadataReconsumeTimes, strconv.Itoa(failures))
	if err := c.transport.Publisher.Publish(topic, dlq); err != nil {
		return err
	}
	c.logger.Warn("Message moved to dead-letter topic", loggingpkg.LogFields{
		"message_id":      msg.UUID,
		"dlq_topic":       topic,
		"reconsume_times": failures,
	})
	if c.observer != nil {
		c.observer.ObserveDeadLetter(env, c.opts.Group, failures)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// attemptCounter tracks failed deliveries per message id. Transports redeliver
// a nacked message unchanged, so the count cannot travel in its metadata.
type attemptCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newAttemptCounter() *attemptCounter {
	return &attemptCounter{counts: make(map[string]int)}
}

func (a *attemptCounter) get(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[id]
}

func (a *attemptCounter) inc(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[id]++
	return a.counts[id]
}

func (a *attemptCounter) forget(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counts, id)
}
