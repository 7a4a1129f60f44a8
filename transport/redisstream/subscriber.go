package redisstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
)

var errSubscriberClosed = errors.New("redis: subscriber closed")

// Subscriber reads a stream as one member of a consumer group. A nacked
// message is redelivered to the same output channel until it is acked.
type Subscriber struct {
	client Client
	config SubscriberConfig
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

// NewSubscriber returns a subscriber on client. Closing it leaves the client open.
func NewSubscriber(client Client, config SubscriberConfig, logger watermill.LoggerAdapter) (*Subscriber, error) {
	if client == nil {
		return nil, errors.New("redis: client is required")
	}
	if config.Group == "" {
		return nil, errors.New("redis: consumer group is required")
	}
	config.setDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Subscriber{
		client:  client,
		config:  config,
		logger:  logger.With(watermill.LogFields{"group": config.Group, "consumer": config.Consumer}),
		closing: make(chan struct{}),
	}, nil
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errSubscriberClosed
	}
	if err := s.ensureGroup(ctx, topic); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan *message.Message)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer cancel()
		go func() {
			select {
			case <-s.closing:
				cancel()
			case <-ctx.Done():
			}
		}()
		s.readLoop(ctx, topic, out)
	}()
	return out, nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Subscriber) ensureGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.config.Group, "0").Err()
	if err == nil || strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return err
}

func (s *Subscriber) readLoop(ctx context.Context, stream string, out chan<- *message.Message) {
	args := &redis.XReadGroupArgs{
		Group:    s.config.Group,
		Consumer: s.config.Consumer,
		Streams:  []string{stream, ">"},
		Count:    s.config.ReadCount,
		Block:    s.config.BlockTimeout,
	}
	backoff := s.config.MinBackoff
	for ctx.Err() == nil {
		res, err := s.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			s.logger.Error("XREADGROUP failed", err, watermill.LogFields{"stream": stream, "backoff": backoff})
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, s.config.MaxBackoff)
			continue
		}
		backoff = s.config.MinBackoff

		for _, streamRes := range res {
			for _, entry := range streamRes.Messages {
				if !s.deliver(ctx, streamRes.Stream, entry, out) {
					return
				}
			}
		}
	}
}

// deliver hands one entry to the consumer and acks it in Redis once the
// consumer acks. It reports false when the subscription is over.
func (s *Subscriber) deliver(ctx context.Context, stream string, entry redis.XMessage, out chan<- *message.Message) bool {
	fields := watermill.LogFields{"stream": stream, "entry_id": entry.ID}
	for {
		msg, err := unmarshalMessage(entry)
		if err != nil {
			s.logger.Error("Dropping undecodable stream entry", err, fields)
			s.ack(stream, entry.ID, fields)
			return true
		}
		msgCtx, cancel := context.WithCancel(ctx)
		msg.SetContext(msgCtx)

		select {
		case out <- msg:
		case <-ctx.Done():
			cancel()
			return false
		}

		select {
		case <-msg.Acked():
			cancel()
			s.ack(stream, entry.ID, fields)
			return true
		case <-msg.Nacked():
			cancel()
			s.logger.Trace("Message nacked, redelivering", fields)
		case <-ctx.Done():
			cancel()
			return false
		}
	}
}

func (s *Subscriber) ack(stream, id string, fields watermill.LogFields) {
	if err := s.client.XAck(context.Background(), stream, s.config.Group, id).Err(); err != nil {
		s.logger.Error("XACK failed", err, fields)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
