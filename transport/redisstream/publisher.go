package redisstream

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
)

var errPublisherClosed = errors.New("redis: publisher closed")

// Publisher appends watermill messages to the stream named after the topic.
type Publisher struct {
	client Client
	logger watermill.LoggerAdapter
	closed atomic.Bool
}

// NewPublisher returns a publisher on client. Closing it leaves the client open.
func NewPublisher(client Client, logger watermill.LoggerAdapter) *Publisher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Publisher{client: client, logger: logger}
}

// Publish appends messages one by one; streams have no multi-append.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	if p.closed.Load() {
		return errPublisherClosed
	}
	for _, msg := range messages {
		values, err := marshalMessage(msg)
		if err != nil {
			return err
		}
		ctx := msg.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		id, err := p.client.XAdd(ctx, &redis.XAddArgs{Stream: topic, Values: values}).Result()
		if err != nil {
			return err
		}
		p.logger.Trace("Appended message to stream", watermill.LogFields{
			"stream":       topic,
			"message_uuid": msg.UUID,
			"entry_id":     id,
		})
	}
	return nil
}

func (p *Publisher) Close() error {
	p.closed.Store(true)
	return nil
}
