package mq

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MessageModel selects between competing consumers and fan-out delivery.
type MessageModel string

const (
	// Clustering shares messages between all consumers of a group.
	Clustering MessageModel = "CLUSTERING"
	// Broadcasting delivers every message to every consumer instance.
	Broadcasting MessageModel = "BROADCASTING"
)

// ParseMessageModel accepts either model name, case-insensitively. Empty input
// yields Clustering.
func ParseMessageModel(s string) (MessageModel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(Clustering):
		return Clustering, nil
	case string(Broadcasting):
		return Broadcasting, nil
	default:
		return "", fmt.Errorf("unknown message model %q", s)
	}
}

// DeadLetterPrefix prefixes the topic that receives messages which exhausted
// their redeliveries.
const DeadLetterPrefix = "%DLQ%"

// DeadLetterTopic returns the dead-letter topic for a consumer group.
func DeadLetterTopic(group string) string {
	return DeadLetterPrefix + group
}

// ConsumerOptions carries the per-consumer tuning passed to the broker client
// unchanged, plus the shared endpoint settings.
type ConsumerOptions struct {
	// Name is the logical consumer name the handler routed to.
	Name  string
	Group string
	Topic string

	MessageModel              MessageModel
	ConsumeThreadNums         int
	MaxReconsumeTimes         int
	ConsumeTimeout            time.Duration
	SuspendTime               time.Duration
	MaxCachedMessageAmount    int
	MaxCachedMessageSizeInMiB int

	NameServerAddr string
	AccessKey      string
	SecretKey      string
}

// Consumer is one running subscription inside a broker client.
type Consumer interface {
	Start(ctx context.Context) error
	// Shutdown stops delivery. Calling it more than once is allowed.
	Shutdown() error
}

// ConsumerFactory creates consumers bound to one subscription and listener.
type ConsumerFactory interface {
	NewConsumer(opts ConsumerOptions, sub Subscription, listener Listener) (Consumer, error)
}

// ConsumerFactoryFunc adapts a function to ConsumerFactory.
type ConsumerFactoryFunc func(opts ConsumerOptions, sub Subscription, listener Listener) (Consumer, error)

func (f ConsumerFactoryFunc) NewConsumer(opts ConsumerOptions, sub Subscription, listener Listener) (Consumer, error) {
	return f(opts, sub, listener)
}
