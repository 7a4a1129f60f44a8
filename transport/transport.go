// Package transport defines how tagflow obtains Watermill publishers and
// subscribers for a broker. Each backend lives in its own sub-package and
// registers itself with the transport registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// SubscriberFactory builds a subscriber bound to one consumer group. It is
	// nil for backends without consumer groups, in which case Subscriber is
	// shared by every consumer.
	SubscriberFactory SubscriberFactory

	// Cleanup releases resources shared by the publisher and subscribers,
	// such as a broker connection. It runs after both are closed.
	Cleanup func() error
}

// GroupOptions describes the consumer a group-bound subscriber is built for.
type GroupOptions struct {
	Group string
	Topic string

	// Broadcasting asks for a subscriber that receives every message instead
	// of competing with the other members of Group.
	Broadcasting bool
	// InstanceID identifies this process. Backends use it to derive a
	// process-private group or queue when Broadcasting is set.
	InstanceID string
}

// EffectiveGroup returns the group name a backend should join.
func (o GroupOptions) EffectiveGroup() string {
	if o.Broadcasting && o.InstanceID != "" {
		if o.Group == "" {
			return o.InstanceID
		}
		return o.Group + "-" + o.InstanceID
	}
	return o.Group
}

// SubscriberFactory creates a subscriber for one consumer group.
type SubscriberFactory func(opts GroupOptions) (message.Subscriber, error)

// Builder creates a transport from config. Each transport package provides
// one and registers it under its name.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports need without depending on the full
// config package.
type Config interface {
	// GetPubSubSystem returns the transport name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// Redis streams
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// ErrNoSubscriber is returned by Subscribe when a transport has neither a
// shared subscriber nor a SubscriberFactory.
var ErrNoSubscriber = errors.New("transport has no subscriber")

// SubscriberFor returns the subscriber a consumer of opts should use and whether
// the caller owns it. Owned subscribers must be closed by the caller; the
// shared subscriber is closed with the transport.
func (t Transport) SubscriberFor(opts GroupOptions) (message.Subscriber, bool, error) {
	if t.SubscriberFactory != nil {
		sub, err := t.SubscriberFactory(opts)
		if err != nil {
			return nil, false, err
		}
		return sub, true, nil
	}
	if t.Subscriber == nil {
		return nil, false, ErrNoSubscriber
	}
	return t.Subscriber, false, nil
}

// Close closes the shared publisher and subscriber, then runs Cleanup.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		if err := t.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.Subscriber != nil && any(t.Subscriber) != any(t.Publisher) {
		if err := t.Subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.Cleanup != nil {
		if err := t.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StaticConfig is a Config backed by plain fields. It is handy for building a
// transport without loading a full tagflow configuration.
type StaticConfig struct {
	PubSubSystem       string
	KafkaBrokers       []string
	KafkaClientID      string
	RabbitMQURL        string
	NATSURL            string
	HTTPServerAddress  string
	HTTPPublisherURL   string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c *StaticConfig) GetPubSubSystem() string       { return c.PubSubSystem }
func (c *StaticConfig) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *StaticConfig) GetKafkaClientID() string      { return c.KafkaClientID }
func (c *StaticConfig) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *StaticConfig) GetNATSURL() string            { return c.NATSURL }
func (c *StaticConfig) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c *StaticConfig) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c *StaticConfig) GetRedisAddr() string          { return c.RedisAddr }
func (c *StaticConfig) GetRedisPassword() string      { return c.RedisPassword }
func (c *StaticConfig) GetRedisDB() int               { return c.RedisDB }
func (c *StaticConfig) GetAWSRegion() string          { return c.AWSRegion }
func (c *StaticConfig) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *StaticConfig) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *StaticConfig) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *StaticConfig) GetAWSEndpoint() string        { return c.AWSEndpoint }
