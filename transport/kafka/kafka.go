// Package kafka provides a Kafka transport for tagflow. Each tagflow consumer
// group maps onto a Kafka consumer group.
package kafka

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tagflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

var errNoBrokers = errors.New("kafka: no brokers configured")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the Kafka transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport. Subscribers are created per consumer
// group through the returned SubscriberFactory.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, errNoBrokers
	}
	clientID := cfg.GetKafkaClientID()

	pubConfig := kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}
	if clientID != "" {
		saramaConfig := kafka.DefaultSaramaSyncPublisherConfig()
		saramaConfig.ClientID = clientID
		pubConfig.OverwriteSaramaConfig = saramaConfig
	}

	publisher, err := PublisherFactory(pubConfig, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:         publisher,
		SubscriberFactory: groupSubscriberFactory(brokers, clientID, logger),
	}, nil
}

func groupSubscriberFactory(brokers []string, clientID string, logger watermill.LoggerAdapter) transport.SubscriberFactory {
	return func(opts transport.GroupOptions) (message.Subscriber, error) {
		subConfig := kafka.SubscriberConfig{
			Brokers:       brokers,
			Unmarshaler:   kafka.DefaultMarshaler{},
			ConsumerGroup: opts.EffectiveGroup(),
		}
		if clientID != "" {
			saramaConfig := kafka.DefaultSaramaSubscriberConfig()
			saramaConfig.ClientID = clientID
			subConfig.OverwriteSaramaConfig = saramaConfig
		}
		return SubscriberFactory(subConfig, logger.With(watermill.LogFields{
			"consumer_group": subConfig.ConsumerGroup,
			"topic":          opts.Topic,
		}))
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
