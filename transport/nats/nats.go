// Package nats provides a NATS JetStream transport for tagflow. Clustering
// consumers share a durable queue group named after their consumer group, so
// a nacked message is redelivered to the group instead of being dropped.
package nats

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/tagflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// ConnectionName is reported to the NATS server for every connection.
const ConnectionName = "tagflow"

var errNoURL = errors.New("nats: no server URL configured")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the NATS transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// jetStreamConfig provisions one stream per topic and acknowledges explicitly
// so that Nack maps to a JetStream Nak.
func jetStreamConfig() nats.JetStreamConfig {
	return nats.JetStreamConfig{
		AutoProvision: true,
		TrackMsgId:    true,
		SubscribeOptions: []natsgo.SubOpt{
			natsgo.AckExplicit(),
			natsgo.DeliverAll(),
		},
	}
}

// connectOptions keeps connections alive across server restarts.
func connectOptions() []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name(ConnectionName),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
	}
}

// Build creates a new NATS JetStream transport. The queue group doubles as
// the durable consumer name.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errNoURL
	}
	marshaler := &nats.NATSMarshaler{}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: connectOptions(),
			Marshaler:   marshaler,
			JetStream:   jetStreamConfig(),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher: publisher,
		SubscriberFactory: func(opts transport.GroupOptions) (message.Subscriber, error) {
			subConfig := nats.SubscriberConfig{
				URL:         url,
				NatsOptions: connectOptions(),
				Unmarshaler: marshaler,
				JetStream:   jetStreamConfig(),
			}
			// Without a queue group every subscriber gets an ephemeral consumer
			// and sees every message.
			if !opts.Broadcasting {
				subConfig.QueueGroupPrefix = opts.Group
			}
			return SubscriberFactory(subConfig, logger.With(watermill.LogFields{"queue_group": subConfig.QueueGroupPrefix}))
		},
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
