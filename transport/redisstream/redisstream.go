// Package redisstream provides a Redis Streams transport for tagflow. Every
// topic is a stream and every consumer group is a Redis consumer group on it.
package redisstream

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/drblury/tagflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "redis"

var errNoAddr = errors.New("redis: no address configured")

// Client is the subset of go-redis commands used by the transport.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	Close() error
}

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts *redis.Options) Client {
	return redis.NewClient(opts)
}

// SubscriberConfig tunes the consumer group read loop.
type SubscriberConfig struct {
	Group        string
	Consumer     string
	BlockTimeout time.Duration
	ReadCount    int64
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
}

func (c *SubscriberConfig) setDefaults() {
	if c.Consumer == "" {
		c.Consumer = "tagflow-" + watermill.NewULID()
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = time.Second
	}
	if c.ReadCount <= 0 {
		c.ReadCount = 10
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
}

func init() {
	Register()
}

// Register adds the Redis transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RedisCapabilities)
}

// Build creates a Redis Streams transport. The publisher and all group
// subscribers share one client, which is closed by Cleanup.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	addr := cfg.GetRedisAddr()
	if addr == "" {
		return transport.Transport{}, errNoAddr
	}
	client := ClientFactory(&redis.Options{
		Addr:     addr,
		Password: cfg.GetRedisPassword(),
		DB:       cfg.GetRedisDB(),
	})

	return transport.Transport{
		Publisher: NewPublisher(client, logger),
		SubscriberFactory: func(opts transport.GroupOptions) (message.Subscriber, error) {
			return NewSubscriber(client, SubscriberConfig{Group: opts.EffectiveGroup()}, logger)
		},
		Cleanup: client.Close,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RedisCapabilities
}
