// Package tagflow registers typed message handlers as tag-filtered consumers
// of a message queue and offers a producer facade for sending messages.
//
// A handler names the logical consumers it listens on, either through a
// Registration or by implementing NameProvider, NamesProvider and
// TagsProvider. Each logical name maps to a ConsumerConfig holding the topic,
// the consumer group and the tuning passed to the broker client. Registering
// a handler starts one consumer per (name, tag) pair; a handler without tags
// receives every tag through the "*" expression.
//
// The listener decodes each message body into the handler's payload type,
// runs the middleware chain and reports Commit or RetryLater back to the
// broker client. Handler errors and panics never escape the listener; they
// are logged and the message is redelivered until MaxReconsumeTimes is
// exceeded, after which it moves to the %DLQ%<group> topic.
//
// # Transports
//
// The broker client runs on Watermill. The transport is selected with
// Config.PubSubSystem:
//   - channel: in-memory Go channels for tests and local development
//   - kafka: consumer groups over Kafka
//   - rabbitmq: AMQP durable queues
//   - nats: NATS JetStream with durable queue groups
//   - aws: SNS topics with SQS queues
//   - http: webhooks posted between services
//   - redis: Redis streams with consumer groups
//
// Custom backends register a TransportBuilder, or replace the broker client
// entirely through ServiceDependencies.ConsumerFactory and ProducerClient.
//
// # Middleware
//
// The default chain adds correlation IDs, debug logging of message bodies,
// OpenTelemetry spans, Prometheus metrics and panic recovery. Delivery hooks
// run callbacks around every handler invocation.
//
// # Admin API
//
// With AdminEnabled set, the service serves /api/subscriptions, /api/status
// and /api/deadletters on AdminPort.
package tagflow
