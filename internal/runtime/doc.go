/*
Package runtime implements consumer registration, message dispatch and the
producer facade behind tagflow.

# Components

Registry (registry.go) expands a Registration into subscription keys, one per
consumer name and tag, and starts one mq.Consumer per key through an
mq.ConsumerFactory. Re-registering a key replaces the running consumer.
ShutdownAll stops every consumer and closes the registry.

BuildListener (dispatch.go) adapts a typed Handler to an mq.Listener. It
decodes the body according to the handler's payload type, runs the
middleware chain and converts the outcome into Commit or RetryLater. Panics
are recovered and reported as HandlerErrors.

Producer (producer.go) encodes payloads into envelopes and sends them
synchronously, one-way or asynchronously through an mq.ProducerClient.

Service (service.go) wires configuration, transport, the Watermill broker
client, registry, producer and the HTTP endpoints for metrics and the admin
API.

# Stats

Each subscription keeps SubscriptionStats: outcome counters, latency
percentiles, throughput, an error breakdown and backlog estimates. Dead-letter
moves are counted per %DLQ% topic by DeadLetterStats.

# Sub-packages

  - broker/: Watermill broker client (consumers, producer, envelope mapping)
  - codec/: body encoding
  - config/: configuration, YAML loading and validation
  - errors/: sentinel errors and error types
  - handlers/: payload type resolution and context accessors
  - ids/: ULID message ids
  - logging/: ServiceLogger and adapters
  - metadata/: message property maps
  - mq/: broker client contracts
  - transport/: transport factory over the transport registry
*/
package runtime
