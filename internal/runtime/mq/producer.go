package mq

import "context"

// SendResult is returned once the broker acknowledged a message.
type SendResult struct {
	MessageID string
	Topic     string
}

// SendCallback receives the outcome of an asynchronous send. Exactly one of
// result or err is meaningful.
type SendCallback func(result SendResult, err error)

// ProducerClient is the sending side of a broker client.
type ProducerClient interface {
	// Send blocks until the broker acknowledged env.
	Send(ctx context.Context, env *Envelope) (SendResult, error)
	// SendOneway hands env over without waiting for an acknowledgment.
	SendOneway(ctx context.Context, env *Envelope)
	// SendAsync returns immediately and calls cb exactly once, from a
	// goroutine owned by the client.
	SendAsync(ctx context.Context, env *Envelope, cb SendCallback)
}
