package errors

import (
	sterrors "errors"
	"fmt"
	"reflect"
)

var (
	ErrServiceRequired      = sterrors.New("tagflow: service is required")
	ErrRegistryRequired     = sterrors.New("tagflow: registry is required")
	ErrRegistryClosed       = sterrors.New("tagflow: registry is shut down")
	ErrHandlerRequired      = sterrors.New("tagflow: handler is required")
	ErrConsumerFactory      = sterrors.New("tagflow: consumer factory is required")
	ErrProducerRequired     = sterrors.New("tagflow: producer client is required")
	ErrPublisherRequired    = sterrors.New("tagflow: publisher is required")
	ErrSubscriberRequired   = sterrors.New("tagflow: subscriber is required")
	ErrTopicRequired        = sterrors.New("tagflow: topic is required")
	ErrConfigRequired       = sterrors.New("tagflow: configuration is required")
	ErrLoggerRequired       = sterrors.New("tagflow: logger is required")
	ErrEnvelopeRequired     = sterrors.New("tagflow: envelope is required")
	ErrConsumerShutdown     = sterrors.New("tagflow: consumer is shut down")
	ErrConsumerStarted      = sterrors.New("tagflow: consumer already started")
	ErrProducerShutdown     = sterrors.New("tagflow: producer is shut down")
	ErrSubscriptionNoTopics = sterrors.New("tagflow: consumer config has no topic")
	ErrPayloadUndecodable   = sterrors.New("tagflow: handler payload type cannot be decoded")
)

// ConfigurationError reports a handler routing or consumer configuration
// problem detected at registration time.
type ConfigurationError struct {
	// Name is the consumer name the handler routes to.
	Name string
	// Key is the subscription key being registered, when known.
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	msg := "tagflow: configuration error"
	if e.Name != "" {
		msg += fmt.Sprintf(" for consumer %q", e.Name)
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" (subscription %s)", e.Key)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// NewMissingConsumerError reports that no consumer configuration exists for name.
func NewMissingConsumerError(name, key string) *ConfigurationError {
	return &ConfigurationError{Name: name, Key: key, Reason: "no consumer configuration found"}
}

// DecodeError wraps failures to turn a message body into the handler's payload type.
type DecodeError struct {
	Type reflect.Type
	Err  error
}

func (e *DecodeError) Error() string {
	typeName := "<nil>"
	if e.Type != nil {
		typeName = e.Type.String()
	}
	return fmt.Sprintf("tagflow: decode body into %s: %v", typeName, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// HandlerError wraps an error returned by, or a panic raised in, a handler.
type HandlerError struct {
	Key string
	Err error
	// Panic holds the recovered value when the handler panicked.
	Panic any
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("tagflow: handler %s panicked: %v", e.Key, e.Panic)
	}
	return fmt.Sprintf("tagflow: handler %s failed: %v", e.Key, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// SendError wraps a broker failure while sending to Topic.
type SendError struct {
	Topic string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("tagflow: send to topic %q: %v", e.Topic, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ConfigValidationError wraps configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "tagflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// IsDecodeError reports whether err wraps a DecodeError.
func IsDecodeError(err error) bool {
	var target *DecodeError
	return sterrors.As(err, &target)
}

// IsPanic reports whether err wraps a HandlerError caused by a panic.
func IsPanic(err error) bool {
	var target *HandlerError
	return sterrors.As(err, &target) && target.Panic != nil
}
