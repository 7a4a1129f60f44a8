// Package mq defines the contracts between tagflow and a broker client:
// envelopes, redelivery actions, listeners, consumers and producers.
package mq

import (
	"context"
	"strings"
	"time"

	metadatapkg "github.com/drblury/tagflow/internal/runtime/metadata"
)

// Envelope is a message as seen by listeners and producers.
type Envelope struct {
	Topic string
	Tag   string
	Keys  []string
	ID    string
	Body  []byte

	// Properties holds user properties. Broker bookkeeping is not included.
	Properties metadatapkg.Metadata

	// ReconsumeTimes counts earlier failed deliveries of this message.
	ReconsumeTimes int
	BornAt         time.Time
}

// Property returns a user property, or "" when absent.
func (e *Envelope) Property(key string) string {
	if e == nil || e.Properties == nil {
		return ""
	}
	return e.Properties[key]
}

// Clone returns a deep copy so a listener can hold on to the envelope after
// the broker client recycles it.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	cloned := *e
	if e.Keys != nil {
		cloned.Keys = append([]string(nil), e.Keys...)
	}
	if e.Body != nil {
		cloned.Body = append([]byte(nil), e.Body...)
	}
	cloned.Properties = e.Properties.Clone()
	return &cloned
}

// KeysString joins Keys the way they travel on the wire.
func (e *Envelope) KeysString() string {
	if e == nil {
		return ""
	}
	return strings.Join(e.Keys, KeySeparator)
}

// KeySeparator separates message keys in their wire form.
const KeySeparator = " "

// Action is the only outcome a listener can report.
type Action int

const (
	// Commit acknowledges the message.
	Commit Action = iota
	// RetryLater asks the broker client to redeliver the message later.
	RetryLater
)

func (a Action) String() string {
	switch a {
	case Commit:
		return "CommitMessage"
	case RetryLater:
		return "ReconsumeLater"
	default:
		return "Unknown"
	}
}

// Listener receives envelopes from a broker client. Implementations must be
// safe for concurrent use and must not panic.
type Listener func(ctx context.Context, env *Envelope) Action
