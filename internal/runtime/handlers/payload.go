package handlers

import (
	"fmt"
	"reflect"

	"github.com/drblury/tagflow/internal/runtime/mq"
)

// PayloadKind tells the dispatcher how to turn a message body into the value
// a handler receives.
type PayloadKind int

const (
	// PayloadValue payloads are decoded from the body with the codec.
	PayloadValue PayloadKind = iota
	// PayloadEnvelope handlers receive the envelope itself; nothing is decoded.
	PayloadEnvelope
	// PayloadBytes handlers receive the raw body.
	PayloadBytes
	// PayloadAny handlers declared an interface type. The body cannot be
	// decoded into it safely, so they receive the raw body.
	PayloadAny
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadValue:
		return "value"
	case PayloadEnvelope:
		return "envelope"
	case PayloadBytes:
		return "bytes"
	case PayloadAny:
		return "any"
	default:
		return fmt.Sprintf("PayloadKind(%d)", int(k))
	}
}

var (
	envelopePtrType = reflect.TypeOf((*mq.Envelope)(nil))
	envelopeType    = envelopePtrType.Elem()
	rawBytesType    = reflect.TypeOf([]byte(nil))
)

// PayloadType is the resolved payload type of a handler.
type PayloadType struct {
	Type reflect.Type
	Kind PayloadKind
}

// Decodes reports whether message bodies must be decoded for this type.
func (p PayloadType) Decodes() bool {
	return p.Kind == PayloadValue
}

// Deliverable reports whether a message body can be handed to this type.
// Interfaces with methods are never satisfied by a raw body.
func (p PayloadType) Deliverable() bool {
	return p.Kind != PayloadAny || p.Type == nil || p.Type.NumMethod() == 0
}

func (p PayloadType) String() string {
	if p.Type == nil {
		return p.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", p.Kind, p.Type)
}

// ResolvePayloadType derives the payload type from the handler's type
// parameter when the handler is registered.
func ResolvePayloadType[T any]() PayloadType {
	return PayloadTypeOf(reflect.TypeFor[T]())
}

// PayloadTypeOf classifies t.
func PayloadTypeOf(t reflect.Type) PayloadType {
	switch {
	case t == nil:
		return PayloadType{Kind: PayloadAny}
	case t == envelopePtrType || t == envelopeType:
		return PayloadType{Type: t, Kind: PayloadEnvelope}
	case t == rawBytesType:
		return PayloadType{Type: t, Kind: PayloadBytes}
	case t.Kind() == reflect.Interface:
		return PayloadType{Type: t, Kind: PayloadAny}
	default:
		return PayloadType{Type: t, Kind: PayloadValue}
	}
}
