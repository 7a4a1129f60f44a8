// Package codec turns payload values into message bodies and back. Plain Go
// values use JSON (bytedance/sonic in encoding/json compatible mode); protobuf
// messages use protojson so both sides agree on field naming.
package codec

import (
	"errors"
	"io"
	"reflect"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/tagflow/internal/runtime/errors"
)

var (
	defaultConfig = sonic.ConfigStd

	protoMarshalOptions = protojson.MarshalOptions{
		EmitUnpopulated: true,
	}
	protoUnmarshalOptions = protojson.UnmarshalOptions{
		DiscardUnknown: true,
	}

	bytesType        = reflect.TypeOf([]byte(nil))
	protoMessageType = reflect.TypeOf((*proto.Message)(nil)).Elem()

	errNilType   = errors.New("target type is nil")
	errEmptyBody = errors.New("body is empty")
)

var nullBody = []byte("null")

// Encode serialises v into UTF-8 JSON. A []byte value is returned as is and
// a nil payload encodes as null.
func Encode(v any) ([]byte, error) {
	switch payload := v.(type) {
	case nil:
		return append([]byte(nil), nullBody...), nil
	case []byte:
		return payload, nil
	case proto.Message:
		return protoMarshalOptions.Marshal(payload)
	}
	return defaultConfig.Marshal(v)
}

// Decode parses data into a new value of type t. Pointer types yield a freshly
// allocated pointer, value types yield the value itself. Failures are returned
// as *errors.DecodeError.
func Decode(data []byte, t reflect.Type) (any, error) {
	if t == nil {
		return nil, &errspkg.DecodeError{Err: errNilType}
	}
	if t == bytesType {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	if len(data) == 0 {
		return nil, &errspkg.DecodeError{Type: t, Err: errEmptyBody}
	}

	if t.Kind() == reflect.Pointer && t.Implements(protoMessageType) {
		msg := reflect.New(t.Elem()).Interface().(proto.Message)
		if err := protoUnmarshalOptions.Unmarshal(data, msg); err != nil {
			return nil, &errspkg.DecodeError{Type: t, Err: err}
		}
		return msg, nil
	}

	if t.Kind() == reflect.Pointer {
		target := reflect.New(t.Elem())
		if err := defaultConfig.Unmarshal(data, target.Interface()); err != nil {
			return nil, &errspkg.DecodeError{Type: t, Err: err}
		}
		return target.Interface(), nil
	}

	target := reflect.New(t)
	if err := defaultConfig.Unmarshal(data, target.Interface()); err != nil {
		return nil, &errspkg.DecodeError{Type: t, Err: err}
	}
	return target.Elem().Interface(), nil
}

// DecodeAs is the typed form of Decode.
func DecodeAs[T any](data []byte) (T, error) {
	var zero T
	v, err := Decode(data, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &errspkg.DecodeError{Type: reflect.TypeFor[T](), Err: errors.New("decoded value has unexpected type")}
	}
	return typed, nil
}

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// EncodeTo writes v to w as a single JSON document.
func EncodeTo(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

// DecodeFrom reads one JSON document from r into v.
func DecodeFrom(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}
