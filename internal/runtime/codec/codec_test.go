package codec

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/drblury/tagflow/internal/runtime/errors"
)

type orderCreated struct {
	ID       string   `json:"id"`
	Amount   int64    `json:"amount"`
	Items    []string `json:"items"`
	Priority bool     `json:"priority"`
}

func TestEncodeDecodeRoundTripValue(t *testing.T) {
	in := orderCreated{ID: "o-1", Amount: 1250, Items: []string{"book", "pen"}, Priority: true}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !strings.Contains(string(data), `"id":"o-1"`) {
		t.Fatalf("expected JSON body, got %s", data)
	}

	out, err := Decode(data, reflect.TypeOf(in))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("round trip mismatch: %#v != %#v", out, in)
	}
}

func TestEncodeDecodeRoundTripPointer(t *testing.T) {
	in := &orderCreated{ID: "o-2", Amount: 7}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := DecodeAs[*orderCreated](data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out == in {
		t.Fatal("expected a freshly allocated pointer")
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("round trip mismatch: %#v != %#v", out, in)
	}
}

func TestEncodeDecodeRoundTripMap(t *testing.T) {
	in := map[string]int{"a": 1, "b": 2}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := DecodeAs[map[string]int](data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("round trip mismatch: %#v", out)
	}
}

func TestEncodeDecodeProto(t *testing.T) {
	in, err := structpb.NewStruct(map[string]any{"order": "o-3", "total": 12.5})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := DecodeAs[*structpb.Struct](data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !proto.Equal(in, out) {
		t.Fatalf("round trip mismatch: %v != %v", in, out)
	}
}

func TestEncodeBytesPassThrough(t *testing.T) {
	raw := []byte("already-serialised")
	data, err := Encode(raw)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !bytes.Equal(data, raw) {
		t.Fatalf("expected raw bytes, got %q", data)
	}

	out, err := DecodeAs[[]byte](data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Fatalf("expected raw bytes back, got %q", out)
	}
}

func TestEncodeNilIsNull(t *testing.T) {
	data, err := Encode(nil)
	if err != nil {
		t.Fatalf("encode nil: %v", err)
	}
	if string(data) != "null" {
		t.Fatalf("Encode(nil) = %q, want null", data)
	}
}

func TestDecodeInvalidDataReturnsDecodeError(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		typ  reflect.Type
	}{
		{"garbage into struct", []byte("{not json"), reflect.TypeOf(orderCreated{})},
		{"empty body", nil, reflect.TypeOf(orderCreated{})},
		{"wrong shape", []byte(`"a string"`), reflect.TypeOf(&orderCreated{})},
		{"bad proto", []byte(`[1,2]`), reflect.TypeOf(&structpb.Struct{})},
		{"nil type", []byte(`{}`), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, tt.typ)
			if err == nil {
				t.Fatal("expected error")
			}
			var decodeErr *errspkg.DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected DecodeError, got %T", err)
			}
			if decodeErr.Type != tt.typ {
				t.Fatalf("expected type %v, got %v", tt.typ, decodeErr.Type)
			}
		})
	}
}

func TestMarshalIndentAndStreams(t *testing.T) {
	in := orderCreated{ID: "o-4"}
	indented, err := MarshalIndent(in, "", "  ")
	if err != nil {
		t.Fatalf("marshal indent failed: %v", err)
	}
	if !strings.Contains(string(indented), "\n  \"id\"") {
		t.Fatalf("expected indented output, got %s", indented)
	}

	buf := &bytes.Buffer{}
	if err := EncodeTo(buf, in); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var decoded orderCreated
	if err := DecodeFrom(buf, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.ID != "o-4" {
		t.Fatalf("unexpected decoded value %#v", decoded)
	}

	raw, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var again orderCreated
	if err := Unmarshal(raw, &again); err != nil || again.ID != "o-4" {
		t.Fatalf("unmarshal failed: %v %#v", err, again)
	}
}
