package codec

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type application struct {
	ID        string    `json:"id" msgpack:"id" cbor:"id"`
	Company   string    `json:"company" msgpack:"company" cbor:"company"`
	AppliedAt time.Time `json:"applied_at" msgpack:"applied_at" cbor:"applied_at"`
}

func roundTrip[V any](t *testing.T, c Codec[V], v V) V {
	t.Helper()
	b, err := c.Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return out
}

func TestValueCodecs(t *testing.T) {
	in := application{ID: "a1", Company: "Acme", AppliedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	codecs := map[string]Codec[application]{
		"json":    JSON[application]{},
		"msgpack": Msgpack[application]{},
		"cbor":    MustCBOR[application](true),
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			out := roundTrip(t, c, in)
			if out.ID != in.ID || out.Company != in.Company || !out.AppliedAt.Equal(in.AppliedAt) {
				t.Fatalf("got %+v want %+v", out, in)
			}
		})
	}
}

func TestDecodeErrorsWrapErrDecode(t *testing.T) {
	codecs := map[string]Codec[application]{
		"json":    JSON[application]{},
		"msgpack": Msgpack[application]{},
		"cbor":    MustCBOR[application](false),
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			if _, err := c.Decode([]byte{0xc1, 0xff}); !errors.Is(err, ErrDecode) {
				t.Fatalf("want ErrDecode, got %v", err)
			}
		})
	}
}

type storeTagged struct {
	ID      string `json:"id"`
	Version uint64 `json:"row_version"`
}

func TestMsgpackFallsBackToJSONTags(t *testing.T) {
	b, err := Msgpack[storeTagged]{}.Encode(storeTagged{ID: "u1", Version: 7})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var m map[string]any
	if err := msgpack.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := m["row_version"]; !ok {
		t.Fatalf("json tag not used as key: %v", m)
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	out := roundTrip[*wrapperspb.StringValue](t, c, wrapperspb.String("offer"))
	if out.GetValue() != "offer" {
		t.Fatalf("got %q", out.GetValue())
	}
}

func TestLimit(t *testing.T) {
	c := Limit[string]{Inner: String{}, Max: 4}
	if _, err := c.Decode([]byte("12345")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("want ErrTooLarge, got %v", err)
	}
	if _, err := c.Encode("12345"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("oversized encode: want ErrTooLarge, got %v", err)
	}
	if v, err := c.Decode([]byte("1234")); err != nil || v != "1234" {
		t.Fatalf("within limit: %q %v", v, err)
	}
	unlimited := Limit[string]{Inner: String{}}
	if _, err := unlimited.Decode([]byte(strings.Repeat("x", 1<<16))); err != nil {
		t.Fatalf("Max=0 must not limit: %v", err)
	}
}

func TestCompressionWrappers(t *testing.T) {
	payload := strings.Repeat("software engineer, backend; ", 200)

	z, err := NewZstd[string](String{})
	if err != nil {
		t.Fatalf("NewZstd: %v", err)
	}
	l := LZ4[string]{Inner: String{}}

	for name, c := range map[string]Codec[string]{"zstd": z, "lz4": l} {
		t.Run(name, func(t *testing.T) {
			b, err := c.Encode(payload)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(b) >= len(payload) {
				t.Fatalf("repetitive payload did not shrink: %d >= %d", len(b), len(payload))
			}
			out, err := c.Decode(b)
			if err != nil || out != payload {
				t.Fatalf("Decode mismatch err=%v", err)
			}
			if _, err := c.Decode([]byte("garbage")); !errors.Is(err, ErrDecode) {
				t.Fatalf("garbage: want ErrDecode, got %v", err)
			}
		})
	}
}
