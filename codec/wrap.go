package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Limit rejects payloads over Max bytes in both directions: values too big to
// encode are never written, and oversized entries written by another service
// cannot balloon a reader's memory. Max <= 0 disables the check.
type Limit[V any] struct {
	Inner Codec[V]
	Max   int
}

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.Max > 0 && len(b) > c.Max {
		return nil, fmt.Errorf("%w: encoded %d > %d", ErrTooLarge, len(b), c.Max)
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.Max > 0 && len(b) > c.Max {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.Max)
	}
	return c.Inner.Decode(b)
}

// Zstd compresses the output of Inner. Worth it for large listing payloads
// that travel to the distributed tier; small values only pay the frame overhead.
// Construct with NewZstd; encoders are shared and safe for concurrent use.
type Zstd[V any] struct {
	Inner Codec[V]
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

func NewZstd[V any](inner Codec[V]) (*Zstd[V], error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, err
	}
	return &Zstd[V]{Inner: inner, enc: enc, dec: dec}, nil
}

func (c *Zstd[V]) Encode(v V) ([]byte, error) {
	raw, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *Zstd[V]) Decode(b []byte) (V, error) {
	raw, err := c.dec.DecodeAll(b, nil)
	if err != nil {
		var zero V
		return zero, decodeErr("zstd", err)
	}
	return c.Inner.Decode(raw)
}

// LZ4 trades ratio for speed compared to Zstd. The zero value (with Inner set) is ready to use.
type LZ4[V any] struct {
	Inner Codec[V]
}

var lz4Writers = sync.Pool{New: func() any { return lz4.NewWriter(nil) }}

func (c LZ4[V]) Encode(v V) ([]byte, error) {
	raw, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := lz4Writers.Get().(*lz4.Writer)
	defer lz4Writers.Put(w)
	w.Reset(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c LZ4[V]) Decode(b []byte) (V, error) {
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(b)))
	if err != nil {
		var zero V
		return zero, decodeErr("lz4", err)
	}
	return c.Inner.Decode(raw)
}
