// Package codec converts typed values to the bytes stored by tiercache.
//
// Value codecs (JSON, Msgpack, CBOR, Protobuf, Bytes, String) turn a V into a
// payload. Wrappers (Limit, Zstd, LZ4) decorate another codec and stack like
// any other Codec[V].
package codec

import (
	"errors"
	"fmt"
)

type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

var (
	// ErrDecode wraps every payload that could not be turned back into a value.
	ErrDecode = errors.New("codec: decode")
	// ErrTooLarge is returned (wrapped) when a payload exceeds a Limit.
	ErrTooLarge = errors.New("codec: payload too large")
)

func decodeErr(format string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDecode, format, err)
}
