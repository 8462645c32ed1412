package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1
	kindLock  byte = 2
)

var (
	ErrCorrupt = errors.New("tiercache: corrupt entry")
	magic4     = [...]byte{'T', 'C', 'H', 'E'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Entry: magic(4) | ver(1) | kind(1=entry) | expiresAt(i64 be, unix nanos, 0=never) | vlen(u32 be) | payload(vlen)
func EncodeEntry(expiresAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(unixNano(expiresAt)))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

func DecodeEntry(b []byte) (expiresAt time.Time, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return time.Time{}, nil, ErrCorrupt
	}
	off := 6

	expiresAt = fromUnixNano(int64(binary.BigEndian.Uint64(b[off : off+8])))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // exact length; trailing bytes are corruption
		return time.Time{}, nil, ErrCorrupt
	}
	return expiresAt, b[off : off+vlen], nil
}

// Lock: magic(4) | ver(1) | kind(2=lock) | expiresAt(i64 be) | ownerLen(u16 be) | owner(ownerLen)
func EncodeLock(owner string, expiresAt time.Time) []byte {
	if l := len(owner); l == 0 || l > 0xFFFF {
		panic("tiercache: invalid lock owner length")
	}
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 2 + len(owner))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindLock)

	var u8 [8]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], uint64(unixNano(expiresAt)))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(owner)))
	buf.Write(u2[:])
	buf.WriteString(owner)
	return buf.Bytes()
}

func DecodeLock(b []byte) (owner string, expiresAt time.Time, err error) {
	const hdr = 4 + 1 + 1 + 8 + 2
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindLock {
		return "", time.Time{}, ErrCorrupt
	}
	off := 6

	expiresAt = fromUnixNano(int64(binary.BigEndian.Uint64(b[off : off+8])))
	off += 8

	olen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if olen == 0 || olen != len(b)-off {
		return "", time.Time{}, ErrCorrupt
	}
	return string(b[off:]), expiresAt, nil
}

// Expired reports whether expiresAt is set and not after now.
func Expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
