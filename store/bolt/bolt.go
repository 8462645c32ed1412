// Package bolt is a bbolt-backed store.Context. Each collection is one bucket;
// a record is the 8-byte big-endian row version followed by the codec payload.
package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/store"
)

var errCorruptRecord = errors.New("bolt: corrupt record")

type Options struct {
	// Timeout bounds waiting for the file lock at Open; 0 => 1s.
	Timeout time.Duration
	// NoSync skips fsync per commit (tests, scratch data).
	NoSync bool
	// Pools sizes the per-role session pools; nil => store defaults.
	Pools map[store.Role]int64
	// Logger; nil disables logging.
	Logger tiercache.Logger
}

// DB is an open bbolt file plus the role pools shared by its collections.
type DB struct {
	bolt  *bbolt.DB
	pools *store.Pools
	log   tiercache.Logger
}

func Open(path string, opts Options) (*DB, error) {
	pools, err := store.NewPools(opts.Pools)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout, NoSync: opts.NoSync})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}
	log := tiercache.WithFields(opts.Logger, tiercache.Fields{"store": filepath.Base(path)})
	return &DB{bolt: bdb, pools: pools, log: log}, nil
}

func (d *DB) Pools() *store.Pools { return d.pools }

// Path returns the backing file.
func (d *DB) Path() string { return d.bolt.Path() }

func (d *DB) Close() error { return d.bolt.Close() }

func encodeRecord(version uint64, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(out, version)
	copy(out[8:], payload)
	return out
}

func decodeRecord(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, errCorruptRecord
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], nil
}
