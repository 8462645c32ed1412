package bolt

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/store"
)

// Collection stores entities of type E in one bucket.
type Collection[E store.Entity] struct {
	db     *DB
	name   string
	bucket []byte
	codec  codec.Codec[E]
}

var _ store.Context[store.Entity] = (*Collection[store.Entity])(nil)

// NewCollection creates the bucket if needed. A nil codec means JSON.
func NewCollection[E store.Entity](db *DB, name string, cd codec.Codec[E]) (*Collection[E], error) {
	if name == "" {
		return nil, fmt.Errorf("bolt: collection name is required")
	}
	if cd == nil {
		cd = codec.JSON[E]{}
	}
	c := &Collection[E]{db: db, name: name, bucket: []byte(name), codec: cd}
	err := db.bolt.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(c.bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: create bucket %q: %w", name, err)
	}
	return c, nil
}

func (c *Collection[E]) Name() string { return c.name }

// Begin waits for a slot in role's pool. The slot is returned when the session
// commits or rolls back.
func (c *Collection[E]) Begin(ctx context.Context, role store.Role) (store.Session[E], error) {
	release, err := c.db.pools.Acquire(ctx, role)
	if err != nil {
		return nil, err
	}
	return newSession(c, release), nil
}

// Get reads one entity outside any session.
func (c *Collection[E]) Get(id string) (E, error) {
	var out E
	err := c.db.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(c.bucket).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %s/%s", store.ErrNotFound, c.name, id)
		}
		e, _, err := c.decode(raw)
		out = e
		return err
	})
	return out, err
}

// Len counts stored entities.
func (c *Collection[E]) Len() (int, error) {
	n := 0
	err := c.db.bolt.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(c.bucket).Stats().KeyN
		return nil
	})
	return n, err
}

// decode returns the entity with its stored version applied, plus a copy of the payload.
func (c *Collection[E]) decode(raw []byte) (E, []byte, error) {
	var zero E
	ver, payload, err := decodeRecord(raw)
	if err != nil {
		return zero, nil, err
	}
	e, err := c.codec.Decode(payload)
	if err != nil {
		return zero, nil, fmt.Errorf("bolt: decode %s record: %w", c.name, err)
	}
	e.SetRowVersion(ver)
	return e, append([]byte(nil), payload...), nil
}
