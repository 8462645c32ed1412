package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/store"
)

type bulkMode uint8

const (
	bulkInsert bulkMode = iota
	bulkUpdate
	bulkUpsert
)

func (m bulkMode) String() string {
	switch m {
	case bulkInsert:
		return "insert"
	case bulkUpdate:
		return "update"
	default:
		return "insert_or_update"
	}
}

type tracked[E store.Entity] struct {
	e       E
	orig    []byte
	version uint64
}

type pending[E store.Entity] struct {
	e      E
	expect uint64
}

// session stages Save calls until Commit and runs version checks inside one
// bbolt update. Bulk writes go straight into a write transaction opened on
// first use, so Rollback undoes them.
type session[E store.Entity] struct {
	c       *Collection[E]
	release func()

	tracking bool
	tracked  map[string]*tracked[E]
	staged   []pending[E]
	stagedAt map[string]int

	tx *bbolt.Tx
	// version updates to apply to caller entities once the tx commits
	bumps []func()
	done  bool
}

var _ store.Session[store.Entity] = (*session[store.Entity])(nil)

func newSession[E store.Entity](c *Collection[E], release func()) *session[E] {
	return &session[E]{
		c:        c,
		release:  release,
		tracking: true,
		tracked:  make(map[string]*tracked[E]),
		stagedAt: make(map[string]int),
	}
}

func (s *session[E]) SetChangeTracking(on bool) { s.tracking = on }
func (s *session[E]) ChangeTracking() bool      { return s.tracking }

func (s *session[E]) Discard() {
	clear(s.tracked)
	clear(s.stagedAt)
	s.staged = s.staged[:0]
}

func (s *session[E]) FindOne(ctx context.Context, pred store.Predicate[E]) (E, error) {
	var zero E
	if s.done {
		return zero, store.ErrSessionDone
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	var (
		found E
		orig  []byte
		hit   bool
	)
	scan := func(tx *bbolt.Tx) error {
		cur := tx.Bucket(s.c.bucket).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			e, payload, err := s.c.decode(v)
			if err != nil {
				return err
			}
			if pred(e) {
				found, orig, hit = e, payload, true
				return nil
			}
		}
		return nil
	}

	var err error
	if s.tx != nil {
		err = scan(s.tx)
	} else {
		err = s.c.db.bolt.View(scan)
	}
	if err != nil {
		return zero, err
	}
	if !hit {
		return zero, fmt.Errorf("%w in %s", store.ErrNotFound, s.c.name)
	}
	if s.tracking {
		s.tracked[found.EntityID()] = &tracked[E]{e: found, orig: orig, version: found.RowVersion()}
	}
	return found, nil
}

func (s *session[E]) Save(ctx context.Context, e E) error {
	if s.done {
		return store.ErrSessionDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p := pending[E]{e: e, expect: e.RowVersion()}
	if i, ok := s.stagedAt[e.EntityID()]; ok {
		s.staged[i] = p
		return nil
	}
	s.stagedAt[e.EntityID()] = len(s.staged)
	s.staged = append(s.staged, p)
	return nil
}

// writes returns staged entities followed by tracked ones that changed since load.
func (s *session[E]) writes() ([]pending[E], error) {
	out := append([]pending[E](nil), s.staged...)
	for id, t := range s.tracked {
		if _, ok := s.stagedAt[id]; ok {
			continue
		}
		cur, err := s.c.codec.Encode(t.e)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(cur, t.orig) {
			out = append(out, pending[E]{e: t.e, expect: t.version})
		}
	}
	return out, nil
}

func (s *session[E]) Commit(ctx context.Context) error {
	if s.done {
		return store.ErrSessionDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ws, err := s.writes()
	if err != nil {
		return err
	}

	bumps := s.bumps
	apply := func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.c.bucket)
		for _, w := range ws {
			payload, err := s.c.codec.Encode(w.e)
			if err != nil {
				return err
			}
			next, err := putChecked(b, w.e.EntityID(), payload, w.expect)
			if err != nil {
				return err
			}
			bumps = append(bumps, func() { w.e.SetRowVersion(next) })
		}
		return nil
	}

	if s.tx != nil {
		tx := s.tx
		s.tx = nil
		if err = apply(tx); err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	} else {
		err = s.c.db.bolt.Update(apply)
	}
	s.finish()

	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.c.db.log.Debug("commit rejected: row version changed", tiercache.Fields{"store": s.c.name, "err": err})
		}
		return err
	}
	for _, f := range bumps {
		f()
	}
	return nil
}

func (s *session[E]) Rollback(context.Context) error {
	if s.done {
		return nil
	}
	var err error
	if s.tx != nil {
		err = s.tx.Rollback()
		s.tx = nil
	}
	s.finish()
	return err
}

func (s *session[E]) finish() {
	s.done = true
	s.bumps = nil
	s.Discard()
	s.release()
}

func (s *session[E]) BulkInsert(ctx context.Context, es []E, cfg store.BulkConfig) error {
	return s.bulk(ctx, bulkInsert, es, cfg)
}

func (s *session[E]) BulkUpdate(ctx context.Context, es []E, cfg store.BulkConfig) error {
	return s.bulk(ctx, bulkUpdate, es, cfg)
}

func (s *session[E]) BulkInsertOrUpdate(ctx context.Context, es []E, cfg store.BulkConfig) error {
	return s.bulk(ctx, bulkUpsert, es, cfg)
}

// bulk writes es in BatchSize slices into the session's write transaction.
// Row versions are not checked; existing rows are overwritten with version+1.
func (s *session[E]) bulk(ctx context.Context, mode bulkMode, es []E, cfg store.BulkConfig) error {
	if s.done {
		return store.ErrSessionDone
	}
	cfg = cfg.WithDefaults()
	deadline := time.Now().Add(cfg.Timeout)

	if s.tx == nil {
		tx, err := s.c.db.bolt.Begin(true)
		if err != nil {
			return fmt.Errorf("bolt: begin bulk %s: %w", mode, err)
		}
		s.tx = tx
	}
	b := s.tx.Bucket(s.c.bucket)

	for off := 0; off < len(es); off += cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("bolt: bulk %s exceeded %s at offset %d: %w", mode, cfg.Timeout, off, context.DeadlineExceeded)
		}
		end := min(off+cfg.BatchSize, len(es))
		for _, e := range es[off:end] {
			if err := s.bulkPut(b, mode, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *session[E]) bulkPut(b *bbolt.Bucket, mode bulkMode, e E) error {
	id := e.EntityID()
	var next uint64 = 1
	if raw := b.Get([]byte(id)); raw != nil {
		if mode == bulkInsert {
			return fmt.Errorf("%w: %s/%s", store.ErrDuplicate, s.c.name, id)
		}
		ver, _, err := decodeRecord(raw)
		if err != nil {
			return fmt.Errorf("%w: %s/%s", err, s.c.name, id)
		}
		next = ver + 1
	} else if mode == bulkUpdate {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, s.c.name, id)
	}

	payload, err := s.c.codec.Encode(e)
	if err != nil {
		return err
	}
	if err := b.Put([]byte(id), encodeRecord(next, payload)); err != nil {
		return err
	}
	s.bumps = append(s.bumps, func() { e.SetRowVersion(next) })
	if s.tracking {
		s.tracked[id] = &tracked[E]{e: e, orig: payload, version: next}
	}
	return nil
}

// putChecked writes payload if the stored version equals expect (0 = absent)
// and returns the new version.
func putChecked(b *bbolt.Bucket, id string, payload []byte, expect uint64) (uint64, error) {
	raw := b.Get([]byte(id))
	switch {
	case raw == nil && expect != 0:
		return 0, fmt.Errorf("%w: %s deleted (expected version %d)", store.ErrConflict, id, expect)
	case raw != nil:
		cur, _, err := decodeRecord(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", err, id)
		}
		if cur != expect {
			return 0, fmt.Errorf("%w: %s at version %d, expected %d", store.ErrConflict, id, cur, expect)
		}
	}
	next := expect + 1
	return next, b.Put([]byte(id), encodeRecord(next, payload))
}
