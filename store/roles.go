package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Role picks the connection pool a session draws from. Bulk writes get their
// own pool so a large import cannot starve ordinary requests.
type Role uint8

const (
	RoleDefault Role = iota
	RoleBulkWrite

	numRoles
)

func (r Role) String() string {
	switch r {
	case RoleDefault:
		return "default"
	case RoleBulkWrite:
		return "bulk_write"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func (r Role) valid() bool { return r < numRoles }

// ParseRole accepts the names produced by Role.String.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "default", "":
		return RoleDefault, nil
	case "bulk_write", "bulk":
		return RoleBulkWrite, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

const (
	DefaultPoolSize     = 16
	DefaultBulkPoolSize = 2
)

// Pools bounds concurrent sessions per role.
type Pools struct {
	sems [numRoles]*semaphore.Weighted
	size [numRoles]int64
}

// NewPools sizes each role's pool; missing or non-positive sizes take the
// defaults. Sizes for unknown roles are rejected.
func NewPools(sizes map[Role]int64) (*Pools, error) {
	p := &Pools{}
	p.size[RoleDefault] = DefaultPoolSize
	p.size[RoleBulkWrite] = DefaultBulkPoolSize
	for r, n := range sizes {
		if !r.valid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, r)
		}
		if n > 0 {
			p.size[r] = n
		}
	}
	for r := range p.sems {
		p.sems[r] = semaphore.NewWeighted(p.size[r])
	}
	return p, nil
}

// Size returns the capacity of role's pool.
func (p *Pools) Size(r Role) int64 {
	if !r.valid() {
		return 0
	}
	return p.size[r]
}

// Acquire blocks until role has a free slot or ctx ends. The returned release
// func is idempotent.
func (p *Pools) Acquire(ctx context.Context, r Role) (func(), error) {
	if !r.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, r)
	}
	sem := p.sems[r]
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("store: acquire %s connection: %w", r, err)
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}
