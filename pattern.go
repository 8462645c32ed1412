package tiercache

import (
	"context"
	"strings"

	"github.com/unkn0wn-root/tiercache/internal/keys"
	pr "github.com/unkn0wn-root/tiercache/provider"
)

// RemoveByPattern invalidates every key matching pattern (Redis glob syntax).
//
//   - Patterns under the feed prefix drop the known page/size keys and never scan.
//   - Item-scoped patterns run the general removal and then drop the first
//     feed pages, since the item may be listed there.
//   - Anything else is enumerated through the remote tier's Scanner. Without one
//     the call logs and does nothing.
//
// A pattern without glob metacharacters is also removed as a literal key.
func (c *Cache) RemoveByPattern(ctx context.Context, pattern string) {
	if pattern == "" {
		return
	}
	feed := c.FeedLayout()
	literal := !strings.ContainsAny(pattern, "*?[")

	if feed.Prefix != "" && strings.HasPrefix(pattern, feed.Prefix) {
		ks := keys.Pages(feed.Prefix, feed.Pages, feed.Sizes)
		if literal {
			ks = append(ks, pattern)
		}
		c.removeKeys(ctx, ks)
		return
	}

	if literal {
		c.removeKeys(ctx, []string{pattern})
	} else {
		c.scanAndRemove(ctx, pattern)
	}

	if keys.HasAnyPrefix(pattern, feed.ItemPrefixes) && feed.Prefix != "" && len(feed.Pages) > 0 {
		c.removeKeys(ctx, keys.Pages(feed.Prefix, feed.Pages[:1], feed.Sizes))
	}
}

func (c *Cache) scanAndRemove(ctx context.Context, pattern string) {
	sc, ok := c.remote.(pr.Scanner)
	if !ok {
		c.metrics.Inc(EventPatternUnsupported)
		c.hooks.PatternUnsupported(pattern)
		c.log.Warn("pattern removal needs key enumeration; remote tier has none", Fields{"pattern": pattern})
		return
	}

	var cursor uint64
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			c.log.Debug("pattern removal interrupted", Fields{"pattern": pattern, "removed": total, "err": err})
			return
		}
		batch, next, err := sc.Scan(ctx, pattern, cursor, c.scanBatch)
		if err != nil {
			c.tierError(TierRemote, "scan", pattern, err)
			return
		}
		if len(batch) > 0 {
			c.removeKeys(ctx, batch)
			total += len(batch)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	c.log.Debug("pattern removed", Fields{"pattern": pattern, "removed": total})
}

// removeKeys bumps generations and deletes ks from both tiers.
func (c *Cache) removeKeys(ctx context.Context, ks []string) {
	if len(ks) == 0 {
		return
	}
	if err := c.gen.BumpMany(ctx, ks); err != nil {
		c.hooks.GenError(ks[0], err)
		c.log.Warn("gen bump error", Fields{"keys": len(ks), "err": err})
	}

	if md, ok := c.remote.(pr.MultiDeleter); ok {
		if err := md.DelMany(ctx, ks...); err != nil {
			c.tierError(TierRemote, "del", ks[0], err)
		}
	} else {
		for _, k := range ks {
			c.del(ctx, TierRemote, k)
		}
	}
	for _, k := range ks {
		c.del(ctx, TierLocal, k)
	}
	c.metrics.Add(EventPatternRemoved, uint64(len(ks)))
}
