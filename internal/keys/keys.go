package keys

import (
	"strconv"
	"strings"
)

const (
	lockPrefix   = "lock:"
	flightPrefix = "getorset:"
)

// Lock returns the storage key that guards resource.
func Lock(resource string) string { return lockPrefix + resource }

// Flight returns the lock resource used for cross-process getOrSet.
func Flight(key string) string { return flightPrefix + key }

// Page returns the key of one page of a paginated listing.
// Layout: <prefix>page:<page>:size:<size>
func Page(prefix string, page, size int) string {
	var b strings.Builder
	b.Grow(len(prefix) + 16)
	b.WriteString(prefix)
	b.WriteString("page:")
	b.WriteString(strconv.Itoa(page))
	b.WriteString(":size:")
	b.WriteString(strconv.Itoa(size))
	return b.String()
}

// Pages returns every page/size combination in order: pages outer, sizes inner.
func Pages(prefix string, pages, sizes []int) []string {
	out := make([]string, 0, len(pages)*len(sizes))
	for _, p := range pages {
		for _, s := range sizes {
			out = append(out, Page(prefix, p, s))
		}
	}
	return out
}

// HasAnyPrefix reports whether s starts with one of prefixes (empty prefixes ignored).
func HasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// ContainsAny reports whether s contains one of markers (empty markers ignored).
func ContainsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}
