// Package cache holds the read-through cache for listing reads and the
// invalidation sink the lifecycle manager notifies after each transition.
//
// Invalidation is best-effort: a missed call only leaves an entry stale until
// its TTL runs out.
package cache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/OneOfOne/xxhash"
)

// Invalidator is the narrow contract the lifecycle core depends on.
type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
	InvalidatePattern(ctx context.Context, glob string) error
}

// Store is an Invalidator that also serves cached reads. Get reports a miss
// with ok=false and a nil error.
type Store interface {
	Invalidator
	Get(ctx context.Context, key string) (val string, ok bool, err error)
	Set(ctx context.Context, key, val string) error
}

const SearchPattern = "search:*"

func ListingKey(id string) string { return "listing:" + id }

// SearchKey derives a stable key for one page of search results.
func SearchKey(q, categoryID string, page int) string {
	sum := xxhash.ChecksumString64(q + "\x00" + categoryID + "\x00" + strconv.Itoa(page))
	return fmt.Sprintf("search:%016x", sum)
}
