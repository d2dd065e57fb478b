// Package namecache keeps user-id to display-name answers for the lifetime
// of the process.
package namecache

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSize = 1000
	UnknownUser = "Unknown User"
)

// Lookup result labels passed to Resolver.Observe.
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultFailure = "failure"
)

// Cache is a bounded, least-recently-used id to name map. It is safe for
// concurrent use.
type Cache struct {
	entries *lru.Cache[string, string]
}

func New(size int) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, string](size)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &Cache{entries: entries}
}

func (c *Cache) Get(id string) (string, bool) {
	return c.entries.Get(id)
}

func (c *Cache) Put(id, name string) {
	c.entries.Add(id, name)
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

// LookupFunc fetches a display name from the directory.
type LookupFunc func(ctx context.Context, userID string) (string, error)

// Resolver answers display names from Cache and falls back to Lookup on a
// miss. Failed lookups resolve to UnknownUser and are cached like any other
// answer, so a broken id is not retried every message.
type Resolver struct {
	Lookup  LookupFunc
	Cache   *Cache
	Observe func(result string)

	group singleflight.Group
}

func NewResolver(lookup LookupFunc, cache *Cache) *Resolver {
	if cache == nil {
		cache = New(DefaultSize)
	}
	return &Resolver{Lookup: lookup, Cache: cache}
}

// DisplayName never fails; it uses a background context for the lookup.
func (r *Resolver) DisplayName(userID string) string {
	return r.Resolve(context.Background(), userID)
}

func (r *Resolver) Resolve(ctx context.Context, userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UnknownUser
	}
	if name, ok := r.Cache.Get(userID); ok {
		r.observe(ResultHit)
		return name
	}

	v, _, _ := r.group.Do(userID, func() (any, error) {
		if name, ok := r.Cache.Get(userID); ok {
			return name, nil
		}
		name := r.fetch(ctx, userID)
		r.Cache.Put(userID, name)
		return name, nil
	})
	return v.(string)
}

func (r *Resolver) fetch(ctx context.Context, userID string) string {
	if r.Lookup == nil {
		r.observe(ResultFailure)
		return UnknownUser
	}
	name, err := r.Lookup(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("name lookup failed")
		r.observe(ResultFailure)
		return UnknownUser
	}
	name = strings.TrimSpace(name)
	if name == "" {
		r.observe(ResultFailure)
		return UnknownUser
	}
	r.observe(ResultMiss)
	return name
}

func (r *Resolver) observe(result string) {
	if r.Observe != nil {
		r.Observe(result)
	}
}
