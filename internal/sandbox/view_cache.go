package sandbox

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/observability"
	"duck-sandbox/internal/sqlbuild"
)

type viewKey struct {
	viewID   string
	revision int64
	sources  string
	schema   string
}

func (k viewKey) String() string {
	return k.viewID + "@" + strconv.FormatInt(k.revision, 10) + "[" + k.sources + "]/" + k.schema
}

// sourceRevisions renders the revisions of the cards a view reads, in the
// order given.
func sourceRevisions(sources []*domain.Card) string {
	parts := make([]string, len(sources))
	for i, c := range sources {
		parts[i] = c.ID + "@" + strconv.FormatInt(c.Revision, 10)
	}
	return strings.Join(parts, ",")
}

// ViewCache keeps compiled custom views keyed by (view id, view revision,
// revisions of the cards the view reads, schema version). Concurrent misses
// for one key share a single compile.
type ViewCache struct {
	mu      sync.Mutex
	entries map[viewKey]*CompiledView
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewViewCache creates an empty ViewCache. metrics may be nil.
func NewViewCache(metrics *observability.Metrics) *ViewCache {
	return &ViewCache{entries: make(map[viewKey]*CompiledView), metrics: metrics}
}

// Get returns the compiled view of card, running compile on a miss. sources
// are the cards the view reads through card sources, as returned by
// domain.CardDependencies. The compile itself is not cancelled when one
// waiter gives up; the waiter returns as soon as ctx is done.
func (c *ViewCache) Get(ctx context.Context, card *domain.Card, sources []*domain.Card, schemaVersion string,
	compile func(context.Context) (*sqlbuild.Compiled, error)) (*CompiledView, error) {
	key := viewKey{viewID: card.ID, revision: card.Revision, sources: sourceRevisions(sources), schema: schemaVersion}

	c.mu.Lock()
	v, ok := c.entries[key]
	c.mu.Unlock()
	c.metrics.CacheLookup(observability.CacheView, ok)
	if ok {
		return v, nil
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		compiled, err := compile(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		view := &CompiledView{
			ViewID:        key.viewID,
			Revision:      key.revision,
			Sources:       key.sources,
			SchemaVersion: key.schema,
			SQL:           compiled.SQL,
			Args:          compiled.Args,
			Columns:       compiled.Columns,
		}
		c.mu.Lock()
		// Older compilations of the view are never read again.
		for k := range c.entries {
			if k.viewID == key.viewID {
				delete(c.entries, k)
			}
		}
		c.entries[key] = view
		c.mu.Unlock()
		return view, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*CompiledView), nil
	}
}

// InvalidateView drops every cached compilation of viewID.
func (c *ViewCache) InvalidateView(viewID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.viewID == viewID {
			delete(c.entries, k)
		}
	}
}

// Purge drops every cached compilation.
func (c *ViewCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of cached compilations.
func (c *ViewCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
