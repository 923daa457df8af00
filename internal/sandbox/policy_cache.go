package sandbox

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/observability"
)

// PolicyStore is the read path of the policy repository.
type PolicyStore interface {
	Get(ctx context.Context, tableID string, groupIDs []string) ([]domain.SandboxPolicy, error)
}

type policyEntry struct {
	policy  *domain.SandboxPolicy // nil caches the absence of a policy
	expires time.Time
}

// PolicyCache caches policies per (table, group), including the absence of
// one. Invalidation is write-through: once Invalidate returns, no lookup can
// be served the previous value of the key from this cache.
type PolicyCache struct {
	store   PolicyStore
	ttl     time.Duration
	bus     Bus
	origin  string
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[domain.SandboxPolicyKey]policyEntry
	gens    map[domain.SandboxPolicyKey]uint64
	epoch   uint64
}

// NewPolicyCache creates a PolicyCache. bus and metrics may be nil; a ttl of
// zero disables caching.
func NewPolicyCache(store PolicyStore, ttl time.Duration, bus Bus, metrics *observability.Metrics, logger *slog.Logger) *PolicyCache {
	return &PolicyCache{
		store:   store,
		ttl:     ttl,
		bus:     bus,
		origin:  domain.NewID(),
		metrics: metrics,
		logger:  logger.With("component", "policy-cache"),
		now:     time.Now,
		entries: make(map[domain.SandboxPolicyKey]policyEntry),
		gens:    make(map[domain.SandboxPolicyKey]uint64),
	}
}

// Lookup returns the policies on tableID bound to any of groupIDs, ordered by
// group ID.
func (c *PolicyCache) Lookup(ctx context.Context, tableID string, groupIDs []string) ([]domain.SandboxPolicy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type snapshot struct {
		gen   uint64
		epoch uint64
	}

	var (
		out     []domain.SandboxPolicy
		missing []string
		snaps   = make(map[string]snapshot)
	)
	now := c.now()
	c.mu.Lock()
	for _, g := range groupIDs {
		key := domain.SandboxPolicyKey{TableID: tableID, GroupID: g}
		if e, ok := c.entries[key]; ok && now.Before(e.expires) {
			if e.policy != nil {
				out = append(out, *e.policy)
			}
			continue
		}
		missing = append(missing, g)
		snaps[g] = snapshot{gen: c.gens[key], epoch: c.epoch}
	}
	c.mu.Unlock()

	c.metrics.CacheLookup(observability.CachePolicy, len(missing) == 0)
	if len(missing) > 0 {
		loaded, err := c.store.Get(ctx, tableID, missing)
		if err != nil {
			return nil, err
		}
		byGroup := make(map[string]*domain.SandboxPolicy, len(loaded))
		for i := range loaded {
			byGroup[loaded[i].GroupID] = &loaded[i]
			out = append(out, loaded[i])
		}

		if c.ttl > 0 {
			expires := c.now().Add(c.ttl)
			c.mu.Lock()
			for _, g := range missing {
				key := domain.SandboxPolicyKey{TableID: tableID, GroupID: g}
				// An invalidation since the snapshot means the loaded value may
				// predate the write; leave the key empty.
				if s := snaps[g]; s.gen != c.gens[key] || s.epoch != c.epoch {
					continue
				}
				c.entries[key] = policyEntry{policy: byGroup[g], expires: expires}
			}
			c.mu.Unlock()
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

// Invalidate drops the cached policies of (tableID, groupID) and announces it
// on the bus. Empty IDs act as wildcards.
func (c *PolicyCache) Invalidate(ctx context.Context, tableID, groupID string) error {
	c.invalidateLocal(tableID, groupID)
	c.metrics.PolicyInvalidated("local")
	if c.bus == nil {
		return nil
	}
	return c.bus.Publish(ctx, Invalidation{TableID: tableID, GroupID: groupID, Origin: c.origin})
}

func (c *PolicyCache) invalidateLocal(tableID, groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tableID != "" && groupID != "" {
		key := domain.SandboxPolicyKey{TableID: tableID, GroupID: groupID}
		delete(c.entries, key)
		c.gens[key]++
		return
	}
	for key := range c.entries {
		if (tableID == "" || key.TableID == tableID) && (groupID == "" || key.GroupID == groupID) {
			delete(c.entries, key)
		}
	}
	c.epoch++
}

// Listen applies invalidations published by other instances until ctx is
// done.
func (c *PolicyCache) Listen(ctx context.Context) error {
	if c.bus == nil {
		return nil
	}
	return c.bus.Subscribe(ctx, func(inv Invalidation) {
		if inv.Origin == c.origin {
			return
		}
		c.logger.Debug("remote policy invalidation", "table_id", inv.TableID, "group_id", inv.GroupID)
		c.invalidateLocal(inv.TableID, inv.GroupID)
		c.metrics.PolicyInvalidated("remote")
	})
}

// Len returns the number of cached entries.
func (c *PolicyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
