package cache

import (
	"sync"
	"time"

	"github.com/gmartinelli/pedidos/internal/domain"
	"github.com/gmartinelli/pedidos/internal/metrics"
)

// OrderCache is the single process-wide slot holding the last known
// order set plus its fetch timestamp. Writes replace or merge the whole
// set; there is no per-order granularity. A stale snapshot is still
// served when the backend is offline, trading freshness for
// availability.
type OrderCache struct {
	mu        sync.RWMutex
	orders    []domain.Order
	loaded    bool
	fetchedAt time.Time
	window    time.Duration
}

func New(window time.Duration) *OrderCache {
	return &OrderCache{window: window}
}

// Snapshot returns a deep copy of the cached set and whether a snapshot
// exists at all.
func (c *OrderCache) Snapshot() ([]domain.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return nil, false
	}
	return domain.CloneOrders(c.orders), true
}

// Fresh reports whether the snapshot is inside the staleness window.
func (c *OrderCache) Fresh(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.fetchedAt.IsZero() && now.Sub(c.fetchedAt) <= c.window
}

// Replace swaps in a full snapshot wholesale.
func (c *OrderCache) Replace(orders []domain.Order, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = domain.CloneOrders(orders)
	c.loaded = true
	c.fetchedAt = now
	metrics.OrderCacheItems.Set(float64(len(c.orders)))
}

// MergeActive installs a prioritized (non-terminal) fetch result while
// keeping previously cached terminal orders: a prioritized fetch never
// silently drops a paid order.
func (c *OrderCache) MergeActive(active []domain.Order, now time.Time) []domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := domain.CloneOrders(active)
	seen := make(map[string]struct{}, len(merged))
	for _, o := range merged {
		seen[o.ID] = struct{}{}
	}
	for _, o := range c.orders {
		if _, ok := seen[o.ID]; !ok && o.Status.Terminal() {
			merged = append(merged, o)
		}
	}

	c.orders = merged
	c.loaded = true
	c.fetchedAt = now
	metrics.OrderCacheItems.Set(float64(len(c.orders)))
	return domain.CloneOrders(merged)
}

// Invalidate expires freshness only: the next fetch hits the backend,
// but the snapshot itself stays available for offline reads.
func (c *OrderCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
}

// Upsert optimistically installs one order into the snapshot without
// touching the fetch timestamp.
func (c *OrderCache) Upsert(order domain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.orders {
		if c.orders[i].ID == order.ID {
			c.orders[i] = order.Clone()
			return
		}
	}
	c.orders = append(c.orders, order.Clone())
	metrics.OrderCacheItems.Set(float64(len(c.orders)))
}

// Remove drops one order, used to roll back an optimistic create.
func (c *OrderCache) Remove(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.orders {
		if c.orders[i].ID == orderID {
			c.orders = append(c.orders[:i], c.orders[i+1:]...)
			metrics.OrderCacheItems.Set(float64(len(c.orders)))
			return
		}
	}
}

// Get returns a deep copy of one cached order.
func (c *OrderCache) Get(orderID string) (domain.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.orders {
		if c.orders[i].ID == orderID {
			return c.orders[i].Clone(), true
		}
	}
	return domain.Order{}, false
}

func (c *OrderCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.orders)
}
