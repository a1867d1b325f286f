package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gmartinelli/pedidos/internal/cache"
	"github.com/gmartinelli/pedidos/internal/domain"
	"github.com/gmartinelli/pedidos/internal/gateway"
	"github.com/gmartinelli/pedidos/internal/metrics"
)

type Options struct {
	ActiveFetchMax int
	FullFetchMax   int
	PollInterval   time.Duration
	Debounce       time.Duration
}

// Syncer reconciles the local snapshot cache against the backend: cache-
// windowed fetches, notification-triggered re-fetches (debounced), and a
// fallback poll loop for the local backend that has no push channel.
type Syncer struct {
	gw      gateway.Gateway
	cache   *cache.OrderCache
	logger  *zap.Logger
	options Options

	// onRefresh observes background cache transitions (prev, curr).
	// Guarded because registration may race a notification arriving
	// right after startup.
	observerMu sync.RWMutex
	onRefresh  func(prev, curr []domain.Order)

	inFlight atomic.Bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	wg             sync.WaitGroup
	shutdownSignal chan struct{}
	stopOnce       sync.Once
}

func New(gw gateway.Gateway, orderCache *cache.OrderCache, logger *zap.Logger, options Options) *Syncer {
	return &Syncer{
		gw:             gw,
		cache:          orderCache,
		logger:         logger,
		options:        options,
		shutdownSignal: make(chan struct{}),
	}
}

// OnRefresh registers the observer invoked after each background
// re-fetch with the snapshot before and after.
func (s *Syncer) OnRefresh(fn func(prev, curr []domain.Order)) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.onRefresh = fn
}

// Fetch is the two-phase fetch protocol. Without force a snapshot inside
// the cache window is served as-is. A prioritized fetch queries only
// non-terminal orders and merges with cached terminal orders; a full
// fetch replaces the cache wholesale. When the backend is unreachable
// the last successful snapshot is served indefinitely.
func (s *Syncer) Fetch(ctx context.Context, force, prioritizeActive bool) ([]domain.Order, error) {
	now := time.Now().UTC()

	if !force && s.cache.Fresh(now) {
		if snapshot, ok := s.cache.Snapshot(); ok {
			metrics.FetchesTotal.WithLabelValues("cached").Inc()
			return snapshot, nil
		}
	}

	if prioritizeActive {
		active, err := s.gw.FetchOrders(ctx, true, s.options.ActiveFetchMax)
		if err != nil {
			return s.serveStale(err)
		}
		metrics.FetchesTotal.WithLabelValues("prioritized").Inc()
		return s.cache.MergeActive(active, now), nil
	}

	orders, err := s.gw.FetchOrders(ctx, false, s.options.FullFetchMax)
	if err != nil {
		return s.serveStale(err)
	}
	metrics.FetchesTotal.WithLabelValues("full").Inc()
	s.cache.Replace(orders, now)
	return orders, nil
}

func (s *Syncer) serveStale(err error) ([]domain.Order, error) {
	if snapshot, ok := s.cache.Snapshot(); ok {
		s.logger.Warn("backend unreachable, serving stale snapshot", zap.Error(err))
		metrics.OperationErrorsTotal.WithLabelValues("fetch").Inc()
		return snapshot, nil
	}
	return nil, err
}

// HandleChange reacts to one opaque row-level change notification: the
// cache is invalidated immediately and a re-fetch is scheduled on the
// trailing edge of the debounce window, so a burst of notifications
// coalesces into a single round trip.
func (s *Syncer) HandleChange(ctx context.Context) {
	s.cache.Invalidate()

	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.options.Debounce, func() {
		s.refresh(ctx)
	})
}

// refresh runs one background prioritized fetch. Overlapping refreshes
// are skipped; the contract is that the cache converges, not which
// in-flight write wins.
func (s *Syncer) refresh(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.inFlight.Store(false)

	prev, _ := s.cache.Snapshot()
	curr, err := s.Fetch(ctx, true, true)
	if err != nil {
		s.logger.Warn("background refresh failed", zap.Error(err))
		return
	}

	s.observerMu.RLock()
	observer := s.onRefresh
	s.observerMu.RUnlock()
	if observer != nil {
		observer(prev, curr)
	}
}

// RunPolling is the fallback loop for backends without a push channel:
// a periodic re-fetch until shutdown. Must be cancelled on teardown.
func (s *Syncer) RunPolling(ctx context.Context) {
	s.logger.Info("starting fallback polling loop",
		zap.Duration("interval", s.options.PollInterval))
	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(s.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.refresh(ctx)
		case <-s.shutdownSignal:
			s.logger.Info("polling loop received shutdown signal, stopping")
			return
		case <-ctx.Done():
			s.logger.Info("polling loop context cancelled, stopping")
			return
		}
	}
}

// Shutdown stops the poll loop and pending debounce work.
func (s *Syncer) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.shutdownSignal)

		s.debounceMu.Lock()
		if s.debounceTimer != nil {
			s.debounceTimer.Stop()
		}
		s.debounceMu.Unlock()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			s.logger.Warn("syncer shutdown timed out")
		}
	})
}
