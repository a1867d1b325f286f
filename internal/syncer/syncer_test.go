package syncer_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmartinelli/pedidos/internal/cache"
	"github.com/gmartinelli/pedidos/internal/domain"
	"github.com/gmartinelli/pedidos/internal/syncer"
)

// fakeGateway serves a fixed order list and counts fetches.
type fakeGateway struct {
	mu      sync.Mutex
	orders  []domain.Order
	err     error
	fetches int
}

func (f *fakeGateway) FetchOrders(_ context.Context, prioritizeActive bool, limit int) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Order, 0, len(f.orders))
	for _, o := range f.orders {
		if prioritizeActive && o.Status.Terminal() {
			continue
		}
		out = append(out, o.Clone())
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeGateway) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeGateway) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeGateway) CreateOrder(context.Context, domain.Order) error { return nil }
func (f *fakeGateway) UpdateOrder(context.Context, domain.Order) error { return nil }
func (f *fakeGateway) DeleteOrder(context.Context, string) error       { return nil }
func (f *fakeGateway) FetchUsers(context.Context) ([]domain.User, error) {
	return domain.BuiltinUsers, nil
}
func (f *fakeGateway) SetWorkingOn(context.Context, string, string) error    { return nil }
func (f *fakeGateway) ClearWorkingOn(context.Context, string, *string) error { return nil }

func order(id string, status domain.Status) domain.Order {
	return domain.Order{ID: id, ClientName: "Acme", Status: status, CreatedAt: time.Now()}
}

func newSyncer(gw *fakeGateway, window, debounce time.Duration) *syncer.Syncer {
	orderCache := cache.New(window)
	return syncer.New(gw, orderCache, zap.NewNop(), syncer.Options{
		ActiveFetchMax: 60,
		FullFetchMax:   200,
		PollInterval:   time.Hour,
		Debounce:       debounce,
	})
}

func TestFetch_CacheWindowShortCircuits(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{orders: []domain.Order{order("o1", domain.StatusEnArmado)}}
	s := newSyncer(gw, time.Minute, time.Millisecond)

	first, err := s.Fetch(ctx, false, true)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, gw.fetchCount())

	second, err := s.Fetch(ctx, false, true)
	require.NoError(t, err)
	assert.Len(t, second, 1)
	assert.Equal(t, 1, gw.fetchCount(), "fresh snapshot is served without a round trip")
}

func TestFetch_ForceBypassesCacheWindow(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{orders: []domain.Order{order("o1", domain.StatusEnArmado)}}
	s := newSyncer(gw, time.Minute, time.Millisecond)

	_, err := s.Fetch(ctx, false, true)
	require.NoError(t, err)
	_, err = s.Fetch(ctx, true, true)
	require.NoError(t, err)
	assert.Equal(t, 2, gw.fetchCount())
}

func TestFetch_PrioritizedMergeKeepsCachedTerminal(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{orders: []domain.Order{
		order("o1", domain.StatusEnArmado),
		order("o2", domain.StatusPagado),
	}}
	s := newSyncer(gw, time.Minute, time.Millisecond)

	// Full fetch seeds the cache with both orders.
	full, err := s.Fetch(ctx, true, false)
	require.NoError(t, err)
	require.Len(t, full, 2)

	// A prioritized fetch only brings back the active order; the paid
	// one must survive from the cache.
	merged, err := s.Fetch(ctx, true, true)
	require.NoError(t, err)
	assert.Len(t, merged, 2)
}

func TestFetch_ServesStaleOnGatewayError(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{orders: []domain.Order{order("o1", domain.StatusEnArmado)}}
	s := newSyncer(gw, time.Minute, time.Millisecond)

	seeded, err := s.Fetch(ctx, true, false)
	require.NoError(t, err)
	require.Len(t, seeded, 1)

	gw.setErr(errors.New("connection refused"))

	stale, err := s.Fetch(ctx, true, true)
	require.NoError(t, err, "last good snapshot hides the outage")
	assert.Len(t, stale, 1)
}

func TestFetch_ServesStaleAfterInvalidation(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{orders: []domain.Order{order("o1", domain.StatusEnArmado)}}
	s := newSyncer(gw, time.Minute, time.Hour)
	defer s.Shutdown()

	seeded, err := s.Fetch(ctx, true, false)
	require.NoError(t, err)
	require.Len(t, seeded, 1)

	// A change notification expires freshness but must not discard the
	// snapshot; if the backend then drops, the stale data is still served.
	s.HandleChange(ctx)
	gw.setErr(errors.New("connection refused"))

	stale, err := s.Fetch(ctx, false, true)
	require.NoError(t, err)
	assert.Len(t, stale, 1)
}

func TestFetch_ErrorWithEmptyCachePropagates(t *testing.T) {
	gw := &fakeGateway{err: errors.New("connection refused")}
	s := newSyncer(gw, time.Minute, time.Millisecond)

	_, err := s.Fetch(context.Background(), true, true)
	assert.Error(t, err)
}

func TestHandleChange_DebounceCoalescesBursts(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{orders: []domain.Order{order("o1", domain.StatusEnArmado)}}
	s := newSyncer(gw, time.Minute, 50*time.Millisecond)
	defer s.Shutdown()

	for i := 0; i < 5; i++ {
		s.HandleChange(ctx)
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return gw.fetchCount() == 1
	}, time.Second, 10*time.Millisecond, "five notifications collapse into one fetch")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, gw.fetchCount())
}

func TestHandleChange_InvokesRefreshObserver(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{orders: []domain.Order{order("o1", domain.StatusEnArmado)}}
	s := newSyncer(gw, time.Minute, 10*time.Millisecond)
	defer s.Shutdown()

	var mu sync.Mutex
	var gotPrev, gotCurr []domain.Order
	called := false
	s.OnRefresh(func(prev, curr []domain.Order) {
		mu.Lock()
		defer mu.Unlock()
		gotPrev, gotCurr = prev, curr
		called = true
	})

	// Seed the cache so the observer sees a real transition.
	_, err := s.Fetch(ctx, true, false)
	require.NoError(t, err)

	gw.mu.Lock()
	gw.orders = append(gw.orders, order("o2", domain.StatusEnArmado))
	gw.mu.Unlock()

	s.HandleChange(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return called
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, gotPrev, 1)
	assert.Len(t, gotCurr, 2)
}

func TestOnRefresh_RegistrationAfterChangeIsSeen(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{orders: []domain.Order{order("o1", domain.StatusEnArmado)}}
	s := newSyncer(gw, time.Minute, 30*time.Millisecond)
	defer s.Shutdown()

	_, err := s.Fetch(ctx, true, false)
	require.NoError(t, err)

	// A notification can land before the observer is wired up; an
	// observer registered while the re-fetch is pending still fires.
	s.HandleChange(ctx)

	var called atomic.Bool
	s.OnRefresh(func(prev, curr []domain.Order) {
		called.Store(true)
	})

	require.Eventually(t, called.Load, time.Second, 10*time.Millisecond)
}

func TestRunPolling_StopsOnShutdown(t *testing.T) {
	gw := &fakeGateway{}
	s := newSyncer(gw, time.Minute, time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.RunPolling(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("polling loop did not stop")
	}
}
