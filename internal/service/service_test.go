package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmartinelli/pedidos/internal/bus"
	"github.com/gmartinelli/pedidos/internal/cache"
	"github.com/gmartinelli/pedidos/internal/domain"
	"github.com/gmartinelli/pedidos/internal/gateway"
	"github.com/gmartinelli/pedidos/internal/pipeline"
	"github.com/gmartinelli/pedidos/internal/service"
	"github.com/gmartinelli/pedidos/internal/syncer"
)

var (
	coordinadora = domain.User{ID: "u-carolina", Name: "Carolina", Role: domain.RoleCoordinador}
	armador      = domain.User{ID: "u-diego", Name: "Diego", Role: domain.RoleArmador}
)

// fakeGateway is an in-memory backend with injectable failures and call
// counters.
type fakeGateway struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	fail    map[string]error
	updates int
	claims  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		orders: make(map[string]domain.Order),
		fail:   make(map[string]error),
	}
}

func (f *fakeGateway) failNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *fakeGateway) takeFailure(op string) error {
	if err, ok := f.fail[op]; ok {
		delete(f.fail, op)
		return err
	}
	return nil
}

func (f *fakeGateway) FetchOrders(_ context.Context, prioritizeActive bool, _ int) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("fetch"); err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(f.orders))
	for _, o := range f.orders {
		if prioritizeActive && o.Status.Terminal() {
			continue
		}
		out = append(out, o.Clone())
	}
	return out, nil
}

func (f *fakeGateway) CreateOrder(_ context.Context, order domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("create"); err != nil {
		return err
	}
	if _, ok := f.orders[order.ID]; ok {
		return gateway.ErrOrderExists
	}
	f.orders[order.ID] = order.Clone()
	return nil
}

func (f *fakeGateway) UpdateOrder(_ context.Context, order domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if err := f.takeFailure("update"); err != nil {
		return err
	}
	if _, ok := f.orders[order.ID]; !ok {
		return gateway.ErrOrderNotFound
	}
	f.orders[order.ID] = order.Clone()
	return nil
}

func (f *fakeGateway) DeleteOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("delete"); err != nil {
		return err
	}
	if _, ok := f.orders[id]; !ok {
		return gateway.ErrOrderNotFound
	}
	delete(f.orders, id)
	return nil
}

func (f *fakeGateway) FetchUsers(context.Context) ([]domain.User, error) {
	return domain.BuiltinUsers, nil
}

func (f *fakeGateway) SetWorkingOn(_ context.Context, orderID, userName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if err := f.takeFailure("claim"); err != nil {
		return err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return gateway.ErrOrderNotFound
	}
	if o.Claimed() && !o.ClaimedBy(userName) {
		return gateway.ErrAlreadyClaimed
	}
	o.SetClaim(userName, time.Now().UTC())
	f.orders[orderID] = o
	return nil
}

func (f *fakeGateway) ClearWorkingOn(_ context.Context, orderID string, userName *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil
	}
	if userName != nil && !o.ClaimedBy(*userName) {
		return nil
	}
	o.ClearClaim()
	f.orders[orderID] = o
	return nil
}

func (f *fakeGateway) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func newService(t *testing.T, gw gateway.Gateway) *service.OrderService {
	t.Helper()
	orderCache := cache.New(5 * time.Second)
	sync := syncer.New(gw, orderCache, zap.NewNop(), syncer.Options{
		ActiveFetchMax: 60,
		FullFetchMax:   200,
		PollInterval:   time.Hour,
		Debounce:       time.Millisecond,
	})
	t.Cleanup(sync.Shutdown)
	eventBus := bus.New(zap.NewNop())
	t.Cleanup(eventBus.Close)
	session := gateway.NewSessionStore(filepath.Join(t.TempDir(), "user.json"))
	return service.New(gw, orderCache, sync, eventBus, session, zap.NewNop())
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	svc := newService(t, gw)

	input := service.CreateOrderInput{
		ClientName: "Acme",
		Items:      []service.LineItemInput{{Name: "Caja grande", Quantity: 10}},
	}

	order, err := svc.Create(ctx, input, coordinadora)
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, domain.StatusEnArmado, order.Status)
	assert.Empty(t, order.Missing)
	assert.Empty(t, order.Returned)

	require.Len(t, order.History, 1)
	assert.Equal(t, "Pedido creado", order.History[0].Action)
	assert.Equal(t, "Carolina", order.History[0].UserName)

	require.Len(t, order.Items, 1)
	require.NotNil(t, order.Items[0].OriginalQuantity)
	assert.Equal(t, 10, *order.Items[0].OriginalQuantity)
	assert.Equal(t, 10, order.Items[0].Quantity)
	assert.False(t, order.Items[0].Checked)

	fetched, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, fetched.ID)
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, newFakeGateway())

	badMethod := domain.PaymentMethod("bitcoin")
	cases := []struct {
		name  string
		input service.CreateOrderInput
	}{
		{"missing client name", service.CreateOrderInput{}},
		{"item without name", service.CreateOrderInput{
			ClientName: "Acme",
			Items:      []service.LineItemInput{{Quantity: 3}},
		}},
		{"non-positive quantity", service.CreateOrderInput{
			ClientName: "Acme",
			Items:      []service.LineItemInput{{Name: "Caja", Quantity: 0}},
		}},
		{"unknown payment method", service.CreateOrderInput{
			ClientName:    "Acme",
			PaymentMethod: &badMethod,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.input, coordinadora)
			assert.ErrorIs(t, err, service.ErrValidation)
		})
	}
}

func TestCreate_RollsBackOnBackendFailure(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	svc := newService(t, gw)

	gw.failNext("create", errors.New("connection refused"))

	_, err := svc.Create(ctx, service.CreateOrderInput{ClientName: "Acme"}, coordinadora)
	require.Error(t, err)

	buckets, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, buckets.Activos, "optimistic insert must be rolled back")
}

func TestTransition(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	svc := newService(t, gw)

	order, err := svc.Create(ctx, service.CreateOrderInput{
		ClientName: "Acme",
		Items:      []service.LineItemInput{{Name: "Caja", Quantity: 2}},
	}, coordinadora)
	require.NoError(t, err)

	t.Run("rejection happens before any persistence", func(t *testing.T) {
		before := gw.updateCount()

		_, err := svc.Transition(ctx, order.ID, domain.StatusFacturado, coordinadora, pipeline.TransitionOpts{})
		assert.ErrorIs(t, err, pipeline.ErrInvalidTransition)
		assert.Equal(t, before, gw.updateCount(), "rejected transition never reaches the backend")
	})

	t.Run("accepted transition persists with history", func(t *testing.T) {
		// Check all items first so the armado gate passes.
		checked := order.Clone()
		for i := range checked.Items {
			checked.Items[i].Checked = true
		}
		_, err := svc.UpdateOrder(ctx, checked, armador)
		require.NoError(t, err)

		advanced, err := svc.Transition(ctx, order.ID, domain.StatusArmado, armador, pipeline.TransitionOpts{})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusArmado, advanced.Status)
		assert.Len(t, advanced.History, 2)

		persisted := gw.orders[order.ID]
		assert.Equal(t, domain.StatusArmado, persisted.Status)
		assert.Len(t, persisted.History, 2)
	})

	t.Run("backend failure is reported", func(t *testing.T) {
		gw.failNext("update", errors.New("connection refused"))

		marcos := domain.User{ID: "u-marcos", Name: "Marcos", Role: domain.RoleArmador}
		_, err := svc.Transition(ctx, order.ID, domain.StatusArmadoControlado, marcos, pipeline.TransitionOpts{})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, pipeline.ErrInvalidTransition)
	})
}

func TestClaimAndRelease(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	svc := newService(t, gw)

	order, err := svc.Create(ctx, service.CreateOrderInput{ClientName: "Acme"}, coordinadora)
	require.NoError(t, err)

	t.Run("claim succeeds", func(t *testing.T) {
		claimed, err := svc.Claim(ctx, order.ID, armador)
		require.NoError(t, err)
		require.NotNil(t, claimed.CurrentlyWorkingBy)
		assert.Equal(t, "Diego", *claimed.CurrentlyWorkingBy)
	})

	t.Run("lost race surfaces as an error", func(t *testing.T) {
		marcos := domain.User{ID: "u-marcos", Name: "Marcos", Role: domain.RoleArmador}
		_, err := svc.Claim(ctx, order.ID, marcos)
		assert.Error(t, err)
	})

	t.Run("release clears the claim", func(t *testing.T) {
		released, err := svc.Release(ctx, order.ID, armador, false)
		require.NoError(t, err)
		assert.Nil(t, released.CurrentlyWorkingBy)
	})

	t.Run("releasing unclaimed is a no-op", func(t *testing.T) {
		_, err := svc.Release(ctx, order.ID, armador, false)
		assert.NoError(t, err)
	})

	t.Run("coordinator force-release clears a foreign claim", func(t *testing.T) {
		_, err := svc.Claim(ctx, order.ID, armador)
		require.NoError(t, err)

		released, err := svc.Release(ctx, order.ID, coordinadora, true)
		require.NoError(t, err)
		assert.Nil(t, released.CurrentlyWorkingBy)
	})
}

func TestDelete_RollsBackOnBackendFailure(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	svc := newService(t, gw)

	order, err := svc.Create(ctx, service.CreateOrderInput{ClientName: "Acme"}, coordinadora)
	require.NoError(t, err)

	gw.failNext("delete", errors.New("connection refused"))
	require.Error(t, svc.Delete(ctx, order.ID))

	restored, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, restored.ID)

	require.NoError(t, svc.Delete(ctx, order.ID))
	_, err = svc.Get(ctx, order.ID)
	assert.ErrorIs(t, err, gateway.ErrOrderNotFound)
}

func TestUpdateOrder_RejectsDirectStatusEdit(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, newFakeGateway())

	order, err := svc.Create(ctx, service.CreateOrderInput{ClientName: "Acme"}, coordinadora)
	require.NoError(t, err)

	edited := order.Clone()
	edited.Status = domain.StatusEntregado
	_, err = svc.UpdateOrder(ctx, edited, coordinadora)
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestUpdateOrder_ClaimGatesOperators(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	svc := newService(t, gw)

	order, err := svc.Create(ctx, service.CreateOrderInput{ClientName: "Acme"}, coordinadora)
	require.NoError(t, err)
	_, err = svc.Claim(ctx, order.ID, armador)
	require.NoError(t, err)

	marcos := domain.User{ID: "u-marcos", Name: "Marcos", Role: domain.RoleArmador}
	edited, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	edited.Notes = "revisar"

	_, err = svc.UpdateOrder(ctx, edited, marcos)
	assert.ErrorIs(t, err, pipeline.ErrClaimedByOther)

	_, err = svc.UpdateOrder(ctx, edited, coordinadora)
	assert.NoError(t, err, "coordinators edit without a claim")
}

func TestSessionUser(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, newFakeGateway())

	assert.Nil(t, svc.SessionUser())

	user, err := svc.SelectUser(ctx, "Diego")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleArmador, user.Role)

	selected := svc.SessionUser()
	require.NotNil(t, selected)
	assert.Equal(t, "Diego", selected.Name)

	_, err = svc.SelectUser(ctx, "Nadie")
	assert.ErrorIs(t, err, service.ErrUnknownUser)
}

func TestList_PartitionsBuckets(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	svc := newService(t, gw)

	active, err := svc.Create(ctx, service.CreateOrderInput{ClientName: "Acme"}, coordinadora)
	require.NoError(t, err)

	paid := active.Clone()
	paid.ID = "o-paid"
	paid.Status = domain.StatusPagado
	gw.orders[paid.ID] = paid

	delivered := active.Clone()
	delivered.ID = "o-delivered"
	delivered.Status = domain.StatusEntregado
	gw.orders[delivered.ID] = delivered

	buckets, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, buckets.Activos, 1)
	assert.Len(t, buckets.PorCobrar, 1)

	// The terminal order only shows up after a full fetch has seeded the
	// cache; a prioritized fetch alone never sees it.
	_, err = svc.Get(ctx, paid.ID)
	require.NoError(t, err)
	buckets, err = svc.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, buckets.Completados, 1)
}

func TestGet_MissReFetches(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	svc := newService(t, gw)

	order := domain.Order{ID: "o-ext", ClientName: "Acme", Status: domain.StatusEnArmado, CreatedAt: time.Now()}
	gw.orders[order.ID] = order

	fetched, err := svc.Get(ctx, "o-ext")
	require.NoError(t, err)
	assert.Equal(t, "Acme", fetched.ClientName)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, gateway.ErrOrderNotFound)
}
