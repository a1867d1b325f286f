package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gmartinelli/pedidos/internal/bus"
	"github.com/gmartinelli/pedidos/internal/cache"
	"github.com/gmartinelli/pedidos/internal/domain"
	"github.com/gmartinelli/pedidos/internal/gateway"
	"github.com/gmartinelli/pedidos/internal/metrics"
	"github.com/gmartinelli/pedidos/internal/notify"
	"github.com/gmartinelli/pedidos/internal/pipeline"
	"github.com/gmartinelli/pedidos/internal/syncer"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnknownUser  = errors.New("unknown user")
	ErrNoSessionKey = errors.New("no session user selected")
)

// OrderService is the operations facade over the state machine, cache,
// gateway and sync layer. Local mutations are visible immediately to the
// originating client; creates and deletes roll the cache back on backend
// failure, updates leave the optimistic state and report the error.
type OrderService struct {
	gw      gateway.Gateway
	cache   *cache.OrderCache
	syncer  *syncer.Syncer
	bus     *bus.Bus
	session *gateway.SessionStore
	logger  *zap.Logger
	now     func() time.Time

	sessionMu   sync.RWMutex
	sessionUser *domain.User
}

func New(gw gateway.Gateway, orderCache *cache.OrderCache, sync *syncer.Syncer,
	eventBus *bus.Bus, session *gateway.SessionStore, logger *zap.Logger) *OrderService {
	s := &OrderService{
		gw:      gw,
		cache:   orderCache,
		syncer:  sync,
		bus:     eventBus,
		session: session,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if session != nil {
		if user, err := session.Load(); err == nil && user != nil {
			s.sessionUser = user
		}
	}
	sync.OnRefresh(s.projectRefresh)
	return s
}

// projectRefresh observes background cache transitions and turns them
// into user-facing events on the bus.
func (s *OrderService) projectRefresh(prev, curr []domain.Order) {
	user := s.SessionUser()
	if user == nil {
		return
	}
	for _, event := range notify.Project(prev, curr, *user) {
		s.bus.Publish(event)
	}
}

type LineItemInput struct {
	Code      string   `json:"code,omitempty"`
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity"`
	UnitPrice *float64 `json:"unit_price,omitempty"`
}

type CreateOrderInput struct {
	ClientName    string                `json:"client_name"`
	ClientAddress string                `json:"client_address"`
	Notes         string                `json:"notes,omitempty"`
	PaymentMethod *domain.PaymentMethod `json:"payment_method,omitempty"`
	Items         []LineItemInput       `json:"items"`
}

// Create builds a new order in the initial pipeline state with one
// history entry, an original-quantity snapshot per item and empty
// shortage/return lists.
func (s *OrderService) Create(ctx context.Context, input CreateOrderInput, user domain.User) (domain.Order, error) {
	if input.ClientName == "" {
		return domain.Order{}, fmt.Errorf("%w: client name is required", ErrValidation)
	}
	if input.PaymentMethod != nil && !input.PaymentMethod.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown payment method %q", ErrValidation, *input.PaymentMethod)
	}

	now := s.now()
	order := domain.Order{
		ID:            domain.NewOrderID(now),
		ClientName:    input.ClientName,
		ClientAddress: input.ClientAddress,
		Status:        domain.StatusEnArmado,
		PaymentMethod: input.PaymentMethod,
		Notes:         input.Notes,
		CreatedAt:     now,
		Items:         make([]domain.LineItem, 0, len(input.Items)),
		Missing:       []domain.MissingItem{},
		Returned:      []domain.ReturnedItem{},
		History: []domain.HistoryEntry{{
			ID:        domain.NewEntryID(),
			Action:    pipeline.ActionCreado,
			UserName:  user.Name,
			Timestamp: now,
		}},
	}
	for _, item := range input.Items {
		if item.Name == "" || item.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: every item needs a name and a positive quantity", ErrValidation)
		}
		original := item.Quantity
		order.Items = append(order.Items, domain.LineItem{
			ID:               domain.NewEntryID(),
			Code:             item.Code,
			Name:             item.Name,
			Quantity:         item.Quantity,
			OriginalQuantity: &original,
			UnitPrice:        item.UnitPrice,
		})
	}

	s.cache.Upsert(order)
	if err := s.gw.CreateOrder(ctx, order); err != nil {
		s.cache.Remove(order.ID)
		metrics.OperationErrorsTotal.WithLabelValues("create").Inc()
		return domain.Order{}, fmt.Errorf("failed to create order: %w", err)
	}

	metrics.OrdersCreatedTotal.Inc()
	s.bus.Publish(domain.Notification{
		Kind:        domain.NotifyNewOrder,
		Title:       "Nuevo pedido",
		Message:     fmt.Sprintf("Pedido de %s ingresado", order.ClientName),
		OrderID:     order.ID,
		ExcludeUser: user.Name,
	})
	return order, nil
}

// Get serves one order, hitting the backend only on a cache miss.
func (s *OrderService) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if order, ok := s.cache.Get(orderID); ok {
		return order, nil
	}
	if _, err := s.syncer.Fetch(ctx, true, false); err != nil {
		return domain.Order{}, err
	}
	if order, ok := s.cache.Get(orderID); ok {
		return order, nil
	}
	return domain.Order{}, gateway.ErrOrderNotFound
}

// Transition moves an order one pipeline step. Preconditions are
// rejected locally before any persistence call; transition and history
// append persist as one unit.
func (s *OrderService) Transition(ctx context.Context, orderID string, target domain.Status,
	user domain.User, opts pipeline.TransitionOpts) (domain.Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	if err := pipeline.Apply(&order, target, user, s.now(), opts); err != nil {
		metrics.TransitionRejectionsTotal.WithLabelValues(rejectionReason(err)).Inc()
		return domain.Order{}, err
	}

	s.cache.Upsert(order)
	if err := s.gw.UpdateOrder(ctx, order); err != nil {
		// Optimistic state stays in the cache; the caller learns of
		// the failure and re-fetches authoritative state.
		metrics.OperationErrorsTotal.WithLabelValues("transition").Inc()
		return domain.Order{}, fmt.Errorf("failed to persist transition: %w", err)
	}

	metrics.TransitionsTotal.WithLabelValues(string(target)).Inc()
	s.bus.Publish(domain.Notification{
		Kind:        domain.NotifyStatusChanged,
		Title:       "Pedido actualizado",
		Message:     fmt.Sprintf("Pedido de %s pasó a %s", order.ClientName, order.Status),
		OrderID:     order.ID,
		ExcludeUser: user.Name,
	})
	return order, nil
}

// ConfirmPayment marks a delivered order paid (coordinator-only for
// transfers), unlocking the final transition.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID string, user domain.User) (domain.Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	if err := pipeline.ConfirmPayment(&order, user, s.now()); err != nil {
		return domain.Order{}, err
	}

	s.cache.Upsert(order)
	if err := s.gw.UpdateOrder(ctx, order); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("confirm_payment").Inc()
		return domain.Order{}, fmt.Errorf("failed to persist payment confirmation: %w", err)
	}
	return order, nil
}

// UpdateOrder persists client edits to items, shortages, returns and
// header fields. Status changes go through Transition, never here.
func (s *OrderService) UpdateOrder(ctx context.Context, updated domain.Order, user domain.User) (domain.Order, error) {
	current, err := s.Get(ctx, updated.ID)
	if err != nil {
		return domain.Order{}, err
	}
	if updated.Status != current.Status {
		return domain.Order{}, fmt.Errorf("%w: status cannot be edited directly", ErrValidation)
	}
	if !pipeline.CanEdit(&current, user) {
		return domain.Order{}, pipeline.ErrClaimedByOther
	}
	if err := pipeline.ValidateItems(updated.Items); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	s.cache.Upsert(updated)
	if err := s.gw.UpdateOrder(ctx, updated); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("update").Inc()
		return domain.Order{}, fmt.Errorf("failed to update order: %w", err)
	}
	return updated, nil
}

// Delete removes the aggregate and all owned collections, rolling the
// cache back when the backend refuses.
func (s *OrderService) Delete(ctx context.Context, orderID string) error {
	backup, had := s.cache.Get(orderID)
	s.cache.Remove(orderID)
	if err := s.gw.DeleteOrder(ctx, orderID); err != nil {
		if had {
			s.cache.Upsert(backup)
		}
		metrics.OperationErrorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// Claim marks the order as currently being worked on by user. A denial
// means read-only access for this operator; coordinators never need a
// claim to edit.
func (s *OrderService) Claim(ctx context.Context, orderID string, user domain.User) (domain.Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := pipeline.Claim(&order, user, s.now()); err != nil {
		return domain.Order{}, err
	}
	if err := s.gw.SetWorkingOn(ctx, orderID, user.Name); err != nil {
		// Lost the race against a fresher claim backend-side.
		s.syncer.HandleChange(ctx)
		return domain.Order{}, err
	}
	s.cache.Upsert(order)
	s.bus.Publish(domain.Notification{
		Kind:        domain.NotifyWorkingStarted,
		Title:       "Pedido en curso",
		Message:     fmt.Sprintf("%s está armando el pedido de %s", user.Name, order.ClientName),
		OrderID:     order.ID,
		ExcludeUser: user.Name,
	})
	return order, nil
}

// Release drops the claim when the user closes the detail view. Force
// lets a coordinator clear a stale claim left by a crashed client.
// Releasing an unclaimed order is a successful no-op.
func (s *OrderService) Release(ctx context.Context, orderID string, user domain.User, force bool) (domain.Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var owner *string
	if force && user.Role == domain.RoleCoordinador {
		order.ClearClaim()
	} else {
		pipeline.Release(&order, user)
		owner = &user.Name
	}

	if err := s.gw.ClearWorkingOn(ctx, orderID, owner); err != nil {
		return domain.Order{}, fmt.Errorf("failed to release claim: %w", err)
	}
	s.cache.Upsert(order)
	return order, nil
}

// List returns the derived buckets over the current snapshot.
func (s *OrderService) List(ctx context.Context, force bool) (pipeline.Buckets, error) {
	orders, err := s.syncer.Fetch(ctx, force, true)
	if err != nil {
		return pipeline.Buckets{}, err
	}
	return pipeline.Partition(orders), nil
}

func (s *OrderService) Users(ctx context.Context) ([]domain.User, error) {
	return s.gw.FetchUsers(ctx)
}

// SessionUser is the device's selected user, persisted across restarts.
func (s *OrderService) SessionUser() *domain.User {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	if s.sessionUser == nil {
		return nil
	}
	u := *s.sessionUser
	return &u
}

// SelectUser picks the session user from the reference list by name.
func (s *OrderService) SelectUser(ctx context.Context, name string) (domain.User, error) {
	users, err := s.gw.FetchUsers(ctx)
	if err != nil {
		return domain.User{}, err
	}
	for _, u := range users {
		if u.Name == name {
			s.sessionMu.Lock()
			s.sessionUser = &u
			s.sessionMu.Unlock()
			if s.session != nil {
				if err := s.session.Save(u); err != nil {
					s.logger.Warn("failed to persist session user", zap.Error(err))
				}
			}
			return u, nil
		}
	}
	return domain.User{}, fmt.Errorf("%w: %s", ErrUnknownUser, name)
}

// ResolveUser maps an authenticated name to a reference-list user.
func (s *OrderService) ResolveUser(ctx context.Context, name string) (domain.User, error) {
	users, err := s.gw.FetchUsers(ctx)
	if err != nil {
		return domain.User{}, err
	}
	for _, u := range users {
		if u.Name == name {
			return u, nil
		}
	}
	return domain.User{}, fmt.Errorf("%w: %s", ErrUnknownUser, name)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrRoleNotAllowed):
		return "role"
	case errors.Is(err, pipeline.ErrClaimedByOther):
		return "claimed"
	case errors.Is(err, pipeline.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, pipeline.ErrSamePersonControl):
		return "same_person"
	case errors.Is(err, pipeline.ErrUnresolvedShortage):
		return "shortage"
	case errors.Is(err, pipeline.ErrNotPaid):
		return "not_paid"
	default:
		return "other"
	}
}
