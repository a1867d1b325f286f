package gateway

import (
	"context"
	"errors"

	"github.com/gmartinelli/pedidos/internal/domain"
)

var (
	ErrOrderExists    = errors.New("order already exists")
	ErrOrderNotFound  = errors.New("order not found")
	ErrAlreadyClaimed = errors.New("order claimed by another user")
)

// Gateway is the uniform persistence surface over the two backends. The
// error return is the success indicator: no gateway call panics, and no
// automatic retry happens below this interface.
type Gateway interface {
	// FetchOrders returns up to limit orders, newest first. With
	// prioritizeActive only non-terminal orders are queried, which is
	// the cheap load-time fetch.
	FetchOrders(ctx context.Context, prioritizeActive bool, limit int) ([]domain.Order, error)

	// CreateOrder persists a fully built aggregate (nested collections
	// and initial history included) as one unit.
	CreateOrder(ctx context.Context, order domain.Order) error

	// UpdateOrder rewrites the header and nested collections wholesale;
	// history entries are diffed by id and only new ones appended.
	UpdateOrder(ctx context.Context, order domain.Order) error

	// DeleteOrder cascades to all owned collections.
	DeleteOrder(ctx context.Context, id string) error

	// FetchUsers returns the reference user list, falling back to the
	// built-in list when the backend is unreachable.
	FetchUsers(ctx context.Context) ([]domain.User, error)

	// SetWorkingOn places the advisory claim. ErrAlreadyClaimed when a
	// different user holds it.
	SetWorkingOn(ctx context.Context, orderID, userName string) error

	// ClearWorkingOn releases the claim. Clearing an unclaimed order is
	// a no-op that still succeeds. With a non-nil userName only that
	// user's claim is released.
	ClearWorkingOn(ctx context.Context, orderID string, userName *string) error
}
