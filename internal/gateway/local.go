package gateway

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gmartinelli/pedidos/internal/domain"
)

// Local is the on-device fallback backend: one JSON snapshot file holding
// the full order list with nested collections inlined. Single device, no
// cross-client sync.
type Local struct {
	filePath string
	mu       sync.Mutex
	data     *snapshot
	logger   *zap.Logger
}

type snapshot struct {
	Orders []domain.Order `json:"orders"`
}

// NewLocal reads the snapshot file once; from then on memory is
// authoritative and every mutation writes it back under one lock, so a
// concurrent mutation can never be lost between a reload and a save.
func NewLocal(filePath string, logger *zap.Logger) (*Local, error) {
	l := &Local{
		filePath: filePath,
		data:     &snapshot{},
		logger:   logger,
	}
	return l, l.load()
}

// load reads the snapshot file. A corrupt file is treated as absence of
// data: the slot is cleared rather than propagated as a failure.
func (l *Local) load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.data = &snapshot{}
			return nil
		}
		return err
	}
	defer file.Close()

	data := &snapshot{}
	if err := json.NewDecoder(file).Decode(data); err != nil {
		l.logger.Warn("corrupt local snapshot, clearing slot",
			zap.String("file", l.filePath), zap.Error(err))
		l.data = &snapshot{}
		return os.Remove(l.filePath)
	}
	l.data = data
	return nil
}

// saveLocked writes the snapshot back to disk. Callers hold l.mu.
func (l *Local) saveLocked() error {
	file, err := os.Create(l.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(l.data)
}

func (l *Local) FetchOrders(_ context.Context, prioritizeActive bool, limit int) ([]domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	orders := make([]domain.Order, 0, len(l.data.Orders))
	for _, o := range l.data.Orders {
		if prioritizeActive && o.Status.Terminal() {
			continue
		}
		orders = append(orders, o.Clone())
	}

	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (l *Local) CreateOrder(_ context.Context, order domain.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, o := range l.data.Orders {
		if o.ID == order.ID {
			return ErrOrderExists
		}
	}
	l.data.Orders = append(l.data.Orders, order.Clone())
	return l.saveLocked()
}

func (l *Local) UpdateOrder(_ context.Context, order domain.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i := range l.data.Orders {
		if l.data.Orders[i].ID == order.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrOrderNotFound
	}

	// History is append-only: entries already on disk survive even if
	// the caller hands in a truncated list.
	merged := order.Clone()
	known := make(map[string]struct{}, len(merged.History))
	for _, entry := range merged.History {
		known[entry.ID] = struct{}{}
	}
	for _, entry := range l.data.Orders[idx].History {
		if _, ok := known[entry.ID]; !ok {
			merged.History = append(merged.History, entry)
		}
	}
	sort.SliceStable(merged.History, func(i, j int) bool {
		return merged.History[i].Timestamp.Before(merged.History[j].Timestamp)
	})

	l.data.Orders[idx] = merged
	return l.saveLocked()
}

func (l *Local) DeleteOrder(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, o := range l.data.Orders {
		if o.ID == id {
			l.data.Orders = append(l.data.Orders[:i], l.data.Orders[i+1:]...)
			return l.saveLocked()
		}
	}
	return ErrOrderNotFound
}

func (l *Local) FetchUsers(_ context.Context) ([]domain.User, error) {
	return append([]domain.User(nil), domain.BuiltinUsers...), nil
}

func (l *Local) SetWorkingOn(_ context.Context, orderID, userName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i := range l.data.Orders {
		if l.data.Orders[i].ID == orderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrOrderNotFound
	}
	order := &l.data.Orders[idx]
	if order.Claimed() && !order.ClaimedBy(userName) {
		return ErrAlreadyClaimed
	}
	order.SetClaim(userName, time.Now().UTC())
	return l.saveLocked()
}

func (l *Local) ClearWorkingOn(_ context.Context, orderID string, userName *string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.data.Orders {
		if l.data.Orders[i].ID != orderID {
			continue
		}
		order := &l.data.Orders[i]
		if userName != nil && !order.ClaimedBy(*userName) {
			break
		}
		order.ClearClaim()
		break
	}
	return l.saveLocked()
}

var _ Gateway = (*Local)(nil)
