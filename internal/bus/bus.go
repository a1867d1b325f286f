package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/gmartinelli/pedidos/internal/domain"
)

// Bus is the in-process replacement for the cross-tab storage broadcast:
// one observer of a mutation informs the other local observers. Delivery
// is best-effort; a subscriber that cannot keep up loses notifications
// rather than blocking the publisher.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan domain.Notification
	nextID int
	closed bool
	logger *zap.Logger
}

const subscriberBuffer = 16

func New(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan domain.Notification),
		logger: logger,
	}
}

// Subscribe registers an observer identified by userName. Notifications
// authored by that user are filtered out before delivery. The returned
// cancel func must be called symmetrically with Subscribe.
func (b *Bus) Subscribe(userName string) (<-chan domain.Notification, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	raw := make(chan domain.Notification, subscriberBuffer)
	b.subs[id] = raw

	filtered := make(chan domain.Notification, subscriberBuffer)
	go func() {
		for n := range raw {
			if n.ExcludeUser != "" && n.ExcludeUser == userName {
				continue
			}
			select {
			case filtered <- n:
			default:
			}
		}
		close(filtered)
	}()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return filtered, cancel
}

// Publish fans a notification out to all subscribers without blocking.
func (b *Bus) Publish(n domain.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.logger.Debug("bus subscriber lagging, notification dropped",
				zap.String("kind", string(n.Kind)))
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
