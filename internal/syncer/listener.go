package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gmartinelli/pedidos/internal/db"
)

// Channel all five aggregate tables NOTIFY on row-level changes. The
// payload is opaque; only the fact of the notification matters.
const notifyChannel = "pedidos_changed"

// Listener holds a dedicated LISTEN session and funnels every backend
// change notification into the syncer. Remote mode only.
type Listener struct {
	db     *db.Database
	syncer *Syncer
	logger *zap.Logger
}

func NewListener(database *db.Database, s *Syncer, logger *zap.Logger) *Listener {
	return &Listener{db: database, syncer: s, logger: logger}
}

// Run blocks until ctx is cancelled, reconnecting with a flat backoff
// when the LISTEN session drops.
func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.listen(ctx); err != nil && ctx.Err() == nil {
			l.logger.Warn("change listener disconnected, retrying", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			l.logger.Info("change listener stopped")
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	l.logger.Info("subscribed to change notifications", zap.String("channel", notifyChannel))

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return err
		}
		l.syncer.HandleChange(ctx)
	}
}
