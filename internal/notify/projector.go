// Package notify derives user-facing events by diffing successive order
// snapshots; the backend itself never emits semantic events.
package notify

import (
	"fmt"

	"github.com/gmartinelli/pedidos/internal/domain"
	"github.com/gmartinelli/pedidos/internal/metrics"
)

// Project compares two snapshots on behalf of currentUser and returns
// the events worth showing. A nil previous snapshot is the first fetch:
// nothing to diff against, no events.
func Project(prev, curr []domain.Order, currentUser domain.User) []domain.Notification {
	if prev == nil {
		return nil
	}

	prevByID := make(map[string]*domain.Order, len(prev))
	for i := range prev {
		prevByID[prev[i].ID] = &prev[i]
	}

	var events []domain.Notification
	for i := range curr {
		o := &curr[i]
		before, existed := prevByID[o.ID]
		if !existed {
			// The coordinator is typically the creator; don't echo
			// their own new orders back at them.
			if currentUser.Role == domain.RoleCoordinador {
				continue
			}
			events = append(events, domain.Notification{
				Kind:    domain.NotifyNewOrder,
				Title:   "Nuevo pedido",
				Message: fmt.Sprintf("Pedido de %s ingresado", o.ClientName),
				OrderID: o.ID,
			})
			continue
		}

		if before.Status != o.Status && !lastActedBy(o, currentUser.Name) {
			events = append(events, domain.Notification{
				Kind:    domain.NotifyStatusChanged,
				Title:   "Pedido actualizado",
				Message: fmt.Sprintf("Pedido de %s pasó a %s", o.ClientName, o.Status),
				OrderID: o.ID,
			})
		}

		if !before.Claimed() && o.Claimed() && !o.ClaimedBy(currentUser.Name) {
			events = append(events, domain.Notification{
				Kind:    domain.NotifyWorkingStarted,
				Title:   "Pedido en curso",
				Message: fmt.Sprintf("%s está armando el pedido de %s", *o.CurrentlyWorkingBy, o.ClientName),
				OrderID: o.ID,
			})
		}
	}

	for _, e := range events {
		metrics.NotificationsProjectedTotal.WithLabelValues(string(e.Kind)).Inc()
	}
	return events
}

// lastActedBy reports whether the most recent history entry was written
// by userName, which suppresses notifying users of their own actions.
func lastActedBy(o *domain.Order, userName string) bool {
	last := o.LastHistory()
	return last != nil && last.UserName == userName
}
