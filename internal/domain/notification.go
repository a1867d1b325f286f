package domain

// NotificationKind classifies user-facing events derived from snapshot
// diffs or broadcast between local observers.
type NotificationKind string

const (
	NotifyNewOrder       NotificationKind = "new_order"
	NotifyStatusChanged  NotificationKind = "status_changed"
	NotifyWorkingStarted NotificationKind = "working_started"
)

// Notification is a structured user-facing event. ExcludeUser names the
// author so receivers can skip notifications about their own actions.
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	OrderID     string           `json:"order_id,omitempty"`
	ExcludeUser string           `json:"exclude_user,omitempty"`
}
