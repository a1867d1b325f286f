package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Order is the aggregate tracking one customer's purchase through the
// fulfillment pipeline. It exclusively owns its four collections:
// deleting the order deletes all of them.
type Order struct {
	ID            string         `json:"id"`
	ClientName    string         `json:"client_name"`
	ClientAddress string         `json:"client_address"`
	Status        Status         `json:"status"`
	PaymentMethod *PaymentMethod `json:"payment_method,omitempty"`
	IsPaid        bool           `json:"is_paid"`
	Total         *float64       `json:"total,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`

	Items    []LineItem     `json:"items"`
	Missing  []MissingItem  `json:"missing_items"`
	Returned []ReturnedItem `json:"returned_items"`
	History  []HistoryEntry `json:"history"`

	// Advisory claim: both fields are set together or not at all.
	CurrentlyWorkingBy *string    `json:"currently_working_by,omitempty"`
	WorkingStartTime   *time.Time `json:"working_start_time,omitempty"`
}

type LineItem struct {
	ID               string   `json:"id"`
	Code             string   `json:"code,omitempty"`
	Name             string   `json:"name"`
	Quantity         int      `json:"quantity"`
	OriginalQuantity *int     `json:"original_quantity,omitempty"`
	Checked          bool     `json:"checked"`
	UnitPrice        *float64 `json:"unit_price,omitempty"`
	Subtotal         *float64 `json:"subtotal,omitempty"`
}

// MissingItem records a shortage discovered during picking. LineItemID is
// a non-owning reference; the name/code snapshot keeps the record
// displayable if the line item is later altered or removed.
type MissingItem struct {
	ID         string `json:"id"`
	LineItemID string `json:"line_item_id"`
	Name       string `json:"name"`
	Code       string `json:"code,omitempty"`
	Quantity   int    `json:"quantity"`
}

// ReturnedItem records a post-delivery return.
type ReturnedItem struct {
	ID         string `json:"id"`
	LineItemID string `json:"line_item_id"`
	Name       string `json:"name"`
	Code       string `json:"code,omitempty"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason,omitempty"`
}

// HistoryEntry is an immutable audit record. Entries are appended once
// and never mutated or removed individually.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	UserName  string    `json:"user_name"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

// NewOrderID builds a client-side order id from a millisecond timestamp
// plus a random suffix, collision-safe under concurrent creation without
// a central counter.
func NewOrderID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

func NewEntryID() string { return uuid.NewString() }

// Claimed reports whether the advisory "currently working" marker is set.
func (o *Order) Claimed() bool { return o.CurrentlyWorkingBy != nil }

func (o *Order) ClaimedBy(userName string) bool {
	return o.CurrentlyWorkingBy != nil && *o.CurrentlyWorkingBy == userName
}

// SetClaim sets both claim fields together, keeping the invariant that
// WorkingStartTime is set iff CurrentlyWorkingBy is set.
func (o *Order) SetClaim(userName string, at time.Time) {
	o.CurrentlyWorkingBy = &userName
	o.WorkingStartTime = &at
}

func (o *Order) ClearClaim() {
	o.CurrentlyWorkingBy = nil
	o.WorkingStartTime = nil
}

// LastHistory returns the most recent history entry by timestamp, or nil
// for an empty history.
func (o *Order) LastHistory() *HistoryEntry {
	if len(o.History) == 0 {
		return nil
	}
	last := &o.History[0]
	for i := range o.History {
		if !o.History[i].Timestamp.Before(last.Timestamp) {
			last = &o.History[i]
		}
	}
	return last
}

// ActorOf returns the user name recorded for the given history action,
// or "" if no such entry exists. Used to derive who armed/controlled an
// order without storing extra columns.
func (o *Order) ActorOf(action string) string {
	actor := ""
	for _, h := range o.History {
		if h.Action == action {
			actor = h.UserName
		}
	}
	return actor
}

// Clone returns a deep copy. Cached snapshots are always cloned on the
// way in and out so callers can never alias cache memory.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]LineItem(nil), o.Items...)
	c.Missing = append([]MissingItem(nil), o.Missing...)
	c.Returned = append([]ReturnedItem(nil), o.Returned...)
	c.History = append([]HistoryEntry(nil), o.History...)
	if o.PaymentMethod != nil {
		m := *o.PaymentMethod
		c.PaymentMethod = &m
	}
	if o.Total != nil {
		t := *o.Total
		c.Total = &t
	}
	if o.CurrentlyWorkingBy != nil {
		w := *o.CurrentlyWorkingBy
		c.CurrentlyWorkingBy = &w
	}
	if o.WorkingStartTime != nil {
		ts := *o.WorkingStartTime
		c.WorkingStartTime = &ts
	}
	return c
}

// CloneOrders deep-copies a whole snapshot.
func CloneOrders(orders []Order) []Order {
	out := make([]Order, len(orders))
	for i := range orders {
		out[i] = orders[i].Clone()
	}
	return out
}
