package repository

import (
	"errors"
	"time"
)

var ErrObjectNotFound = errors.New("not found")

// OrderRow is the orders header table row. Nested collections live in
// their own tables keyed by order_id with cascade delete.
type OrderRow struct {
	ID                 string     `db:"id"`
	ClientName         string     `db:"client_name"`
	ClientAddress      string     `db:"client_address"`
	Status             string     `db:"status"`
	PaymentMethod      *string    `db:"payment_method"`
	IsPaid             bool       `db:"is_paid"`
	Total              *float64   `db:"total"`
	Notes              string     `db:"notes"`
	CreatedAt          time.Time  `db:"created_at"`
	CurrentlyWorkingBy *string    `db:"currently_working_by"`
	WorkingStartTime   *time.Time `db:"working_start_time"`
}

type LineItemRow struct {
	ID               string   `db:"id"`
	OrderID          string   `db:"order_id"`
	Code             string   `db:"code"`
	Name             string   `db:"name"`
	Quantity         int      `db:"quantity"`
	OriginalQuantity *int     `db:"original_quantity"`
	Checked          bool     `db:"checked"`
	UnitPrice        *float64 `db:"unit_price"`
	Subtotal         *float64 `db:"subtotal"`
}

type MissingItemRow struct {
	ID         string `db:"id"`
	OrderID    string `db:"order_id"`
	LineItemID string `db:"line_item_id"`
	Name       string `db:"name"`
	Code       string `db:"code"`
	Quantity   int    `db:"quantity"`
}

type ReturnedItemRow struct {
	ID         string `db:"id"`
	OrderID    string `db:"order_id"`
	LineItemID string `db:"line_item_id"`
	Name       string `db:"name"`
	Code       string `db:"code"`
	Quantity   int    `db:"quantity"`
	Reason     string `db:"reason"`
}

type HistoryRow struct {
	ID        string    `db:"id"`
	OrderID   string    `db:"order_id"`
	Action    string    `db:"action"`
	UserName  string    `db:"user_name"`
	Timestamp time.Time `db:"timestamp"`
	Notes     string    `db:"notes"`
}

type UserRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Role         string `db:"role"`
	PasswordHash string `db:"password_hash"`
}
