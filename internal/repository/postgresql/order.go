package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/gmartinelli/pedidos/internal/db"
	"github.com/gmartinelli/pedidos/internal/repository"
)

// OrderRepo persists the order aggregate across five tables: the header
// plus line_items, missing_items, returned_items and order_history, all
// keyed by order_id with ON DELETE CASCADE.
type OrderRepo struct {
	db db.DB
}

func NewOrderRepo(db db.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) CreateHeaderTx(ctx context.Context, tx db.Tx, order *repository.OrderRow) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO orders (
            id, client_name, client_address, status, payment_method, is_paid,
            total, notes, created_at, currently_working_by, working_start_time
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `, order.ID, order.ClientName, order.ClientAddress, order.Status, order.PaymentMethod,
		order.IsPaid, order.Total, order.Notes, order.CreatedAt,
		order.CurrentlyWorkingBy, order.WorkingStartTime)
	return err
}

func (r *OrderRepo) UpdateHeaderTx(ctx context.Context, tx db.Tx, order *repository.OrderRow) error {
	_, err := tx.Exec(ctx, `
        UPDATE orders
        SET
            client_name = $1,
            client_address = $2,
            status = $3,
            payment_method = $4,
            is_paid = $5,
            total = $6,
            notes = $7,
            currently_working_by = $8,
            working_start_time = $9
        WHERE id = $10
    `, order.ClientName, order.ClientAddress, order.Status, order.PaymentMethod,
		order.IsPaid, order.Total, order.Notes,
		order.CurrentlyWorkingBy, order.WorkingStartTime, order.ID)
	return err
}

func (r *OrderRepo) GetHeaderByID(ctx context.Context, id string) (*repository.OrderRow, error) {
	var order repository.OrderRow
	err := r.db.Get(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListHeaders returns order headers newest first. With activeOnly the
// terminal status is excluded, which keeps the prioritized fetch cheap.
func (r *OrderRepo) ListHeaders(ctx context.Context, activeOnly bool, limit int) ([]*repository.OrderRow, error) {
	query := "SELECT * FROM orders"
	if activeOnly {
		query += " WHERE status <> 'pagado'"
	}
	query += " ORDER BY created_at DESC"

	var args []interface{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	var orders []*repository.OrderRow
	err := r.db.Select(ctx, &orders, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM orders WHERE id = $1", id)
	return err
}

// ReplaceItemsTx rewrites the line items of one order wholesale.
func (r *OrderRepo) ReplaceItemsTx(ctx context.Context, tx db.Tx, orderID string, items []*repository.LineItemRow) error {
	if _, err := tx.Exec(ctx, "DELETE FROM line_items WHERE order_id = $1", orderID); err != nil {
		return err
	}
	for _, item := range items {
		_, err := tx.Exec(ctx, `
            INSERT INTO line_items (
                id, order_id, code, name, quantity, original_quantity, checked, unit_price, subtotal
            ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        `, item.ID, orderID, item.Code, item.Name, item.Quantity,
			item.OriginalQuantity, item.Checked, item.UnitPrice, item.Subtotal)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepo) ReplaceMissingTx(ctx context.Context, tx db.Tx, orderID string, missing []*repository.MissingItemRow) error {
	if _, err := tx.Exec(ctx, "DELETE FROM missing_items WHERE order_id = $1", orderID); err != nil {
		return err
	}
	for _, m := range missing {
		_, err := tx.Exec(ctx, `
            INSERT INTO missing_items (id, order_id, line_item_id, name, code, quantity)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, m.ID, orderID, m.LineItemID, m.Name, m.Code, m.Quantity)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepo) ReplaceReturnedTx(ctx context.Context, tx db.Tx, orderID string, returned []*repository.ReturnedItemRow) error {
	if _, err := tx.Exec(ctx, "DELETE FROM returned_items WHERE order_id = $1", orderID); err != nil {
		return err
	}
	for _, ret := range returned {
		_, err := tx.Exec(ctx, `
            INSERT INTO returned_items (id, order_id, line_item_id, name, code, quantity, reason)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
        `, ret.ID, orderID, ret.LineItemID, ret.Name, ret.Code, ret.Quantity, ret.Reason)
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertHistoryTx appends history rows. History is never rewritten:
// callers diff by id and insert only entries the table does not hold yet.
func (r *OrderRepo) InsertHistoryTx(ctx context.Context, tx db.Tx, orderID string, entries []*repository.HistoryRow) error {
	for _, entry := range entries {
		_, err := tx.Exec(ctx, `
            INSERT INTO order_history (id, order_id, action, user_name, timestamp, notes)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, entry.ID, orderID, entry.Action, entry.UserName, entry.Timestamp, entry.Notes)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepo) HistoryIDs(ctx context.Context, orderID string) ([]string, error) {
	var ids []string
	err := r.db.Select(ctx, &ids, "SELECT id FROM order_history WHERE order_id = $1", orderID)
	return ids, err
}

func (r *OrderRepo) GetItems(ctx context.Context, orderIDs []string) ([]*repository.LineItemRow, error) {
	var items []*repository.LineItemRow
	err := r.db.Select(ctx, &items,
		"SELECT * FROM line_items WHERE order_id = ANY($1)", orderIDs)
	return items, err
}

func (r *OrderRepo) GetMissing(ctx context.Context, orderIDs []string) ([]*repository.MissingItemRow, error) {
	var missing []*repository.MissingItemRow
	err := r.db.Select(ctx, &missing,
		"SELECT * FROM missing_items WHERE order_id = ANY($1)", orderIDs)
	return missing, err
}

func (r *OrderRepo) GetReturned(ctx context.Context, orderIDs []string) ([]*repository.ReturnedItemRow, error) {
	var returned []*repository.ReturnedItemRow
	err := r.db.Select(ctx, &returned,
		"SELECT * FROM returned_items WHERE order_id = ANY($1)", orderIDs)
	return returned, err
}

func (r *OrderRepo) GetHistory(ctx context.Context, orderIDs []string) ([]*repository.HistoryRow, error) {
	var history []*repository.HistoryRow
	err := r.db.Select(ctx, &history,
		"SELECT * FROM order_history WHERE order_id = ANY($1) ORDER BY timestamp ASC", orderIDs)
	return history, err
}

// SetWorkingOn claims an order for userName. The WHERE clause keeps the
// claim advisory but atomic backend-side: an already-claimed order is
// only re-claimable by the same user.
func (r *OrderRepo) SetWorkingOn(ctx context.Context, orderID, userName string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE orders
        SET currently_working_by = $1, working_start_time = NOW()
        WHERE id = $2 AND (currently_working_by IS NULL OR currently_working_by = $1)
    `, userName, orderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ClearWorkingOn releases a claim. With a userName only that user's claim
// is cleared; clearing an unclaimed order is a no-op.
func (r *OrderRepo) ClearWorkingOn(ctx context.Context, orderID string, userName *string) error {
	query := `
        UPDATE orders
        SET currently_working_by = NULL, working_start_time = NULL
        WHERE id = $1`
	args := []interface{}{orderID}
	if userName != nil {
		query += " AND currently_working_by = $2"
		args = append(args, *userName)
	}
	_, err := r.db.Exec(ctx, query, args...)
	return err
}
