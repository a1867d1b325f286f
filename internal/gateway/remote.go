package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/gmartinelli/pedidos/internal/db"
	"github.com/gmartinelli/pedidos/internal/domain"
	"github.com/gmartinelli/pedidos/internal/repository"
	"github.com/gmartinelli/pedidos/internal/repository/postgresql"
)

// Remote persists order aggregates in the relational store. A mutation
// and its history append commit in one transaction, so a reader never
// observes a status change without its accompanying history entry.
type Remote struct {
	db        db.DB
	orderRepo *postgresql.OrderRepo
	userRepo  *postgresql.UserRepo
	logger    *zap.Logger
}

func NewRemote(database db.DB, logger *zap.Logger) *Remote {
	return &Remote{
		db:        database,
		orderRepo: postgresql.NewOrderRepo(database),
		userRepo:  postgresql.NewUserRepo(database),
		logger:    logger,
	}
}

func (g *Remote) FetchOrders(ctx context.Context, prioritizeActive bool, limit int) ([]domain.Order, error) {
	headers, err := g.orderRepo.ListHeaders(ctx, prioritizeActive, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch orders: %w", err)
	}
	if len(headers) == 0 {
		return []domain.Order{}, nil
	}

	ids := make([]string, len(headers))
	for i, h := range headers {
		ids[i] = h.ID
	}

	items, err := g.orderRepo.GetItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch line items: %w", err)
	}
	missing, err := g.orderRepo.GetMissing(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch missing items: %w", err)
	}
	returned, err := g.orderRepo.GetReturned(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch returned items: %w", err)
	}
	history, err := g.orderRepo.GetHistory(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	orders := make([]domain.Order, len(headers))
	byID := make(map[string]*domain.Order, len(headers))
	for i, h := range headers {
		orders[i] = headerToDomain(h)
		byID[h.ID] = &orders[i]
	}
	for _, row := range items {
		if o, ok := byID[row.OrderID]; ok {
			o.Items = append(o.Items, itemToDomain(row))
		}
	}
	for _, row := range missing {
		if o, ok := byID[row.OrderID]; ok {
			o.Missing = append(o.Missing, missingToDomain(row))
		}
	}
	for _, row := range returned {
		if o, ok := byID[row.OrderID]; ok {
			o.Returned = append(o.Returned, returnedToDomain(row))
		}
	}
	for _, row := range history {
		if o, ok := byID[row.OrderID]; ok {
			o.History = append(o.History, historyToDomain(row))
		}
	}

	return orders, nil
}

func (g *Remote) CreateOrder(ctx context.Context, order domain.Order) error {
	tx, err := g.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	if err := g.orderRepo.CreateHeaderTx(ctx, tx, headerToRow(&order)); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	if err := g.writeCollectionsTx(ctx, tx, &order); err != nil {
		return err
	}
	if err := g.orderRepo.InsertHistoryTx(ctx, tx, order.ID, historyToRows(order.ID, order.History)); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}

	return tx.Commit(ctx)
}

func (g *Remote) UpdateOrder(ctx context.Context, order domain.Order) error {
	existingIDs, err := g.orderRepo.HistoryIDs(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to read history ids: %w", err)
	}
	known := make(map[string]struct{}, len(existingIDs))
	for _, id := range existingIDs {
		known[id] = struct{}{}
	}
	var fresh []domain.HistoryEntry
	for _, entry := range order.History {
		if _, ok := known[entry.ID]; !ok {
			fresh = append(fresh, entry)
		}
	}

	tx, err := g.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	if err := g.orderRepo.UpdateHeaderTx(ctx, tx, headerToRow(&order)); err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if err := g.writeCollectionsTx(ctx, tx, &order); err != nil {
		return err
	}
	if err := g.orderRepo.InsertHistoryTx(ctx, tx, order.ID, historyToRows(order.ID, fresh)); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	return tx.Commit(ctx)
}

func (g *Remote) writeCollectionsTx(ctx context.Context, tx db.Tx, order *domain.Order) error {
	if err := g.orderRepo.ReplaceItemsTx(ctx, tx, order.ID, itemsToRows(order.ID, order.Items)); err != nil {
		return fmt.Errorf("failed to write line items: %w", err)
	}
	if err := g.orderRepo.ReplaceMissingTx(ctx, tx, order.ID, missingToRows(order.ID, order.Missing)); err != nil {
		return fmt.Errorf("failed to write missing items: %w", err)
	}
	if err := g.orderRepo.ReplaceReturnedTx(ctx, tx, order.ID, returnedToRows(order.ID, order.Returned)); err != nil {
		return fmt.Errorf("failed to write returned items: %w", err)
	}
	return nil
}

func (g *Remote) DeleteOrder(ctx context.Context, id string) error {
	if err := g.orderRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

func (g *Remote) FetchUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := g.userRepo.GetAll(ctx)
	if err != nil {
		g.logger.Warn("user list unreachable, serving built-in users", zap.Error(err))
		return append([]domain.User(nil), domain.BuiltinUsers...), nil
	}
	users := make([]domain.User, len(rows))
	for i, row := range rows {
		users[i] = domain.User{ID: row.ID, Name: row.Name, Role: domain.Role(row.Role)}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (g *Remote) SetWorkingOn(ctx context.Context, orderID, userName string) error {
	ok, err := g.orderRepo.SetWorkingOn(ctx, orderID, userName)
	if err != nil {
		return fmt.Errorf("failed to set working claim: %w", err)
	}
	if !ok {
		return ErrAlreadyClaimed
	}
	return nil
}

func (g *Remote) ClearWorkingOn(ctx context.Context, orderID string, userName *string) error {
	if err := g.orderRepo.ClearWorkingOn(ctx, orderID, userName); err != nil {
		return fmt.Errorf("failed to clear working claim: %w", err)
	}
	return nil
}

// ValidateUser backs the HTTP basic-auth middleware in remote mode.
func (g *Remote) ValidateUser(ctx context.Context, name, password string) (bool, error) {
	return g.userRepo.ValidateUser(ctx, name, password)
}

func headerToDomain(row *repository.OrderRow) domain.Order {
	o := domain.Order{
		ID:                 row.ID,
		ClientName:         row.ClientName,
		ClientAddress:      row.ClientAddress,
		Status:             domain.Status(row.Status),
		IsPaid:             row.IsPaid,
		Total:              row.Total,
		Notes:              row.Notes,
		CreatedAt:          row.CreatedAt,
		CurrentlyWorkingBy: row.CurrentlyWorkingBy,
		WorkingStartTime:   row.WorkingStartTime,
		Items:              []domain.LineItem{},
		Missing:            []domain.MissingItem{},
		Returned:           []domain.ReturnedItem{},
		History:            []domain.HistoryEntry{},
	}
	if row.PaymentMethod != nil {
		m := domain.PaymentMethod(*row.PaymentMethod)
		o.PaymentMethod = &m
	}
	return o
}

func headerToRow(o *domain.Order) *repository.OrderRow {
	row := &repository.OrderRow{
		ID:                 o.ID,
		ClientName:         o.ClientName,
		ClientAddress:      o.ClientAddress,
		Status:             string(o.Status),
		IsPaid:             o.IsPaid,
		Total:              o.Total,
		Notes:              o.Notes,
		CreatedAt:          o.CreatedAt,
		CurrentlyWorkingBy: o.CurrentlyWorkingBy,
		WorkingStartTime:   o.WorkingStartTime,
	}
	if o.PaymentMethod != nil {
		m := string(*o.PaymentMethod)
		row.PaymentMethod = &m
	}
	return row
}

func itemToDomain(row *repository.LineItemRow) domain.LineItem {
	return domain.LineItem{
		ID:               row.ID,
		Code:             row.Code,
		Name:             row.Name,
		Quantity:         row.Quantity,
		OriginalQuantity: row.OriginalQuantity,
		Checked:          row.Checked,
		UnitPrice:        row.UnitPrice,
		Subtotal:         row.Subtotal,
	}
}

func itemsToRows(orderID string, items []domain.LineItem) []*repository.LineItemRow {
	rows := make([]*repository.LineItemRow, len(items))
	for i, item := range items {
		rows[i] = &repository.LineItemRow{
			ID:               item.ID,
			OrderID:          orderID,
			Code:             item.Code,
			Name:             item.Name,
			Quantity:         item.Quantity,
			OriginalQuantity: item.OriginalQuantity,
			Checked:          item.Checked,
			UnitPrice:        item.UnitPrice,
			Subtotal:         item.Subtotal,
		}
	}
	return rows
}

func missingToDomain(row *repository.MissingItemRow) domain.MissingItem {
	return domain.MissingItem{
		ID:         row.ID,
		LineItemID: row.LineItemID,
		Name:       row.Name,
		Code:       row.Code,
		Quantity:   row.Quantity,
	}
}

func missingToRows(orderID string, missing []domain.MissingItem) []*repository.MissingItemRow {
	rows := make([]*repository.MissingItemRow, len(missing))
	for i, m := range missing {
		rows[i] = &repository.MissingItemRow{
			ID:         m.ID,
			OrderID:    orderID,
			LineItemID: m.LineItemID,
			Name:       m.Name,
			Code:       m.Code,
			Quantity:   m.Quantity,
		}
	}
	return rows
}

func returnedToDomain(row *repository.ReturnedItemRow) domain.ReturnedItem {
	return domain.ReturnedItem{
		ID:         row.ID,
		LineItemID: row.LineItemID,
		Name:       row.Name,
		Code:       row.Code,
		Quantity:   row.Quantity,
		Reason:     row.Reason,
	}
}

func returnedToRows(orderID string, returned []domain.ReturnedItem) []*repository.ReturnedItemRow {
	rows := make([]*repository.ReturnedItemRow, len(returned))
	for i, ret := range returned {
		rows[i] = &repository.ReturnedItemRow{
			ID:         ret.ID,
			OrderID:    orderID,
			LineItemID: ret.LineItemID,
			Name:       ret.Name,
			Code:       ret.Code,
			Quantity:   ret.Quantity,
			Reason:     ret.Reason,
		}
	}
	return rows
}

func historyToDomain(row *repository.HistoryRow) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:        row.ID,
		Action:    row.Action,
		UserName:  row.UserName,
		Timestamp: row.Timestamp,
		Notes:     row.Notes,
	}
}

func historyToRows(orderID string, entries []domain.HistoryEntry) []*repository.HistoryRow {
	rows := make([]*repository.HistoryRow, len(entries))
	for i, entry := range entries {
		rows[i] = &repository.HistoryRow{
			ID:        entry.ID,
			OrderID:   orderID,
			Action:    entry.Action,
			UserName:  entry.UserName,
			Timestamp: entry.Timestamp,
			Notes:     entry.Notes,
		}
	}
	return rows
}

var _ Gateway = (*Remote)(nil)

// IsNotFound reports whether err maps to a missing aggregate.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, repository.ErrObjectNotFound)
}
