package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"orderpulse/internal/types"
)

// OrderRepo provides data access for the orders, order_items, and
// order_status_history tables.
//
// Status transitions and order creation are multi-statement operations and
// run inside a single transaction: creation inserts the order, its items,
// and the initial "received" history entry atomically, and a status update
// inserts the new history row and back-fills the previous row's duration in
// the same transaction so no reader observes the new entry alongside a stale
// previous duration.
type OrderRepo struct {
	db TxBeginner
}

// NewOrderRepo creates a new OrderRepo backed by the given connection pool.
func NewOrderRepo(db TxBeginner) *OrderRepo {
	return &OrderRepo{db: db}
}

// CreateOrderParams carries the fields needed to create an order.
type CreateOrderParams struct {
	ChannelOrderID string
	AccountID      string
	BrandID        string
	PickupTime     time.Time
	CustomerID     int64
	AddressID      int64
	Items          []CreateOrderItemParams
}

// CreateOrderItemParams is one line item on a new order.
type CreateOrderItemParams struct {
	Name     string
	PLU      string
	Quantity int
}

// Create inserts the order, its items, and the initial "received" status
// history entry in one transaction, then returns the full order view.
func (r *OrderRepo) Create(ctx context.Context, params CreateOrderParams) (*types.Order, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin order creation transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var orderID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO orders (channel_order_id, account_id, brand_id, pickup_time, customer_id, address_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 RETURNING id`,
		params.ChannelOrderID,
		params.AccountID,
		params.BrandID,
		params.PickupTime,
		params.CustomerID,
		params.AddressID,
	).Scan(&orderID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to insert order", err)
	}

	for _, item := range params.Items {
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_items (order_id, name, plu, quantity)
			 VALUES ($1, $2, $3, $4)`,
			orderID, item.Name, item.PLU, item.Quantity,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to insert order item", err)
		}
	}

	// Every order starts its lifecycle as "received".
	if _, err := tx.Exec(ctx,
		`INSERT INTO order_status_history (order_id, status, timestamp)
		 VALUES ($1, $2, NOW())`,
		orderID, int(types.OrderStatusReceived),
	); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to insert initial status entry", err)
	}

	order, err := r.getByID(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit order creation", err)
	}

	return order, nil
}

// GetByID returns the full order view: order row, customer, address, items,
// and status history ordered by timestamp. Returns a not_found_order AppError
// when the order does not exist.
func (r *OrderRepo) GetByID(ctx context.Context, orderID int64) (*types.Order, error) {
	return r.getByID(ctx, r.db, orderID)
}

// getByID loads the order aggregate through the given connection (pool or
// open transaction).
func (r *OrderRepo) getByID(ctx context.Context, q DBTX, orderID int64) (*types.Order, error) {
	var o types.Order
	err := q.QueryRow(ctx,
		`SELECT o.id, o.channel_order_id, o.account_id, o.brand_id, o.pickup_time, o.created_at,
		        c.id, c.name, c.phone, c.created_at,
		        a.id, a.city, a.street, a.postal_code, a.created_at
		 FROM orders o
		 JOIN customers c ON c.id = o.customer_id
		 JOIN addresses a ON a.id = o.address_id
		 WHERE o.id = $1`,
		orderID,
	).Scan(
		&o.ID, &o.ChannelOrderID, &o.AccountID, &o.BrandID, &o.PickupTime, &o.CreatedAt,
		&o.Customer.ID, &o.Customer.Name, &o.Customer.Phone, &o.Customer.CreatedAt,
		&o.Address.ID, &o.Address.City, &o.Address.Street, &o.Address.PostalCode, &o.Address.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query order", err)
	}

	items, err := r.listItems(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	history, err := r.listStatusHistory(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	o.StatusHistory = history
	o.Status = o.CurrentStatus()

	return &o, nil
}

func (r *OrderRepo) listItems(ctx context.Context, q DBTX, orderID int64) ([]types.OrderItem, error) {
	rows, err := q.Query(ctx,
		`SELECT id, order_id, name, plu, quantity
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query order items", err)
	}
	defer rows.Close()

	var items []types.OrderItem
	for rows.Next() {
		var item types.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.Name, &item.PLU, &item.Quantity); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan order item row", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating order item rows", err)
	}

	return items, nil
}

func (r *OrderRepo) listStatusHistory(ctx context.Context, q DBTX, orderID int64) ([]types.StatusHistoryEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT id, order_id, status, timestamp, duration
		 FROM order_status_history
		 WHERE order_id = $1
		 ORDER BY timestamp, id`,
		orderID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query status history", err)
	}
	defer rows.Close()

	var entries []types.StatusHistoryEntry
	for rows.Next() {
		var e types.StatusHistoryEntry
		var status int
		if err := rows.Scan(&e.ID, &e.OrderID, &status, &e.Timestamp, &e.Duration); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan status history row", err)
		}
		e.Status = types.OrderStatus(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating status history rows", err)
	}

	return entries, nil
}

// UpdateStatus appends a new status history entry for the order and
// back-fills the previous entry's duration, all in one transaction.
//
// The previous entry (most recent by timestamp, excluding the new insert)
// gets duration = whole seconds between its timestamp and the new entry's.
// The new entry's duration stays NULL until it is itself superseded.
//
// Returns the newly inserted entry. Returns a not_found_order AppError when
// the order does not exist.
func (r *OrderRepo) UpdateStatus(ctx context.Context, orderID int64, status types.OrderStatus) (*types.StatusHistoryEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin status update transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`,
		orderID,
	).Scan(&exists); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to check order existence", err)
	}
	if !exists {
		return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}

	entry := types.StatusHistoryEntry{
		OrderID: orderID,
		Status:  status,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO order_status_history (order_id, status, timestamp)
		 VALUES ($1, $2, NOW())
		 RETURNING id, timestamp`,
		orderID, int(status),
	).Scan(&entry.ID, &entry.Timestamp)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to insert status entry", err)
	}

	// Back-fill the previous entry's duration. The EXTRACT computes whole
	// seconds between the previous timestamp and the new entry's; truncation
	// via ::bigint matches the whole-second contract.
	if _, err := tx.Exec(ctx,
		`UPDATE order_status_history
		 SET duration = FLOOR(EXTRACT(EPOCH FROM ($2::timestamptz - timestamp)))::bigint
		 WHERE id = (
		   SELECT id FROM order_status_history
		   WHERE order_id = $1 AND id <> $3
		   ORDER BY timestamp DESC, id DESC
		   LIMIT 1
		 )`,
		orderID, entry.Timestamp, entry.ID,
	); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to back-fill previous duration", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit status update", err)
	}

	return &entry, nil
}
