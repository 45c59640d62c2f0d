package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"orderpulse/internal/types"
)

// sqlContains matches the SQL argument of a mocked call by substring, which
// lets one mock serve transactions issuing several different statements.
func sqlContains(substr string) any {
	return mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, substr)
	})
}

func newTestOrderRepo() (*OrderRepo, *mockTxBeginner, *mockTx) {
	beginner := new(mockTxBeginner)
	tx := &mockTx{db: &beginner.mockDBTX}
	beginner.tx = tx
	return NewOrderRepo(beginner), beginner, tx
}

func TestOrderRepoCreate(t *testing.T) {
	repo, db, tx := newTestOrderRepo()

	createdAt := time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC)
	pickup := createdAt.Add(45 * time.Minute)

	db.On("QueryRow", mock.Anything, sqlContains("INSERT INTO orders"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 10
			return nil
		}})
	db.On("Exec", mock.Anything, sqlContains("INSERT INTO order_items"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Twice()
	db.On("Exec", mock.Anything, sqlContains("INSERT INTO order_status_history"), mock.Anything).
		Run(func(args mock.Arguments) {
			execArgs := args.Get(2).([]any)
			assert.Equal(t, int64(10), execArgs[0])
			assert.Equal(t, int(types.OrderStatusReceived), execArgs[1])
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	db.On("QueryRow", mock.Anything, sqlContains("JOIN customers"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 10
			*dest[1].(*string) = "chan-123"
			*dest[2].(*string) = "acct-1"
			*dest[3].(*string) = "brand-1"
			*dest[4].(*time.Time) = pickup
			*dest[5].(*time.Time) = createdAt
			*dest[6].(*int64) = 42
			*dest[7].(*string) = "Ada"
			*dest[8].(*string) = "+31612345678"
			*dest[9].(*time.Time) = createdAt
			*dest[10].(*int64) = 5
			*dest[11].(*string) = "Amsterdam"
			*dest[12].(*string) = "Keizersgracht 1"
			*dest[13].(*string) = "1015 CC"
			*dest[14].(*time.Time) = createdAt
			return nil
		}})
	db.On("Query", mock.Anything, sqlContains("FROM order_items"), mock.Anything).
		Return(newMockRows([][]any{
			{int64(1), int64(10), "Margherita", "PLU-1", 2},
			{int64(2), int64(10), "Tiramisu", "PLU-9", 1},
		}), nil)
	db.On("Query", mock.Anything, sqlContains("FROM order_status_history"), mock.Anything).
		Return(newMockRows([][]any{
			{int64(100), int64(10), 1, createdAt, nil},
		}), nil)

	order, err := repo.Create(context.Background(), CreateOrderParams{
		ChannelOrderID: "chan-123",
		AccountID:      "acct-1",
		BrandID:        "brand-1",
		PickupTime:     pickup,
		CustomerID:     42,
		AddressID:      5,
		Items: []CreateOrderItemParams{
			{Name: "Margherita", PLU: "PLU-1", Quantity: 2},
			{Name: "Tiramisu", PLU: "PLU-9", Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
	assert.Equal(t, int64(10), order.ID)
	assert.Equal(t, "Ada", order.Customer.Name)
	assert.Equal(t, "Amsterdam", order.Address.City)
	require.Len(t, order.Items, 2)
	require.Len(t, order.StatusHistory, 1)
	assert.Nil(t, order.StatusHistory[0].Duration)
	require.NotNil(t, order.Status)
	assert.Equal(t, types.OrderStatusReceived, *order.Status)
	db.AssertExpectations(t)
}

func TestOrderRepoCreateInsertErrorRollsBack(t *testing.T) {
	repo, db, tx := newTestOrderRepo()

	db.On("QueryRow", mock.Anything, sqlContains("INSERT INTO orders"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("unique violation")})

	_, err := repo.Create(context.Background(), CreateOrderParams{})
	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestOrderRepoGetByIDNotFound(t *testing.T) {
	repo, db, _ := newTestOrderRepo()

	db.On("QueryRow", mock.Anything, sqlContains("JOIN customers"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), 999)
	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundOrder, appErr.Code)
}

func TestOrderRepoUpdateStatus(t *testing.T) {
	repo, db, tx := newTestOrderRepo()

	stamp := time.Date(2026, 8, 30, 14, 10, 0, 0, time.UTC)

	db.On("QueryRow", mock.Anything, sqlContains("SELECT EXISTS"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*bool) = true
			return nil
		}})
	db.On("QueryRow", mock.Anything, sqlContains("INSERT INTO order_status_history"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 101
			*dest[1].(*time.Time) = stamp
			return nil
		}})
	db.On("Exec", mock.Anything, sqlContains("SET duration"), mock.Anything).
		Run(func(args mock.Arguments) {
			sql := args.Get(1).(string)
			assert.Contains(t, sql, "ORDER BY timestamp DESC, id DESC")
			execArgs := args.Get(2).([]any)
			assert.Equal(t, int64(10), execArgs[0])
			assert.Equal(t, stamp, execArgs[1])
			assert.Equal(t, int64(101), execArgs[2])
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	entry, err := repo.UpdateStatus(context.Background(), 10, types.OrderStatusPreparing)
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.Equal(t, int64(101), entry.ID)
	assert.Equal(t, int64(10), entry.OrderID)
	assert.Equal(t, types.OrderStatusPreparing, entry.Status)
	assert.Equal(t, stamp, entry.Timestamp)
	assert.Nil(t, entry.Duration)
	db.AssertExpectations(t)
}

func TestOrderRepoUpdateStatusOrderNotFound(t *testing.T) {
	repo, db, tx := newTestOrderRepo()

	db.On("QueryRow", mock.Anything, sqlContains("SELECT EXISTS"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*bool) = false
			return nil
		}})

	_, err := repo.UpdateStatus(context.Background(), 999, types.OrderStatusPreparing)
	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundOrder, appErr.Code)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestOrderRepoUpdateStatusBeginError(t *testing.T) {
	beginner := new(mockTxBeginner)
	beginner.beginErr = errors.New("pool exhausted")
	repo := NewOrderRepo(beginner)

	_, err := repo.UpdateStatus(context.Background(), 10, types.OrderStatusReady)
	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
