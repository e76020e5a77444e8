package cartlifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"commerce-workers/internal/common/logger"
	"commerce-workers/internal/models"
	"commerce-workers/internal/tenant"
)

// ==========================
// Test Helper Functions
// ==========================

var sweepTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewZapAdapter(zaptest.NewLogger(t))
	resolver, err := tenant.NewResolver(db, log)
	require.NoError(t, err)

	handler := NewHandler(&Config{Timeout: 5 * time.Second}, db, resolver, log)
	handler.now = func() time.Time { return sweepTime }
	return handler, mock
}

func expectTenants(mock sqlmock.Sqlmock, pairs ...string) {
	rows := sqlmock.NewRows([]string{"tenant_id", "config"})
	for i := 0; i < len(pairs); i += 2 {
		rows.AddRow(pairs[i], pairs[i+1])
	}
	mock.ExpectQuery(`SELECT tenant_id`).
		WithArgs(models.CapabilityShop).
		WillReturnRows(rows)
}

func expectCartDelete(mock sqlmock.Sqlmock, cartID string) {
	mock.ExpectExec(`DELETE FROM cart_items`).
		WithArgs(cartID).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM carts`).
		WithArgs(cartID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func noCartRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id"})
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_DeletesExpiredCarts(t *testing.T) {
	handler, mock := newTestHandler(t)

	expectTenants(mock, "tenant-1", `{}`)

	mock.ExpectQuery(`SELECT id FROM carts`).
		WithArgs("tenant-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cart-1").AddRow("cart-2"))
	expectCartDelete(mock, "cart-1")
	expectCartDelete(mock, "cart-2")

	mock.ExpectQuery(`SELECT c.id FROM carts c`).
		WithArgs("tenant-1", sweepTime.Add(-emptyCartMaxAge)).
		WillReturnRows(noCartRows())

	output, err := handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, 1, output.TenantsProcessed)
	assert.Equal(t, 2, output.ExpiredDeleted)
	assert.Equal(t, 0, output.EmptyDeleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_EmptyCartSweepIgnoresConfig(t *testing.T) {
	handler, mock := newTestHandler(t)

	// A generous expiry does not shield an empty cart.
	expectTenants(mock, "tenant-1", `{"cart_expiry_hours": 8760}`)

	mock.ExpectQuery(`SELECT id FROM carts`).
		WithArgs("tenant-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(noCartRows())

	mock.ExpectQuery(`SELECT c.id FROM carts c`).
		WithArgs("tenant-1", sweepTime.Add(-emptyCartMaxAge)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cart-3"))
	expectCartDelete(mock, "cart-3")

	output, err := handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, 0, output.ExpiredDeleted)
	assert.Equal(t, 1, output.EmptyDeleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_DeleteFailureDoesNotBlockBatch(t *testing.T) {
	handler, mock := newTestHandler(t)

	expectTenants(mock, "tenant-1", `{}`)

	mock.ExpectQuery(`SELECT id FROM carts`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cart-1").AddRow("cart-2"))
	mock.ExpectExec(`DELETE FROM cart_items`).
		WithArgs("cart-1").
		WillReturnError(errors.New("deadlock detected"))
	expectCartDelete(mock, "cart-2")

	mock.ExpectQuery(`SELECT c.id FROM carts c`).
		WillReturnRows(noCartRows())

	output, err := handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, 1, output.ExpiredDeleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_QueryFailureSkipsRule(t *testing.T) {
	handler, mock := newTestHandler(t)

	expectTenants(mock, "tenant-1", `{}`)

	mock.ExpectQuery(`SELECT id FROM carts`).
		WillReturnError(errors.New("relation missing"))
	mock.ExpectQuery(`SELECT c.id FROM carts c`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cart-9"))
	expectCartDelete(mock, "cart-9")

	output, err := handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, 0, output.ExpiredDeleted)
	assert.Equal(t, 1, output.EmptyDeleted)
}

func TestHandler_Execute_MultipleTenants(t *testing.T) {
	handler, mock := newTestHandler(t)

	expectTenants(mock, "tenant-1", `{}`, "tenant-2", `{}`)

	for range []string{"tenant-1", "tenant-2"} {
		mock.ExpectQuery(`SELECT id FROM carts`).
			WillReturnRows(noCartRows())
		mock.ExpectQuery(`SELECT c.id FROM carts c`).
			WillReturnRows(noCartRows())
	}

	output, err := handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Equal(t, 2, output.TenantsProcessed)
}

func TestHandler_Execute_ResolveFailure(t *testing.T) {
	handler, mock := newTestHandler(t)

	mock.ExpectQuery(`SELECT tenant_id`).
		WillReturnError(errors.New("connection refused"))

	_, err := handler.Execute(context.Background(), &Input{})
	assert.Error(t, err)
}
