package backinstock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"commerce-workers/internal/common/claims"
	"commerce-workers/internal/common/logger"
	"commerce-workers/internal/models"
	"commerce-workers/internal/notify"
	"commerce-workers/internal/tenant"
)

// ==========================
// Test Helper Functions
// ==========================

var sweepTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	sent []notify.Notification
	err  error
}

func (f *fakeGateway) Send(ctx context.Context, n notify.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock, *fakeGateway, *miniredis.Miniredis) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.NewZapAdapter(zaptest.NewLogger(t))
	resolver, err := tenant.NewResolver(db, log)
	require.NoError(t, err)

	gateway := &fakeGateway{}
	handler := NewHandler(&Config{Timeout: 5 * time.Second}, db, resolver, claims.New(rdb, time.Minute), gateway, log)
	handler.now = func() time.Time { return sweepTime }
	return handler, mock, gateway, mr
}

func expectTenants(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT tenant_id`).
		WithArgs(models.CapabilityShop).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "config"}).AddRow("tenant-1", `{}`))
}

func alertRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "tenant_id", "product_id", "variant_id", "email"})
}

func expectProduct(mock sqlmock.Sqlmock, productID, name, status string, visible bool, quantity int) {
	mock.ExpectQuery(`SELECT name, status, visible, stock_quantity`).
		WithArgs(productID).
		WillReturnRows(sqlmock.NewRows([]string{"name", "status", "visible", "stock_quantity"}).
			AddRow(name, status, visible, quantity))
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_FulfillsInStockAlert(t *testing.T) {
	handler, mock, gateway, _ := newTestHandler(t)

	expectTenants(mock)
	mock.ExpectQuery(`FROM stock_alerts WHERE tenant_id`).
		WithArgs("tenant-1").
		WillReturnRows(alertRows().AddRow("alert-1", "tenant-1", "prod-1", nil, "alice@example.com"))

	expectProduct(mock, "prod-1", "Desk Lamp", models.ProductStatusActive, true, 5)

	mock.ExpectExec(`UPDATE stock_alerts SET status = 'sent'`).
		WithArgs("alert-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	output, err := handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, 1, output.AlertsSent)
	assert.Equal(t, 0, output.AlertsCancelled)

	require.Len(t, gateway.sent, 1)
	assert.Equal(t, notify.TemplateBackInStock, gateway.sent[0].Template)
	assert.Equal(t, []string{"alice@example.com"}, gateway.sent[0].Recipients)
	assert.Equal(t, "Desk Lamp", gateway.sent[0].Data["productName"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_OutOfStockStaysPending(t *testing.T) {
	handler, mock, gateway, _ := newTestHandler(t)

	expectTenants(mock)
	mock.ExpectQuery(`FROM stock_alerts WHERE tenant_id`).
		WillReturnRows(alertRows().AddRow("alert-1", "tenant-1", "prod-1", nil, "alice@example.com"))

	expectProduct(mock, "prod-1", "Desk Lamp", models.ProductStatusActive, true, 0)

	output, err := handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, 0, output.AlertsSent)
	assert.Equal(t, 0, output.AlertsCancelled)
	assert.Empty(t, gateway.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_CancelsWhenProductUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		visible bool
	}{
		{"inactive product", models.ProductStatusInactive, true},
		{"hidden product", models.ProductStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, mock, gateway, _ := newTestHandler(t)

			expectTenants(mock)
			mock.ExpectQuery(`FROM stock_alerts WHERE tenant_id`).
				WillReturnRows(alertRows().AddRow("alert-1", "tenant-1", "prod-1", nil, "alice@example.com"))

			expectProduct(mock, "prod-1", "Desk Lamp", tt.status, tt.visible, 5)

			mock.ExpectExec(`UPDATE stock_alerts SET status = 'cancelled'`).
				WithArgs("alert-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			output, err := handler.Execute(context.Background(), &Input{})
			require.NoError(t, err)

			assert.Equal(t, 1, output.AlertsCancelled)
			assert.Empty(t, gateway.sent)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestHandler_Execute_CancelsWhenProductMissing(t *testing.T) {
	handler, mock, gateway, _ := newTestHandler(t)

	expectTenants(mock)
	mock.ExpectQuery(`FROM stock_alerts WHERE tenant_id`).
		WillReturnRows(alertRows().AddRow("alert-1", "tenant-1", "prod-gone", nil, "alice@example.com"))

	mock.ExpectQuery(`SELECT name, status, visible, stock_quantity`).
		WithArgs("prod-gone").
		WillReturnRows(sqlmock.NewRows([]string{"name", "status", "visible", "stock_quantity"}))

	mock.ExpectExec(`UPDATE stock_alerts SET status = 'cancelled'`).
		WithArgs("alert-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	output, err := handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, 1, output.AlertsCancelled)
	assert.Empty(t, gateway.sent)
}

func TestHandler_Execute_VariantStockDecides(t *testing.T) {
	handler, mock, gateway, _ := newTestHandler(t)

	expectTenants(mock)
	mock.ExpectQuery(`FROM stock_alerts WHERE tenant_id`).
		WillReturnRows(alertRows().AddRow("alert-1", "tenant-1", "prod-1", "var-1", "alice@example.com"))

	// Product has stock, the watched variant does not: stays pending.
	expectProduct(mock, "prod-1", "Desk Lamp", models.ProductStatusActive, true, 5)
	mock.ExpectQuery(`SELECT name, stock_quantity`).
		WithArgs("var-1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "stock_quantity"}).AddRow("Black", 0))

	output, err := handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, 0, output.AlertsSent)
	assert.Empty(t, gateway.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_VariantFulfillment(t *testing.T) {
	handler, mock, gateway, _ := newTestHandler(t)

	expectTenants(mock)
	mock.ExpectQuery(`FROM stock_alerts WHERE tenant_id`).
		WillReturnRows(alertRows().AddRow("alert-1", "tenant-1", "prod-1", "var-1", "alice@example.com"))

	expectProduct(mock, "prod-1", "Desk Lamp", models.ProductStatusActive, true, 0)
	mock.ExpectQuery(`SELECT name, stock_quantity`).
		WithArgs("var-1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "stock_quantity"}).AddRow("Black", 4))

	mock.ExpectExec(`UPDATE stock_alerts SET status = 'sent'`).
		WithArgs("alert-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	output, err := handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, 1, output.AlertsSent)
	require.Len(t, gateway.sent, 1)
	assert.Equal(t, " / Black", gateway.sent[0].Data["variantSuffix"])
}

func TestHandler_Execute_SendFailureKeepsAlertPending(t *testing.T) {
	handler, mock, gateway, mr := newTestHandler(t)
	gateway.err = errors.New("ses unavailable")

	expectTenants(mock)
	mock.ExpectQuery(`FROM stock_alerts WHERE tenant_id`).
		WillReturnRows(alertRows().AddRow("alert-1", "tenant-1", "prod-1", nil, "alice@example.com"))

	expectProduct(mock, "prod-1", "Desk Lamp", models.ProductStatusActive, true, 5)

	output, err := handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, 0, output.AlertsSent)
	assert.Equal(t, 1, output.AlertsFailed)
	// No status update ran and the claim was released for the next sweep.
	assert.False(t, mr.Exists(claims.BackInStockKey("alert-1")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_SingleProductMode(t *testing.T) {
	handler, mock, gateway, _ := newTestHandler(t)

	// No tenant resolution in single-product mode.
	mock.ExpectQuery(`FROM stock_alerts WHERE product_id`).
		WithArgs("prod-1").
		WillReturnRows(alertRows().
			AddRow("alert-1", "tenant-1", "prod-1", nil, "alice@example.com").
			AddRow("alert-2", "tenant-1", "prod-1", nil, "bob@example.com"))

	expectProduct(mock, "prod-1", "Desk Lamp", models.ProductStatusActive, true, 5)
	mock.ExpectExec(`UPDATE stock_alerts SET status = 'sent'`).
		WithArgs("alert-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectProduct(mock, "prod-1", "Desk Lamp", models.ProductStatusActive, true, 5)
	mock.ExpectExec(`UPDATE stock_alerts SET status = 'sent'`).
		WithArgs("alert-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	output, err := handler.Execute(context.Background(), &Input{ProductID: "prod-1"})
	require.NoError(t, err)

	assert.Equal(t, 0, output.TenantsProcessed)
	assert.Equal(t, 2, output.AlertsSent)
	assert.Len(t, gateway.sent, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
