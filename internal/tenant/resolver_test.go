package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"commerce-workers/internal/common/logger"
	"commerce-workers/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func newTestResolver(t *testing.T) (*Resolver, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	resolver, err := NewResolver(db, logger.NewZapAdapter(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return resolver, mock
}

func capabilityRows(pairs ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"tenant_id", "config"})
	for i := 0; i < len(pairs); i += 2 {
		rows.AddRow(pairs[i], pairs[i+1])
	}
	return rows
}

// ==========================
// Core Functionality Tests
// ==========================

func TestResolver_Resolve_Defaults(t *testing.T) {
	resolver, mock := newTestResolver(t)

	mock.ExpectQuery(`SELECT tenant_id`).
		WithArgs(models.CapabilityShop).
		WillReturnRows(capabilityRows("tenant-1", `{}`))

	settings, err := resolver.Resolve(context.Background(), models.CapabilityShop, "")
	require.NoError(t, err)
	require.Len(t, settings, 1)

	assert.Equal(t, "tenant-1", settings[0].TenantID)
	assert.Equal(t, 168, settings[0].CartExpiryHours)
	assert.False(t, settings[0].AbandonedCartEnabled)
	assert.Equal(t, 24, settings[0].AbandonedCartHours)
	assert.Equal(t, 3, settings[0].AbandonedCartMaxEmails)
	assert.Empty(t, settings[0].StockAlertEmails)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_Resolve_Overrides(t *testing.T) {
	resolver, mock := newTestResolver(t)

	config := `{
		"cart_expiry_hours": 48,
		"abandoned_cart_enabled": true,
		"abandoned_cart_hours": 6,
		"stock_alert_emails": ["ops@example.com"]
	}`
	mock.ExpectQuery(`SELECT tenant_id`).
		WithArgs(models.CapabilityShop).
		WillReturnRows(capabilityRows("tenant-1", config))

	settings, err := resolver.Resolve(context.Background(), models.CapabilityShop, "")
	require.NoError(t, err)
	require.Len(t, settings, 1)

	assert.Equal(t, 48, settings[0].CartExpiryHours)
	assert.True(t, settings[0].AbandonedCartEnabled)
	assert.Equal(t, 6, settings[0].AbandonedCartHours)
	// Unset keys keep their defaults.
	assert.Equal(t, 3, settings[0].AbandonedCartMaxEmails)
	assert.Equal(t, []string{"ops@example.com"}, settings[0].StockAlertEmails)
}

func TestResolver_Resolve_TenantFilter(t *testing.T) {
	resolver, mock := newTestResolver(t)

	mock.ExpectQuery(`AND tenant_id = \$2`).
		WithArgs(models.CapabilityShop, "tenant-2").
		WillReturnRows(capabilityRows("tenant-2", `{}`))

	settings, err := resolver.Resolve(context.Background(), models.CapabilityShop, "tenant-2")
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.Equal(t, "tenant-2", settings[0].TenantID)
}

func TestResolver_Resolve_QueryError(t *testing.T) {
	resolver, mock := newTestResolver(t)

	mock.ExpectQuery(`SELECT tenant_id`).
		WillReturnError(errors.New("connection refused"))

	_, err := resolver.Resolve(context.Background(), models.CapabilityShop, "")
	assert.Error(t, err)
}

// ==========================
// Config Merge Tests
// ==========================

func TestResolver_Resolve_InvalidConfigFallsBackToDefaults(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"wrong type", `{"cart_expiry_hours": "soon"}`},
		{"negative hours", `{"abandoned_cart_hours": -1}`},
		{"not an object", `[1, 2, 3]`},
		{"broken json", `{"cart_expiry_hours":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, mock := newTestResolver(t)

			mock.ExpectQuery(`SELECT tenant_id`).
				WillReturnRows(capabilityRows("tenant-1", tt.config))

			settings, err := resolver.Resolve(context.Background(), models.CapabilityShop, "")
			require.NoError(t, err)
			require.Len(t, settings, 1)
			assert.Equal(t, 168, settings[0].CartExpiryHours)
			assert.Equal(t, 24, settings[0].AbandonedCartHours)
		})
	}
}

func TestSettings_MaxRecoveryEmails(t *testing.T) {
	tests := []struct {
		name       string
		configured int
		expected   int
	}{
		{"zero disables the sequence", 0, 0},
		{"below the step cap", 2, 2},
		{"at the step cap", 3, 3},
		{"above the step cap is held at three", 10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			s.AbandonedCartMaxEmails = tt.configured
			assert.Equal(t, tt.expected, s.MaxRecoveryEmails())
		})
	}
}

func TestResolver_Resolve_MaxEmailsAboveCapIsKeptVerbatim(t *testing.T) {
	resolver, mock := newTestResolver(t)

	mock.ExpectQuery(`SELECT tenant_id`).
		WillReturnRows(capabilityRows("tenant-1", `{"abandoned_cart_max_emails": 5}`))

	settings, err := resolver.Resolve(context.Background(), models.CapabilityShop, "")
	require.NoError(t, err)
	require.Len(t, settings, 1)

	// The configured value is preserved for visibility; only the effective
	// cap is clamped.
	assert.Equal(t, 5, settings[0].AbandonedCartMaxEmails)
	assert.Equal(t, 3, settings[0].MaxRecoveryEmails())
}
