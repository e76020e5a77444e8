// internal/tenant/resolver.go
package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"commerce-workers/internal/common/logger"
	"commerce-workers/internal/common/validation"
)

// Settings is the merged per-tenant configuration for the shop capability.
// All defaults live in Defaults(); tenant overrides layer on top.
type Settings struct {
	TenantID               string
	CartExpiryHours        int
	AbandonedCartEnabled   bool
	AbandonedCartHours     int
	AbandonedCartMaxEmails int
	StockAlertEmails       []string
}

// Defaults returns the capability defaults. This is the single place where
// default values are declared.
func Defaults() Settings {
	return Settings{
		CartExpiryHours:        168, // 7 days
		AbandonedCartEnabled:   false,
		AbandonedCartHours:     24,
		AbandonedCartMaxEmails: 3,
		StockAlertEmails:       nil,
	}
}

// recoveryStepCap is the number of recovery steps the engine actually
// implements. Configurations above it are flagged, not truncated silently.
const recoveryStepCap = 3

// configSchema validates the capability configuration blob before overrides
// are merged. Unknown keys are allowed; wrong types are not.
const configSchema = `{
	"type": "object",
	"properties": {
		"cart_expiry_hours":         {"type": "integer", "minimum": 1},
		"abandoned_cart_enabled":    {"type": "boolean"},
		"abandoned_cart_hours":      {"type": "integer", "minimum": 1},
		"abandoned_cart_max_emails": {"type": "integer", "minimum": 0},
		"stock_alert_emails":        {"type": "array", "items": {"type": "string"}}
	}
}`

// overrides mirrors the configuration blob; pointer fields distinguish
// "absent" from zero values.
type overrides struct {
	CartExpiryHours        *int     `json:"cart_expiry_hours"`
	AbandonedCartEnabled   *bool    `json:"abandoned_cart_enabled"`
	AbandonedCartHours     *int     `json:"abandoned_cart_hours"`
	AbandonedCartMaxEmails *int     `json:"abandoned_cart_max_emails"`
	StockAlertEmails       []string `json:"stock_alert_emails"`
}

// Resolver reads tenant capability configuration. Pure read, no side effects.
type Resolver struct {
	db     *sql.DB
	logger logger.Logger
	schema *validation.Schema
}

func NewResolver(db *sql.DB, log logger.Logger) (*Resolver, error) {
	schema, err := validation.CompileSchema(configSchema)
	if err != nil {
		return nil, fmt.Errorf("compile capability config schema: %w", err)
	}
	return &Resolver{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "tenant-resolver"}),
		schema: schema,
	}, nil
}

// Resolve returns the settings of every tenant with the capability active.
// A non-empty tenantID narrows the result to that tenant. A missing or
// malformed configuration blob never fails the caller: the tenant gets pure
// defaults.
func (r *Resolver) Resolve(ctx context.Context, capability, tenantID string) ([]Settings, error) {
	query := `
		SELECT tenant_id, COALESCE(config, '{}'::jsonb)::text
		FROM tenant_capabilities
		WHERE capability = $1 AND active = TRUE`
	args := []interface{}{capability}
	if tenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	query += ` ORDER BY tenant_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tenant capabilities: %w", err)
	}
	defer rows.Close()

	var out []Settings
	for rows.Next() {
		var id, rawConfig string
		if err := rows.Scan(&id, &rawConfig); err != nil {
			return nil, fmt.Errorf("scan tenant capability: %w", err)
		}
		out = append(out, r.merge(id, []byte(rawConfig)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenant capabilities: %w", err)
	}

	return out, nil
}

// merge layers the tenant's overrides on top of Defaults. Any problem with
// the blob degrades to defaults with a warning.
func (r *Resolver) merge(tenantID string, rawConfig []byte) Settings {
	settings := Defaults()
	settings.TenantID = tenantID

	if len(rawConfig) == 0 {
		return settings
	}

	result, err := r.schema.ValidateBytes(rawConfig)
	if err != nil || !result.Valid {
		details := ""
		if err != nil {
			details = err.Error()
		} else {
			details = result.ErrorSummary()
		}
		r.logger.Warn("capability config invalid, using defaults", map[string]interface{}{
			"tenantId": tenantID,
			"details":  details,
		})
		return settings
	}

	var ov overrides
	if err := json.Unmarshal(rawConfig, &ov); err != nil {
		r.logger.Warn("capability config unmarshal failed, using defaults", map[string]interface{}{
			"tenantId": tenantID,
			"error":    err.Error(),
		})
		return settings
	}

	if ov.CartExpiryHours != nil {
		settings.CartExpiryHours = *ov.CartExpiryHours
	}
	if ov.AbandonedCartEnabled != nil {
		settings.AbandonedCartEnabled = *ov.AbandonedCartEnabled
	}
	if ov.AbandonedCartHours != nil {
		settings.AbandonedCartHours = *ov.AbandonedCartHours
	}
	if ov.AbandonedCartMaxEmails != nil {
		settings.AbandonedCartMaxEmails = *ov.AbandonedCartMaxEmails
	}
	if ov.StockAlertEmails != nil {
		settings.StockAlertEmails = ov.StockAlertEmails
	}

	// The recovery sequence has three fixed steps; a higher configured max
	// cannot be honored and should not be truncated silently.
	if settings.AbandonedCartMaxEmails > recoveryStepCap {
		r.logger.Warn("abandoned_cart_max_emails exceeds the fixed step sequence", map[string]interface{}{
			"tenantId":   tenantID,
			"configured": settings.AbandonedCartMaxEmails,
			"effective":  recoveryStepCap,
		})
	}

	return settings
}

// MaxRecoveryEmails returns the effective cap on the recovery sequence.
func (s Settings) MaxRecoveryEmails() int {
	if s.AbandonedCartMaxEmails < recoveryStepCap {
		return s.AbandonedCartMaxEmails
	}
	return recoveryStepCap
}
