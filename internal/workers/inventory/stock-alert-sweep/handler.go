// internal/workers/inventory/stock-alert-sweep/handler.go
package stockalert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	commonerrors "commerce-workers/internal/common/errors"
	"commerce-workers/internal/common/logger"
	"commerce-workers/internal/common/metrics"
	"commerce-workers/internal/models"
	"commerce-workers/internal/notify"
	"commerce-workers/internal/tenant"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "stock-alert-sweep"

	// dedupWindow is the minimum time between two alerts of the same type for
	// the same product or variant.
	dedupWindow = 24 * time.Hour
)

type Handler struct {
	config   *Config
	db       *sql.DB
	resolver *tenant.Resolver
	gateway  notify.Gateway
	errs     *commonerrors.ErrorHandler
	logger   logger.Logger
	now      func() time.Time
}

func NewHandler(config *Config, db *sql.DB, resolver *tenant.Resolver, gateway notify.Gateway, log logger.Logger) *Handler {
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		db:       db,
		resolver: resolver,
		gateway:  gateway,
		errs:     commonerrors.NewErrorHandler(scoped),
		logger:   scoped,
		now:      time.Now,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(client, job, "PARSE_ERROR", fmt.Sprintf("parse input: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		metrics.SweepFailures.WithLabelValues(TaskType, "TENANT_RESOLVE_FAILED").Inc()
		h.errs.HandleJobError(ctx, client, job, commonerrors.NewTenantResolveError(err))
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	start := h.now()

	tenants, err := h.resolver.Resolve(ctx, models.CapabilityShop, input.TenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenants: %w", err)
	}

	output := &Output{}
	for _, settings := range tenants {
		output.TenantsProcessed++

		recipients := h.resolveRecipients(ctx, settings)
		if len(recipients) == 0 {
			h.logger.Debug("no alert recipients, skipping tenant", map[string]interface{}{
				"tenantId": settings.TenantID,
			})
			continue
		}

		products := h.loadProducts(ctx, settings.TenantID)

		// Low-stock alerts go out before out-of-stock ones; within a product
		// the product-level check precedes its variants.
		low, lowFailed := h.sweepType(ctx, settings.TenantID, models.AlertTypeLowStock, products, recipients)
		out, outFailed := h.sweepType(ctx, settings.TenantID, models.AlertTypeOutOfStock, products, recipients)

		output.LowStockAlerts += low
		output.OutOfStockAlerts += out
		output.AlertsFailed += lowFailed + outFailed
	}

	metrics.SweepEntitiesProcessed.WithLabelValues(TaskType, models.AlertTypeLowStock).Add(float64(output.LowStockAlerts))
	metrics.SweepEntitiesProcessed.WithLabelValues(TaskType, models.AlertTypeOutOfStock).Add(float64(output.OutOfStockAlerts))
	metrics.SweepDuration.WithLabelValues(TaskType).Observe(h.now().Sub(start).Seconds())

	output.CompletedAt = h.now().UTC().Format(time.RFC3339)
	return output, nil
}

// resolveRecipients returns the tenant's configured alert list, falling back
// to the emails of its active users.
func (h *Handler) resolveRecipients(ctx context.Context, settings tenant.Settings) []string {
	if len(settings.StockAlertEmails) > 0 {
		return settings.StockAlertEmails
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT email FROM users
		WHERE tenant_id = $1 AND active = TRUE`, settings.TenantID)
	if err != nil {
		h.logger.Error("recipient fallback query failed", map[string]interface{}{
			"tenantId": settings.TenantID,
			"error":    err.Error(),
		})
		return nil
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			h.logger.Error("scan user email failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("user email iteration failed", map[string]interface{}{"error": err.Error()})
	}
	return emails
}

type variantStock struct {
	ID       string
	Name     string
	Quantity int
}

type productStock struct {
	ID        string
	Name      string
	Quantity  int
	Threshold int
	Variants  []variantStock
}

// loadProducts fetches the tenant's inventory-tracked, active, visible
// products with their variants. Only those are alert candidates.
func (h *Handler) loadProducts(ctx context.Context, tenantID string) []productStock {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, name, stock_quantity, low_stock_threshold
		FROM products
		WHERE tenant_id = $1
		  AND track_inventory = TRUE
		  AND status = 'active'
		  AND visible = TRUE
		ORDER BY id`, tenantID)
	if err != nil {
		h.logger.Error("product query failed", map[string]interface{}{
			"tenantId": tenantID,
			"error":    err.Error(),
		})
		return nil
	}

	var products []productStock
	func() {
		defer rows.Close()
		for rows.Next() {
			var p productStock
			if err := rows.Scan(&p.ID, &p.Name, &p.Quantity, &p.Threshold); err != nil {
				h.logger.Error("scan product failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			products = append(products, p)
		}
		if err := rows.Err(); err != nil {
			h.logger.Error("product iteration failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	for i := range products {
		products[i].Variants = h.loadVariants(ctx, products[i].ID)
	}
	return products
}

func (h *Handler) loadVariants(ctx context.Context, productID string) []variantStock {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, name, stock_quantity
		FROM product_variants
		WHERE product_id = $1
		ORDER BY id`, productID)
	if err != nil {
		h.logger.Error("variant query failed", map[string]interface{}{
			"productId": productID,
			"error":     err.Error(),
		})
		return nil
	}
	defer rows.Close()

	var variants []variantStock
	for rows.Next() {
		var v variantStock
		if err := rows.Scan(&v.ID, &v.Name, &v.Quantity); err != nil {
			h.logger.Error("scan variant failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("variant iteration failed", map[string]interface{}{"error": err.Error()})
	}
	return variants
}

// alertCandidate is one product- or variant-level entity crossing a
// threshold.
type alertCandidate struct {
	EntityType  string
	EntityID    string
	ProductName string
	VariantName string
	Quantity    int
	Threshold   int
}

func (h *Handler) sweepType(ctx context.Context, tenantID, alertType string, products []productStock, recipients []string) (sent, failed int) {
	for _, p := range products {
		var candidates []alertCandidate
		if qualifies(alertType, p.Quantity, p.Threshold) {
			candidates = append(candidates, alertCandidate{
				EntityType:  models.AlertEntityProduct,
				EntityID:    p.ID,
				ProductName: p.Name,
				Quantity:    p.Quantity,
				Threshold:   p.Threshold,
			})
		}
		for _, v := range p.Variants {
			if !qualifies(alertType, v.Quantity, p.Threshold) {
				continue
			}
			candidates = append(candidates, alertCandidate{
				EntityType:  models.AlertEntityVariant,
				EntityID:    v.ID,
				ProductName: p.Name,
				VariantName: v.Name,
				Quantity:    v.Quantity,
				Threshold:   p.Threshold,
			})
		}

		for _, c := range candidates {
			switch h.sendAlert(ctx, tenantID, alertType, c, recipients) {
			case alertSent:
				sent++
			case alertFailed:
				failed++
			}
		}
	}
	return sent, failed
}

// qualifies reports whether a stock level crosses the threshold for the given
// alert type. Out of stock and low stock are disjoint.
func qualifies(alertType string, quantity, threshold int) bool {
	switch alertType {
	case models.AlertTypeLowStock:
		return quantity > 0 && quantity <= threshold
	case models.AlertTypeOutOfStock:
		return quantity <= 0
	}
	return false
}

type alertOutcome int

const (
	alertSent alertOutcome = iota
	alertSkipped
	alertFailed
)

// sendAlert claims the (entity, type) pair in alert_log, then dispatches. The
// claim stamps last_sent_at in the same statement that checks the dedup
// window, so overlapping sweeps cannot double-send. A failed dispatch deletes
// the stamp again, guarded by the stamped value, so the alert stays eligible.
func (h *Handler) sendAlert(ctx context.Context, tenantID, alertType string, c alertCandidate, recipients []string) alertOutcome {
	stampedAt := h.now().UTC()
	cutoff := stampedAt.Add(-dedupWindow)

	res, err := h.db.ExecContext(ctx, `
		INSERT INTO alert_log (entity_type, entity_id, alert_type, last_sent_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_type, entity_id, alert_type)
		DO UPDATE SET last_sent_at = EXCLUDED.last_sent_at
		WHERE alert_log.last_sent_at <= $5`,
		c.EntityType, c.EntityID, alertType, stampedAt, cutoff)
	if err != nil {
		h.logger.Error("alert claim failed", map[string]interface{}{
			"entityType": c.EntityType,
			"entityId":   c.EntityID,
			"alertType":  alertType,
			"error":      err.Error(),
		})
		return alertFailed
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return alertSkipped
	}

	variantSuffix := ""
	if c.VariantName != "" {
		variantSuffix = " / " + c.VariantName
	}

	template := notify.TemplateLowStock
	if alertType == models.AlertTypeOutOfStock {
		template = notify.TemplateOutOfStock
	}

	err = h.gateway.Send(ctx, notify.Notification{
		TenantID:   tenantID,
		Recipients: recipients,
		Template:   template,
		Data: map[string]interface{}{
			"productName":   c.ProductName,
			"variantSuffix": variantSuffix,
			"stockQuantity": c.Quantity,
			"threshold":     c.Threshold,
		},
	})
	if err != nil {
		h.logger.Error("stock alert failed", map[string]interface{}{
			"entityType": c.EntityType,
			"entityId":   c.EntityID,
			"alertType":  alertType,
			"error":      err.Error(),
		})
		metrics.NotificationsFailed.WithLabelValues(template).Inc()
		h.releaseClaim(ctx, c.EntityType, c.EntityID, alertType, stampedAt)
		return alertFailed
	}

	metrics.NotificationsSent.WithLabelValues(template).Inc()
	return alertSent
}

// releaseClaim undoes a dedup stamp after a failed dispatch. The delete is
// guarded by the stamped value so a newer stamp from a concurrent sweep is
// never removed.
func (h *Handler) releaseClaim(ctx context.Context, entityType, entityID, alertType string, stampedAt time.Time) {
	_, err := h.db.ExecContext(ctx, `
		DELETE FROM alert_log
		WHERE entity_type = $1 AND entity_id = $2 AND alert_type = $3 AND last_sent_at = $4`,
		entityType, entityID, alertType, stampedAt)
	if err != nil {
		h.logger.Warn("alert claim release failed", map[string]interface{}{
			"entityType": entityType,
			"entityId":   entityID,
			"alertType":  alertType,
			"error":      err.Error(),
		})
	}
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	_, err = cmd.Send(context.Background())
	if err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (h *Handler) failJob(client worker.JobClient, job entities.Job, errorCode, errorMessage string) {
	h.logger.Error("job failed", map[string]interface{}{
		"jobKey":       job.Key,
		"errorCode":    errorCode,
		"errorMessage": errorMessage,
	})

	_, err := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(errorCode).
		ErrorMessage(errorMessage).
		Send(context.Background())
	if err != nil {
		h.logger.Error("failed to throw error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Execute exposes the sweep for direct invocation and tests.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
