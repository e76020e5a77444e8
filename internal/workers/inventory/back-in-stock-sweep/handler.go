// internal/workers/inventory/back-in-stock-sweep/handler.go
package backinstock

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"commerce-workers/internal/common/claims"
	commonerrors "commerce-workers/internal/common/errors"
	"commerce-workers/internal/common/logger"
	"commerce-workers/internal/common/metrics"
	"commerce-workers/internal/models"
	"commerce-workers/internal/notify"
	"commerce-workers/internal/tenant"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "back-in-stock-sweep"

type Handler struct {
	config   *Config
	db       *sql.DB
	resolver *tenant.Resolver
	claimer  *claims.Claimer
	gateway  notify.Gateway
	errs     *commonerrors.ErrorHandler
	logger   logger.Logger
	now      func() time.Time
}

func NewHandler(config *Config, db *sql.DB, resolver *tenant.Resolver, claimer *claims.Claimer, gateway notify.Gateway, log logger.Logger) *Handler {
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		db:       db,
		resolver: resolver,
		claimer:  claimer,
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

	output := &Output{}

	if input.ProductID != "" {
		// Single-product mode, typically dispatched right after a restock.
		alerts := h.pendingAlerts(ctx, `SELECT id, tenant_id, product_id, variant_id, email FROM stock_alerts WHERE product_id = $1 AND status = 'pending'`, input.ProductID)
		h.processAlerts(ctx, alerts, output)
	} else {
		tenants, err := h.resolver.Resolve(ctx, models.CapabilityShop, input.TenantID)
		if err != nil {
			return nil, fmt.Errorf("resolve tenants: %w", err)
		}
		for _, settings := range tenants {
			output.TenantsProcessed++
			alerts := h.pendingAlerts(ctx, `SELECT id, tenant_id, product_id, variant_id, email FROM stock_alerts WHERE tenant_id = $1 AND status = 'pending'`, settings.TenantID)
			h.processAlerts(ctx, alerts, output)
		}
	}

	metrics.SweepEntitiesProcessed.WithLabelValues(TaskType, "sent").Add(float64(output.AlertsSent))
	metrics.SweepEntitiesProcessed.WithLabelValues(TaskType, "cancelled").Add(float64(output.AlertsCancelled))
	metrics.SweepDuration.WithLabelValues(TaskType).Observe(h.now().Sub(start).Seconds())

	output.CompletedAt = h.now().UTC().Format(time.RFC3339)
	return output, nil
}

func (h *Handler) pendingAlerts(ctx context.Context, query, arg string) []models.StockAlert {
	rows, err := h.db.QueryContext(ctx, query, arg)
	if err != nil {
		h.logger.Error("pending alert query failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	defer rows.Close()

	var alerts []models.StockAlert
	for rows.Next() {
		var a models.StockAlert
		if err := rows.Scan(&a.ID, &a.TenantID, &a.ProductID, &a.VariantID, &a.Email); err != nil {
			h.logger.Error("scan stock alert failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("stock alert iteration failed", map[string]interface{}{"error": err.Error()})
	}
	return alerts
}

func (h *Handler) processAlerts(ctx context.Context, alerts []models.StockAlert, output *Output) {
	for _, alert := range alerts {
		switch h.processOne(ctx, alert) {
		case alertFulfilled:
			output.AlertsSent++
		case alertCancelled:
			output.AlertsCancelled++
		case alertFailed:
			output.AlertsFailed++
		}
	}
}

type alertOutcome int

const (
	alertFulfilled alertOutcome = iota
	alertCancelled
	alertStillPending
	alertFailed
)

// processOne resolves a single pending alert. A product that is gone,
// inactive or hidden cancels the alert with no notification. An in-stock
// product dispatches to the customer; the terminal status write is
// conditional on the row still being pending, so the transition to sent
// happens at most once even under overlapping sweeps.
func (h *Handler) processOne(ctx context.Context, alert models.StockAlert) alertOutcome {
	var (
		name     string
		status   string
		visible  bool
		quantity int
	)
	err := h.db.QueryRowContext(ctx, `
		SELECT name, status, visible, stock_quantity
		FROM products WHERE id = $1`, alert.ProductID).
		Scan(&name, &status, &visible, &quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return h.cancel(ctx, alert)
	}
	if err != nil {
		h.logger.Error("product lookup failed", map[string]interface{}{
			"alertId":   alert.ID,
			"productId": alert.ProductID,
			"error":     err.Error(),
		})
		return alertFailed
	}
	if status != models.ProductStatusActive || !visible {
		return h.cancel(ctx, alert)
	}

	variantSuffix := ""
	if alert.VariantID.Valid {
		var variantName string
		err := h.db.QueryRowContext(ctx, `
			SELECT name, stock_quantity
			FROM product_variants WHERE id = $1`, alert.VariantID.String).
			Scan(&variantName, &quantity)
		if errors.Is(err, sql.ErrNoRows) {
			// Variant row is gone; the product's own stock decides.
		} else if err != nil {
			h.logger.Error("variant lookup failed", map[string]interface{}{
				"alertId":   alert.ID,
				"variantId": alert.VariantID.String,
				"error":     err.Error(),
			})
			return alertFailed
		} else {
			variantSuffix = " / " + variantName
		}
	}

	if quantity <= 0 {
		return alertStillPending
	}

	return h.fulfill(ctx, alert, name, variantSuffix)
}

func (h *Handler) cancel(ctx context.Context, alert models.StockAlert) alertOutcome {
	res, err := h.db.ExecContext(ctx, `
		UPDATE stock_alerts SET status = 'cancelled'
		WHERE id = $1 AND status = 'pending'`, alert.ID)
	if err != nil {
		h.logger.Error("alert cancel failed", map[string]interface{}{
			"alertId": alert.ID,
			"error":   err.Error(),
		})
		return alertFailed
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return alertStillPending
	}

	h.logger.Info("stock alert cancelled", map[string]interface{}{
		"alertId":   alert.ID,
		"productId": alert.ProductID,
	})
	return alertCancelled
}

func (h *Handler) fulfill(ctx context.Context, alert models.StockAlert, productName, variantSuffix string) alertOutcome {
	key := claims.BackInStockKey(alert.ID)
	acquired, err := h.claimer.Acquire(ctx, key)
	if err != nil {
		h.logger.Error("fulfillment claim failed", map[string]interface{}{
			"alertId": alert.ID,
			"error":   err.Error(),
		})
		return alertFailed
	}
	if !acquired {
		return alertStillPending
	}

	err = h.gateway.Send(ctx, notify.Notification{
		TenantID:   alert.TenantID,
		Recipients: []string{alert.Email},
		Template:   notify.TemplateBackInStock,
		Data: map[string]interface{}{
			"productName":   productName,
			"variantSuffix": variantSuffix,
		},
	})
	if err != nil {
		h.logger.Error("back in stock email failed", map[string]interface{}{
			"alertId": alert.ID,
			"error":   err.Error(),
		})
		metrics.NotificationsFailed.WithLabelValues(notify.TemplateBackInStock).Inc()
		if relErr := h.claimer.Release(ctx, key); relErr != nil {
			h.logger.Warn("fulfillment claim release failed", map[string]interface{}{
				"alertId": alert.ID,
				"error":   relErr.Error(),
			})
		}
		return alertFailed
	}

	res, err := h.db.ExecContext(ctx, `
		UPDATE stock_alerts SET status = 'sent', fulfilled_at = $2
		WHERE id = $1 AND status = 'pending'`, alert.ID, h.now().UTC())
	if err != nil {
		h.logger.Error("alert status update failed", map[string]interface{}{
			"alertId": alert.ID,
			"error":   err.Error(),
		})
		return alertFulfilled
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		h.logger.Warn("alert already resolved", map[string]interface{}{
			"alertId": alert.ID,
		})
	}

	metrics.NotificationsSent.WithLabelValues(notify.TemplateBackInStock).Inc()
	return alertFulfilled
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
