// internal/workers/carts/cart-lifecycle-sweep/handler.go
package cartlifecycle

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
	"commerce-workers/internal/tenant"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "cart-lifecycle-sweep"

	// emptyCartMaxAge is the fixed age after which an empty cart is purged,
	// independent of status and tenant configuration.
	emptyCartMaxAge = 24 * time.Hour
)

type Handler struct {
	config   *Config
	db       *sql.DB
	resolver *tenant.Resolver
	errs     *commonerrors.ErrorHandler
	logger   logger.Logger
	now      func() time.Time
}

func NewHandler(config *Config, db *sql.DB, resolver *tenant.Resolver, log logger.Logger) *Handler {
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		db:       db,
		resolver: resolver,
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
		expired := h.sweepExpired(ctx, settings)
		emptied := h.sweepEmpty(ctx, settings.TenantID)

		output.TenantsProcessed++
		output.ExpiredDeleted += expired
		output.EmptyDeleted += emptied
	}

	metrics.SweepEntitiesProcessed.WithLabelValues(TaskType, "expired").Add(float64(output.ExpiredDeleted))
	metrics.SweepEntitiesProcessed.WithLabelValues(TaskType, "emptied").Add(float64(output.EmptyDeleted))
	metrics.SweepDuration.WithLabelValues(TaskType).Observe(h.now().Sub(start).Seconds())

	output.CompletedAt = h.now().UTC().Format(time.RFC3339)
	return output, nil
}

// sweepExpired hard-deletes carts past their explicit expiry, plus
// active/abandoned carts without one that went stale past the tenant's
// cart_expiry_hours.
func (h *Handler) sweepExpired(ctx context.Context, settings tenant.Settings) int {
	now := h.now().UTC()
	staleBefore := now.Add(-time.Duration(settings.CartExpiryHours) * time.Hour)

	rows, err := h.db.QueryContext(ctx, `
		SELECT id FROM carts
		WHERE tenant_id = $1
		  AND (
		    (expires_at IS NOT NULL AND expires_at < $2)
		    OR (expires_at IS NULL AND status IN ('active', 'abandoned') AND updated_at < $3)
		  )`, settings.TenantID, now, staleBefore)
	if err != nil {
		h.logger.Error("expired cart query failed", map[string]interface{}{
			"tenantId": settings.TenantID,
			"error":    err.Error(),
		})
		return 0
	}

	ids := collectIDs(rows, h.logger)

	deleted := 0
	for _, id := range ids {
		if err := h.deleteCart(ctx, id); err != nil {
			h.logger.Error("cart delete failed", map[string]interface{}{
				"cartId": id,
				"error":  err.Error(),
			})
			continue
		}
		deleted++
	}

	if deleted > 0 {
		h.logger.Info("expired carts deleted", map[string]interface{}{
			"tenantId": settings.TenantID,
			"count":    deleted,
		})
	}
	return deleted
}

// sweepEmpty hard-deletes carts that have no items and were last touched more
// than 24 hours ago. Status and tenant configuration do not matter here.
func (h *Handler) sweepEmpty(ctx context.Context, tenantID string) int {
	cutoff := h.now().UTC().Add(-emptyCartMaxAge)

	rows, err := h.db.QueryContext(ctx, `
		SELECT c.id FROM carts c
		LEFT JOIN cart_items i ON i.cart_id = c.id
		WHERE c.tenant_id = $1 AND c.updated_at < $2
		GROUP BY c.id
		HAVING COUNT(i.id) = 0`, tenantID, cutoff)
	if err != nil {
		h.logger.Error("empty cart query failed", map[string]interface{}{
			"tenantId": tenantID,
			"error":    err.Error(),
		})
		return 0
	}

	ids := collectIDs(rows, h.logger)

	deleted := 0
	for _, id := range ids {
		if err := h.deleteCart(ctx, id); err != nil {
			h.logger.Error("cart delete failed", map[string]interface{}{
				"cartId": id,
				"error":  err.Error(),
			})
			continue
		}
		deleted++
	}

	if deleted > 0 {
		h.logger.Info("empty carts deleted", map[string]interface{}{
			"tenantId": tenantID,
			"count":    deleted,
		})
	}
	return deleted
}

// deleteCart removes items first, then the cart row. Each cart is its own
// unit of work so one failure never blocks the rest of the batch.
func (h *Handler) deleteCart(ctx context.Context, cartID string) error {
	if _, err := h.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	if _, err := h.db.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

func collectIDs(rows *sql.Rows, log logger.Logger) []string {
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			log.Error("scan cart id failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		log.Error("cart id iteration failed", map[string]interface{}{"error": err.Error()})
	}
	return ids
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
