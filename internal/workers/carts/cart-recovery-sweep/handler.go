// internal/workers/carts/cart-recovery-sweep/handler.go
package cartrecovery

import (
	"context"
	"database/sql"
	"encoding/json"
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

const TaskType = "cart-recovery-sweep"

// recoveryStepOffsets are the delays, relative to the moment a cart counts as
// abandoned, after which each recovery email in the sequence becomes due.
// Email n is due at abandonedCartHours + recoveryStepOffsets[n-1] hours past
// the cart's last activity.
var recoveryStepOffsets = [3]time.Duration{0, 24 * time.Hour, 72 * time.Hour}

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

	tenants, err := h.resolver.Resolve(ctx, models.CapabilityShop, input.TenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenants: %w", err)
	}

	output := &Output{}
	for _, settings := range tenants {
		output.TenantsProcessed++
		if !settings.AbandonedCartEnabled {
			continue
		}

		output.CartsAbandoned += h.markAbandoned(ctx, settings)

		sent, failed := h.sendDueEmails(ctx, settings)
		output.EmailsSent += sent
		output.EmailsFailed += failed
	}

	metrics.SweepEntitiesProcessed.WithLabelValues(TaskType, "abandoned").Add(float64(output.CartsAbandoned))
	metrics.SweepEntitiesProcessed.WithLabelValues(TaskType, "email_sent").Add(float64(output.EmailsSent))
	metrics.SweepEntitiesProcessed.WithLabelValues(TaskType, "email_failed").Add(float64(output.EmailsFailed))
	metrics.SweepDuration.WithLabelValues(TaskType).Observe(h.now().Sub(start).Seconds())

	output.CompletedAt = h.now().UTC().Format(time.RFC3339)
	return output, nil
}

// markAbandoned flips stale active carts to abandoned. Only carts with a
// known email and at least one item qualify; the update never touches
// updated_at, which stays the anchor for the email schedule.
func (h *Handler) markAbandoned(ctx context.Context, settings tenant.Settings) int {
	cutoff := h.now().UTC().Add(-time.Duration(settings.AbandonedCartHours) * time.Hour)

	res, err := h.db.ExecContext(ctx, `
		UPDATE carts SET status = 'abandoned'
		WHERE tenant_id = $1
		  AND status = 'active'
		  AND email IS NOT NULL
		  AND updated_at < $2
		  AND EXISTS (SELECT 1 FROM cart_items i WHERE i.cart_id = carts.id)`,
		settings.TenantID, cutoff)
	if err != nil {
		h.logger.Error("abandon update failed", map[string]interface{}{
			"tenantId": settings.TenantID,
			"error":    err.Error(),
		})
		return 0
	}

	affected, _ := res.RowsAffected()
	if affected > 0 {
		h.logger.Info("carts marked abandoned", map[string]interface{}{
			"tenantId": settings.TenantID,
			"count":    affected,
		})
	}
	return int(affected)
}

type recoveryCandidate struct {
	ID        string
	Email     string
	Sent      int
	UpdatedAt time.Time
	ItemCount int
}

func (h *Handler) sendDueEmails(ctx context.Context, settings tenant.Settings) (sent, failed int) {
	maxEmails := settings.MaxRecoveryEmails()
	if maxEmails == 0 {
		return 0, 0
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT c.id, c.email, c.recovery_emails_sent, c.updated_at,
		       (SELECT COUNT(*) FROM cart_items i WHERE i.cart_id = c.id)
		FROM carts c
		WHERE c.tenant_id = $1
		  AND c.status = 'abandoned'
		  AND c.email IS NOT NULL
		  AND c.recovery_emails_sent < $2`,
		settings.TenantID, maxEmails)
	if err != nil {
		h.logger.Error("recovery candidate query failed", map[string]interface{}{
			"tenantId": settings.TenantID,
			"error":    err.Error(),
		})
		return 0, 0
	}

	candidates := collectCandidates(rows, h.logger)

	for _, cart := range candidates {
		if cart.ItemCount == 0 {
			continue
		}

		emailNumber := cart.Sent + 1
		due, ok := h.dueAt(settings, cart.UpdatedAt, emailNumber)
		if !ok || h.now().UTC().Before(due) {
			continue
		}

		switch h.sendOne(ctx, settings, cart, emailNumber, maxEmails) {
		case stepSent:
			sent++
		case stepFailed:
			failed++
		}
	}
	return sent, failed
}

// dueAt returns the moment recovery email emailNumber becomes due for a cart
// last touched at updatedAt. ok is false past the end of the sequence.
func (h *Handler) dueAt(settings tenant.Settings, updatedAt time.Time, emailNumber int) (time.Time, bool) {
	if emailNumber < 1 || emailNumber > len(recoveryStepOffsets) {
		return time.Time{}, false
	}
	abandoned := updatedAt.Add(time.Duration(settings.AbandonedCartHours) * time.Hour)
	return abandoned.Add(recoveryStepOffsets[emailNumber-1]), true
}

type stepOutcome int

const (
	stepSent stepOutcome = iota
	stepSkipped
	stepFailed
)

// sendOne claims the (cart, step) pair, dispatches the email and records the
// step with a conditional counter update. A lost claim or counter race means
// another run already handled the step; neither counts as a failure here.
func (h *Handler) sendOne(ctx context.Context, settings tenant.Settings, cart recoveryCandidate, emailNumber, maxEmails int) stepOutcome {
	key := claims.RecoveryEmailKey(cart.ID, emailNumber)
	acquired, err := h.claimer.Acquire(ctx, key)
	if err != nil {
		h.logger.Error("recovery claim failed", map[string]interface{}{
			"cartId": cart.ID,
			"error":  err.Error(),
		})
		return stepFailed
	}
	if !acquired {
		return stepSkipped
	}

	err = h.gateway.Send(ctx, notify.Notification{
		TenantID:   settings.TenantID,
		Recipients: []string{cart.Email},
		Template:   notify.TemplateCartRecovery,
		Data: map[string]interface{}{
			"itemCount":   cart.ItemCount,
			"emailNumber": emailNumber,
			"maxEmails":   maxEmails,
		},
	})
	if err != nil {
		h.logger.Error("recovery email failed", map[string]interface{}{
			"cartId":      cart.ID,
			"emailNumber": emailNumber,
			"error":       err.Error(),
		})
		metrics.NotificationsFailed.WithLabelValues(notify.TemplateCartRecovery).Inc()
		if relErr := h.claimer.Release(ctx, key); relErr != nil {
			h.logger.Warn("recovery claim release failed", map[string]interface{}{
				"cartId": cart.ID,
				"error":  relErr.Error(),
			})
		}
		return stepFailed
	}

	res, err := h.db.ExecContext(ctx, `
		UPDATE carts
		SET recovery_emails_sent = recovery_emails_sent + 1, last_recovery_sent_at = $2
		WHERE id = $1 AND recovery_emails_sent = $3`,
		cart.ID, h.now().UTC(), cart.Sent)
	if err != nil {
		h.logger.Error("recovery counter update failed", map[string]interface{}{
			"cartId": cart.ID,
			"error":  err.Error(),
		})
		return stepSent
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		h.logger.Warn("recovery counter already advanced", map[string]interface{}{
			"cartId":      cart.ID,
			"emailNumber": emailNumber,
		})
	}

	metrics.NotificationsSent.WithLabelValues(notify.TemplateCartRecovery).Inc()
	return stepSent
}

func collectCandidates(rows *sql.Rows, log logger.Logger) []recoveryCandidate {
	defer rows.Close()

	var candidates []recoveryCandidate
	for rows.Next() {
		var c recoveryCandidate
		if err := rows.Scan(&c.ID, &c.Email, &c.Sent, &c.UpdatedAt, &c.ItemCount); err != nil {
			log.Error("scan recovery candidate failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		log.Error("recovery candidate iteration failed", map[string]interface{}{"error": err.Error()})
	}
	return candidates
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
