package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/payments"
)

// ReconcileHandler sweeps open invoices and re-derives their balances from
// stored allocations. It repairs drift after manual data fixes or partial
// failures outside the normal allocation path.
type ReconcileHandler struct {
	service *payments.Service
	logger  *slog.Logger
}

// NewReconcileHandler constructs a ReconcileHandler.
func NewReconcileHandler(service *payments.Service, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{service: service, logger: logger}
}

// Handle processes TaskTypeInvoiceReconcile tasks.
func (h *ReconcileHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload InvoiceReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	kind := payments.InvoiceKind(payload.Kind)
	if !kind.Valid() {
		return asynq.SkipRetry
	}
	invoices, err := h.service.ListOpenInvoices(ctx, payload.TenantID, kind, 0)
	if err != nil {
		return err
	}
	var failed int
	for _, inv := range invoices {
		if err := h.service.ReconcileInvoice(ctx, payload.TenantID, kind, inv.ID); err != nil {
			failed++
			h.logger.Warn("invoice reconcile failed",
				slog.Int64("tenant_id", payload.TenantID),
				slog.Int64("invoice_id", inv.ID),
				slog.Any("error", err))
		}
	}
	h.logger.Info("invoice reconcile sweep done",
		slog.Int64("tenant_id", payload.TenantID),
		slog.String("kind", payload.Kind),
		slog.Int("scanned", len(invoices)),
		slog.Int("failed", failed))
	return nil
}
