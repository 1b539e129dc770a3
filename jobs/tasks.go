package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeInvoiceReconcile re-derives invoice balances from allocations.
	TaskTypeInvoiceReconcile = "payments:reconcile"
	// TaskTypeLedgerIntegrity verifies posted entries still balance.
	TaskTypeLedgerIntegrity = "ledger:integrity"
)

// InvoiceReconcilePayload scopes a reconciliation sweep.
type InvoiceReconcilePayload struct {
	TenantID int64  `json:"tenant_id"`
	Kind     string `json:"kind"`
}

// NewInvoiceReconcileTask constructs an Asynq task.
func NewInvoiceReconcileTask(payload InvoiceReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeInvoiceReconcile, data), nil
}

// LedgerIntegrityPayload scopes the integrity sweep to one tenant, or all
// tenants when TenantID is zero.
type LedgerIntegrityPayload struct {
	TenantID int64 `json:"tenant_id"`
}

// NewLedgerIntegrityTask constructs an Asynq task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLedgerIntegrity, data), nil
}
