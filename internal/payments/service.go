package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/numbering"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	internalshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort records allocation actors.
type AuditPort interface {
	Record(ctx context.Context, log internalshared.AuditLog) error
}

// MetricsPort counts allocation traffic. May be nil.
type MetricsPort interface {
	ObserveAllocation(kind string)
}

// Service settles invoices by spreading payments across them.
type Service struct {
	repo    Repository
	numbers numbering.Source
	audit   AuditPort
	metrics MetricsPort
	policy  AllocationPolicy
	now     func() time.Time
}

// NewService constructs a Service with the reject over-allocation policy.
func NewService(repo Repository, numbers numbering.Source, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, numbers: numbers, audit: audit, metrics: metrics, policy: PolicyReject, now: time.Now}
}

// WithPolicy switches the over-allocation policy.
func (s *Service) WithPolicy(p AllocationPolicy) *Service {
	if p == PolicyReject || p == PolicyAllowAndFlag {
		s.policy = p
	}
	return s
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RegisterPaymentInput groups the fields to record a money movement.
type RegisterPaymentInput struct {
	TenantID       int64
	Number         string
	Direction      Direction
	CounterpartyID int64
	CurrencyID     *int64
	Amount         decimal.Decimal
	Date           time.Time
	Memo           string
	CreatedBy      int64
}

// Validate ensures the payment meets minimum criteria.
func (in RegisterPaymentInput) Validate() error {
	if in.TenantID == 0 {
		return errors.New("payments: tenant required")
	}
	if !in.Direction.Valid() {
		return fmt.Errorf("payments: unknown direction %q", in.Direction)
	}
	if in.CounterpartyID == 0 {
		return errors.New("payments: counterparty required")
	}
	if !in.Amount.IsPositive() {
		return errors.New("payments: amount must be positive")
	}
	if in.Date.IsZero() {
		return errors.New("payments: payment date required")
	}
	return nil
}

// RegisterPayment records a payment with no allocations yet.
func (s *Service) RegisterPayment(ctx context.Context, in RegisterPaymentInput) (Payment, error) {
	if err := in.Validate(); err != nil {
		return Payment{}, err
	}
	number := in.Number
	if number == "" {
		var err error
		number, err = s.numbers.Next(ctx, in.TenantID, numbering.DocTypePayment)
		if err != nil {
			return Payment{}, fmt.Errorf("payments: request payment number: %w", err)
		}
	}
	var out Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.InsertPayment(ctx, Payment{
			TenantID:       in.TenantID,
			Number:         number,
			Direction:      in.Direction,
			CounterpartyID: in.CounterpartyID,
			CurrencyID:     in.CurrencyID,
			Amount:         in.Amount,
			Date:           in.Date,
			Memo:           in.Memo,
			CreatedBy:      in.CreatedBy,
		})
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return Payment{}, mapConflict(err)
	}
	return out, nil
}

// AllocateInput applies part of a payment to an invoice.
type AllocateInput struct {
	TenantID    int64
	PaymentID   int64
	InvoiceKind InvoiceKind
	InvoiceID   int64
	Amount      decimal.Decimal
	ActorID     int64
}

// Allocate applies a payment slice to an invoice and recomputes the invoice
// balance inside the same transaction. Checks run in a fixed order: payment
// funds first, then invoice state, then the open balance against the policy.
func (s *Service) Allocate(ctx context.Context, in AllocateInput) (Allocation, error) {
	if !in.Amount.IsPositive() {
		return Allocation{}, errors.New("payments: allocation amount must be positive")
	}
	if !in.InvoiceKind.Valid() {
		return Allocation{}, fmt.Errorf("payments: unknown invoice kind %q", in.InvoiceKind)
	}
	var out Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetPaymentForUpdate(ctx, in.TenantID, in.PaymentID)
		if err != nil {
			return err
		}
		allocatedFromPayment, err := tx.SumAllocationsForPayment(ctx, in.TenantID, in.PaymentID)
		if err != nil {
			return err
		}
		if in.Amount.GreaterThan(payment.Amount.Sub(allocatedFromPayment)) {
			return ErrPaymentExhausted
		}

		invoice, err := tx.GetInvoiceForUpdate(ctx, in.TenantID, in.InvoiceKind, in.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.Status == StatusCancelled {
			return fmt.Errorf("payments: invoice %s is cancelled: %w", invoice.Number, ErrInvalidState)
		}

		flagged := false
		if in.Amount.GreaterThan(invoice.BalanceDue) {
			switch s.policy {
			case PolicyAllowAndFlag:
				flagged = true
			default:
				return fmt.Errorf("payments: allocation %s exceeds balance due %s: %w",
					in.Amount.StringFixed(2), invoice.BalanceDue.StringFixed(2), ErrOverAllocated)
			}
		}

		alloc, err := tx.InsertAllocation(ctx, Allocation{
			TenantID:    in.TenantID,
			PaymentID:   in.PaymentID,
			InvoiceKind: in.InvoiceKind,
			InvoiceID:   in.InvoiceID,
			Amount:      in.Amount,
			Flagged:     flagged,
			CreatedBy:   in.ActorID,
		})
		if err != nil {
			return err
		}
		if err := s.recomputeBalance(ctx, tx, invoice); err != nil {
			return err
		}
		out = alloc
		return nil
	})
	if err != nil {
		return Allocation{}, mapConflict(err)
	}
	s.observe(string(in.InvoiceKind))
	if s.audit != nil {
		if err := s.audit.Record(ctx, internalshared.AuditLog{
			TenantID: in.TenantID,
			ActorID:  in.ActorID,
			Action:   "payment.allocate",
			Entity:   "payment_allocation",
			EntityID: fmt.Sprintf("%d", out.ID),
			Meta:     map[string]any{"payment_id": in.PaymentID, "invoice_id": in.InvoiceID, "amount": in.Amount.String(), "flagged": out.Flagged},
			At:       s.now(),
		}); err != nil {
			slog.WarnContext(ctx, "audit record failed", "action", "payment.allocate", "error", err)
		}
	}
	return out, nil
}

// Deallocate removes one allocation and recomputes the invoice balance. A
// cancelled invoice keeps its status, and a paid invoice may fall back to
// partially paid or issued.
func (s *Service) Deallocate(ctx context.Context, tenantID, allocationID, actorID int64) error {
	var removed Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		alloc, err := tx.GetAllocationForUpdate(ctx, tenantID, allocationID)
		if err != nil {
			return err
		}
		invoice, err := tx.GetInvoiceForUpdate(ctx, tenantID, alloc.InvoiceKind, alloc.InvoiceID)
		if err != nil {
			return err
		}
		if err := tx.DeleteAllocation(ctx, tenantID, allocationID); err != nil {
			return err
		}
		if err := s.recomputeBalance(ctx, tx, invoice); err != nil {
			return err
		}
		removed = alloc
		return nil
	})
	if err != nil {
		return mapConflict(err)
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, internalshared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "payment.deallocate",
			Entity:   "payment_allocation",
			EntityID: fmt.Sprintf("%d", allocationID),
			Meta:     map[string]any{"payment_id": removed.PaymentID, "invoice_id": removed.InvoiceID, "amount": removed.Amount.String()},
			At:       s.now(),
		}); err != nil {
			slog.WarnContext(ctx, "audit record failed", "action", "payment.deallocate", "error", err)
		}
	}
	return nil
}

// recomputeBalance re-derives balance_due and status from the allocation sum
// while the invoice row lock is held.
func (s *Service) recomputeBalance(ctx context.Context, tx TxRepository, invoice Invoice) error {
	allocated, err := tx.SumAllocationsForInvoice(ctx, invoice.TenantID, invoice.Kind, invoice.ID)
	if err != nil {
		return err
	}
	balance := balanceFor(invoice.Total, allocated)
	status := statusFor(invoice.Status, balance, allocated)
	return tx.UpdateInvoiceBalance(ctx, invoice.TenantID, invoice.Kind, invoice.ID, balance, status)
}

// UnallocatedAmount reports how much of a payment is still free to allocate.
func (s *Service) UnallocatedAmount(ctx context.Context, tenantID, paymentID int64) (decimal.Decimal, error) {
	payment, err := s.repo.GetPayment(ctx, tenantID, paymentID)
	if err != nil {
		return decimal.Zero, err
	}
	allocs, err := s.repo.ListAllocations(ctx, tenantID, paymentID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount)
	}
	return payment.Amount.Sub(total), nil
}

// WouldExceed reports whether allocating amount against the invoice would
// pass its open balance, without mutating anything.
func (s *Service) WouldExceed(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64, amount decimal.Decimal) (bool, error) {
	invoice, err := s.repo.GetInvoice(ctx, tenantID, kind, invoiceID)
	if err != nil {
		return false, err
	}
	return amount.GreaterThan(invoice.BalanceDue), nil
}

// GetPayment returns one payment.
func (s *Service) GetPayment(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	return s.repo.GetPayment(ctx, tenantID, paymentID)
}

// ListPayments returns a page of payments.
func (s *Service) ListPayments(ctx context.Context, tenantID int64, limit, offset int) ([]Payment, error) {
	return s.repo.ListPayments(ctx, tenantID, limit, offset)
}

// GetInvoice returns one invoice with its current balance.
func (s *Service) GetInvoice(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, tenantID, kind, invoiceID)
}

// ListAllocations returns a payment's allocations.
func (s *Service) ListAllocations(ctx context.Context, tenantID, paymentID int64) ([]Allocation, error) {
	return s.repo.ListAllocations(ctx, tenantID, paymentID)
}

// ReconcileInvoice re-derives one invoice's balance and status from its
// stored allocations. Used by the background sweep to repair drift.
func (s *Service) ReconcileInvoice(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		invoice, err := tx.GetInvoiceForUpdate(ctx, tenantID, kind, invoiceID)
		if err != nil {
			return err
		}
		return s.recomputeBalance(ctx, tx, invoice)
	})
	return mapConflict(err)
}

// ListOpenInvoices returns invoices still carrying a balance, oldest first.
func (s *Service) ListOpenInvoices(ctx context.Context, tenantID int64, kind InvoiceKind, limit int) ([]Invoice, error) {
	return s.repo.ListOpenInvoices(ctx, tenantID, kind, limit)
}

func (s *Service) observe(kind string) {
	if s.metrics != nil {
		s.metrics.ObserveAllocation(kind)
	}
}

func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
