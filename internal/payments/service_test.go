package payments

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memoryRepo struct {
	payments    map[int64]Payment
	invoices    map[string]Invoice
	allocations map[int64]Allocation
	nextID      int64
}

func invoiceKey(kind InvoiceKind, id int64) string { return fmt.Sprintf("%s/%d", kind, id) }

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{payments: make(map[int64]Payment), invoices: make(map[string]Invoice), allocations: make(map[int64]Allocation)}
}

func (r *memoryRepo) addInvoice(inv Invoice) {
	if inv.BalanceDue.IsZero() && inv.Status != StatusPaid && inv.Status != StatusCancelled {
		inv.BalanceDue = inv.Total
	}
	r.invoices[invoiceKey(inv.Kind, inv.ID)] = inv
}

func (r *memoryRepo) GetPayment(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	p, ok := r.payments[paymentID]
	if !ok || p.TenantID != tenantID {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) ListPayments(ctx context.Context, tenantID int64, limit, offset int) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetInvoice(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) (Invoice, error) {
	inv, ok := r.invoices[invoiceKey(kind, invoiceID)]
	if !ok || inv.TenantID != tenantID {
		return Invoice{}, ErrNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListAllocations(ctx context.Context, tenantID, paymentID int64) ([]Allocation, error) {
	var out []Allocation
	for _, a := range r.allocations {
		if a.TenantID == tenantID && a.PaymentID == paymentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListInvoiceAllocations(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) ([]Allocation, error) {
	var out []Allocation
	for _, a := range r.allocations {
		if a.TenantID == tenantID && a.InvoiceKind == kind && a.InvoiceID == invoiceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListOpenInvoices(ctx context.Context, tenantID int64, kind InvoiceKind, limit int) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if inv.TenantID == tenantID && inv.Kind == kind && (inv.Status == StatusIssued || inv.Status == StatusPartiallyPaid) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	t.repo.nextID++
	p.ID = t.repo.nextID
	t.repo.payments[p.ID] = p
	return p, nil
}

func (t *memoryTx) GetPaymentForUpdate(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	return t.repo.GetPayment(ctx, tenantID, paymentID)
}

func (t *memoryTx) GetInvoiceForUpdate(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) (Invoice, error) {
	return t.repo.GetInvoice(ctx, tenantID, kind, invoiceID)
}

func (t *memoryTx) InsertAllocation(ctx context.Context, a Allocation) (Allocation, error) {
	t.repo.nextID++
	a.ID = t.repo.nextID
	t.repo.allocations[a.ID] = a
	return a, nil
}

func (t *memoryTx) GetAllocationForUpdate(ctx context.Context, tenantID, allocationID int64) (Allocation, error) {
	a, ok := t.repo.allocations[allocationID]
	if !ok || a.TenantID != tenantID {
		return Allocation{}, ErrNotFound
	}
	return a, nil
}

func (t *memoryTx) DeleteAllocation(ctx context.Context, tenantID, allocationID int64) error {
	a, ok := t.repo.allocations[allocationID]
	if !ok || a.TenantID != tenantID {
		return ErrNotFound
	}
	delete(t.repo.allocations, allocationID)
	return nil
}

func (t *memoryTx) SumAllocationsForPayment(ctx context.Context, tenantID, paymentID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, a := range t.repo.allocations {
		if a.TenantID == tenantID && a.PaymentID == paymentID {
			sum = sum.Add(a.Amount)
		}
	}
	return sum, nil
}

func (t *memoryTx) SumAllocationsForInvoice(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, a := range t.repo.allocations {
		if a.TenantID == tenantID && a.InvoiceKind == kind && a.InvoiceID == invoiceID {
			sum = sum.Add(a.Amount)
		}
	}
	return sum, nil
}

func (t *memoryTx) UpdateInvoiceBalance(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64, balance decimal.Decimal, status InvoiceStatus) error {
	key := invoiceKey(kind, invoiceID)
	inv, ok := t.repo.invoices[key]
	if !ok || inv.TenantID != tenantID {
		return ErrNotFound
	}
	inv.BalanceDue = balance
	inv.Status = status
	t.repo.invoices[key] = inv
	return nil
}

type fakeNumbers struct {
	seq int
}

func (f *fakeNumbers) Next(ctx context.Context, tenantID int64, docType string) (string, error) {
	f.seq++
	return fmt.Sprintf("PAY-2026-%05d", f.seq), nil
}

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo, &fakeNumbers{}, nil, nil)
	svc.WithNow(func() time.Time { return day("2026-03-14") })
	return svc
}

func registerPayment(t *testing.T, svc *Service, amount string) Payment {
	t.Helper()
	p, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{
		TenantID:       1,
		Direction:      DirectionIncoming,
		CounterpartyID: 9,
		Amount:         amt(amount),
		Date:           day("2026-03-10"),
		CreatedBy:      7,
	})
	require.NoError(t, err)
	return p
}

func TestAllocateSpreadsPaymentAcrossInvoices(t *testing.T) {
	repo := newMemoryRepo()
	repo.addInvoice(Invoice{ID: 1, TenantID: 1, Kind: KindSales, Number: "INV-1", Total: amt("600.00"), Status: StatusIssued})
	repo.addInvoice(Invoice{ID: 2, TenantID: 1, Kind: KindSales, Number: "INV-2", Total: amt("500.00"), Status: StatusIssued})
	svc := newTestService(repo)

	p := registerPayment(t, svc, "1000.00")
	require.Equal(t, "PAY-2026-00001", p.Number)

	_, err := svc.Allocate(context.Background(), AllocateInput{TenantID: 1, PaymentID: p.ID, InvoiceKind: KindSales, InvoiceID: 1, Amount: amt("600.00"), ActorID: 7})
	require.NoError(t, err)
	_, err = svc.Allocate(context.Background(), AllocateInput{TenantID: 1, PaymentID: p.ID, InvoiceKind: KindSales, InvoiceID: 2, Amount: amt("400.00"), ActorID: 7})
	require.NoError(t, err)

	inv1, err := svc.GetInvoice(context.Background(), 1, KindSales, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, inv1.Status)
	require.True(t, inv1.BalanceDue.IsZero())

	inv2, err := svc.GetInvoice(context.Background(), 1, KindSales, 2)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, inv2.Status)
	require.True(t, inv2.BalanceDue.Equal(amt("100.00")))

	free, err := svc.UnallocatedAmount(context.Background(), 1, p.ID)
	require.NoError(t, err)
	require.True(t, free.IsZero())
}

func TestAllocateRejectsExhaustedPayment(t *testing.T) {
	repo := newMemoryRepo()
	repo.addInvoice(Invoice{ID: 1, TenantID: 1, Kind: KindSales, Total: amt("500.00"), Status: StatusIssued})
	svc := newTestService(repo)

	p := registerPayment(t, svc, "100.00")
	_, err := svc.Allocate(context.Background(), AllocateInput{TenantID: 1, PaymentID: p.ID, InvoiceKind: KindSales, InvoiceID: 1, Amount: amt("150.00"), ActorID: 7})
	require.ErrorIs(t, err, ErrPaymentExhausted)
}

func TestOverAllocationPolicyReject(t *testing.T) {
	repo := newMemoryRepo()
	repo.addInvoice(Invoice{ID: 1, TenantID: 1, Kind: KindSales, Total: amt("100.00"), Status: StatusIssued})
	svc := newTestService(repo)

	p := registerPayment(t, svc, "500.00")
	_, err := svc.Allocate(context.Background(), AllocateInput{TenantID: 1, PaymentID: p.ID, InvoiceKind: KindSales, InvoiceID: 1, Amount: amt("150.00"), ActorID: 7})
	require.ErrorIs(t, err, ErrOverAllocated)

	// Nothing was written and the invoice is untouched.
	inv, err := svc.GetInvoice(context.Background(), 1, KindSales, 1)
	require.NoError(t, err)
	require.Equal(t, StatusIssued, inv.Status)
	require.True(t, inv.BalanceDue.Equal(amt("100.00")))
}

func TestOverAllocationPolicyAllowAndFlag(t *testing.T) {
	repo := newMemoryRepo()
	repo.addInvoice(Invoice{ID: 1, TenantID: 1, Kind: KindSales, Total: amt("100.00"), Status: StatusIssued})
	svc := newTestService(repo).WithPolicy(PolicyAllowAndFlag)

	p := registerPayment(t, svc, "500.00")
	alloc, err := svc.Allocate(context.Background(), AllocateInput{TenantID: 1, PaymentID: p.ID, InvoiceKind: KindSales, InvoiceID: 1, Amount: amt("150.00"), ActorID: 7})
	require.NoError(t, err)
	require.True(t, alloc.Flagged)

	// Balance floors at zero even when allocations exceed the total.
	inv, err := svc.GetInvoice(context.Background(), 1, KindSales, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, inv.Status)
	require.True(t, inv.BalanceDue.IsZero())
}

func TestAllocateRejectsCancelledInvoice(t *testing.T) {
	repo := newMemoryRepo()
	repo.addInvoice(Invoice{ID: 1, TenantID: 1, Kind: KindPurchase, Number: "PINV-1", Total: amt("100.00"), Status: StatusCancelled})
	svc := newTestService(repo)

	p := registerPayment(t, svc, "500.00")
	_, err := svc.Allocate(context.Background(), AllocateInput{TenantID: 1, PaymentID: p.ID, InvoiceKind: KindPurchase, InvoiceID: 1, Amount: amt("50.00"), ActorID: 7})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDeallocateReopensBalanceButNeverCancelled(t *testing.T) {
	repo := newMemoryRepo()
	repo.addInvoice(Invoice{ID: 1, TenantID: 1, Kind: KindSales, Total: amt("200.00"), Status: StatusIssued})
	svc := newTestService(repo)

	p := registerPayment(t, svc, "200.00")
	alloc, err := svc.Allocate(context.Background(), AllocateInput{TenantID: 1, PaymentID: p.ID, InvoiceKind: KindSales, InvoiceID: 1, Amount: amt("200.00"), ActorID: 7})
	require.NoError(t, err)

	inv, err := svc.GetInvoice(context.Background(), 1, KindSales, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, inv.Status)

	require.NoError(t, svc.Deallocate(context.Background(), 1, alloc.ID, 7))
	inv, err = svc.GetInvoice(context.Background(), 1, KindSales, 1)
	require.NoError(t, err)
	require.Equal(t, StatusIssued, inv.Status)
	require.True(t, inv.BalanceDue.Equal(amt("200.00")))

	// A cancelled invoice keeps its status through reconciliation.
	inv.Status = StatusCancelled
	repo.invoices[invoiceKey(KindSales, 1)] = inv
	require.NoError(t, svc.ReconcileInvoice(context.Background(), 1, KindSales, 1))
	inv, err = svc.GetInvoice(context.Background(), 1, KindSales, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, inv.Status)
}

func TestDeallocateOneOfTwoMovesPaidToPartiallyPaid(t *testing.T) {
	repo := newMemoryRepo()
	repo.addInvoice(Invoice{ID: 1, TenantID: 1, Kind: KindSales, Number: "INV-1", Total: amt("1000.00"), Status: StatusIssued})
	svc := newTestService(repo)

	p := registerPayment(t, svc, "1000.00")
	_, err := svc.Allocate(context.Background(), AllocateInput{TenantID: 1, PaymentID: p.ID, InvoiceKind: KindSales, InvoiceID: 1, Amount: amt("600.00"), ActorID: 7})
	require.NoError(t, err)
	second, err := svc.Allocate(context.Background(), AllocateInput{TenantID: 1, PaymentID: p.ID, InvoiceKind: KindSales, InvoiceID: 1, Amount: amt("400.00"), ActorID: 7})
	require.NoError(t, err)

	inv, err := svc.GetInvoice(context.Background(), 1, KindSales, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, inv.Status)

	// Removing one of two allocations leaves the other in place, so the
	// invoice falls back to partially paid rather than issued.
	require.NoError(t, svc.Deallocate(context.Background(), 1, second.ID, 7))
	inv, err = svc.GetInvoice(context.Background(), 1, KindSales, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, inv.Status)
	require.True(t, inv.BalanceDue.Equal(amt("400.00")))
}

func TestRegisterPaymentValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())

	_, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{
		TenantID: 1, Direction: "sideways", CounterpartyID: 9, Amount: amt("10.00"), Date: day("2026-03-10"), CreatedBy: 7,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "direction")

	_, err = svc.RegisterPayment(context.Background(), RegisterPaymentInput{
		TenantID: 1, Direction: DirectionIncoming, CounterpartyID: 9, Amount: amt("-10.00"), Date: day("2026-03-10"), CreatedBy: 7,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "positive")
}

func TestWouldExceed(t *testing.T) {
	repo := newMemoryRepo()
	repo.addInvoice(Invoice{ID: 1, TenantID: 1, Kind: KindSales, Total: amt("100.00"), Status: StatusIssued})
	svc := newTestService(repo)

	over, err := svc.WouldExceed(context.Background(), 1, KindSales, 1, amt("100.01"))
	require.NoError(t, err)
	require.True(t, over)

	over, err = svc.WouldExceed(context.Background(), 1, KindSales, 1, amt("100.00"))
	require.NoError(t, err)
	require.False(t, over)
}

func TestTenantIsolation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addInvoice(Invoice{ID: 1, TenantID: 1, Kind: KindSales, Total: amt("100.00"), Status: StatusIssued})
	svc := newTestService(repo)

	p := registerPayment(t, svc, "100.00")
	_, err := svc.GetPayment(context.Background(), 2, p.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Allocate(context.Background(), AllocateInput{TenantID: 2, PaymentID: p.ID, InvoiceKind: KindSales, InvoiceID: 1, Amount: amt("10.00"), ActorID: 7})
	require.ErrorIs(t, err, ErrNotFound)
}
