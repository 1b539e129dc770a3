package payments

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository encapsulates DB operations for the payment sub-ledger.
type Repository interface {
	GetPayment(ctx context.Context, tenantID, paymentID int64) (Payment, error)
	ListPayments(ctx context.Context, tenantID int64, limit, offset int) ([]Payment, error)
	GetInvoice(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) (Invoice, error)
	ListAllocations(ctx context.Context, tenantID, paymentID int64) ([]Allocation, error)
	ListInvoiceAllocations(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) ([]Allocation, error)
	ListOpenInvoices(ctx context.Context, tenantID int64, kind InvoiceKind, limit int) ([]Invoice, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the mutations that must share a transaction. Both the
// payment row and the invoice row are locked before any balance math runs.
type TxRepository interface {
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, tenantID, paymentID int64) (Payment, error)
	GetInvoiceForUpdate(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) (Invoice, error)
	InsertAllocation(ctx context.Context, a Allocation) (Allocation, error)
	GetAllocationForUpdate(ctx context.Context, tenantID, allocationID int64) (Allocation, error)
	DeleteAllocation(ctx context.Context, tenantID, allocationID int64) error
	SumAllocationsForPayment(ctx context.Context, tenantID, paymentID int64) (decimal.Decimal, error)
	SumAllocationsForInvoice(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) (decimal.Decimal, error)
	UpdateInvoiceBalance(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64, balance decimal.Decimal, status InvoiceStatus) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const paymentColumns = `id, tenant_id, payment_number, direction, counterparty_id, currency_id, amount, payment_date, memo, created_by, created_at, updated_at`
const invoiceColumns = `id, tenant_id, kind, invoice_number, counterparty_id, currency_id, total, balance_due, status, issued_at, created_at, updated_at`
const allocationColumns = `id, tenant_id, payment_id, invoice_kind, invoice_id, amount, flagged, created_by, created_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var amount pgtype.Numeric
	err := row.Scan(&p.ID, &p.TenantID, &p.Number, &p.Direction, &p.CounterpartyID, &p.CurrencyID,
		&amount, &p.Date, &p.Memo, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Payment{}, err
	}
	p.Amount = numericToDecimal(amount)
	return p, nil
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var total, balance pgtype.Numeric
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.Kind, &inv.Number, &inv.CounterpartyID, &inv.CurrencyID,
		&total, &balance, &inv.Status, &inv.IssuedAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return Invoice{}, err
	}
	inv.Total = numericToDecimal(total)
	inv.BalanceDue = numericToDecimal(balance)
	return inv, nil
}

func scanAllocation(row pgx.Row) (Allocation, error) {
	var a Allocation
	var amount pgtype.Numeric
	err := row.Scan(&a.ID, &a.TenantID, &a.PaymentID, &a.InvoiceKind, &a.InvoiceID, &amount, &a.Flagged, &a.CreatedBy, &a.CreatedAt)
	if err != nil {
		return Allocation{}, err
	}
	a.Amount = numericToDecimal(amount)
	return a, nil
}

func (r *repository) GetPayment(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE tenant_id=$1 AND id=$2`, tenantID, paymentID)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return p, err
}

func (r *repository) ListPayments(ctx context.Context, tenantID int64, limit, offset int) ([]Payment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE tenant_id=$1 ORDER BY payment_date DESC, id DESC LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) GetInvoice(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) (Invoice, error) {
	row := r.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id=$1 AND kind=$2 AND id=$3`, tenantID, kind, invoiceID)
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	return inv, err
}

func (r *repository) ListAllocations(ctx context.Context, tenantID, paymentID int64) ([]Allocation, error) {
	rows, err := r.db.Query(ctx, `SELECT `+allocationColumns+` FROM payment_allocations
WHERE tenant_id=$1 AND payment_id=$2 ORDER BY id`, tenantID, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAllocations(rows)
}

func (r *repository) ListInvoiceAllocations(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) ([]Allocation, error) {
	rows, err := r.db.Query(ctx, `SELECT `+allocationColumns+` FROM payment_allocations
WHERE tenant_id=$1 AND invoice_kind=$2 AND invoice_id=$3 ORDER BY id`, tenantID, kind, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAllocations(rows)
}

func (r *repository) ListOpenInvoices(ctx context.Context, tenantID int64, kind InvoiceKind, limit int) ([]Invoice, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	rows, err := r.db.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
WHERE tenant_id=$1 AND kind=$2 AND status IN ('issued','partially_paid') ORDER BY issued_at LIMIT $3`, tenantID, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO payments
(tenant_id, payment_number, direction, counterparty_id, currency_id, amount, payment_date, memo, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING `+paymentColumns,
		p.TenantID, p.Number, p.Direction, p.CounterpartyID, p.CurrencyID, decimalToNumeric(p.Amount), p.Date, p.Memo, p.CreatedBy)
	return scanPayment(row)
}

func (r *txRepository) GetPaymentForUpdate(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, paymentID)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return p, err
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) (Invoice, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices
WHERE tenant_id=$1 AND kind=$2 AND id=$3 FOR UPDATE`, tenantID, kind, invoiceID)
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	return inv, err
}

func (r *txRepository) InsertAllocation(ctx context.Context, a Allocation) (Allocation, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO payment_allocations
(tenant_id, payment_id, invoice_kind, invoice_id, amount, flagged, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+allocationColumns,
		a.TenantID, a.PaymentID, a.InvoiceKind, a.InvoiceID, decimalToNumeric(a.Amount), a.Flagged, a.CreatedBy)
	return scanAllocation(row)
}

func (r *txRepository) GetAllocationForUpdate(ctx context.Context, tenantID, allocationID int64) (Allocation, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+allocationColumns+` FROM payment_allocations
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, allocationID)
	a, err := scanAllocation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Allocation{}, ErrNotFound
	}
	return a, err
}

func (r *txRepository) DeleteAllocation(ctx context.Context, tenantID, allocationID int64) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM payment_allocations WHERE tenant_id=$1 AND id=$2`, tenantID, allocationID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) SumAllocationsForPayment(ctx context.Context, tenantID, paymentID int64) (decimal.Decimal, error) {
	row := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payment_allocations
WHERE tenant_id=$1 AND payment_id=$2`, tenantID, paymentID)
	var sum pgtype.Numeric
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return numericToDecimal(sum), nil
}

func (r *txRepository) SumAllocationsForInvoice(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64) (decimal.Decimal, error) {
	row := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payment_allocations
WHERE tenant_id=$1 AND invoice_kind=$2 AND invoice_id=$3`, tenantID, kind, invoiceID)
	var sum pgtype.Numeric
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return numericToDecimal(sum), nil
}

func (r *txRepository) UpdateInvoiceBalance(ctx context.Context, tenantID int64, kind InvoiceKind, invoiceID int64, balance decimal.Decimal, status InvoiceStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE invoices SET balance_due=$4, status=$5, updated_at=NOW()
WHERE tenant_id=$1 AND kind=$2 AND id=$3`, tenantID, kind, invoiceID, decimalToNumeric(balance), status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAllocations(rows pgx.Rows) ([]Allocation, error) {
	var out []Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.String())
	return n
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	d, _ := decimal.NewFromString(n.Int.String())
	if n.Exp != 0 {
		d = d.Shift(n.Exp)
	}
	return d
}
