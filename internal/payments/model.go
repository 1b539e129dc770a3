package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction distinguishes money received from money paid out.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Valid reports whether the direction is a known value.
func (d Direction) Valid() bool {
	return d == DirectionIncoming || d == DirectionOutgoing
}

// InvoiceKind names which sub-ledger an invoice belongs to.
type InvoiceKind string

const (
	KindSales    InvoiceKind = "sales"
	KindPurchase InvoiceKind = "purchase"
)

// Valid reports whether the kind is a known value.
func (k InvoiceKind) Valid() bool {
	return k == KindSales || k == KindPurchase
}

// InvoiceStatus enumerates settlement states. cancelled is terminal;
// allocation changes never move a cancelled invoice back to an open state.
type InvoiceStatus string

const (
	StatusIssued        InvoiceStatus = "issued"
	StatusPartiallyPaid InvoiceStatus = "partially_paid"
	StatusPaid          InvoiceStatus = "paid"
	StatusCancelled     InvoiceStatus = "cancelled"
)

// AllocationPolicy decides what happens when an allocation would push an
// invoice past its balance due.
type AllocationPolicy string

const (
	// PolicyReject refuses allocations exceeding the open balance.
	PolicyReject AllocationPolicy = "reject"
	// PolicyAllowAndFlag accepts the allocation and marks it for review.
	PolicyAllowAndFlag AllocationPolicy = "allow_and_flag"
)

// Payment is a received or issued money movement that can be spread across
// invoices.
type Payment struct {
	ID             int64
	TenantID       int64
	Number         string
	Direction      Direction
	CounterpartyID int64
	CurrencyID     *int64
	Amount         decimal.Decimal
	Date           time.Time
	Memo           string
	CreatedBy      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Invoice carries the open balance tracked by the sub-ledger. Totals come
// from the invoicing module; this package only settles them.
type Invoice struct {
	ID             int64
	TenantID       int64
	Kind           InvoiceKind
	Number         string
	CounterpartyID int64
	CurrencyID     *int64
	Total          decimal.Decimal
	BalanceDue     decimal.Decimal
	Status         InvoiceStatus
	IssuedAt       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Allocation applies a slice of a payment against one invoice.
type Allocation struct {
	ID          int64
	TenantID    int64
	PaymentID   int64
	InvoiceKind InvoiceKind
	InvoiceID   int64
	Amount      decimal.Decimal
	Flagged     bool
	CreatedBy   int64
	CreatedAt   time.Time
}

// balanceFor derives the open balance from an invoice total and the sum of
// its allocations, floored at zero.
func balanceFor(total, allocated decimal.Decimal) decimal.Decimal {
	due := total.Sub(allocated)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// statusFor derives the settlement status from totals. cancelled invoices
// keep their status no matter what the numbers say.
func statusFor(current InvoiceStatus, balance, allocated decimal.Decimal) InvoiceStatus {
	if current == StatusCancelled {
		return StatusCancelled
	}
	switch {
	case balance.IsZero():
		return StatusPaid
	case allocated.IsPositive():
		return StatusPartiallyPaid
	default:
		return StatusIssued
	}
}
