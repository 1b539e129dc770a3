package journals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryStatus enumerates the journal entry lifecycle. The machine is
// draft -> posted, terminal; corrections are new entries referencing the
// original, never mutations of posted history.
type EntryStatus string

const (
	StatusDraft  EntryStatus = "DRAFT"
	StatusPosted EntryStatus = "POSTED"
)

// Reference points at the business document that originated an entry
// (invoice, payroll run, asset disposal, ...). It is stored and exposed
// opaquely; interpretation belongs to the owning module.
type Reference struct {
	Kind string    `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// Entry captures posting metadata for a balanced line set.
type Entry struct {
	ID          int64
	TenantID    int64
	Number      string
	YearID      *int64
	PeriodID    *int64
	Date        time.Time
	Ref         *Reference
	Description string
	Status      EntryStatus
	CreatedBy   int64
	PostedBy    *int64
	PostedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Lines       []Line
}

// Line stores a debit or credit amount for an account. Amounts are
// non-negative fixed point values with four fractional digits; exactly one
// side is non-zero. AmountBase is recomputed on every save.
type Line struct {
	ID          int64
	EntryID     int64
	AccountID   int64
	CurrencyID  *int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	AmountBase  decimal.Decimal
	Description string
	LineNumber  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// balanceTolerance absorbs rounding drift; posted entries may differ by at
// most this amount between total debits and credits.
var balanceTolerance = decimal.RequireFromString("0.01")

// Totals sums debit and credit across lines.
func Totals(lines []Line) (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, l := range lines {
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	return debits, credits
}

// Balanced reports whether the line set balances within tolerance.
func Balanced(lines []Line) bool {
	debits, credits := Totals(lines)
	return debits.Sub(credits).Abs().LessThanOrEqual(balanceTolerance)
}
