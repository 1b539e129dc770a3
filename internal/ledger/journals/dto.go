package journals

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// LineInput describes one journal line of a draft.
type LineInput struct {
	AccountID   int64
	CurrencyID  *int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// DraftInput groups the fields required to create a draft entry. Drafts may
// be unbalanced while being edited; balance is enforced at posting.
type DraftInput struct {
	TenantID    int64
	Number      string
	PeriodID    *int64
	Date        time.Time
	Ref         *Reference
	Description string
	CreatedBy   int64
	Lines       []LineInput
}

// Validate ensures the draft meets minimum criteria.
func (in DraftInput) Validate() error {
	if in.TenantID == 0 {
		return errors.New("journals: tenant required")
	}
	if in.Date.IsZero() {
		return errors.New("journals: entry date required")
	}
	if in.CreatedBy == 0 {
		return errors.New("journals: creator required")
	}
	if len(in.Lines) < 2 {
		return shared.ErrTooFewLines
	}
	for idx, line := range in.Lines {
		if err := validateLine(idx, line); err != nil {
			return err
		}
	}
	return nil
}

func validateLine(idx int, line LineInput) error {
	if line.AccountID == 0 {
		return fmt.Errorf("journals: line %d missing account", idx)
	}
	if line.Debit.IsNegative() || line.Credit.IsNegative() {
		return fmt.Errorf("journals: line %d negative amount", idx)
	}
	if line.Debit.IsPositive() && line.Credit.IsPositive() {
		return fmt.Errorf("journals: line %d cannot be both debit and credit", idx)
	}
	if line.Debit.IsZero() && line.Credit.IsZero() {
		return fmt.Errorf("journals: line %d must have a debit or credit amount", idx)
	}
	return nil
}

// UpdateDraftInput carries a draft mutation. A nil Lines slice leaves the
// existing lines untouched; a non-nil slice replaces them wholesale.
type UpdateDraftInput struct {
	TenantID    int64
	EntryID     int64
	Date        *time.Time
	Description *string
	Lines       []LineInput
}

// toLines converts inputs into Line values with AmountBase recomputed.
func toLines(entryID int64, inputs []LineInput, ts time.Time) []Line {
	out := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		out = append(out, Line{
			EntryID:     entryID,
			AccountID:   in.AccountID,
			CurrencyID:  in.CurrencyID,
			Debit:       in.Debit,
			Credit:      in.Credit,
			AmountBase:  in.Debit.Abs().Add(in.Credit.Abs()),
			Description: in.Description,
			LineNumber:  i + 1,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		})
	}
	return out
}
