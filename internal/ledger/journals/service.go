package journals

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/fiscal"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	"github.com/meridian-erp/meridian-erp/internal/numbering"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	internalshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort records posting actors.
type AuditPort interface {
	Record(ctx context.Context, log internalshared.AuditLog) error
}

// MetricsPort counts posting outcomes. May be nil.
type MetricsPort interface {
	ObservePosting(outcome string)
}

// Service owns the draft -> posted state machine and its validations.
type Service struct {
	repo    Repository
	numbers numbering.Source
	audit   AuditPort
	metrics MetricsPort
	now     func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, numbers numbering.Source, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, numbers: numbers, audit: audit, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateDraft persists a draft entry with its lines. Balance is not required
// yet; unbalanced drafts are legal while being edited. When no entry number
// is supplied one is requested from the numbering collaborator and trusted
// as final.
func (s *Service) CreateDraft(ctx context.Context, in DraftInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	number := in.Number
	if number == "" {
		var err error
		number, err = s.numbers.Next(ctx, in.TenantID, numbering.DocTypeJournalEntry)
		if err != nil {
			return Entry{}, fmt.Errorf("journals: request entry number: %w", err)
		}
	}
	now := s.now()
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		periodID := in.PeriodID
		var yearID *int64
		if periodID == nil {
			// Tie the draft to a period when the calendar already covers
			// its date; drafts dated outside any period stay untied.
			if period, err := tx.FindPeriodForUpdateByDate(ctx, in.TenantID, in.Date); err == nil {
				periodID = &period.ID
				yearID = &period.YearID
			}
		} else {
			period, err := tx.GetPeriodForUpdate(ctx, in.TenantID, *periodID)
			if err != nil {
				return err
			}
			if !period.Contains(in.Date) {
				return shared.ErrDateOutOfRange
			}
			yearID = &period.YearID
		}
		inserted, err := tx.InsertEntry(ctx, Entry{
			TenantID:    in.TenantID,
			Number:      number,
			YearID:      yearID,
			PeriodID:    periodID,
			Date:        in.Date,
			Ref:         in.Ref,
			Description: in.Description,
			Status:      StatusDraft,
			CreatedBy:   in.CreatedBy,
		})
		if err != nil {
			return err
		}
		lines := toLines(inserted.ID, in.Lines, now)
		if err := tx.InsertLines(ctx, inserted.ID, lines); err != nil {
			return err
		}
		inserted.Lines = lines
		entry = inserted
		return nil
	})
	if err != nil {
		return Entry{}, mapConflict(err)
	}
	return entry, nil
}

// UpdateDraft mutates a draft's header and optionally replaces its lines.
// Posted entries are immutable and return ErrEntryLocked.
func (s *Service) UpdateDraft(ctx context.Context, in UpdateDraftInput) (Entry, error) {
	if in.Lines != nil {
		if len(in.Lines) < 2 {
			return Entry{}, shared.ErrTooFewLines
		}
		for idx, line := range in.Lines {
			if err := validateLine(idx, line); err != nil {
				return Entry{}, err
			}
		}
	}
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, in.TenantID, in.EntryID)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return shared.ErrEntryLocked
		}
		if in.Date != nil || in.Description != nil {
			if err := tx.UpdateDraftHeader(ctx, in.TenantID, in.EntryID, in.Date, in.Description); err != nil {
				return err
			}
		}
		if in.Lines != nil {
			if err := tx.ReplaceLines(ctx, in.EntryID, toLines(in.EntryID, in.Lines, now)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Entry{}, mapConflict(err)
	}
	return s.repo.Get(ctx, in.TenantID, in.EntryID)
}

// Post transitions a draft to posted. The state check, period gate and
// balance check execute inside one transaction holding row locks on both
// the entry and its fiscal period, so two concurrent posts cannot both
// succeed and a concurrent period close cannot interleave.
func (s *Service) Post(ctx context.Context, tenantID, entryID, postedBy int64) (Entry, error) {
	postedAt := s.now()
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, tenantID, entryID)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return shared.ErrInvalidState
		}

		// The period that gates posting is the one covering the entry's
		// current date. A stored tie can be stale after the draft was
		// re-dated, so it only counts when it still contains the date.
		var p fiscal.Period
		covered := false
		if current.PeriodID != nil {
			p, err = tx.GetPeriodForUpdate(ctx, tenantID, *current.PeriodID)
			if err != nil {
				return err
			}
			covered = p.Contains(current.Date)
		}
		if !covered {
			p, err = tx.FindPeriodForUpdateByDate(ctx, tenantID, current.Date)
			if err != nil {
				return fmt.Errorf("journals: no fiscal period covers %s: %w", current.Date.Format("2006-01-02"), shared.ErrNotFound)
			}
		}
		if p.IsClosed {
			return shared.ErrPeriodClosed
		}
		current.PeriodID = &p.ID
		current.YearID = &p.YearID

		lines, err := tx.GetLines(ctx, entryID)
		if err != nil {
			return err
		}
		if len(lines) < 2 {
			return shared.ErrTooFewLines
		}
		debits, credits := Totals(lines)
		if !Balanced(lines) {
			return fmt.Errorf("debits %s != credits %s: %w", debits.StringFixed(2), credits.StringFixed(2), shared.ErrUnbalanced)
		}

		if err := tx.MarkPosted(ctx, tenantID, entryID, p.ID, p.YearID, postedBy, postedAt); err != nil {
			return err
		}
		current.Status = StatusPosted
		current.PostedBy = &postedBy
		current.PostedAt = &postedAt
		current.Lines = lines
		entry = current
		return nil
	})
	if err != nil {
		s.observe(outcomeFor(err))
		return Entry{}, mapConflict(err)
	}
	s.observe("posted")
	if s.audit != nil {
		if err := s.audit.Record(ctx, internalshared.AuditLog{
			TenantID: tenantID,
			ActorID:  postedBy,
			Action:   "journal.post",
			Entity:   "journal_entry",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta:     map[string]any{"number": entry.Number},
			At:       postedAt,
		}); err != nil {
			slog.WarnContext(ctx, "audit record failed", "action", "journal.post", "error", err)
		}
	}
	return entry, nil
}

// Get returns one entry with lines.
func (s *Service) Get(ctx context.Context, tenantID, entryID int64) (Entry, error) {
	return s.repo.Get(ctx, tenantID, entryID)
}

// List returns a page of entries without lines.
func (s *Service) List(ctx context.Context, tenantID int64, limit, offset int) ([]Entry, error) {
	return s.repo.List(ctx, tenantID, limit, offset)
}

// TotalDebits sums the entry's debit side; usable on drafts for UI feedback.
func (s *Service) TotalDebits(ctx context.Context, tenantID, entryID int64) (decimal.Decimal, error) {
	e, err := s.repo.Get(ctx, tenantID, entryID)
	if err != nil {
		return decimal.Zero, err
	}
	debits, _ := Totals(e.Lines)
	return debits, nil
}

// TotalCredits sums the entry's credit side.
func (s *Service) TotalCredits(ctx context.Context, tenantID, entryID int64) (decimal.Decimal, error) {
	e, err := s.repo.Get(ctx, tenantID, entryID)
	if err != nil {
		return decimal.Zero, err
	}
	_, credits := Totals(e.Lines)
	return credits, nil
}

// IsBalanced reports whether the entry currently balances within tolerance.
func (s *Service) IsBalanced(ctx context.Context, tenantID, entryID int64) (bool, error) {
	e, err := s.repo.Get(ctx, tenantID, entryID)
	if err != nil {
		return false, err
	}
	return Balanced(e.Lines), nil
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObservePosting(outcome)
	}
}

func outcomeFor(err error) string {
	if db.IsSerializationFailure(err) {
		return "conflict"
	}
	return "rejected"
}

func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", shared.ErrConflict, err)
	}
	return err
}
