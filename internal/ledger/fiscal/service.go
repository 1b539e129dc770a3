package fiscal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	internalshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort records who closed what.
type AuditPort interface {
	Record(ctx context.Context, log internalshared.AuditLog) error
}

// LockPort guards close critical sections across instances. May be nil.
type LockPort interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// MetricsPort counts close operations. May be nil.
type MetricsPort interface {
	ObservePeriodClose()
}

// Service orchestrates fiscal year and period lifecycle.
type Service struct {
	repo    Repository
	audit   AuditPort
	locks   LockPort
	metrics MetricsPort
	now     func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, audit AuditPort, locks LockPort) *Service {
	return &Service{repo: repo, audit: audit, locks: locks, now: time.Now}
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m MetricsPort) *Service {
	s.metrics = m
	return s
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateYear inserts a fiscal year with its periods after validating
// containment and overlap rules.
func (s *Service) CreateYear(ctx context.Context, in CreateYearInput) (Year, error) {
	if err := in.Validate(); err != nil {
		return Year{}, err
	}
	var year Year
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertYear(ctx, in)
		if err != nil {
			return err
		}
		for _, p := range in.Periods {
			if _, err := tx.InsertPeriod(ctx, in.TenantID, inserted.ID, p); err != nil {
				return err
			}
		}
		year = inserted
		return nil
	})
	if err != nil {
		return Year{}, err
	}
	return year, nil
}

// PeriodFor returns the period covering date, or ErrNotFound.
func (s *Service) PeriodFor(ctx context.Context, tenantID int64, date time.Time) (Period, error) {
	return s.repo.PeriodFor(ctx, tenantID, date)
}

// IsPeriodOpen reports whether the period accepts postings.
func (s *Service) IsPeriodOpen(ctx context.Context, tenantID, periodID int64) (bool, error) {
	p, err := s.repo.GetPeriod(ctx, tenantID, periodID)
	if err != nil {
		return false, err
	}
	return !p.IsClosed, nil
}

// ListYears returns the tenant's fiscal years.
func (s *Service) ListYears(ctx context.Context, tenantID int64) ([]Year, error) {
	return s.repo.ListYears(ctx, tenantID)
}

// ListPeriods returns the year's periods ordered by number.
func (s *Service) ListPeriods(ctx context.Context, tenantID, yearID int64) ([]Period, error) {
	return s.repo.ListPeriods(ctx, tenantID, yearID)
}

// ClosePeriod marks a period closed. Already-closed periods return
// ErrAlreadyClosed and remain untouched; entries already posted inside the
// period stay posted — only new postings are blocked.
func (s *Service) ClosePeriod(ctx context.Context, tenantID, periodID, actorID int64) (Period, error) {
	if actorID == 0 {
		return Period{}, errors.New("fiscal: actor required")
	}
	if s.locks != nil {
		release, err := s.locks.Acquire(ctx, internalshared.PeriodLockKey(tenantID, periodID))
		if err != nil {
			if errors.Is(err, internalshared.ErrLockHeld) {
				return Period{}, shared.ErrConflict
			}
			return Period{}, err
		}
		defer release()
	}
	closedAt := s.now()
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPeriodForUpdate(ctx, tenantID, periodID)
		if err != nil {
			return err
		}
		if current.IsClosed {
			return shared.ErrAlreadyClosed
		}
		if err := tx.MarkPeriodClosed(ctx, tenantID, periodID, actorID, closedAt); err != nil {
			return err
		}
		current.IsClosed = true
		current.ClosedAt = &closedAt
		current.ClosedBy = &actorID
		period = current
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	if s.metrics != nil {
		s.metrics.ObservePeriodClose()
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, internalshared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "fiscal.period.close",
			Entity:   "fiscal_period",
			EntityID: fmt.Sprintf("%d", periodID),
			At:       closedAt,
		}); err != nil {
			slog.WarnContext(ctx, "audit record failed", "action", "fiscal.period.close", "error", err)
		}
	}
	return period, nil
}

// CloseYear marks a year closed once every child period is closed.
func (s *Service) CloseYear(ctx context.Context, tenantID, yearID, actorID int64) (Year, error) {
	if actorID == 0 {
		return Year{}, errors.New("fiscal: actor required")
	}
	if s.locks != nil {
		release, err := s.locks.Acquire(ctx, internalshared.YearLockKey(tenantID, yearID))
		if err != nil {
			if errors.Is(err, internalshared.ErrLockHeld) {
				return Year{}, shared.ErrConflict
			}
			return Year{}, err
		}
		defer release()
	}
	closedAt := s.now()
	var year Year
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetYearForUpdate(ctx, tenantID, yearID)
		if err != nil {
			return err
		}
		if current.IsClosed {
			return shared.ErrAlreadyClosed
		}
		open, err := tx.CountOpenPeriods(ctx, tenantID, yearID)
		if err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("cannot close year, %d periods still open: %w", open, shared.ErrPeriodsStillOpen)
		}
		if err := tx.MarkYearClosed(ctx, tenantID, yearID, actorID, closedAt); err != nil {
			return err
		}
		current.IsClosed = true
		current.IsActive = false
		current.ClosedAt = &closedAt
		current.ClosedBy = &actorID
		year = current
		return nil
	})
	if err != nil {
		return Year{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, internalshared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "fiscal.year.close",
			Entity:   "fiscal_year",
			EntityID: fmt.Sprintf("%d", yearID),
			At:       closedAt,
		}); err != nil {
			slog.WarnContext(ctx, "audit record failed", "action", "fiscal.year.close", "error", err)
		}
	}
	return year, nil
}
