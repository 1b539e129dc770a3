package fiscal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// Repository encapsulates DB operations for the fiscal calendar.
type Repository interface {
	PeriodFor(ctx context.Context, tenantID int64, date time.Time) (Period, error)
	GetPeriod(ctx context.Context, tenantID, periodID int64) (Period, error)
	GetYear(ctx context.Context, tenantID, yearID int64) (Year, error)
	ListYears(ctx context.Context, tenantID int64) ([]Year, error)
	ListPeriods(ctx context.Context, tenantID, yearID int64) ([]Period, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	InsertYear(ctx context.Context, in CreateYearInput) (Year, error)
	InsertPeriod(ctx context.Context, tenantID, yearID int64, in PeriodInput) (Period, error)
	GetPeriodForUpdate(ctx context.Context, tenantID, periodID int64) (Period, error)
	GetYearForUpdate(ctx context.Context, tenantID, yearID int64) (Year, error)
	CountOpenPeriods(ctx context.Context, tenantID, yearID int64) (int64, error)
	MarkPeriodClosed(ctx context.Context, tenantID, periodID, actorID int64, at time.Time) error
	MarkYearClosed(ctx context.Context, tenantID, yearID, actorID int64, at time.Time) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const yearColumns = `id, tenant_id, name, start_date, end_date, is_active, is_closed, closed_at, closed_by, created_at, updated_at`
const periodColumns = `id, tenant_id, year_id, period_number, start_date, end_date, is_closed, closed_at, closed_by, created_at, updated_at`

func scanYear(row pgx.Row) (Year, error) {
	var y Year
	err := row.Scan(&y.ID, &y.TenantID, &y.Name, &y.StartDate, &y.EndDate, &y.IsActive, &y.IsClosed, &y.ClosedAt, &y.ClosedBy, &y.CreatedAt, &y.UpdatedAt)
	return y, err
}

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.TenantID, &p.YearID, &p.Number, &p.StartDate, &p.EndDate, &p.IsClosed, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *repository) PeriodFor(ctx context.Context, tenantID int64, date time.Time) (Period, error) {
	row := r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods
WHERE tenant_id=$1 AND $2 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, tenantID, date)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) GetPeriod(ctx context.Context, tenantID, periodID int64) (Period, error) {
	row := r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE tenant_id=$1 AND id=$2`, tenantID, periodID)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) GetYear(ctx context.Context, tenantID, yearID int64) (Year, error) {
	row := r.db.QueryRow(ctx, `SELECT `+yearColumns+` FROM fiscal_years WHERE tenant_id=$1 AND id=$2`, tenantID, yearID)
	y, err := scanYear(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Year{}, shared.ErrNotFound
		}
		return Year{}, err
	}
	return y, nil
}

func (r *repository) ListYears(ctx context.Context, tenantID int64) ([]Year, error) {
	rows, err := r.db.Query(ctx, `SELECT `+yearColumns+` FROM fiscal_years WHERE tenant_id=$1 ORDER BY start_date DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Year
	for rows.Next() {
		y, err := scanYear(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, y)
	}
	return out, rows.Err()
}

func (r *repository) ListPeriods(ctx context.Context, tenantID, yearID int64) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE tenant_id=$1 AND year_id=$2 ORDER BY period_number`, tenantID, yearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
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

func (r *txRepository) InsertYear(ctx context.Context, in CreateYearInput) (Year, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO fiscal_years (tenant_id, name, start_date, end_date, is_active)
VALUES ($1,$2,$3,$4,TRUE) RETURNING `+yearColumns, in.TenantID, in.Name, in.StartDate, in.EndDate)
	return scanYear(row)
}

func (r *txRepository) InsertPeriod(ctx context.Context, tenantID, yearID int64, in PeriodInput) (Period, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO fiscal_periods (tenant_id, year_id, period_number, start_date, end_date)
VALUES ($1,$2,$3,$4,$5) RETURNING `+periodColumns, tenantID, yearID, in.Number, in.StartDate, in.EndDate)
	return scanPeriod(row)
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, tenantID, periodID int64) (Period, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, periodID)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) GetYearForUpdate(ctx context.Context, tenantID, yearID int64) (Year, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+yearColumns+` FROM fiscal_years WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, yearID)
	y, err := scanYear(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Year{}, shared.ErrNotFound
		}
		return Year{}, err
	}
	return y, nil
}

func (r *txRepository) CountOpenPeriods(ctx context.Context, tenantID, yearID int64) (int64, error) {
	var count int64
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM fiscal_periods
WHERE tenant_id=$1 AND year_id=$2 AND is_closed=FALSE`, tenantID, yearID).Scan(&count)
	return count, err
}

func (r *txRepository) MarkPeriodClosed(ctx context.Context, tenantID, periodID, actorID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE fiscal_periods SET is_closed=TRUE, closed_at=$3, closed_by=$4, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, tenantID, periodID, at, actorID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) MarkYearClosed(ctx context.Context, tenantID, yearID, actorID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE fiscal_years SET is_closed=TRUE, is_active=FALSE, closed_at=$3, closed_by=$4, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, tenantID, yearID, at, actorID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
