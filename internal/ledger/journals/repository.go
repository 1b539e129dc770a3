package journals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/fiscal"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// Repository encapsulates DB operations for journal entries.
type Repository interface {
	Get(ctx context.Context, tenantID, entryID int64) (Entry, error)
	List(ctx context.Context, tenantID int64, limit, offset int) ([]Entry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction. Period reads
// live here too: the posting sequence must lock the period row in the same
// transaction that flips the entry status.
type TxRepository interface {
	InsertEntry(ctx context.Context, e Entry) (Entry, error)
	InsertLines(ctx context.Context, entryID int64, lines []Line) error
	ReplaceLines(ctx context.Context, entryID int64, lines []Line) error
	GetEntryForUpdate(ctx context.Context, tenantID, entryID int64) (Entry, error)
	GetLines(ctx context.Context, entryID int64) ([]Line, error)
	UpdateDraftHeader(ctx context.Context, tenantID, entryID int64, date *time.Time, description *string) error
	MarkPosted(ctx context.Context, tenantID, entryID, periodID, yearID, postedBy int64, at time.Time) error

	GetPeriodForUpdate(ctx context.Context, tenantID, periodID int64) (fiscal.Period, error)
	FindPeriodForUpdateByDate(ctx context.Context, tenantID int64, date time.Time) (fiscal.Period, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const entryColumns = `id, tenant_id, entry_number, year_id, period_id, entry_date, reference_type, reference_id, description, status, created_by, posted_by, posted_at, created_at, updated_at`
const lineColumns = `id, entry_id, account_id, currency_id, debit, credit, amount_base, description, line_number, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var refType *string
	var refID *string
	err := row.Scan(&e.ID, &e.TenantID, &e.Number, &e.YearID, &e.PeriodID, &e.Date, &refType, &refID,
		&e.Description, &e.Status, &e.CreatedBy, &e.PostedBy, &e.PostedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	if refType != nil && refID != nil {
		if parsed, perr := uuid.Parse(*refID); perr == nil {
			e.Ref = &Reference{Kind: *refType, ID: parsed}
		}
	}
	return e, nil
}

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	var debit, credit, amountBase pgtype.Numeric
	err := row.Scan(&l.ID, &l.EntryID, &l.AccountID, &l.CurrencyID, &debit, &credit, &amountBase,
		&l.Description, &l.LineNumber, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return Line{}, err
	}
	l.Debit = numericToDecimal(debit)
	l.Credit = numericToDecimal(credit)
	l.AmountBase = numericToDecimal(amountBase)
	return l, nil
}

func (r *repository) Get(ctx context.Context, tenantID, entryID int64) (Entry, error) {
	row := r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE tenant_id=$1 AND id=$2`, tenantID, entryID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.ErrNotFound
		}
		return Entry{}, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+lineColumns+` FROM journal_lines WHERE entry_id=$1 ORDER BY line_number`, e.ID)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	e.Lines, err = collectLines(rows)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (r *repository) List(ctx context.Context, tenantID int64, limit, offset int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE tenant_id=$1 ORDER BY entry_date DESC, id DESC LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
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

func (r *txRepository) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	var refType, refID any
	if e.Ref != nil {
		refType = e.Ref.Kind
		refID = e.Ref.ID.String()
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries
(tenant_id, entry_number, year_id, period_id, entry_date, reference_type, reference_id, description, status, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING `+entryColumns,
		e.TenantID, e.Number, e.YearID, e.PeriodID, e.Date, refType, refID, e.Description, e.Status, e.CreatedBy)
	return scanEntry(row)
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []Line) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines
(entry_id, account_id, currency_id, debit, credit, amount_base, description, line_number)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			entryID, line.AccountID, line.CurrencyID,
			decimalToNumeric(line.Debit), decimalToNumeric(line.Credit), decimalToNumeric(line.AmountBase),
			line.Description, line.LineNumber); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) ReplaceLines(ctx context.Context, entryID int64, lines []Line) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1`, entryID); err != nil {
		return err
	}
	return r.InsertLines(ctx, entryID, lines)
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, tenantID, entryID int64) (Entry, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, entryID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func (r *txRepository) GetLines(ctx context.Context, entryID int64) ([]Line, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lineColumns+` FROM journal_lines WHERE entry_id=$1 ORDER BY line_number`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLines(rows)
}

func (r *txRepository) UpdateDraftHeader(ctx context.Context, tenantID, entryID int64, date *time.Time, description *string) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET
entry_date=COALESCE($3, entry_date), description=COALESCE($4, description), updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, tenantID, entryID, date, description)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) MarkPosted(ctx context.Context, tenantID, entryID, periodID, yearID, postedBy int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$3, period_id=$4, year_id=$5, posted_by=$6, posted_at=$7, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2 AND status=$8`, tenantID, entryID, StatusPosted, periodID, yearID, postedBy, at, StatusDraft)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrInvalidState
	}
	return nil
}

// GetPeriodForUpdate locks the fiscal period row within the posting
// transaction so a concurrent close cannot slip between the open check and
// the status flip.
func (r *txRepository) GetPeriodForUpdate(ctx context.Context, tenantID, periodID int64) (fiscal.Period, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, tenant_id, year_id, period_number, start_date, end_date, is_closed, closed_at, closed_by, created_at, updated_at
FROM fiscal_periods WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, periodID)
	return scanFiscalPeriod(row)
}

func (r *txRepository) FindPeriodForUpdateByDate(ctx context.Context, tenantID int64, date time.Time) (fiscal.Period, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, tenant_id, year_id, period_number, start_date, end_date, is_closed, closed_at, closed_by, created_at, updated_at
FROM fiscal_periods WHERE tenant_id=$1 AND $2 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1 FOR UPDATE`, tenantID, date)
	return scanFiscalPeriod(row)
}

func scanFiscalPeriod(row pgx.Row) (fiscal.Period, error) {
	var p fiscal.Period
	err := row.Scan(&p.ID, &p.TenantID, &p.YearID, &p.Number, &p.StartDate, &p.EndDate, &p.IsClosed, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fiscal.Period{}, shared.ErrNotFound
		}
		return fiscal.Period{}, err
	}
	return p, nil
}

func collectLines(rows pgx.Rows) ([]Line, error) {
	var out []Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Type conversion helpers for NUMERIC columns.
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
