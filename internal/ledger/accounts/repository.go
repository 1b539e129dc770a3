package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository encapsulates DB operations for the chart of accounts.
type Repository interface {
	Create(ctx context.Context, a Account) (Account, error)
	Get(ctx context.Context, tenantID, id int64) (Account, error)
	List(ctx context.Context, tenantID int64) ([]Account, error)
	ChildrenOf(ctx context.Context, tenantID, parentID int64) ([]Account, error)
	CountJournalLines(ctx context.Context, tenantID, accountID int64) (int64, error)
	Deactivate(ctx context.Context, tenantID, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const accountColumns = `id, tenant_id, parent_id, code, name, type, is_active, display_order, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.TenantID, &a.ParentID, &a.Code, &a.Name, &a.Type, &a.IsActive, &a.DisplayOrder, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *repository) Create(ctx context.Context, a Account) (Account, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO accounts (tenant_id, parent_id, code, name, type, is_active, display_order)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+accountColumns,
		a.TenantID, a.ParentID, a.Code, a.Name, a.Type, a.IsActive, a.DisplayOrder)
	created, err := scanAccount(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Account{}, fmt.Errorf("account code %q already exists: %w", a.Code, shared.ErrConflict)
		}
		return Account{}, err
	}
	return created, nil
}

func (r *repository) Get(ctx context.Context, tenantID, id int64) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) List(ctx context.Context, tenantID int64) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 ORDER BY display_order, code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func (r *repository) ChildrenOf(ctx context.Context, tenantID, parentID int64) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND parent_id=$2 ORDER BY display_order, code`, tenantID, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func (r *repository) CountJournalLines(ctx context.Context, tenantID, accountID int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE e.tenant_id=$1 AND l.account_id=$2`, tenantID, accountID).Scan(&count)
	return count, err
}

func (r *repository) Deactivate(ctx context.Context, tenantID, id int64) error {
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET is_active=FALSE, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func collectAccounts(rows pgx.Rows) ([]Account, error) {
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
