package currencies

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository encapsulates DB operations for currencies.
type Repository interface {
	Create(ctx context.Context, c Currency) (Currency, error)
	List(ctx context.Context, tenantID int64) ([]Currency, error)
	GetByCode(ctx context.Context, tenantID int64, code string) (Currency, error)
	Base(ctx context.Context, tenantID int64) (Currency, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const currencyColumns = `id, tenant_id, code, decimal_places, is_base, created_at, updated_at`

func scanCurrency(row pgx.Row) (Currency, error) {
	var c Currency
	err := row.Scan(&c.ID, &c.TenantID, &c.Code, &c.DecimalPlaces, &c.IsBase, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// Create inserts the currency. When IsBase is set, any existing base row for
// the tenant is demoted in the same transaction so the single-base invariant
// holds even under concurrent writes.
func (r *repository) Create(ctx context.Context, c Currency) (Currency, error) {
	var created Currency
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if c.IsBase {
			if _, err := tx.Exec(ctx, `UPDATE currencies SET is_base=FALSE, updated_at=NOW()
WHERE tenant_id=$1 AND is_base=TRUE`, c.TenantID); err != nil {
				return err
			}
		}
		row := tx.QueryRow(ctx, `INSERT INTO currencies (tenant_id, code, decimal_places, is_base)
VALUES ($1,$2,$3,$4) RETURNING `+currencyColumns, c.TenantID, c.Code, c.DecimalPlaces, c.IsBase)
		var err error
		created, err = scanCurrency(row)
		return err
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Currency{}, shared.ErrConflict
		}
		return Currency{}, err
	}
	return created, nil
}

func (r *repository) List(ctx context.Context, tenantID int64) ([]Currency, error) {
	rows, err := r.db.Query(ctx, `SELECT `+currencyColumns+` FROM currencies WHERE tenant_id=$1 ORDER BY code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Currency
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) GetByCode(ctx context.Context, tenantID int64, code string) (Currency, error) {
	row := r.db.QueryRow(ctx, `SELECT `+currencyColumns+` FROM currencies WHERE tenant_id=$1 AND code=$2`, tenantID, code)
	c, err := scanCurrency(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Currency{}, shared.ErrNotFound
		}
		return Currency{}, err
	}
	return c, nil
}

func (r *repository) Base(ctx context.Context, tenantID int64) (Currency, error) {
	row := r.db.QueryRow(ctx, `SELECT `+currencyColumns+` FROM currencies WHERE tenant_id=$1 AND is_base=TRUE`, tenantID)
	c, err := scanCurrency(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Currency{}, shared.ErrNotFound
		}
		return Currency{}, err
	}
	return c, nil
}
