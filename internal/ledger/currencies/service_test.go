package currencies

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

type memoryRepo struct {
	rows   map[int64]Currency
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: make(map[int64]Currency)}
}

func (r *memoryRepo) Create(ctx context.Context, c Currency) (Currency, error) {
	for _, existing := range r.rows {
		if existing.TenantID == c.TenantID && existing.Code == c.Code {
			return Currency{}, shared.ErrConflict
		}
	}
	if c.IsBase {
		for id, existing := range r.rows {
			if existing.TenantID == c.TenantID && existing.IsBase {
				existing.IsBase = false
				r.rows[id] = existing
			}
		}
	}
	r.nextID++
	c.ID = r.nextID
	r.rows[c.ID] = c
	return c, nil
}

func (r *memoryRepo) List(ctx context.Context, tenantID int64) ([]Currency, error) {
	var out []Currency
	for _, c := range r.rows {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetByCode(ctx context.Context, tenantID int64, code string) (Currency, error) {
	for _, c := range r.rows {
		if c.TenantID == tenantID && c.Code == code {
			return c, nil
		}
	}
	return Currency{}, shared.ErrNotFound
}

func (r *memoryRepo) Base(ctx context.Context, tenantID int64) (Currency, error) {
	for _, c := range r.rows {
		if c.TenantID == tenantID && c.IsBase {
			return c, nil
		}
	}
	return Currency{}, shared.ErrNotFound
}

func TestCreateNormalizesCode(t *testing.T) {
	svc := NewService(newMemoryRepo())
	c, err := svc.Create(context.Background(), CreateInput{TenantID: 1, Code: " usd ", DecimalPlaces: 2})
	require.NoError(t, err)
	require.Equal(t, "USD", c.Code)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Create(context.Background(), CreateInput{TenantID: 1, Code: "DOLLARS", DecimalPlaces: 2})
	require.Error(t, err)
	require.Contains(t, err.Error(), "3-letter")

	_, err = svc.Create(context.Background(), CreateInput{TenantID: 1, Code: "USD", DecimalPlaces: 7})
	require.Error(t, err)
	require.Contains(t, err.Error(), "decimal places")
}

func TestSingleBaseCurrency(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	_, err := svc.Create(context.Background(), CreateInput{TenantID: 1, Code: "USD", DecimalPlaces: 2, IsBase: true})
	require.NoError(t, err)

	// Promoting a second base demotes the first.
	_, err = svc.Create(context.Background(), CreateInput{TenantID: 1, Code: "EUR", DecimalPlaces: 2, IsBase: true})
	require.NoError(t, err)

	base, err := svc.Base(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "EUR", base.Code)

	all, err := svc.List(context.Background(), 1)
	require.NoError(t, err)
	baseCount := 0
	for _, c := range all {
		if c.IsBase {
			baseCount++
		}
	}
	require.Equal(t, 1, baseCount)
}

func TestDuplicateCodeRejected(t *testing.T) {
	svc := NewService(newMemoryRepo())
	_, err := svc.Create(context.Background(), CreateInput{TenantID: 1, Code: "USD", DecimalPlaces: 2})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateInput{TenantID: 1, Code: "usd", DecimalPlaces: 2})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestBaseIsTenantScoped(t *testing.T) {
	svc := NewService(newMemoryRepo())
	_, err := svc.Create(context.Background(), CreateInput{TenantID: 1, Code: "USD", DecimalPlaces: 2, IsBase: true})
	require.NoError(t, err)

	_, err = svc.Base(context.Background(), 2)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
