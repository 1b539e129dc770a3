package currencies

import (
	"context"
	"errors"
	"strings"
)

// Service owns currency registry rules.
type Service struct {
	repo Repository
}

// NewService constructs a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateInput groups fields for a new currency.
type CreateInput struct {
	TenantID      int64
	Code          string
	DecimalPlaces int
	IsBase        bool
}

// Create registers a currency for the tenant.
func (s *Service) Create(ctx context.Context, in CreateInput) (Currency, error) {
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if in.TenantID == 0 {
		return Currency{}, errors.New("currencies: tenant required")
	}
	if len(code) != 3 {
		return Currency{}, errors.New("currencies: code must be a 3-letter ISO code")
	}
	if in.DecimalPlaces < 0 || in.DecimalPlaces > 4 {
		return Currency{}, errors.New("currencies: decimal places must be between 0 and 4")
	}
	return s.repo.Create(ctx, Currency{
		TenantID:      in.TenantID,
		Code:          code,
		DecimalPlaces: in.DecimalPlaces,
		IsBase:        in.IsBase,
	})
}

// List returns the tenant's currencies.
func (s *Service) List(ctx context.Context, tenantID int64) ([]Currency, error) {
	return s.repo.List(ctx, tenantID)
}

// Base returns the tenant's base currency.
func (s *Service) Base(ctx context.Context, tenantID int64) (Currency, error) {
	return s.repo.Base(ctx, tenantID)
}
