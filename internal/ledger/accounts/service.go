package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// CreateInput groups the fields needed for a new account.
type CreateInput struct {
	TenantID     int64
	ParentID     *int64
	Code         string
	Name         string
	Type         AccountType
	DisplayOrder int
}

// Validate checks the input for coherence.
func (in CreateInput) Validate() error {
	if in.TenantID == 0 {
		return errors.New("accounts: tenant required")
	}
	if strings.TrimSpace(in.Code) == "" {
		return errors.New("accounts: code required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("accounts: name required")
	}
	if !in.Type.Valid() {
		return fmt.Errorf("accounts: unknown type %q", in.Type)
	}
	return nil
}

// Service owns chart of accounts business rules.
type Service struct {
	repo Repository
}

// NewService constructs a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create registers a new account. The parent, when given, must exist within
// the same tenant.
func (s *Service) Create(ctx context.Context, in CreateInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	if in.ParentID != nil {
		if _, err := s.repo.Get(ctx, in.TenantID, *in.ParentID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return Account{}, fmt.Errorf("accounts: parent %d: %w", *in.ParentID, shared.ErrNotFound)
			}
			return Account{}, err
		}
	}
	return s.repo.Create(ctx, Account{
		TenantID:     in.TenantID,
		ParentID:     in.ParentID,
		Code:         strings.TrimSpace(in.Code),
		Name:         strings.TrimSpace(in.Name),
		Type:         in.Type,
		IsActive:     true,
		DisplayOrder: in.DisplayOrder,
	})
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Account, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns the tenant's full chart ordered for display.
func (s *Service) List(ctx context.Context, tenantID int64) ([]Account, error) {
	return s.repo.List(ctx, tenantID)
}

// ChildrenOf returns the direct children of an account.
func (s *Service) ChildrenOf(ctx context.Context, tenantID, parentID int64) ([]Account, error) {
	if _, err := s.repo.Get(ctx, tenantID, parentID); err != nil {
		return nil, err
	}
	return s.repo.ChildrenOf(ctx, tenantID, parentID)
}

// Deactivate soft-deletes an account. Accounts referenced by journal lines
// must stay resolvable for historical reporting, so the row is only marked
// inactive, and even that is refused while lines reference it.
func (s *Service) Deactivate(ctx context.Context, tenantID, id int64) error {
	if _, err := s.repo.Get(ctx, tenantID, id); err != nil {
		return err
	}
	count, err := s.repo.CountJournalLines(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("cannot deactivate account, %d journal lines associated: %w", count, shared.ErrReferentialIntegrity)
	}
	return s.repo.Deactivate(ctx, tenantID, id)
}
