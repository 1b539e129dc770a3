package accounts

import "time"

// AccountType enumerates chart of accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	default:
		return false
	}
}

// BalanceSide indicates which side an account naturally increases on.
type BalanceSide string

const (
	SideDebit  BalanceSide = "DEBIT"
	SideCredit BalanceSide = "CREDIT"
)

// NormalSide returns the account type's normal balance side. Assets and
// expenses increase on debit; liabilities, equity and revenue on credit.
func (t AccountType) NormalSide() BalanceSide {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return SideDebit
	default:
		return SideCredit
	}
}

// Account models a chart of accounts node. Accounts form a tree via ParentID
// and are never physically deleted once journal lines reference them.
type Account struct {
	ID           int64
	TenantID     int64
	ParentID     *int64
	Code         string
	Name         string
	Type         AccountType
	IsActive     bool
	DisplayOrder int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsDebitNormal reports whether the account increases on the debit side.
func (a Account) IsDebitNormal() bool {
	return a.Type.NormalSide() == SideDebit
}

// IsCreditNormal reports whether the account increases on the credit side.
func (a Account) IsCreditNormal() bool {
	return a.Type.NormalSide() == SideCredit
}
