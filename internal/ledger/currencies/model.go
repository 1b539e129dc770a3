package currencies

import "time"

// Currency is tenant-scoped reference data for monetary amounts.
type Currency struct {
	ID            int64
	TenantID      int64
	Code          string
	DecimalPlaces int
	IsBase        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
