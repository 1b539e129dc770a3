package fiscal

import "time"

// Year represents a fiscal year owning 1..N periods.
type Year struct {
	ID        int64
	TenantID  int64
	Name      string
	StartDate time.Time
	EndDate   time.Time
	IsActive  bool
	IsClosed  bool
	ClosedAt  *time.Time
	ClosedBy  *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Period represents one posting window inside a fiscal year. Periods never
// overlap within a year and lie fully inside the year's range; both rules
// are validated at creation time.
type Period struct {
	ID        int64
	TenantID  int64
	YearID    int64
	Number    int
	StartDate time.Time
	EndDate   time.Time
	IsClosed  bool
	ClosedAt  *time.Time
	ClosedBy  *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contains reports whether date falls inside the period (inclusive).
func (p Period) Contains(date time.Time) bool {
	d := date.Truncate(24 * time.Hour)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}
