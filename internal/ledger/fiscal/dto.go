package fiscal

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// PeriodInput describes one period of a new fiscal year.
type PeriodInput struct {
	Number    int
	StartDate time.Time
	EndDate   time.Time
}

// CreateYearInput groups fields for creating a fiscal year with its periods.
type CreateYearInput struct {
	TenantID  int64
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Periods   []PeriodInput
}

// Validate checks year coherence, period containment and sibling overlap.
func (in CreateYearInput) Validate() error {
	if in.TenantID == 0 {
		return errors.New("fiscal: tenant required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("fiscal: name required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return errors.New("fiscal: start and end date required")
	}
	if in.StartDate.After(in.EndDate) {
		return errors.New("fiscal: start date cannot be after end date")
	}
	if len(in.Periods) == 0 {
		return errors.New("fiscal: at least one period required")
	}

	sorted := make([]PeriodInput, len(in.Periods))
	copy(sorted, in.Periods)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartDate.Before(sorted[j].StartDate) })

	seen := make(map[int]bool, len(sorted))
	for i, p := range sorted {
		if p.Number <= 0 {
			return fmt.Errorf("fiscal: period %d: number must be positive", i)
		}
		if seen[p.Number] {
			return fmt.Errorf("fiscal: duplicate period number %d", p.Number)
		}
		seen[p.Number] = true
		if p.StartDate.After(p.EndDate) {
			return fmt.Errorf("fiscal: period %d: start after end", p.Number)
		}
		if p.StartDate.Before(in.StartDate) || p.EndDate.After(in.EndDate) {
			return fmt.Errorf("fiscal: period %d lies outside the year", p.Number)
		}
		if i > 0 && !p.StartDate.After(sorted[i-1].EndDate) {
			return fmt.Errorf("fiscal: period %d overlaps period %d", p.Number, sorted[i-1].Number)
		}
	}
	return nil
}
