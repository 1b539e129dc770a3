package journals

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger/fiscal"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	internalshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memoryRepo struct {
	entries     map[int64]Entry
	lines       map[int64][]Line
	periods     map[int64]fiscal.Period
	nextEntryID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{entries: make(map[int64]Entry), lines: make(map[int64][]Line), periods: make(map[int64]fiscal.Period)}
}

func (r *memoryRepo) addPeriod(p fiscal.Period) { r.periods[p.ID] = p }

func (r *memoryRepo) Get(ctx context.Context, tenantID, entryID int64) (Entry, error) {
	e, ok := r.entries[entryID]
	if !ok || e.TenantID != tenantID {
		return Entry{}, shared.ErrNotFound
	}
	e.Lines = r.lines[entryID]
	return e, nil
}

func (r *memoryRepo) List(ctx context.Context, tenantID int64, limit, offset int) ([]Entry, error) {
	var out []Entry
	for _, e := range r.entries {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	t.repo.nextEntryID++
	e.ID = t.repo.nextEntryID
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	t.repo.entries[e.ID] = e
	return e, nil
}

func (t *memoryTx) InsertLines(ctx context.Context, entryID int64, lines []Line) error {
	t.repo.lines[entryID] = append([]Line(nil), lines...)
	return nil
}

func (t *memoryTx) ReplaceLines(ctx context.Context, entryID int64, lines []Line) error {
	t.repo.lines[entryID] = append([]Line(nil), lines...)
	return nil
}

func (t *memoryTx) GetEntryForUpdate(ctx context.Context, tenantID, entryID int64) (Entry, error) {
	e, ok := t.repo.entries[entryID]
	if !ok || e.TenantID != tenantID {
		return Entry{}, shared.ErrNotFound
	}
	return e, nil
}

func (t *memoryTx) GetLines(ctx context.Context, entryID int64) ([]Line, error) {
	return t.repo.lines[entryID], nil
}

func (t *memoryTx) UpdateDraftHeader(ctx context.Context, tenantID, entryID int64, date *time.Time, description *string) error {
	e, ok := t.repo.entries[entryID]
	if !ok || e.TenantID != tenantID {
		return shared.ErrNotFound
	}
	if date != nil {
		e.Date = *date
	}
	if description != nil {
		e.Description = *description
	}
	t.repo.entries[entryID] = e
	return nil
}

func (t *memoryTx) MarkPosted(ctx context.Context, tenantID, entryID, periodID, yearID, postedBy int64, at time.Time) error {
	e, ok := t.repo.entries[entryID]
	if !ok || e.TenantID != tenantID || e.Status != StatusDraft {
		return shared.ErrInvalidState
	}
	e.Status = StatusPosted
	e.PeriodID = &periodID
	e.YearID = &yearID
	e.PostedBy = &postedBy
	e.PostedAt = &at
	t.repo.entries[entryID] = e
	return nil
}

func (t *memoryTx) GetPeriodForUpdate(ctx context.Context, tenantID, periodID int64) (fiscal.Period, error) {
	p, ok := t.repo.periods[periodID]
	if !ok || p.TenantID != tenantID {
		return fiscal.Period{}, shared.ErrNotFound
	}
	return p, nil
}

func (t *memoryTx) FindPeriodForUpdateByDate(ctx context.Context, tenantID int64, date time.Time) (fiscal.Period, error) {
	for _, p := range t.repo.periods {
		if p.TenantID == tenantID && p.Contains(date) {
			return p, nil
		}
	}
	return fiscal.Period{}, shared.ErrNotFound
}

type fakeNumbers struct {
	seq int
}

func (f *fakeNumbers) Next(ctx context.Context, tenantID int64, docType string) (string, error) {
	f.seq++
	return fmt.Sprintf("JE-2026-%05d", f.seq), nil
}

type failingAudit struct{}

func (failingAudit) Record(ctx context.Context, log internalshared.AuditLog) error {
	return fmt.Errorf("sink down")
}

type captureMetrics struct {
	outcomes []string
}

func (m *captureMetrics) ObservePosting(outcome string) { m.outcomes = append(m.outcomes, outcome) }

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo, &fakeNumbers{}, nil, nil)
	svc.WithNow(func() time.Time { return day("2026-03-14") })
	return svc
}

func openQ1(repo *memoryRepo, tenant int64) {
	repo.addPeriod(fiscal.Period{ID: 10, TenantID: tenant, YearID: 1, Number: 1, StartDate: day("2026-01-01"), EndDate: day("2026-03-31")})
}

func draft(tenant int64, debit, credit string) DraftInput {
	return DraftInput{
		TenantID:  tenant,
		Date:      day("2026-03-10"),
		CreatedBy: 7,
		Lines: []LineInput{
			{AccountID: 1, Debit: amt(debit)},
			{AccountID: 2, Credit: amt(credit)},
		},
	}
}

func TestPostBalancedEntry(t *testing.T) {
	repo := newMemoryRepo()
	openQ1(repo, 1)
	svc := newTestService(repo)

	e, err := svc.CreateDraft(context.Background(), draft(1, "100.00", "100.00"))
	require.NoError(t, err)
	require.Equal(t, StatusDraft, e.Status)
	require.Equal(t, "JE-2026-00001", e.Number)
	require.NotNil(t, e.PeriodID)

	posted, err := svc.Post(context.Background(), 1, e.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.NotNil(t, posted.PostedBy)
	require.EqualValues(t, 42, *posted.PostedBy)
	require.NotNil(t, posted.PostedAt)
}

func TestPostRejectsUnbalancedEntry(t *testing.T) {
	repo := newMemoryRepo()
	openQ1(repo, 1)
	svc := newTestService(repo)

	e, err := svc.CreateDraft(context.Background(), draft(1, "100.00", "99.99"))
	require.NoError(t, err)

	// 0.01 apart still balances within tolerance; push beyond it.
	ok, err := svc.IsBalanced(context.Background(), 1, e.ID)
	require.NoError(t, err)
	require.True(t, ok)

	e2, err := svc.CreateDraft(context.Background(), draft(1, "100.00", "99.98"))
	require.NoError(t, err)

	_, err = svc.Post(context.Background(), 1, e2.ID, 42)
	require.ErrorIs(t, err, shared.ErrUnbalanced)

	// Entry stays a draft after the failed post.
	got, err := svc.Get(context.Background(), 1, e2.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
}

func TestPostRejectsClosedPeriod(t *testing.T) {
	repo := newMemoryRepo()
	openQ1(repo, 1)
	svc := newTestService(repo)

	e, err := svc.CreateDraft(context.Background(), draft(1, "50.00", "50.00"))
	require.NoError(t, err)

	p := repo.periods[10]
	p.IsClosed = true
	repo.periods[10] = p

	_, err = svc.Post(context.Background(), 1, e.ID, 42)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
}

func TestPostRedatedDraftChecksPeriodForNewDate(t *testing.T) {
	repo := newMemoryRepo()
	openQ1(repo, 1)
	repo.addPeriod(fiscal.Period{ID: 13, TenantID: 1, YearID: 1, Number: 4, StartDate: day("2026-10-01"), EndDate: day("2026-12-31"), IsClosed: true})
	svc := newTestService(repo)

	e, err := svc.CreateDraft(context.Background(), draft(1, "100.00", "100.00"))
	require.NoError(t, err)
	require.NotNil(t, e.PeriodID)
	require.EqualValues(t, 10, *e.PeriodID)

	// Re-dating the draft into the closed quarter must not leave it
	// postable through its stale period tie.
	newDate := day("2026-11-15")
	_, err = svc.UpdateDraft(context.Background(), UpdateDraftInput{TenantID: 1, EntryID: e.ID, Date: &newDate})
	require.NoError(t, err)

	_, err = svc.Post(context.Background(), 1, e.ID, 42)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)

	got, err := svc.Get(context.Background(), 1, e.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
}

func TestPostRetiesPeriodAfterRedate(t *testing.T) {
	repo := newMemoryRepo()
	openQ1(repo, 1)
	repo.addPeriod(fiscal.Period{ID: 12, TenantID: 1, YearID: 1, Number: 2, StartDate: day("2026-04-01"), EndDate: day("2026-06-30")})
	svc := newTestService(repo)

	e, err := svc.CreateDraft(context.Background(), draft(1, "100.00", "100.00"))
	require.NoError(t, err)

	newDate := day("2026-05-10")
	_, err = svc.UpdateDraft(context.Background(), UpdateDraftInput{TenantID: 1, EntryID: e.ID, Date: &newDate})
	require.NoError(t, err)

	posted, err := svc.Post(context.Background(), 1, e.ID, 42)
	require.NoError(t, err)
	require.NotNil(t, posted.PeriodID)
	require.EqualValues(t, 12, *posted.PeriodID)
}

func TestPostTwiceFails(t *testing.T) {
	repo := newMemoryRepo()
	openQ1(repo, 1)
	svc := newTestService(repo)

	e, err := svc.CreateDraft(context.Background(), draft(1, "100.00", "100.00"))
	require.NoError(t, err)

	_, err = svc.Post(context.Background(), 1, e.ID, 42)
	require.NoError(t, err)

	_, err = svc.Post(context.Background(), 1, e.ID, 42)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestUpdateDraftOnPostedFails(t *testing.T) {
	repo := newMemoryRepo()
	openQ1(repo, 1)
	svc := newTestService(repo)

	e, err := svc.CreateDraft(context.Background(), draft(1, "100.00", "100.00"))
	require.NoError(t, err)
	_, err = svc.Post(context.Background(), 1, e.ID, 42)
	require.NoError(t, err)

	desc := "late edit"
	_, err = svc.UpdateDraft(context.Background(), UpdateDraftInput{TenantID: 1, EntryID: e.ID, Description: &desc})
	require.ErrorIs(t, err, shared.ErrEntryLocked)
}

func TestUpdateDraftReplacesLinesAndRecomputesAmountBase(t *testing.T) {
	repo := newMemoryRepo()
	openQ1(repo, 1)
	svc := newTestService(repo)

	e, err := svc.CreateDraft(context.Background(), draft(1, "100.00", "100.00"))
	require.NoError(t, err)

	updated, err := svc.UpdateDraft(context.Background(), UpdateDraftInput{
		TenantID: 1,
		EntryID:  e.ID,
		Lines: []LineInput{
			{AccountID: 1, Debit: amt("250.5000")},
			{AccountID: 3, Credit: amt("250.5000")},
		},
	})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 2)
	require.True(t, updated.Lines[0].AmountBase.Equal(amt("250.5000")))
	require.Equal(t, 1, updated.Lines[0].LineNumber)
	require.Equal(t, 2, updated.Lines[1].LineNumber)
}

func TestCreateDraftValidation(t *testing.T) {
	repo := newMemoryRepo()
	openQ1(repo, 1)
	svc := newTestService(repo)

	in := draft(1, "10.00", "10.00")
	in.Lines = in.Lines[:1]
	_, err := svc.CreateDraft(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrTooFewLines)

	in = draft(1, "10.00", "10.00")
	in.Lines[0].Credit = amt("5.00")
	_, err = svc.CreateDraft(context.Background(), in)
	require.Error(t, err)
	require.Contains(t, err.Error(), "both debit and credit")

	in = draft(1, "10.00", "10.00")
	in.Lines[1].Credit = amt("-10.00")
	_, err = svc.CreateDraft(context.Background(), in)
	require.Error(t, err)
	require.Contains(t, err.Error(), "negative")
}

func TestCreateDraftRejectsDateOutsideGivenPeriod(t *testing.T) {
	repo := newMemoryRepo()
	openQ1(repo, 1)
	svc := newTestService(repo)

	pid := int64(10)
	in := draft(1, "10.00", "10.00")
	in.PeriodID = &pid
	in.Date = day("2026-07-01")
	_, err := svc.CreateDraft(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrDateOutOfRange)
}

func TestPostWithoutCoveringPeriodFails(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	// No calendar at all: draft creation works, posting does not.
	e, err := svc.CreateDraft(context.Background(), draft(1, "10.00", "10.00"))
	require.NoError(t, err)
	require.Nil(t, e.PeriodID)

	_, err = svc.Post(context.Background(), 1, e.ID, 42)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPostObservesOutcomes(t *testing.T) {
	repo := newMemoryRepo()
	openQ1(repo, 1)
	metrics := &captureMetrics{}
	svc := NewService(repo, &fakeNumbers{}, nil, metrics)
	svc.WithNow(func() time.Time { return day("2026-03-14") })

	e, err := svc.CreateDraft(context.Background(), draft(1, "100.00", "100.00"))
	require.NoError(t, err)
	_, err = svc.Post(context.Background(), 1, e.ID, 42)
	require.NoError(t, err)
	_, err = svc.Post(context.Background(), 1, e.ID, 42)
	require.Error(t, err)

	require.Equal(t, []string{"posted", "rejected"}, metrics.outcomes)
}

func TestPostSucceedsWhenAuditSinkFails(t *testing.T) {
	repo := newMemoryRepo()
	openQ1(repo, 1)
	svc := NewService(repo, &fakeNumbers{}, failingAudit{}, nil)
	svc.WithNow(func() time.Time { return day("2026-03-14") })

	e, err := svc.CreateDraft(context.Background(), draft(1, "100.00", "100.00"))
	require.NoError(t, err)

	posted, err := svc.Post(context.Background(), 1, e.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
}

func TestTenantIsolation(t *testing.T) {
	repo := newMemoryRepo()
	openQ1(repo, 1)
	svc := newTestService(repo)

	e, err := svc.CreateDraft(context.Background(), draft(1, "100.00", "100.00"))
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), 2, e.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Post(context.Background(), 2, e.ID, 42)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
