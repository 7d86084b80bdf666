package costtracking

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/conceptmesh/backend/internal/clients/redis"
	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/repos"
	"github.com/conceptmesh/backend/internal/types"
)

type fakeUsageRepo struct {
	records   []*types.AIUsageRecord
	createErr error
	sumErr    error
	sumCalls  int
}

func (f *fakeUsageRepo) Create(ctx context.Context, tx *gorm.DB, recs []*types.AIUsageRecord) ([]*types.AIUsageRecord, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.records = append(f.records, recs...)
	return recs, nil
}

func (f *fakeUsageRepo) SumCostBetween(ctx context.Context, tx *gorm.DB, userID string, from, to time.Time) (float64, error) {
	f.sumCalls++
	if f.sumErr != nil {
		return 0, f.sumErr
	}
	var total float64
	for _, r := range f.records {
		if r.UserID == userID && !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			total += r.Cost
		}
	}
	return total, nil
}

func (f *fakeUsageRepo) CountBetween(ctx context.Context, tx *gorm.DB, userID string, from, to time.Time) (int64, error) {
	var n int64
	for _, r := range f.records {
		if r.UserID == userID && !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			n++
		}
	}
	return n, nil
}

func (f *fakeUsageRepo) BreakdownByOperation(ctx context.Context, tx *gorm.DB, userID string, from, to time.Time) ([]repos.OperationCost, error) {
	byOp := map[string]*repos.OperationCost{}
	var order []string
	for _, r := range f.records {
		if r.UserID != userID || r.Timestamp.Before(from) || !r.Timestamp.Before(to) {
			continue
		}
		row, ok := byOp[r.Operation]
		if !ok {
			row = &repos.OperationCost{Operation: r.Operation}
			byOp[r.Operation] = row
			order = append(order, r.Operation)
		}
		row.TotalCost += r.Cost
		row.Count++
	}
	out := make([]repos.OperationCost, 0, len(order))
	for _, op := range order {
		out = append(out, *byOp[op])
	}
	return out, nil
}

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestTracker(t *testing.T, repo repos.AIUsageRepo) *tracker {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	tr := NewTracker(log, redis.NewMemoryCache(), repo, DefaultLimits()).(*tracker)
	tr.now = func() time.Time { return fixedNow }
	return tr
}

func seedSpend(repo *fakeUsageRepo, userID string, cost float64) {
	repo.records = append(repo.records, &types.AIUsageRecord{
		UserID:    userID,
		Operation: "graph-generation",
		Cost:      cost,
		Timestamp: fixedNow.Add(-time.Hour),
	})
}

func TestCheckBudgetAllowsUnderLimit(t *testing.T) {
	repo := &fakeUsageRepo{}
	seedSpend(repo, "u1", 2.00)
	tr := newTestTracker(t, repo)

	d, err := tr.CheckBudget(context.Background(), CheckBudgetRequest{UserID: "u1", EstimatedCost: 1.00})
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("denied: %+v", d)
	}
	if d.CurrentUsage.Today != 2.00 {
		t.Fatalf("today = %v", d.CurrentUsage.Today)
	}
}

func TestCheckBudgetExactlyAtLimitAllowed(t *testing.T) {
	repo := &fakeUsageRepo{}
	seedSpend(repo, "u1", 9.00)
	tr := newTestTracker(t, repo)

	d, err := tr.CheckBudget(context.Background(), CheckBudgetRequest{UserID: "u1", EstimatedCost: 1.00})
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("spend landing exactly on the daily limit must be allowed: %+v", d)
	}
}

func TestCheckBudgetOvershootDenied(t *testing.T) {
	repo := &fakeUsageRepo{}
	seedSpend(repo, "u1", 9.00)
	tr := newTestTracker(t, repo)

	d, err := tr.CheckBudget(context.Background(), CheckBudgetRequest{UserID: "u1", EstimatedCost: 1.01})
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if d.Allowed {
		t.Fatal("overshoot should be denied")
	}
	if d.Reason != "daily-limit-exceeded" {
		t.Fatalf("reason = %s", d.Reason)
	}
	if d.ResetAt == nil {
		t.Fatal("denial must carry a reset time")
	}
	wantReset := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	if !d.ResetAt.Equal(wantReset) {
		t.Fatalf("reset = %v, want %v", d.ResetAt, wantReset)
	}
}

func TestCheckBudgetDocumentGate(t *testing.T) {
	repo := &fakeUsageRepo{}
	seedSpend(repo, "u1", 2.00)
	tr := newTestTracker(t, repo)

	d, err := tr.CheckBudget(context.Background(), CheckBudgetRequest{UserID: "u1", EstimatedCost: 5.01})
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if d.Allowed || d.Reason != "document-limit-exceeded" {
		t.Fatalf("decision = %+v", d)
	}
	// A per-document denial still reports what the user has spent.
	if d.CurrentUsage.Today != 2.00 || d.CurrentUsage.ThisMonth != 2.00 {
		t.Fatalf("usage = %+v", d.CurrentUsage)
	}
}

func TestCheckBudgetAnonymousOnlyDocumentGate(t *testing.T) {
	repo := &fakeUsageRepo{sumErr: errors.New("ledger down")}
	tr := newTestTracker(t, repo)

	// Anonymous requests never consult the per-user counters, so a broken
	// ledger must not matter here.
	d, err := tr.CheckBudget(context.Background(), CheckBudgetRequest{EstimatedCost: 1.00})
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("decision = %+v", d)
	}
}

func TestCheckBudgetZeroEstimateUsesModelFloor(t *testing.T) {
	tr := newTestTracker(t, &fakeUsageRepo{})
	d, err := tr.CheckBudget(context.Background(), CheckBudgetRequest{UserID: "u1", Model: "claude-sonnet-4"})
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if d.EstimatedCost != 0.10 {
		t.Fatalf("estimated = %v, want sonnet floor 0.10", d.EstimatedCost)
	}
}

func TestCheckBudgetWarningThresholds(t *testing.T) {
	repo := &fakeUsageRepo{}
	seedSpend(repo, "u1", 8.00)
	tr := newTestTracker(t, repo)

	d, err := tr.CheckBudget(context.Background(), CheckBudgetRequest{UserID: "u1", EstimatedCost: 0.50})
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("denied: %+v", d)
	}
	if !d.CurrentUsage.DailyWarning {
		t.Fatal("8.00 of 10.00 should trip the 80% daily warning")
	}
	if d.CurrentUsage.MonthlyWarning {
		t.Fatal("8.00 of 50.00 should not trip the 90% monthly warning")
	}
}

func TestCounterRebuiltOnceThenCached(t *testing.T) {
	repo := &fakeUsageRepo{}
	seedSpend(repo, "u1", 3.00)
	tr := newTestTracker(t, repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := tr.CheckBudget(ctx, CheckBudgetRequest{UserID: "u1", EstimatedCost: 0.10}); err != nil {
			t.Fatalf("CheckBudget #%d: %v", i, err)
		}
	}
	// First check misses both counters and rebuilds from the ledger; the
	// repopulated cache serves every later check.
	if repo.sumCalls != 2 {
		t.Fatalf("ledger sums = %d, want 2 (day + month on first miss)", repo.sumCalls)
	}
}

func TestCheckBudgetFailsClosedOnLedgerError(t *testing.T) {
	repo := &fakeUsageRepo{sumErr: errors.New("connection refused")}
	tr := newTestTracker(t, repo)

	_, err := tr.CheckBudget(context.Background(), CheckBudgetRequest{UserID: "u1", EstimatedCost: 0.10})
	if err == nil {
		t.Fatal("expected error when the ledger is unreachable")
	}
	var te *TrackingError
	if !errors.As(err, &te) {
		t.Fatalf("expected TrackingError, got %T", err)
	}
}

func TestRecordUsageFillsDefaultsAndAppends(t *testing.T) {
	repo := &fakeUsageRepo{}
	tr := newTestTracker(t, repo)

	rec := &types.AIUsageRecord{
		UserID:       "u1",
		Operation:    "graph-generation",
		Model:        "claude-haiku",
		InputTokens:  4000,
		OutputTokens: 1500,
		Cost:         0.0029,
		Success:      true,
	}
	if err := tr.RecordUsage(context.Background(), rec); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if len(repo.records) != 1 {
		t.Fatalf("ledger rows = %d", len(repo.records))
	}
	got := repo.records[0]
	if got.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatal("ID not assigned")
	}
	if got.TotalTokens != 5500 {
		t.Fatalf("total tokens = %d", got.TotalTokens)
	}
	if !got.Timestamp.Equal(fixedNow) {
		t.Fatalf("timestamp = %v, want injected now", got.Timestamp)
	}
}

func TestRecordUsageIncrementsCounters(t *testing.T) {
	repo := &fakeUsageRepo{}
	tr := newTestTracker(t, repo)
	ctx := context.Background()

	rec := &types.AIUsageRecord{UserID: "u1", Operation: "quiz-generation", Model: "claude-haiku", Cost: 0.05}
	if err := tr.RecordUsage(ctx, rec); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	d, err := tr.CheckBudget(ctx, CheckBudgetRequest{UserID: "u1", EstimatedCost: 0.10})
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if math.Abs(d.CurrentUsage.Today-0.05) > 1e-9 {
		t.Fatalf("today = %v, want 0.05 from the incremented counter", d.CurrentUsage.Today)
	}
}

func TestRecordUsageLedgerFailureSurfaces(t *testing.T) {
	repo := &fakeUsageRepo{createErr: errors.New("insert failed")}
	tr := newTestTracker(t, repo)

	err := tr.RecordUsage(context.Background(), &types.AIUsageRecord{UserID: "u1", Operation: "x", Model: "claude-haiku", Cost: 0.01})
	var te *TrackingError
	if !errors.As(err, &te) {
		t.Fatalf("expected TrackingError, got %v", err)
	}
}

func TestGetUserSummary(t *testing.T) {
	repo := &fakeUsageRepo{}
	seedSpend(repo, "u1", 0.30)
	seedSpend(repo, "u1", 0.10)
	tr := newTestTracker(t, repo)

	s, err := tr.GetUserSummary(context.Background(), "u1", WindowDay)
	if err != nil {
		t.Fatalf("GetUserSummary: %v", err)
	}
	if math.Abs(s.TotalCost-0.40) > 1e-9 || s.OperationCount != 2 {
		t.Fatalf("summary = %+v", s)
	}
	if math.Abs(s.AverageCostPerOperation-0.20) > 1e-9 {
		t.Fatalf("avg = %v", s.AverageCostPerOperation)
	}
}

func TestGetCostBreakdownPercentages(t *testing.T) {
	repo := &fakeUsageRepo{}
	repo.records = append(repo.records,
		&types.AIUsageRecord{UserID: "u1", Operation: "graph-generation", Cost: 0.75, Timestamp: fixedNow},
		&types.AIUsageRecord{UserID: "u1", Operation: "quiz-generation", Cost: 0.25, Timestamp: fixedNow},
	)
	tr := newTestTracker(t, repo)

	rows, err := tr.GetCostBreakdown(context.Background(), "u1", WindowDay)
	if err != nil {
		t.Fatalf("GetCostBreakdown: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	var total float64
	for _, r := range rows {
		total += r.Percentage
		if r.Operation == "graph-generation" && math.Abs(r.Percentage-75) > 1e-9 {
			t.Fatalf("graph-generation pct = %v", r.Percentage)
		}
	}
	if math.Abs(total-100) > 1e-9 {
		t.Fatalf("percentages sum to %v", total)
	}
}
