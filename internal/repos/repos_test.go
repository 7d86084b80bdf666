package repos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/types"
)

func testDB(t *testing.T) (*gorm.DB, *logger.Logger) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.AIUsageRecord{}, &types.JobRun{}, &types.KnowledgeGraph{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db, log
}

func usageRow(userID, op string, cost float64, ts time.Time) *types.AIUsageRecord {
	return &types.AIUsageRecord{
		ID:        uuid.New(),
		UserID:    userID,
		Operation: op,
		Model:     "claude-haiku",
		Cost:      cost,
		Timestamp: ts,
	}
}

func TestAIUsageRepoSumAndCount(t *testing.T) {
	db, log := testDB(t)
	repo := NewAIUsageRepo(db, log)
	ctx := context.Background()

	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	rows := []*types.AIUsageRecord{
		usageRow("u1", "graph-generation", 0.30, base),
		usageRow("u1", "quiz-generation", 0.10, base.Add(time.Minute)),
		usageRow("u1", "graph-generation", 0.20, base.Add(-48*time.Hour)), // outside window
		usageRow("u2", "graph-generation", 5.00, base),                    // other user
	}
	if _, err := repo.Create(ctx, nil, rows); err != nil {
		t.Fatalf("Create: %v", err)
	}

	from := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	sum, err := repo.SumCostBetween(ctx, nil, "u1", from, to)
	if err != nil {
		t.Fatalf("SumCostBetween: %v", err)
	}
	if sum < 0.399 || sum > 0.401 {
		t.Fatalf("sum = %v, want 0.40", sum)
	}
	count, err := repo.CountBetween(ctx, nil, "u1", from, to)
	if err != nil {
		t.Fatalf("CountBetween: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d", count)
	}
}

func TestAIUsageRepoBreakdownOrdered(t *testing.T) {
	db, log := testDB(t)
	repo := NewAIUsageRepo(db, log)
	ctx := context.Background()

	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	rows := []*types.AIUsageRecord{
		usageRow("u1", "quiz-generation", 0.10, base),
		usageRow("u1", "graph-generation", 0.50, base),
		usageRow("u1", "graph-generation", 0.25, base),
	}
	if _, err := repo.Create(ctx, nil, rows); err != nil {
		t.Fatalf("Create: %v", err)
	}

	from := base.Add(-time.Hour)
	out, err := repo.BreakdownByOperation(ctx, nil, "u1", from, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("BreakdownByOperation: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("rows = %+v", out)
	}
	if out[0].Operation != "graph-generation" || out[0].Count != 2 {
		t.Fatalf("first row = %+v, breakdown sorts by spend", out[0])
	}
	if out[0].TotalCost < 0.749 || out[0].TotalCost > 0.751 {
		t.Fatalf("graph-generation total = %v", out[0].TotalCost)
	}
}

func TestJobRunRepoLifecycle(t *testing.T) {
	db, log := testDB(t)
	repo := NewJobRunRepo(db, log)
	ctx := context.Background()

	run := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: "u1",
		JobType:     "graph-generation",
		Status:      types.JobStatusWaiting,
		MaxAttempts: 3,
		Payload:     []byte(`{"documentTitle":"ML Notes"}`),
	}
	if _, err := repo.Create(ctx, nil, []*types.JobRun{run}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.UpdateFields(ctx, nil, run.ID, map[string]any{
		"status":   types.JobStatusActive,
		"attempts": gorm.Expr("attempts + ?", 1),
		"stage":    "generating",
		"progress": 40,
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	got, err := repo.GetByID(ctx, nil, run.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.JobStatusActive || got.Attempts != 1 || got.Progress != 40 {
		t.Fatalf("run = %+v", got)
	}
}

func TestJobRunRepoFailActive(t *testing.T) {
	db, log := testDB(t)
	repo := NewJobRunRepo(db, log)
	ctx := context.Background()

	active := &types.JobRun{ID: uuid.New(), OwnerUserID: "u1", JobType: "graph-generation", Status: types.JobStatusActive, MaxAttempts: 3}
	waiting := &types.JobRun{ID: uuid.New(), OwnerUserID: "u1", JobType: "graph-generation", Status: types.JobStatusWaiting, MaxAttempts: 3}
	if _, err := repo.Create(ctx, nil, []*types.JobRun{active, waiting}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := repo.FailActive(ctx, nil, "interrupted by restart")
	if err != nil {
		t.Fatalf("FailActive: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows affected = %d", n)
	}
	got, err := repo.GetByID(ctx, nil, active.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.JobStatusFailed || got.Error != "interrupted by restart" {
		t.Fatalf("run = %+v", got)
	}
	untouched, err := repo.GetByID(ctx, nil, waiting.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if untouched.Status != types.JobStatusWaiting {
		t.Fatalf("waiting run = %+v", untouched)
	}
}

func TestJobRunRepoGetMissing(t *testing.T) {
	db, log := testDB(t)
	repo := NewJobRunRepo(db, log)
	_, err := repo.GetByID(context.Background(), nil, uuid.New())
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestJobRunRepoListByOwner(t *testing.T) {
	db, log := testDB(t)
	repo := NewJobRunRepo(db, log)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run := &types.JobRun{ID: uuid.New(), OwnerUserID: "u1", JobType: "graph-generation", Status: types.JobStatusCompleted, MaxAttempts: 3}
		if _, err := repo.Create(ctx, nil, []*types.JobRun{run}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	other := &types.JobRun{ID: uuid.New(), OwnerUserID: "u2", JobType: "graph-generation", Status: types.JobStatusWaiting, MaxAttempts: 3}
	if _, err := repo.Create(ctx, nil, []*types.JobRun{other}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	runs, err := repo.ListByOwner(ctx, nil, "u1", 10)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs = %d", len(runs))
	}
}

func TestGraphRepoRoundTrip(t *testing.T) {
	db, log := testDB(t)
	repo := NewGraphRepo(db, log)
	ctx := context.Background()

	g := &types.KnowledgeGraph{
		ID:          uuid.New(),
		OwnerUserID: "u1",
		Title:       "ML Notes",
		Payload:     []byte(`{"nodes":[],"edges":[]}`),
		NodeCount:   8,
		EdgeCount:   9,
	}
	if _, err := repo.Create(ctx, nil, []*types.KnowledgeGraph{g}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := repo.GetByID(ctx, nil, g.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "ML Notes" || got.NodeCount != 8 || got.Degraded {
		t.Fatalf("graph = %+v", got)
	}
}
