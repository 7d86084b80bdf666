package costtracking

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/conceptmesh/backend/internal/clients/redis"
	"github.com/conceptmesh/backend/internal/platform/envutil"
	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/repos"
	"github.com/conceptmesh/backend/internal/types"
)

const (
	counterTTL = time.Hour

	dailyWarnFraction   = 0.80
	monthlyWarnFraction = 0.90
)

// Limits is the free-tier budget triple, USD.
type Limits struct {
	PerDocument     float64
	PerUserPerDay   float64
	PerUserPerMonth float64
}

func DefaultLimits() Limits {
	return Limits{PerDocument: 5, PerUserPerDay: 10, PerUserPerMonth: 50}
}

// LimitsFromEnv reads overrides from BUDGET_PER_DOCUMENT_USD,
// BUDGET_PER_USER_PER_DAY_USD and BUDGET_PER_USER_PER_MONTH_USD.
func LimitsFromEnv(log *logger.Logger) Limits {
	d := DefaultLimits()
	return Limits{
		PerDocument:     envutil.GetEnvAsFloat("BUDGET_PER_DOCUMENT_USD", d.PerDocument, log),
		PerUserPerDay:   envutil.GetEnvAsFloat("BUDGET_PER_USER_PER_DAY_USD", d.PerUserPerDay, log),
		PerUserPerMonth: envutil.GetEnvAsFloat("BUDGET_PER_USER_PER_MONTH_USD", d.PerUserPerMonth, log),
	}
}

type CheckBudgetRequest struct {
	UserID        string
	Operation     string
	DocumentID    string
	EstimatedCost float64
	// Model sizes the estimate when EstimatedCost is zero.
	Model string
}

type CurrentUsage struct {
	Today          float64 `json:"today"`
	ThisMonth      float64 `json:"this_month"`
	DailyWarning   bool    `json:"daily_warning"`
	MonthlyWarning bool    `json:"monthly_warning"`
}

type BudgetDecision struct {
	Allowed       bool         `json:"allowed"`
	Reason        string       `json:"reason,omitempty"`
	EstimatedCost float64      `json:"estimated_cost"`
	CurrentUsage  CurrentUsage `json:"current_usage"`
	ResetAt       *time.Time   `json:"reset_at,omitempty"`
}

type UserSummary struct {
	TotalCost               float64 `json:"total_cost"`
	OperationCount          int64   `json:"operation_count"`
	AverageCostPerOperation float64 `json:"average_cost_per_operation"`
}

type BreakdownEntry struct {
	Operation  string  `json:"operation"`
	TotalCost  float64 `json:"total_cost"`
	Percentage float64 `json:"percentage"`
}

type Window string

const (
	WindowDay   Window = "day"
	WindowMonth Window = "month"
)

// Tracker guards spend. The ledger is the source of truth; the counter cache
// is a derived view that self-heals on miss via a ledger sum.
type Tracker interface {
	CheckBudget(ctx context.Context, req CheckBudgetRequest) (*BudgetDecision, error)
	RecordUsage(ctx context.Context, record *types.AIUsageRecord) error
	GetUserSummary(ctx context.Context, userID string, window Window) (*UserSummary, error)
	GetCostBreakdown(ctx context.Context, userID string, window Window) ([]BreakdownEntry, error)
	Limits() Limits
}

type tracker struct {
	log    *logger.Logger
	cache  redis.Cache
	usage  repos.AIUsageRepo
	limits Limits
	now    func() time.Time
}

func NewTracker(baseLog *logger.Logger, cache redis.Cache, usage repos.AIUsageRepo, limits Limits) Tracker {
	return &tracker{
		log:    baseLog.With("service", "CostTracker"),
		cache:  cache,
		usage:  usage,
		limits: limits,
		now:    time.Now,
	}
}

func (t *tracker) Limits() Limits { return t.limits }

func dayKey(userID string, ts time.Time) string {
	return "usage:" + userID + ":" + ts.UTC().Format("2006-01-02")
}

func monthKey(userID string, ts time.Time) string {
	return "usage:" + userID + ":" + ts.UTC().Format("2006-01")
}

func dayWindow(ts time.Time) (time.Time, time.Time) {
	u := ts.UTC()
	from := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 1)
}

func monthWindow(ts time.Time) (time.Time, time.Time) {
	u := ts.UTC()
	from := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

func (t *tracker) CheckBudget(ctx context.Context, req CheckBudgetRequest) (*BudgetDecision, error) {
	estimated := req.EstimatedCost
	if estimated <= 0 {
		model := req.Model
		if model == "" {
			model = "claude-haiku"
		}
		est, err := EstimateCost(0, model)
		if err != nil {
			return nil, err
		}
		estimated = est
	}

	decision := &BudgetDecision{Allowed: true, EstimatedCost: estimated}

	// Every decision for a known user carries current usage, including
	// per-document denials.
	now := t.now()
	var today, thisMonth float64
	if req.UserID != "" {
		var err error
		dayFrom, dayTo := dayWindow(now)
		today, err = t.readCounter(ctx, dayKey(req.UserID, now), req.UserID, dayFrom, dayTo)
		if err != nil {
			return nil, err
		}
		monthFrom, monthTo := monthWindow(now)
		thisMonth, err = t.readCounter(ctx, monthKey(req.UserID, now), req.UserID, monthFrom, monthTo)
		if err != nil {
			return nil, err
		}
		decision.CurrentUsage = CurrentUsage{
			Today:          today,
			ThisMonth:      thisMonth,
			DailyWarning:   today >= dailyWarnFraction*t.limits.PerUserPerDay,
			MonthlyWarning: thisMonth >= monthlyWarnFraction*t.limits.PerUserPerMonth,
		}
	}

	if estimated > t.limits.PerDocument {
		decision.Allowed = false
		decision.Reason = "document-limit-exceeded"
		return decision, nil
	}

	// Anonymous callers only get the per-document gate.
	if req.UserID == "" {
		return decision, nil
	}

	// Exactly at the limit is allowed; any positive overshoot is denied.
	if today+estimated > t.limits.PerUserPerDay {
		_, dayEnd := dayWindow(now)
		decision.Allowed = false
		decision.Reason = "daily-limit-exceeded"
		decision.ResetAt = &dayEnd
		return decision, nil
	}
	if thisMonth+estimated > t.limits.PerUserPerMonth {
		_, monthEnd := monthWindow(now)
		decision.Allowed = false
		decision.Reason = "monthly-limit-exceeded"
		decision.ResetAt = &monthEnd
		return decision, nil
	}
	return decision, nil
}

// readCounter returns the cached window total, reconstructing it from the
// ledger on a miss. Infrastructure failure on either store is fatal.
func (t *tracker) readCounter(ctx context.Context, key, userID string, from, to time.Time) (float64, error) {
	val, err := t.cache.Get(ctx, key)
	if err == nil {
		f, perr := strconv.ParseFloat(val, 64)
		if perr == nil {
			return f, nil
		}
		t.log.Warn("unparseable usage counter, rebuilding", "key", key, "value", val)
	} else if !errors.Is(err, redis.ErrNotFound) {
		return 0, &TrackingError{Op: "counter read", Err: err}
	}

	total, err := t.usage.SumCostBetween(ctx, nil, userID, from, to)
	if err != nil {
		return 0, &TrackingError{Op: "ledger sum", Err: err}
	}
	if err := t.cache.Set(ctx, key, strconv.FormatFloat(total, 'f', -1, 64), counterTTL); err != nil {
		t.log.Warn("failed to repopulate usage counter", "key", key, "error", err)
	}
	return total, nil
}

func (t *tracker) RecordUsage(ctx context.Context, record *types.AIUsageRecord) error {
	if record == nil {
		return &TrackingError{Op: "record usage", Err: errors.New("nil record")}
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = t.now().UTC()
	}
	record.TotalTokens = record.InputTokens + record.OutputTokens

	if _, err := t.usage.Create(ctx, nil, []*types.AIUsageRecord{record}); err != nil {
		return &TrackingError{Op: "ledger append", Err: err}
	}

	// Counter increments are best-effort: the ledger row already landed and a
	// later cache miss rebuilds the totals from it.
	if record.UserID != "" && record.Cost > 0 {
		for _, key := range []string{dayKey(record.UserID, record.Timestamp), monthKey(record.UserID, record.Timestamp)} {
			if _, err := t.cache.IncrByFloat(ctx, key, record.Cost, counterTTL); err != nil {
				t.log.Warn("usage counter increment failed", "key", key, "error", err)
			}
		}
	}
	return nil
}

func (t *tracker) window(w Window) (time.Time, time.Time) {
	if w == WindowMonth {
		return monthWindow(t.now())
	}
	return dayWindow(t.now())
}

func (t *tracker) GetUserSummary(ctx context.Context, userID string, window Window) (*UserSummary, error) {
	from, to := t.window(window)
	total, err := t.usage.SumCostBetween(ctx, nil, userID, from, to)
	if err != nil {
		return nil, &TrackingError{Op: "summary sum", Err: err}
	}
	count, err := t.usage.CountBetween(ctx, nil, userID, from, to)
	if err != nil {
		return nil, &TrackingError{Op: "summary count", Err: err}
	}
	s := &UserSummary{TotalCost: total, OperationCount: count}
	if count > 0 {
		s.AverageCostPerOperation = total / float64(count)
	}
	return s, nil
}

func (t *tracker) GetCostBreakdown(ctx context.Context, userID string, window Window) ([]BreakdownEntry, error) {
	from, to := t.window(window)
	rows, err := t.usage.BreakdownByOperation(ctx, nil, userID, from, to)
	if err != nil {
		return nil, &TrackingError{Op: "breakdown", Err: err}
	}
	var grand float64
	for _, r := range rows {
		grand += r.TotalCost
	}
	out := make([]BreakdownEntry, 0, len(rows))
	for _, r := range rows {
		e := BreakdownEntry{Operation: r.Operation, TotalCost: r.TotalCost}
		if grand > 0 {
			e.Percentage = r.TotalCost / grand * 100
		}
		out = append(out, e)
	}
	return out, nil
}
