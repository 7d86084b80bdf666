package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/conceptmesh/backend/internal/clients/redis"
	"github.com/conceptmesh/backend/internal/costtracking"
	"github.com/conceptmesh/backend/internal/llm"
	"github.com/conceptmesh/backend/internal/platform/httpx"
	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/prompts"
	"github.com/conceptmesh/backend/internal/types"
	"github.com/conceptmesh/backend/internal/validation"
)

const (
	DefaultMaxRetries  = 3
	DefaultCallTimeout = 30 * time.Second
	DefaultCacheTTL    = time.Hour

	backoffBase = time.Second
	backoffMax  = 8 * time.Second

	maxFeedbackIssues = 3
)

type Config struct {
	MaxRetries       int
	QualityThreshold int
	CallTimeout      time.Duration
	PromptVersion    prompts.PromptVersion
	PreferredModel   string
	CacheTTL         time.Duration
	ValidationMode   validation.Mode
	MinNodes         int
	MaxNodes         int
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = validation.DefaultThreshold
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.PromptVersion == "" {
		c.PromptVersion = prompts.VersionProduction
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.ValidationMode == "" {
		c.ValidationMode = validation.ModeQuick
	}
}

type Request struct {
	PromptType prompts.PromptType
	Context    prompts.Context
	UserID     string
	Operation  string
	DocumentID *uuid.UUID
	GraphID    *uuid.UUID
	Config     Config
}

type Metadata struct {
	Attempts         int                   `json:"attempts"`
	TokensUsed       int                   `json:"tokens_used"`
	Cost             float64               `json:"cost"`
	Cached           bool                  `json:"cached"`
	ProcessingTime   time.Duration         `json:"processing_time"`
	ValidationPassed bool                  `json:"validation_passed"`
	PromptVersion    prompts.PromptVersion `json:"prompt_version"`
	Model            string                `json:"model"`
	Timestamp        time.Time             `json:"timestamp"`
}

type Response struct {
	Data     string   `json:"data"`
	Model    string   `json:"model"`
	Quality  int      `json:"quality"`
	Metadata Metadata `json:"metadata"`
}

// cachedResult is the stored shape behind an airesult: key.
type cachedResult struct {
	Data         string    `json:"data"`
	CachedAt     time.Time `json:"cached_at"`
	QualityScore int       `json:"quality_score"`
	Model        string    `json:"model"`
}

type Orchestrator interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

type orchestrator struct {
	log       *logger.Logger
	prompts   prompts.Manager
	validator validation.Validator
	tracker   costtracking.Tracker
	cache     redis.Cache
	client    llm.Client
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(baseLog *logger.Logger, pm prompts.Manager, v validation.Validator, tracker costtracking.Tracker, cache redis.Cache, client llm.Client) Orchestrator {
	return &orchestrator{
		log:       baseLog.With("service", "AIOrchestrator"),
		prompts:   pm,
		validator: v,
		tracker:   tracker,
		cache:     cache,
		client:    client,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs the budget / cache / call / validate loop for one request.
// The retry state machine is sequential within the call; concurrency lives a
// level up, in the worker pool.
func (o *orchestrator) Execute(ctx context.Context, req Request) (*Response, error) {
	started := o.now()
	cfg := req.Config
	cfg.applyDefaults()
	if req.Operation == "" {
		req.Operation = string(req.PromptType)
	}

	rec := o.prompts.GetRecommendedModel(req.PromptType, req.Context)
	primary := rec.Model
	fallbacks := rec.Fallbacks
	if cfg.PreferredModel != "" {
		primary = cfg.PreferredModel
	}

	decision, err := o.tracker.CheckBudget(ctx, costtracking.CheckBudgetRequest{
		UserID:        req.UserID,
		Operation:     req.Operation,
		EstimatedCost: rec.EstimatedCost,
		Model:         primary,
	})
	if err != nil {
		// Fail closed: no budget answer, no LLM call.
		return nil, err
	}
	if !decision.Allowed {
		return nil, budgetError(decision)
	}

	key := CacheKey(req.PromptType, req.Context, primary, cfg.PromptVersion)
	if cached := o.cacheLookup(ctx, key); cached != nil {
		return &Response{
			Data:    cached.Data,
			Model:   cached.Model,
			Quality: cached.QualityScore,
			Metadata: Metadata{
				Attempts:         1,
				Cached:           true,
				ValidationPassed: true,
				PromptVersion:    cfg.PromptVersion,
				Model:            cached.Model,
				ProcessingTime:   o.now().Sub(started),
				Timestamp:        o.now().UTC(),
			},
		}, nil
	}

	built, err := o.prompts.Build(req.PromptType, req.Context, cfg.PromptVersion)
	if err != nil {
		return nil, err
	}

	loop := &callLoop{
		o:         o,
		req:       req,
		cfg:       cfg,
		built:     built,
		model:     primary,
		fallbacks: fallbacks,
		cacheKey:  key,
		started:   started,
	}
	return loop.run(ctx)
}

func budgetError(d *costtracking.BudgetDecision) *Error {
	e := &Error{Code: CodeBudgetExceeded, Retryable: false, ResetAt: d.ResetAt}
	switch d.Reason {
	case "daily-limit-exceeded":
		e.Message = "Daily spending limit reached"
	case "monthly-limit-exceeded":
		e.Message = "Monthly spending limit reached"
	default:
		e.Message = "This operation exceeds the per-document spending limit"
	}
	return e
}

func (o *orchestrator) cacheLookup(ctx context.Context, key string) *cachedResult {
	raw, err := o.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrNotFound) {
			o.log.Warn("result cache read failed", "key", key, "error", err)
		}
		return nil
	}
	var cached cachedResult
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		o.log.Warn("corrupt result cache entry", "key", key, "error", err)
		return nil
	}
	return &cached
}

// callLoop is the retry state machine for one orchestrator call.
type callLoop struct {
	o         *orchestrator
	req       Request
	cfg       Config
	built     *prompts.BuiltPrompt
	model     string
	fallbacks []string
	cacheKey  string
	started   time.Time

	feedback    []string
	reports     []AttemptReport
	totalTokens int
	totalCost   float64
	lastTokens  [2]int
}

func (l *callLoop) run(ctx context.Context) (*Response, error) {
	o := l.o
	for attempt := 1; attempt <= l.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, l.finishFailure(ctx, attempt-1, err)
		}

		resp, err := l.callOnce(ctx)
		if err != nil {
			action, terminal := l.classify(err, attempt)
			if terminal != nil {
				return nil, l.finishFailure(ctx, attempt, terminal)
			}
			if attempt == l.cfg.MaxRetries {
				return nil, l.finishFailure(ctx, attempt, action.exhausted(err))
			}
			if action.backoff > 0 {
				if serr := o.sleep(ctx, action.backoff); serr != nil {
					return nil, l.finishFailure(ctx, attempt, serr)
				}
			}
			if action.nextModel != "" {
				l.model = action.nextModel
			}
			continue
		}

		l.totalTokens += resp.InputTokens + resp.OutputTokens
		l.lastTokens = [2]int{resp.InputTokens, resp.OutputTokens}
		cost, cerr := costtracking.CalculateCost(resp.InputTokens, resp.OutputTokens, l.model)
		if cerr != nil {
			o.log.Warn("cannot price model response", "model", l.model, "error", cerr)
		}
		l.totalCost += cost

		vres := l.validate(resp.Content)
		report := AttemptReport{Attempt: attempt, Model: l.model, Score: vres.Score, Feedback: fixes(vres.Issues)}
		l.reports = append(l.reports, report)

		passed := vres.Passed && vres.Score >= l.cfg.QualityThreshold
		if rerr := l.recordAttempt(ctx, resp, cost, passed, attempt, vres.Score); rerr != nil && passed {
			// A success we cannot account for must not be served.
			return nil, rerr
		}

		if passed {
			return l.finishSuccess(ctx, resp, vres.Score, attempt)
		}

		if attempt == l.cfg.MaxRetries {
			return nil, l.finishFailure(ctx, attempt, l.validationExhausted())
		}
		l.applyValidationRetry(vres, attempt)
	}
	return nil, l.finishFailure(ctx, l.cfg.MaxRetries, l.validationExhausted())
}

func (l *callLoop) callOnce(ctx context.Context) (*llm.Response, error) {
	user := l.built.UserPrompt
	if len(l.feedback) > 0 {
		user += "\n\nPrevious attempt had issues:\n" + joinLines(l.feedback)
	}
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()
	return l.o.client.Call(callCtx, llm.Request{
		Model:  l.model,
		System: l.built.SystemPrompt,
		User:   user,
	})
}

func joinLines(lines []string) string {
	out := ""
	for i, s := range lines {
		if i > 0 {
			out += "\n"
		}
		out += "- " + s
	}
	return out
}

type retryAction struct {
	nextModel string
	backoff   time.Duration
	code      string
}

func (a retryAction) exhausted(cause error) *Error {
	msg := "The model did not respond in time"
	switch a.code {
	case CodeRateLimited:
		msg = "Rate limited by the model provider, please retry shortly"
	case CodeModelUnavailable:
		msg = "No model is currently available for this request"
	}
	return &Error{Code: a.code, Message: msg, Retryable: true, Err: cause}
}

// classify maps a provider failure to the retry table. A non-nil terminal
// error aborts the loop immediately.
func (l *callLoop) classify(err error, attempt int) (retryAction, *Error) {
	if errors.Is(err, context.Canceled) {
		return retryAction{}, &Error{Code: CodeTimeout, Message: "Request was cancelled", Err: err}
	}
	pe, ok := llm.AsProviderError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return retryAction{code: CodeTimeout, backoff: httpx.ExponentialBackoff(attempt, backoffBase, backoffMax)}, nil
		}
		return retryAction{}, &Error{Code: CodeModelUnavailable, Message: "The model provider returned an unexpected error", Err: err}
	}

	switch pe.Kind {
	case llm.KindRateLimited:
		delay := pe.RetryAfter
		if delay <= 0 {
			delay = httpx.ExponentialBackoff(attempt, backoffBase, backoffMax)
		}
		return retryAction{code: CodeRateLimited, backoff: delay}, nil
	case llm.KindTimeout:
		return retryAction{code: CodeTimeout, backoff: httpx.ExponentialBackoff(attempt, backoffBase, backoffMax)}, nil
	case llm.KindUnavailable:
		next := l.nextFallback()
		if next == "" {
			return retryAction{}, &Error{Code: CodeModelUnavailable, Message: "No model is currently available for this request", Err: err}
		}
		return retryAction{code: CodeModelUnavailable, nextModel: next, backoff: httpx.ExponentialBackoff(attempt, backoffBase, backoffMax)}, nil
	default:
		// Auth and bad-request failures are caller or deployment bugs.
		return retryAction{}, &Error{Code: CodeModelUnavailable, Message: "The model provider rejected the request", Err: err}
	}
}

func (l *callLoop) nextFallback() string {
	for len(l.fallbacks) > 0 {
		next := l.fallbacks[0]
		l.fallbacks = l.fallbacks[1:]
		if next != l.model {
			return next
		}
	}
	return ""
}

func (l *callLoop) validate(content string) *validation.Result {
	opts := validation.Options{
		Threshold: l.cfg.QualityThreshold,
		Mode:      l.cfg.ValidationMode,
		MinNodes:  l.cfg.MinNodes,
		MaxNodes:  l.cfg.MaxNodes,
	}
	if opts.Mode == validation.ModeFull {
		if doc, ok := l.req.Context["documentText"].(string); ok {
			opts.SourceDocument = doc
		}
	}
	return l.o.validator.Validate(content, l.req.PromptType, opts)
}

func fixes(issues []validation.Issue) []string {
	var out []string
	for _, i := range issues {
		if i.Fix == "" {
			continue
		}
		out = append(out, i.Fix)
		if len(out) == maxFeedbackIssues {
			break
		}
	}
	return out
}

func isParseFailure(res *validation.Result) bool {
	for _, i := range res.Issues {
		if i.Type == "invalid-json" {
			return true
		}
	}
	return false
}

// applyValidationRetry implements the quality-recovery rules: feed the fix
// strings back, and escalate haiku to sonnet-4 on the second low-quality
// attempt.
func (l *callLoop) applyValidationRetry(res *validation.Result, attempt int) {
	if isParseFailure(res) {
		l.feedback = []string{"Return strict JSON only, with no markdown fences or prose around it."}
		return
	}
	l.feedback = fixes(res.Issues)
	if l.model == llm.ModelClaudeHaiku && attempt == 2 {
		l.model = llm.ModelClaudeSonnet4
	}
}

func (l *callLoop) validationExhausted() *Error {
	return &Error{
		Code:     CodeValidationFailed,
		Message:  "Unable to produce a valid result, try a different document",
		Attempts: l.reports,
	}
}

func (l *callLoop) recordAttempt(ctx context.Context, resp *llm.Response, cost float64, success bool, attempt, score int) error {
	quality := float64(score)
	record := &types.AIUsageRecord{
		UserID:       l.req.UserID,
		Operation:    l.req.Operation,
		Model:        l.model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Cost:         cost,
		QualityScore: &quality,
		Attempts:     attempt,
		Success:      success,
		DocumentID:   l.req.DocumentID,
		GraphID:      l.req.GraphID,
	}
	// The ledger write must land even when the caller is gone; spend already
	// happened.
	if err := l.o.tracker.RecordUsage(context.WithoutCancel(ctx), record); err != nil {
		l.o.log.Error("usage record failed", "operation", l.req.Operation, "model", l.model, "error", err)
		return err
	}
	return nil
}

func (l *callLoop) finishSuccess(ctx context.Context, resp *llm.Response, score, attempts int) (*Response, error) {
	o := l.o
	entry, err := json.Marshal(cachedResult{
		Data:         resp.Content,
		CachedAt:     o.now().UTC(),
		QualityScore: score,
		Model:        l.model,
	})
	if err == nil {
		// Set-if-absent: concurrent identical calls may duplicate work, the
		// first completed result wins the key.
		if _, cerr := o.cache.SetNX(ctx, l.cacheKey, string(entry), l.cfg.CacheTTL); cerr != nil {
			o.log.Warn("result cache write failed", "key", l.cacheKey, "error", cerr)
		}
	}

	o.prompts.RecordOutcome(ctx, l.req.PromptType, l.cfg.PromptVersion, prompts.Outcome{
		Success:      true,
		QualityScore: float64(score),
		Cost:         l.totalCost,
		Retries:      attempts - 1,
	})

	return &Response{
		Data:    resp.Content,
		Model:   l.model,
		Quality: score,
		Metadata: Metadata{
			Attempts:         attempts,
			TokensUsed:       l.totalTokens,
			Cost:             l.totalCost,
			ValidationPassed: true,
			PromptVersion:    l.cfg.PromptVersion,
			Model:            l.model,
			ProcessingTime:   o.now().Sub(l.started),
			Timestamp:        o.now().UTC(),
		},
	}, nil
}

// finishFailure records the terminal outcome. Attempts that reached the LLM
// already carry their own usage rows; one zero-token row covers failures
// where no model was ever called.
func (l *callLoop) finishFailure(ctx context.Context, attempts int, cause error) error {
	o := l.o
	// Cancellation is itself a terminal outcome; accounting writes get a
	// detached context so they survive it.
	ctx = context.WithoutCancel(ctx)
	if len(l.reports) == 0 {
		record := &types.AIUsageRecord{
			UserID:       l.req.UserID,
			Operation:    l.req.Operation,
			Model:        l.model,
			InputTokens:  l.lastTokens[0],
			OutputTokens: l.lastTokens[1],
			Attempts:     attempts,
			Success:      false,
			DocumentID:   l.req.DocumentID,
			GraphID:      l.req.GraphID,
		}
		if err := o.tracker.RecordUsage(ctx, record); err != nil {
			o.log.Error("usage record failed for terminal error", "operation", l.req.Operation, "error", err)
		}
	}

	lastScore := 0.0
	if n := len(l.reports); n > 0 {
		lastScore = float64(l.reports[n-1].Score)
	}
	o.prompts.RecordOutcome(ctx, l.req.PromptType, l.cfg.PromptVersion, prompts.Outcome{
		Success:      false,
		QualityScore: lastScore,
		Cost:         l.totalCost,
		Retries:      attempts - 1,
	})
	return cause
}
