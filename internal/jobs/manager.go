package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/repos"
	"github.com/conceptmesh/backend/internal/types"
)

const (
	DefaultWorkers       = 4
	DefaultQueueCapacity = 16
	DefaultMaxAttempts   = 3

	progressFlushInterval = 500 * time.Millisecond
)

// Manager is the in-process job API: bounded submission, durable status,
// cancellation for queued work, retry for failed work.
type Manager interface {
	Register(jobType string, h Handler)
	Submit(ctx context.Context, spec Spec) (uuid.UUID, error)
	Status(ctx context.Context, id uuid.UUID) (*Status, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	Retry(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	Start()
	Stop()
}

type task struct {
	runID   uuid.UUID
	jobType string
	payload json.RawMessage
}

type manager struct {
	log     *logger.Logger
	runs    repos.JobRunRepo
	workers int

	queue chan task
	slots chan struct{}

	mu        sync.Mutex
	handlers  map[string]Handler
	cancelled map[uuid.UUID]bool
	active    map[uuid.UUID]context.CancelFunc
	closed    bool

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(baseLog *logger.Logger, runs repos.JobRunRepo, workers, queueCapacity int) Manager {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &manager{
		log:       baseLog.With("service", "JobManager"),
		runs:      runs,
		workers:   workers,
		queue:     make(chan task, queueCapacity),
		slots:     make(chan struct{}, queueCapacity),
		handlers:  map[string]Handler{},
		cancelled: map[uuid.UUID]bool{},
		active:    map[uuid.UUID]context.CancelFunc{},
		baseCtx:   ctx,
		stop:      cancel,
	}
}

func (m *manager) Register(jobType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[jobType] = h
}

func (m *manager) handler(jobType string) (Handler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handlers[jobType]
	return h, ok
}

func (m *manager) Start() {
	// Rows left active by a previous process can never finish; fail them so
	// clients see a retryable state instead of a job that hangs forever.
	if n, err := m.runs.FailActive(context.Background(), nil, "interrupted by restart"); err != nil {
		m.log.Warn("stale job sweep failed", "error", err)
	} else if n > 0 {
		m.log.Info("failed stale active jobs", "count", n)
	}
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.log.Info("job workers started", "workers", m.workers, "queue_capacity", cap(m.queue))
}

func (m *manager) Stop() {
	m.stop()
	// Flip closed under the same lock enqueue sends under, so no Submit or
	// Retry can race the close below.
	m.mu.Lock()
	alreadyClosed := m.closed
	m.closed = true
	m.mu.Unlock()
	if !alreadyClosed {
		close(m.queue)
	}
	m.wg.Wait()
}

// enqueue sends under the manager lock. The slot reservation taken by the
// caller guarantees the buffered send cannot block.
func (m *manager) enqueue(t task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrShuttingDown
	}
	m.queue <- t
	return nil
}

func (m *manager) Submit(ctx context.Context, spec Spec) (uuid.UUID, error) {
	if err := spec.validate(); err != nil {
		return uuid.Nil, err
	}
	if _, ok := m.handler(spec.JobType); !ok {
		return uuid.Nil, ErrUnknownJobType
	}
	if spec.MaxAttempts <= 0 {
		spec.MaxAttempts = DefaultMaxAttempts
	}

	// Reserve capacity before persisting so the row and the queued task
	// cannot disagree.
	select {
	case m.slots <- struct{}{}:
	default:
		return uuid.Nil, ErrQueueFull
	}

	run := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: spec.OwnerUserID,
		JobType:     spec.JobType,
		Status:      types.JobStatusWaiting,
		MaxAttempts: spec.MaxAttempts,
		Payload:     []byte(spec.Payload),
	}
	if _, err := m.runs.Create(ctx, nil, []*types.JobRun{run}); err != nil {
		<-m.slots
		return uuid.Nil, err
	}

	if err := m.enqueue(task{runID: run.ID, jobType: spec.JobType, payload: spec.Payload}); err != nil {
		<-m.slots
		_ = m.runs.UpdateFields(context.WithoutCancel(ctx), nil, run.ID, map[string]any{
			"status": types.JobStatusFailed,
			"error":  err.Error(),
		})
		return uuid.Nil, err
	}
	return run.ID, nil
}

func (m *manager) Status(ctx context.Context, id uuid.UUID) (*Status, error) {
	run, err := m.runs.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	st := &Status{
		ID:    run.ID,
		State: run.Status,
		Progress: Progress{
			Stage:           run.Stage,
			Percentage:      run.Progress,
			Message:         run.Message,
			ChunksProcessed: run.ChunksProcessed,
			TotalChunks:     run.TotalChunks,
		},
		Error:       run.Error,
		Attempts:    run.Attempts,
		MaxAttempts: run.MaxAttempts,
		CreatedAt:   run.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   run.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if len(run.Result) > 0 {
		st.Result = json.RawMessage(run.Result)
	}
	if run.EstimatedDoneAt != nil {
		s := run.EstimatedDoneAt.UTC().Format(time.RFC3339)
		st.EstimatedDone = &s
	}
	return st, nil
}

// Cancel only takes effect for jobs still waiting in the queue. Active jobs
// keep their context; in-flight LLM spend is still recorded by the
// orchestrator.
func (m *manager) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	run, err := m.runs.GetByID(ctx, nil, id)
	if err != nil {
		return false, err
	}
	if run.Status != types.JobStatusWaiting {
		return false, ErrNotCancellable
	}
	m.mu.Lock()
	m.cancelled[id] = true
	m.mu.Unlock()
	if err := m.runs.UpdateFields(ctx, nil, id, map[string]any{
		"status":  types.JobStatusCancelled,
		"message": "cancelled before execution",
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (m *manager) Retry(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	run, err := m.runs.GetByID(ctx, nil, id)
	if err != nil {
		return uuid.Nil, err
	}
	if run.Status != types.JobStatusFailed {
		return uuid.Nil, ErrNotRetryable
	}
	if _, ok := m.handler(run.JobType); !ok {
		return uuid.Nil, ErrUnknownJobType
	}

	select {
	case m.slots <- struct{}{}:
	default:
		return uuid.Nil, ErrQueueFull
	}

	if err := m.runs.UpdateFields(ctx, nil, id, map[string]any{
		"status":   types.JobStatusWaiting,
		"error":    "",
		"message":  "requeued",
		"progress": 0,
		"stage":    "",
	}); err != nil {
		<-m.slots
		return uuid.Nil, err
	}
	if err := m.enqueue(task{runID: id, jobType: run.JobType, payload: json.RawMessage(run.Payload)}); err != nil {
		<-m.slots
		_ = m.runs.UpdateFields(context.WithoutCancel(ctx), nil, id, map[string]any{
			"status": types.JobStatusFailed,
			"error":  err.Error(),
		})
		return uuid.Nil, err
	}
	return id, nil
}

func (m *manager) worker() {
	defer m.wg.Done()
	for t := range m.queue {
		m.runTask(t)
		<-m.slots
	}
}

func (m *manager) wasCancelled(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled[id] {
		delete(m.cancelled, id)
		return true
	}
	return false
}

func (m *manager) runTask(t task) {
	if m.wasCancelled(t.runID) {
		return
	}
	if m.baseCtx.Err() != nil {
		return
	}
	h, ok := m.handler(t.jobType)
	if !ok {
		m.log.Error("queued job has no handler", "job_type", t.jobType, "job_id", t.runID)
		return
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	m.mu.Lock()
	m.active[t.runID] = cancel
	m.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.active, t.runID)
		m.mu.Unlock()
	}()

	if err := m.runs.UpdateFields(ctx, nil, t.runID, map[string]any{
		"status":   types.JobStatusActive,
		"attempts": gorm.Expr("attempts + 1"),
	}); err != nil {
		m.log.Warn("failed to mark job active", "job_id", t.runID, "error", err)
	}

	report, stopReporting := m.progressReporter(t.runID)
	result, err := h(ctx, t.payload, report)
	stopReporting()

	if err != nil {
		now := time.Now().UTC()
		_ = m.runs.UpdateFields(context.Background(), nil, t.runID, map[string]any{
			"status":        types.JobStatusFailed,
			"error":         err.Error(),
			"last_error_at": now,
		})
		return
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		m.log.Error("job result does not serialize", "job_id", t.runID, "error", merr)
		payload = []byte(`{}`)
	}
	_ = m.runs.UpdateFields(context.Background(), nil, t.runID, map[string]any{
		"status":   types.JobStatusCompleted,
		"progress": 100,
		"stage":    "done",
		"message":  "completed",
		"result":   payload,
	})
}

// progressReporter decouples pipeline progress from status-store writes.
// The channel holds only the newest event; stale updates are dropped rather
// than queued.
func (m *manager) progressReporter(id uuid.UUID) (ProgressFunc, func()) {
	updates := make(chan Progress, 1)
	done := make(chan struct{})
	exited := make(chan struct{})
	var once sync.Once

	go func() {
		defer close(exited)
		ticker := time.NewTicker(progressFlushInterval)
		defer ticker.Stop()
		var latest *Progress
		flush := func() {
			if latest == nil {
				return
			}
			p := *latest
			latest = nil
			_ = m.runs.UpdateFields(context.Background(), nil, id, map[string]any{
				"stage":            p.Stage,
				"progress":         p.Percentage,
				"message":          p.Message,
				"chunks_processed": p.ChunksProcessed,
				"total_chunks":     p.TotalChunks,
			})
		}
		for {
			select {
			case p := <-updates:
				latest = &p
			case <-ticker.C:
				flush()
			case <-done:
				for {
					select {
					case p := <-updates:
						latest = &p
					default:
						flush()
						return
					}
				}
			}
		}
	}()

	report := func(p Progress) {
		select {
		case updates <- p:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- p:
			default:
			}
		}
	}
	// stop blocks until the final flush lands, so a terminal status write
	// after it can never lose to a stale progress update.
	stop := func() {
		once.Do(func() { close(done) })
		<-exited
	}
	return report, stop
}
