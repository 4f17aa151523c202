package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/devcubo3/trabalho-mae/config"
	"github.com/devcubo3/trabalho-mae/internal/store"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

const persistTimeout = 10 * time.Second

type UploadRemover interface {
	Remove(id types.ID) error
}

// Manager runs jobs on a fixed pool of workers fed by a bounded queue. Job records live in
// the job store; events live in memory, per job, until the feed cache evicts them.
type Manager struct {
	processor Processor
	jobs      store.Jobs
	results   store.Results
	uploads   UploadRemover
	cfg       config.Pipeline
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time

	queue    chan types.Job
	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	started  bool
	active   map[types.ID]*feed
	finished *lru.Cache[types.ID, *feed]
}

func NewManager(
	processor Processor,
	jobs store.Jobs,
	results store.Results,
	uploads UploadRemover,
	cfg config.Pipeline,
	metrics *Metrics,
	logger *slog.Logger,
) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 || cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("invalid pipeline size: %d workers, queue of %d", cfg.Workers, cfg.QueueSize)
	}
	cacheSize := cfg.FeedCacheSize
	if cacheSize <= 0 {
		cacheSize = config.DefaultFeedCacheSize
	}
	finished, err := lru.New[types.ID, *feed](cacheSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		processor: processor,
		jobs:      jobs,
		results:   results,
		uploads:   uploads,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With("component", "jobs"),
		now:       time.Now,
		queue:     make(chan types.Job, cfg.QueueSize),
		baseCtx:   ctx,
		cancel:    cancel,
		active:    map[types.ID]*feed{},
		finished:  finished,
	}, nil
}

// Start launches the workers. It is a no-op after the first call.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.logger.Info("job workers started", "workers", m.cfg.Workers, "queue", m.cfg.QueueSize)
}

// Stop refuses new jobs and lets the workers drain the queue. When ctx ends first, running
// jobs are cancelled and Stop waits for them to record their failure.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown deadline reached, cancelling running jobs")
		m.cancel()
		<-done
		return ctx.Err()
	}
}

// Submit records job as queued and hands it to the workers. job.UploadPath must point at
// the stored upload; job.APIKey is kept in memory only.
func (m *Manager) Submit(ctx context.Context, job types.Job) (types.Job, error) {
	now := m.now().UTC()
	job.Status = types.StatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return types.Job{}, types.ErrShuttingDown
	}

	if err := m.jobs.CreateJob(ctx, job); err != nil {
		return types.Job{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.forget(job.ID)
		return types.Job{}, types.ErrShuttingDown
	}
	select {
	case m.queue <- job:
		m.active[job.ID] = newFeed()
		m.mu.Unlock()
	default:
		m.mu.Unlock()
		m.forget(job.ID)
		return types.Job{}, types.ErrQueueFull
	}

	m.metrics.jobQueued()
	m.logger.Info("job queued", "job", job.ID, "source", job.SourceName)
	return job, nil
}

func (m *Manager) forget(id types.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.jobs.DeleteJob(ctx, id); err != nil {
		m.logger.Warn("failed to drop rejected job", "job", id, "error", err)
	}
	if err := m.uploads.Remove(id); err != nil {
		m.logger.Warn("failed to remove rejected upload", "job", id, "error", err)
	}
}

func (m *Manager) Get(ctx context.Context, id types.ID) (types.Job, error) {
	return m.jobs.GetJob(ctx, id)
}

// Stream calls fn for every event of job id, replaying past events first, and returns once
// the terminal event has been delivered.
func (m *Manager) Stream(ctx context.Context, id types.ID, fn func(types.Event) error) error {
	if f := m.feed(id); f != nil {
		return f.follow(ctx, fn)
	}

	job, err := m.jobs.GetJob(ctx, id)
	if err != nil {
		return err
	}

	// the feed is gone: evicted from the cache or lost with a restart
	switch job.Status {
	case types.StatusDone:
		ev := types.Completed(job.Result, job.Transactions, completedMessage(job.Transactions))
		ev.JobID = id
		return fn(ev)
	case types.StatusFailed:
		ev := types.Failure(job.Error)
		ev.JobID = id
		return fn(ev)
	default:
		ev := types.Failure("Processamento interrompido.")
		ev.JobID = id
		return fn(ev)
	}
}

func (m *Manager) feed(id types.ID) *feed {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.active[id]; ok {
		return f
	}
	if f, ok := m.finished.Get(id); ok {
		return f
	}
	return nil
}

// Delete removes a finished job together with its result.
func (m *Manager) Delete(ctx context.Context, id types.ID) error {
	m.mu.Lock()
	_, running := m.active[id]
	m.mu.Unlock()
	if running {
		return types.ErrJobActive
	}

	job, err := m.jobs.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Result != "" {
		if err := m.results.Delete(ctx, job.Result); err != nil && !types.IsNotFound(err) {
			return err
		}
	}
	if err := m.jobs.DeleteJob(ctx, id); err != nil {
		return err
	}
	m.finished.Remove(id)
	return nil
}

// Active is the number of queued and running jobs.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for job := range m.queue {
		m.run(job)
	}
}

func (m *Manager) run(job types.Job) {
	logger := m.logger.With("job", job.ID)
	f := m.feed(job.ID)
	if f == nil {
		f = newFeed()
	}
	emit := func(ev types.Event) {
		ev.JobID = job.ID
		f.publish(ev)
	}

	ctx, cancel := context.WithTimeout(m.baseCtx, m.cfg.JobTimeout)
	defer cancel()

	m.metrics.jobStarted()
	job.Status = types.StatusRunning
	job.UpdatedAt = m.now().UTC()
	m.persist(logger, job)

	started := m.now()
	outcome, err := m.processor.Process(ctx, job, emit)

	if rmErr := m.uploads.Remove(job.ID); rmErr != nil {
		logger.Warn("failed to remove upload", "error", rmErr)
	}

	var final types.Event
	job.Pages = outcome.Pages
	if err != nil {
		msg := FailureMessage(err)
		job.Status = types.StatusFailed
		job.Error = msg
		final = types.Failure(msg)
		logger.Warn("job failed", "error", err, "elapsed", time.Since(started))
	} else {
		job.Status = types.StatusDone
		job.Result = outcome.Result
		job.Transactions = outcome.Transactions
		final = types.Completed(outcome.Result, outcome.Transactions, completedMessage(outcome.Transactions))
		logger.Info("job done", "transactions", outcome.Transactions, "elapsed", time.Since(started))
	}
	job.UpdatedAt = m.now().UTC()
	m.persist(logger, job)
	m.metrics.jobFinished(string(job.Status))

	// record first, so a client reacting to the terminal event reads the final job
	emit(final)

	m.mu.Lock()
	delete(m.active, job.ID)
	m.finished.Add(job.ID, f)
	m.mu.Unlock()
}

func (m *Manager) persist(logger *slog.Logger, job types.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.jobs.UpdateJob(ctx, job); err != nil {
		logger.Error("failed to update job", "status", job.Status, "error", err)
	}
}

func completedMessage(n int) string {
	return fmt.Sprintf("Concluído! %d lançamentos processados.", n)
}

// FailureMessage is the user facing text for a failed job.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, types.ErrNoTransactions):
		return "Nenhum lançamento encontrado no PDF."
	case errors.Is(err, context.DeadlineExceeded):
		return "Tempo limite de processamento excedido."
	case errors.Is(err, context.Canceled):
		return "Processamento cancelado."
	default:
		return fmt.Sprintf("Erro geral: %v", err)
	}
}
