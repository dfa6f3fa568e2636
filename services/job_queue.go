// Package services provides business logic implementations.
package services

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ReceiptRadar/receipt-radar-backend/config"
	"github.com/ReceiptRadar/receipt-radar-backend/logger"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Job type names for the document pipeline.
const (
	JobTypeTextExtraction      = "document-text-extraction"
	JobTypeFieldExtraction     = "document-field-extraction"
	JobTypeTransactionMatching = "document-transaction-matching"
)

// DocumentJobPayload is the payload shared by all pipeline job types.
type DocumentJobPayload struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
}

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusCreated   JobStatus = "created"
	JobStatusActive    JobStatus = "active"
	JobStatusRetry     JobStatus = "retry"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	// JobStatusFailed means the retry budget is exhausted; the job will not
	// run again.
	JobStatusFailed JobStatus = "failed"
)

// Job is a unit of asynchronous work tracked by the queue.
type Job struct {
	ID          string
	Type        string
	Payload     json.RawMessage
	Priority    int
	RetryLimit  int
	RetryCount  int
	RetryDelay  time.Duration
	StartAfter  time.Time
	Status      JobStatus
	LastError   string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	seq int64 // FIFO tie-break within a priority
}

// EnqueueOptions tunes a single enqueue. Zero values fall back to the queue
// defaults.
type EnqueueOptions struct {
	Priority   int
	RetryLimit *int
	RetryDelay time.Duration
	StartAfter time.Duration
}

// Handler processes one job payload. A non-nil error triggers a retry until
// the job's retry budget runs out.
type Handler func(ctx context.Context, payload json.RawMessage) error

// JobQueue is an in-process, at-least-once job orchestrator. Each job type
// gets its own pending queue and a bounded set of workers; jobs are picked
// highest priority first, oldest first within a priority, and never before
// their StartAfter time.
type JobQueue struct {
	cfg     config.JobQueueConfig
	logger  *zap.SugaredLogger
	metrics *jobQueueMetrics

	mu        sync.Mutex
	jobs      map[string]*Job
	pending   map[string]*jobHeap
	handlers  map[string]Handler
	overrides map[string]int
	wake      map[string]chan struct{}
	seq       int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// jobQueueMetrics holds Prometheus metrics for the job queue.
type jobQueueMetrics struct {
	queueDepth    *prometheus.GaugeVec
	activeWorkers prometheus.Gauge
	completedJobs *prometheus.CounterVec
	failedJobs    *prometheus.CounterVec
	retriedJobs   *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	jqMetricsInstance *jobQueueMetrics
	jqMetricsOnce     sync.Once
	jqDefaultRegistry = prometheus.DefaultRegisterer
)

func newJobQueueMetrics() *jobQueueMetrics {
	jqMetricsOnce.Do(func() {
		jqMetricsInstance = &jobQueueMetrics{
			queueDepth: promauto.With(jqDefaultRegistry).NewGaugeVec(prometheus.GaugeOpts{
				Name: "job_queue_depth",
				Help: "Current number of jobs waiting per job type",
			}, []string{"job_type"}),
			activeWorkers: promauto.With(jqDefaultRegistry).NewGauge(prometheus.GaugeOpts{
				Name: "job_queue_active_workers",
				Help: "Current number of workers executing jobs",
			}),
			completedJobs: promauto.With(jqDefaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "job_queue_completed_jobs_total",
				Help: "Total number of successfully completed jobs",
			}, []string{"job_type"}),
			failedJobs: promauto.With(jqDefaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "job_queue_failed_jobs_total",
				Help: "Total number of jobs that exhausted their retry budget",
			}, []string{"job_type"}),
			retriedJobs: promauto.With(jqDefaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "job_queue_retried_jobs_total",
				Help: "Total number of job retry attempts",
			}, []string{"job_type"}),
			jobDuration: promauto.With(jqDefaultRegistry).NewHistogramVec(prometheus.HistogramOpts{
				Name:    "job_queue_job_duration_seconds",
				Help:    "Time taken to execute jobs",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			}, []string{"job_type"}),
		}
	})
	return jqMetricsInstance
}

// resetJobQueueMetricsForTesting resets the metrics singleton for test isolation.
// This should only be called from tests.
func resetJobQueueMetricsForTesting() {
	reg := prometheus.NewRegistry()
	jqDefaultRegistry = reg
	jqMetricsInstance = nil
	jqMetricsOnce = sync.Once{}
}

// NewJobQueue creates a job queue. Handlers must be registered before Start.
func NewJobQueue(cfg config.JobQueueConfig) *JobQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobQueue{
		cfg:      cfg,
		logger:   logger.GetLogger().Named("job-queue"),
		metrics:  newJobQueueMetrics(),
		jobs:     make(map[string]*Job),
		pending:  make(map[string]*jobHeap),
		handlers: make(map[string]Handler),
		wake:     make(map[string]chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler binds a handler to a job type. workers <= 0 falls back to
// the configured per-type default. Registering after Start has no effect.
func (q *JobQueue) RegisterHandler(jobType string, handler Handler, workers int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		q.logger.Warnw("Handler registered after queue start, ignoring", "jobType", jobType)
		return
	}
	q.handlers[jobType] = handler
	if workers > 0 {
		q.workerOverrides()[jobType] = workers
	}
}

// workerOverrides lazily allocates the per-type worker override map.
func (q *JobQueue) workerOverrides() map[string]int {
	if q.overrides == nil {
		q.overrides = make(map[string]int)
	}
	return q.overrides
}

// Enqueue creates a job and schedules it for execution. The job ID is
// returned immediately; execution happens on a worker goroutine.
func (q *JobQueue) Enqueue(jobType string, payload interface{}, opts EnqueueOptions) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	retryLimit := q.cfg.RetryLimit
	if opts.RetryLimit != nil {
		retryLimit = *opts.RetryLimit
	}
	retryDelay := time.Duration(q.cfg.RetryDelaySeconds) * time.Second
	if opts.RetryDelay > 0 {
		retryDelay = opts.RetryDelay
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Payload:    raw,
		Priority:   opts.Priority,
		RetryLimit: retryLimit,
		RetryDelay: retryDelay,
		StartAfter: time.Now().Add(opts.StartAfter),
		Status:     JobStatusCreated,
		CreatedAt:  time.Now(),
		seq:        q.seq,
	}

	q.jobs[job.ID] = job
	q.pushLocked(job)
	q.metrics.queueDepth.WithLabelValues(jobType).Inc()
	q.wakeUpLocked(jobType)

	q.logger.Debugw("Job enqueued",
		"jobId", job.ID,
		"jobType", jobType,
		"priority", job.Priority,
		"startAfter", job.StartAfter)
	return job.ID, nil
}

// Cancel aborts a job that has not started yet. Returns false when the job is
// unknown, already running, or finished.
func (q *JobQueue) Cancel(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return false
	}
	if job.Status != JobStatusCreated && job.Status != JobStatusRetry {
		return false
	}

	// The heap entry is removed lazily when a worker pops it.
	job.Status = JobStatusCancelled
	now := time.Now()
	job.CompletedAt = &now
	q.metrics.queueDepth.WithLabelValues(job.Type).Dec()
	q.logger.Infow("Job cancelled", "jobId", jobID, "jobType", job.Type)
	return true
}

// GetStatus returns the job's current status.
func (q *JobQueue) GetStatus(jobID string) (JobStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return "", false
	}
	return job.Status, true
}

// GetJob returns a copy of the tracked job.
func (q *JobQueue) GetJob(jobID string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Start launches the worker goroutines for every registered job type.
// Calling Start() multiple times is safe and will only start workers once.
func (q *JobQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		q.logger.Warn("Job queue already running")
		return
	}
	q.running = true

	for jobType := range q.handlers {
		workers := q.cfg.WorkersPerType
		if override, ok := q.workerOverrides()[jobType]; ok {
			workers = override
		}
		q.logger.Infow("Starting job workers", "jobType", jobType, "workers", workers)
		for i := 0; i < workers; i++ {
			q.wg.Add(1)
			go q.worker(jobType, i)
		}
	}
}

// worker is the main loop for each worker goroutine.
func (q *JobQueue) worker(jobType string, id int) {
	defer q.wg.Done()

	wake := q.wakeChan(jobType)

	for {
		job, wait := q.nextJob(jobType)
		if job != nil {
			q.executeJob(jobType, id, job)
			continue
		}

		var timerC <-chan time.Time
		var timer *time.Timer
		if wait > 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-q.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// nextJob pops the highest-priority ready job for the type. When no job is
// ready it returns the wait until the earliest scheduled one (0 = wait for a
// wake-up).
func (q *JobQueue) nextJob(jobType string) (*Job, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	h := q.pending[jobType]
	if h == nil {
		return nil, 0
	}

	now := time.Now()
	var deferred []*Job
	var picked *Job

	for h.Len() > 0 {
		job := heap.Pop(h).(*Job)
		if job.Status == JobStatusCancelled {
			continue
		}
		if job.StartAfter.After(now) {
			deferred = append(deferred, job)
			continue
		}
		picked = job
		break
	}
	for _, job := range deferred {
		heap.Push(h, job)
	}

	if picked == nil {
		var wait time.Duration
		if len(deferred) > 0 {
			earliest := deferred[0].StartAfter
			for _, job := range deferred[1:] {
				if job.StartAfter.Before(earliest) {
					earliest = job.StartAfter
				}
			}
			wait = time.Until(earliest)
			if wait <= 0 {
				wait = time.Millisecond
			}
		}
		return nil, wait
	}

	picked.Status = JobStatusActive
	started := time.Now()
	picked.StartedAt = &started
	q.metrics.queueDepth.WithLabelValues(jobType).Dec()
	return picked, 0
}

// executeJob runs a single job with a wall-clock timeout, retrying on failure
// until the retry budget is exhausted.
func (q *JobQueue) executeJob(jobType string, workerID int, job *Job) {
	handler := q.handlers[jobType]
	q.metrics.activeWorkers.Inc()
	defer q.metrics.activeWorkers.Dec()

	start := time.Now()
	jobCtx, cancel := context.WithTimeout(q.ctx, time.Duration(q.cfg.JobTimeoutSeconds)*time.Second)
	defer cancel()

	err := handler(jobCtx, job.Payload)
	duration := time.Since(start)
	q.metrics.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())

	q.mu.Lock()
	defer q.mu.Unlock()

	if err == nil {
		job.Status = JobStatusCompleted
		now := time.Now()
		job.CompletedAt = &now
		q.metrics.completedJobs.WithLabelValues(jobType).Inc()
		q.logger.Debugw("Job completed",
			"jobId", job.ID,
			"jobType", jobType,
			"workerId", workerID,
			"duration", duration)
		return
	}

	job.LastError = err.Error()

	if job.RetryCount < job.RetryLimit {
		job.RetryCount++
		job.Status = JobStatusRetry
		job.StartAfter = time.Now().Add(job.RetryDelay)
		q.pushLocked(job)
		q.metrics.queueDepth.WithLabelValues(jobType).Inc()
		q.metrics.retriedJobs.WithLabelValues(jobType).Inc()
		q.wakeUpLocked(jobType)
		q.logger.Warnw("Job failed, scheduling retry",
			"jobId", job.ID,
			"jobType", jobType,
			"attempt", job.RetryCount,
			"retryLimit", job.RetryLimit,
			"error", err)
		return
	}

	job.Status = JobStatusFailed
	now := time.Now()
	job.CompletedAt = &now
	q.metrics.failedJobs.WithLabelValues(jobType).Inc()
	q.logger.Errorw("Job failed permanently, retry budget exhausted",
		"jobId", job.ID,
		"jobType", jobType,
		"attempts", job.RetryCount+1,
		"error", err)
}

// Shutdown gracefully stops the queue, waiting for in-flight jobs to finish.
// The provided context controls the maximum time to wait.
func (q *JobQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.mu.Unlock()

	q.logger.Info("Initiating job queue shutdown...")
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("Job queue shutdown complete - all workers finished")
		return nil
	case <-ctx.Done():
		q.logger.Warn("Job queue shutdown timed out - some workers may still be running")
		return ctx.Err()
	}
}

// QueueDepth returns the number of pending jobs for a type, cancelled entries
// excluded.
func (q *JobQueue) QueueDepth(jobType string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	h := q.pending[jobType]
	if h == nil {
		return 0
	}
	depth := 0
	for _, job := range *h {
		if job.Status != JobStatusCancelled {
			depth++
		}
	}
	return depth
}

// IsRunning returns whether the queue workers are active.
func (q *JobQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *JobQueue) pushLocked(job *Job) {
	h, ok := q.pending[job.Type]
	if !ok {
		h = &jobHeap{}
		heap.Init(h)
		q.pending[job.Type] = h
	}
	heap.Push(h, job)
}

func (q *JobQueue) wakeChan(jobType string) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wakeChanLocked(jobType)
}

func (q *JobQueue) wakeChanLocked(jobType string) chan struct{} {
	ch, ok := q.wake[jobType]
	if !ok {
		ch = make(chan struct{}, 1)
		q.wake[jobType] = ch
	}
	return ch
}

func (q *JobQueue) wakeUpLocked(jobType string) {
	select {
	case q.wakeChanLocked(jobType) <- struct{}{}:
	default:
	}
}

// jobHeap orders jobs by priority descending, then enqueue order.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) {
	*h = append(*h, x.(*Job))
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
