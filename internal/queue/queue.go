package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/imyashkale/gengar-bark/internal/logger"
)

// Job is a unit of background work such as a connectivity check started from Slack.
type Job struct {
	ID        string
	UserID    string
	Operation string
	Execute   func(ctx context.Context) error
}

// JobQueue manages the job queue with a channel-based system
type JobQueue struct {
	jobs   chan *Job
	mu     sync.RWMutex
	closed bool
}

// NewJobQueue creates a new job queue with the specified buffer size
func NewJobQueue(bufferSize int) *JobQueue {
	return &JobQueue{
		jobs: make(chan *Job, bufferSize),
	}
}

// Enqueue adds a job to the queue without blocking.
func (jq *JobQueue) Enqueue(job *Job) error {
	if job == nil || job.Execute == nil {
		return fmt.Errorf("job has nothing to execute")
	}

	jq.mu.RLock()
	defer jq.mu.RUnlock()

	fields := map[string]interface{}{
		"job_id":    job.ID,
		"user_id":   job.UserID,
		"operation": job.Operation,
	}

	if jq.closed {
		logger.WithFields(fields).Warn("Failed to enqueue job: queue is closed")
		return ErrQueueClosed
	}

	select {
	case jq.jobs <- job:
		logger.WithFields(fields).Debug("Job enqueued")
		return nil
	default:
		logger.WithFields(fields).Warn("Failed to enqueue job: queue is full")
		return ErrQueueFull
	}
}

// Len returns the number of buffered jobs.
func (jq *JobQueue) Len() int {
	return len(jq.jobs)
}

// Close stops accepting jobs. Buffered jobs are still delivered to workers.
func (jq *JobQueue) Close() {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if jq.closed {
		return
	}
	jq.closed = true
	close(jq.jobs)
}

// WorkerPool manages multiple workers processing jobs
type WorkerPool struct {
	queue      *JobQueue
	workers    int
	jobTimeout time.Duration
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewWorkerPool creates a new worker pool. Each job runs under jobTimeout
// when it is positive.
func NewWorkerPool(queue *JobQueue, numWorkers int, jobTimeout time.Duration) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:      queue,
		workers:    numWorkers,
		jobTimeout: jobTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts all workers
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	logger.WithField("workers", wp.workers).Info("Worker pool started")
}

// worker processes jobs from the queue until it is closed
func (wp *WorkerPool) worker(n int) {
	defer wp.wg.Done()

	for job := range wp.queue.jobs {
		wp.run(n, job)
	}
	logger.WithField("worker", n).Debug("Worker exiting: jobs channel closed")
}

func (wp *WorkerPool) run(n int, job *Job) {
	fields := map[string]interface{}{
		"worker":    n,
		"job_id":    job.ID,
		"user_id":   job.UserID,
		"operation": job.Operation,
	}

	ctx := wp.ctx
	if wp.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.jobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(fields).Errorf("Worker recovered from panic: %v", r)
		}
	}()

	start := time.Now()
	if err := job.Execute(ctx); err != nil {
		fields["error"] = err.Error()
		logger.WithFields(fields).Error("Worker failed to process job")
		return
	}
	fields["duration_ms"] = time.Since(start).Milliseconds()
	logger.WithFields(fields).Info("Worker completed job successfully")
}

// Stop closes the queue and waits for workers to drain it. When ctx expires
// first, running jobs are cancelled and ctx.Err() is returned.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.queue.Close()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.cancel()
		return nil
	case <-ctx.Done():
		wp.cancel()
		<-done
		return ctx.Err()
	}
}
