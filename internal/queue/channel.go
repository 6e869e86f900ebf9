// Package queue carries job ids from the API to the workers that process them.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"transcribe-multilingual/internal/domain"
)

var (
	// ErrQueueFull is returned when the buffer has no room; callers fall back to inline processing.
	ErrQueueFull = errors.New("job queue is full")
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("job queue is closed")
)

// Processor runs one job to completion.
type Processor interface {
	ProcessJob(ctx context.Context, jobID string) (domain.JobSnapshot, error)
}

// Channel is an in-process queue drained by a fixed pool of workers.
// A job id already waiting or being processed is not queued twice.
type Channel struct {
	proc   Processor
	logger *slog.Logger
	jobs   chan string

	mu      sync.Mutex
	closed  bool
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// NewChannel creates a queue holding up to size job ids.
func NewChannel(proc Processor, size int, logger *slog.Logger) *Channel {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		proc:    proc,
		logger:  logger,
		jobs:    make(chan string, size),
		pending: map[string]struct{}{},
	}
}

// Enqueue implements jobs.Enqueuer. It never blocks.
func (c *Channel) Enqueue(_ context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrQueueClosed
	}
	if _, ok := c.pending[jobID]; ok {
		return nil
	}
	select {
	case c.jobs <- jobID:
		c.pending[jobID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// StartWorkers launches n workers that process ids until ctx is cancelled
// or the queue is closed and drained. A job already being processed when ctx
// is cancelled runs to completion.
func (c *Channel) StartWorkers(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case jobID, ok := <-c.jobs:
					if !ok {
						return
					}
					c.process(context.WithoutCancel(ctx), jobID)
				}
			}
		}()
	}
}

func (c *Channel) process(ctx context.Context, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("job worker panic", "job_id", jobID, "panic", r)
		}
		c.mu.Lock()
		delete(c.pending, jobID)
		c.mu.Unlock()
	}()

	snap, err := c.proc.ProcessJob(ctx, jobID)
	if err != nil {
		c.logger.Error("process job", "job_id", jobID, "error", err)
		return
	}
	c.logger.Info("job processed", "job_id", jobID, "status", snap.Status)
}

// Close stops accepting new ids. Workers finish what is already queued.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.jobs)
}

// Wait blocks until every worker has exited.
func (c *Channel) Wait() {
	c.wg.Wait()
}
