package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// NotifyChannel is the PostgreSQL channel job ids are published on.
const NotifyChannel = "transcribe_jobs"

const (
	minReconnect = 10 * time.Second
	maxReconnect = time.Minute
	pingInterval = 90 * time.Second
)

// Sink receives job ids delivered by a transport.
type Sink interface {
	Enqueue(ctx context.Context, jobID string) error
}

// PendingLister lists jobs still waiting to be processed.
type PendingLister interface {
	PendingJobIDs(ctx context.Context) ([]string, error)
}

// Claimer grants one worker the right to process a job. Claims older than
// ttl may be taken over.
type Claimer interface {
	ClaimJob(ctx context.Context, jobID, worker string, ttl time.Duration) (bool, error)
}

// ClaimTTL is how long a claim on a job that never left the queue is honored.
const ClaimTTL = 30 * time.Minute

// PGNotify publishes job ids with NOTIFY and delivers them to a local Sink
// from a LISTEN connection. Queued jobs are re-scanned on start, after every
// reconnect and on each ping so notifications missed or dropped are not lost.
type PGNotify struct {
	db      *sql.DB
	dsn     string
	pending PendingLister
	logger  *slog.Logger

	claimer Claimer
	worker  string
}

// NewPGNotify creates a transport. db publishes; dsn opens the listener.
func NewPGNotify(db *sql.DB, dsn string, pending PendingLister, logger *slog.Logger) *PGNotify {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGNotify{db: db, dsn: dsn, pending: pending, logger: logger}
}

// WithClaims makes Run deliver only jobs worker manages to claim, so several
// listening processes never pick up the same job.
func (p *PGNotify) WithClaims(c Claimer, worker string) *PGNotify {
	p.claimer = c
	p.worker = worker
	return p
}

// Enqueue implements jobs.Enqueuer.
func (p *PGNotify) Enqueue(ctx context.Context, jobID string) error {
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, jobID); err != nil {
		return fmt.Errorf("notify %s: %w", NotifyChannel, err)
	}
	return nil
}

// Run listens until ctx is cancelled, handing every delivered id to sink.
func (p *PGNotify) Run(ctx context.Context, sink Sink) error {
	listener := pq.NewListener(p.dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.logger.Warn("job listener event", "event", int(ev), "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(NotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	p.logger.Info("listening for jobs", "channel", NotifyChannel)
	p.rescan(ctx, sink)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				// Connection was re-established.
				p.rescan(ctx, sink)
				continue
			}
			p.deliver(ctx, sink, n.Extra)
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				p.logger.Warn("job listener ping", "error", err)
			}
			p.rescan(ctx, sink)
		}
	}
}

func (p *PGNotify) rescan(ctx context.Context, sink Sink) {
	if p.pending == nil {
		return
	}
	ids, err := p.pending.PendingJobIDs(ctx)
	if err != nil {
		p.logger.Error("list queued jobs", "error", err)
		return
	}
	for _, id := range ids {
		p.deliver(ctx, sink, id)
	}
}

func (p *PGNotify) deliver(ctx context.Context, sink Sink, jobID string) {
	if jobID == "" {
		return
	}
	if p.claimer != nil {
		ok, err := p.claimer.ClaimJob(ctx, jobID, p.worker, ClaimTTL)
		if err != nil {
			p.logger.Warn("claim job", "job_id", jobID, "error", err)
			return
		}
		if !ok {
			p.logger.Debug("job claimed by another worker", "job_id", jobID)
			return
		}
	}
	if err := sink.Enqueue(ctx, jobID); err != nil {
		p.logger.Warn("deliver job", "job_id", jobID, "error", err)
	}
}
