package queue

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

type fakePending struct {
	ids []string
	err error
}

func (f fakePending) PendingJobIDs(context.Context) ([]string, error) {
	return f.ids, f.err
}

type recordingSink struct {
	ids []string
}

func (s *recordingSink) Enqueue(_ context.Context, jobID string) error {
	s.ids = append(s.ids, jobID)
	return nil
}

// TestPGNotifyRescanDeliversQueuedJobs verifies pending jobs reach the sink.
func TestPGNotifyRescanDeliversQueuedJobs(t *testing.T) {
	p := NewPGNotify(nil, "", fakePending{ids: []string{"a", "", "b"}}, nil)
	sink := &recordingSink{}

	p.rescan(context.Background(), sink)
	if len(sink.ids) != 2 || sink.ids[0] != "a" || sink.ids[1] != "b" {
		t.Fatalf("delivered = %v, want [a b]", sink.ids)
	}

	p = NewPGNotify(nil, "", fakePending{err: errors.New("db down")}, nil)
	sink = &recordingSink{}
	p.rescan(context.Background(), sink)
	if len(sink.ids) != 0 {
		t.Fatalf("delivered = %v, want none", sink.ids)
	}
}

type fakeClaimer struct {
	owned map[string]string
}

func (c *fakeClaimer) ClaimJob(_ context.Context, jobID, worker string, _ time.Duration) (bool, error) {
	if owner, ok := c.owned[jobID]; ok && owner != worker {
		return false, nil
	}
	c.owned[jobID] = worker
	return true, nil
}

// TestPGNotifyDeliversOnlyClaimedJobs skips jobs another worker holds.
func TestPGNotifyDeliversOnlyClaimedJobs(t *testing.T) {
	claims := &fakeClaimer{owned: map[string]string{"b": "other"}}
	p := NewPGNotify(nil, "", fakePending{ids: []string{"a", "b", "c"}}, nil).WithClaims(claims, "me")
	sink := &recordingSink{}

	p.rescan(context.Background(), sink)
	if len(sink.ids) != 2 || sink.ids[0] != "a" || sink.ids[1] != "c" {
		t.Fatalf("delivered = %v, want [a c]", sink.ids)
	}

	sink = &recordingSink{}
	p.rescan(context.Background(), sink)
	if len(sink.ids) != 2 {
		t.Fatalf("redelivered = %v, want own claims again", sink.ids)
	}
}

// TestPGNotifyRoundTrip publishes and receives one id through PostgreSQL.
func TestPGNotifyRoundTrip(t *testing.T) {
	dsn := os.Getenv("TM_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TM_TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	p := NewPGNotify(db, dsn, nil, nil)
	proc := &fakeProcessor{done: make(chan string, 16)}
	q := NewChannel(proc, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartWorkers(ctx, 1)
	go func() { _ = p.Run(ctx, q) }()

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := p.Enqueue(ctx, "job-pg"); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		select {
		case id := <-proc.done:
			if id != "job-pg" {
				t.Fatalf("processed %s, want job-pg", id)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("timed out waiting for notification")
		}
	}
}
