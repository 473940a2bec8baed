package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"linkwatch/internal/queue"
	"linkwatch/internal/store"

	"go.uber.org/zap"
)

type fakeStore struct {
	mu        sync.Mutex
	due       []*store.Monitor
	selectErr error
	claimErr  error
	denied    map[string]bool // ids whose claim is lost to another replica

	claims   []string
	releases []string
}

func (f *fakeStore) SelectDueMonitors(ctx context.Context, now time.Time, limit int) ([]*store.Monitor, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeStore) ClaimMonitor(ctx context.Context, id string, nextCheckAt, lockedUntil time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.denied[id] {
		return false, nil
	}
	f.claims = append(f.claims, id)
	return true, nil
}

func (f *fakeStore) ReleaseClaim(ctx context.Context, id string, nextCheckAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, id)
	return nil
}

type fakeEnqueuer struct {
	mu      sync.Mutex
	jobs    []queue.HealthCheckJob
	failAt  int // 1-based call index that fails; 0 = never
	calls   int
	blockCh chan struct{} // when set, Enqueue blocks until closed
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job queue.HealthCheckJob, critical bool) error {
	if f.blockCh != nil {
		<-f.blockCh
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt != 0 && f.calls >= f.failAt {
		return errors.New("redis gone")
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func monitors(ids ...string) []*store.Monitor {
	var ms []*store.Monitor
	for _, id := range ids {
		ms = append(ms, &store.Monitor{
			ID:          id,
			ConvexURLID: "cvx-" + id,
			LongURL:     "https://example.com/" + id,
			Environment: store.EnvProd,
			IntervalMS:  60000,
			IsActive:    true,
		})
	}
	return ms
}

func testScheduler(st Store, enq Enqueuer) *Scheduler {
	return New(st, enq, Config{
		Interval:     10 * time.Second,
		BatchSize:    500,
		LockDuration: 30 * time.Second,
	}, zap.NewNop().Sugar())
}

func TestTickDispatchesDueMonitors(t *testing.T) {
	st := &fakeStore{due: monitors("a", "b", "c")}
	enq := &fakeEnqueuer{}

	testScheduler(st, enq).tick(context.Background())

	if len(enq.jobs) != 3 {
		t.Fatalf("queued %d jobs, want 3", len(enq.jobs))
	}
	if enq.jobs[0].LinkID != "a" || enq.jobs[0].ConvexURLID != "cvx-a" {
		t.Errorf("job payload = %+v", enq.jobs[0])
	}
	if len(st.claims) != 3 {
		t.Errorf("claimed %d, want 3", len(st.claims))
	}
}

func TestTickRespectsBatchSize(t *testing.T) {
	st := &fakeStore{due: monitors("a", "b", "c", "d")}
	enq := &fakeEnqueuer{}

	s := New(st, enq, Config{Interval: time.Second, BatchSize: 2, LockDuration: time.Second}, zap.NewNop().Sugar())
	s.tick(context.Background())

	if len(enq.jobs) != 2 {
		t.Fatalf("queued %d jobs, want batch-limited 2", len(enq.jobs))
	}
}

func TestTickSkipsLostClaims(t *testing.T) {
	st := &fakeStore{
		due:    monitors("a", "b", "c"),
		denied: map[string]bool{"b": true},
	}
	enq := &fakeEnqueuer{}

	testScheduler(st, enq).tick(context.Background())

	if len(enq.jobs) != 2 {
		t.Fatalf("queued %d jobs, want 2 (claim for b lost)", len(enq.jobs))
	}
	for _, j := range enq.jobs {
		if j.LinkID == "b" {
			t.Error("lost claim was still enqueued")
		}
	}
}

func TestTickSelectErrorIsNonFatal(t *testing.T) {
	st := &fakeStore{selectErr: errors.New("db down")}
	enq := &fakeEnqueuer{}

	testScheduler(st, enq).tick(context.Background())

	if len(enq.jobs) != 0 {
		t.Fatal("enqueued despite select failure")
	}
}

func TestTickClaimErrorAbandonsBatch(t *testing.T) {
	st := &fakeStore{due: monitors("a", "b"), claimErr: errors.New("db down")}
	enq := &fakeEnqueuer{}

	testScheduler(st, enq).tick(context.Background())

	if len(enq.jobs) != 0 {
		t.Fatalf("queued %d jobs despite claim failure", len(enq.jobs))
	}
}

func TestTickEnqueueFailureReleasesClaim(t *testing.T) {
	st := &fakeStore{due: monitors("a", "b", "c")}
	enq := &fakeEnqueuer{failAt: 2}

	testScheduler(st, enq).tick(context.Background())

	if len(enq.jobs) != 1 {
		t.Fatalf("queued %d jobs, want 1 before the failure", len(enq.jobs))
	}
	// The failed monitor gets its claim released; the rest of the batch is
	// abandoned and picked up on a later tick.
	if len(st.releases) != 1 || st.releases[0] != "b" {
		t.Fatalf("releases = %v, want [b]", st.releases)
	}
	if len(st.claims) != 2 {
		t.Errorf("claims = %v, want claims for a and b only", st.claims)
	}
}

func TestTickReentrancyGuard(t *testing.T) {
	block := make(chan struct{})
	st := &fakeStore{due: monitors("a")}
	enq := &fakeEnqueuer{blockCh: block}
	s := testScheduler(st, enq)

	done := make(chan struct{})
	go func() {
		s.tick(context.Background())
		close(done)
	}()

	// Wait until the first tick is inside Enqueue, then tick again.
	for !s.ticking.Load() {
		time.Sleep(time.Millisecond)
	}
	s.tick(context.Background())

	close(block)
	<-done

	if enq.calls != 1 {
		t.Fatalf("overlapping tick ran the dispatch loop, calls = %d", enq.calls)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st := &fakeStore{}
	s := New(st, &fakeEnqueuer{}, Config{Interval: time.Hour, BatchSize: 1, LockDuration: time.Second}, zap.NewNop().Sugar())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
