package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memberListerStub struct {
	ids []uuid.UUID
	err error
}

func (s memberListerStub) ListMemberIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.ids, s.err
}

type countingRefresher struct {
	mu       sync.Mutex
	seen     map[uuid.UUID]int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (r *countingRefresher) Refresh(ctx context.Context, memberID uuid.UUID) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		old := r.maxSeen.Load()
		if n <= old || r.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[uuid.UUID]int)
	}
	r.seen[memberID]++
}

func TestRefreshAllVisitsEveryMemberOnce(t *testing.T) {
	ids := make([]uuid.UUID, 12)
	for i := range ids {
		ids[i] = uuid.New()
	}
	refresher := &countingRefresher{}
	jobs := NewJobs(memberListerStub{ids: ids}, refresher, 3, testLogger())

	count, err := jobs.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(ids), count)
	assert.Len(t, refresher.seen, len(ids))
	for _, id := range ids {
		assert.Equal(t, 1, refresher.seen[id])
	}
	assert.LessOrEqual(t, refresher.maxSeen.Load(), int32(3))
}

func TestRefreshAllListFailure(t *testing.T) {
	refresher := &countingRefresher{}
	jobs := NewJobs(memberListerStub{err: errors.New("db unavailable")}, refresher, 2, testLogger())

	_, err := jobs.RefreshAll(context.Background())
	assert.Error(t, err)
	assert.Empty(t, refresher.seen)

	// The cron entry point only logs.
	jobs.RefreshAllProfiles()
}

func TestRefreshAllStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	refresher := &countingRefresher{}
	jobs := NewJobs(memberListerStub{ids: []uuid.UUID{uuid.New(), uuid.New()}}, refresher, 1, testLogger())

	count, err := jobs.RefreshAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, count)
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	jobs := NewJobs(memberListerStub{}, &countingRefresher{}, 1, testLogger())
	assert.Error(t, NewScheduler(jobs, "not a schedule", testLogger()).Start())

	s := NewScheduler(jobs, "0 2 * * *", testLogger())
	require.NoError(t, s.Start())
	<-s.Stop().Done()
}
