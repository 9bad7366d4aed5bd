package opqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxyfleet/dispatcher/internal/core/domain"
)

type recordingExecutor struct {
	mu      sync.Mutex
	batches [][]domain.PendingOp
	calls   atomic.Int64
}

func (r *recordingExecutor) Execute(_ context.Context, batch []domain.PendingOp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]domain.PendingOp, len(batch))
	copy(cp, batch)
	r.batches = append(r.batches, cp)
	r.calls.Add(1)
}

func (r *recordingExecutor) flat() []domain.PendingOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []domain.PendingOp
	for _, b := range r.batches {
		all = append(all, b...)
	}
	return all
}

func TestQueue_RapidUpdatesToSameUserDedupToOne(t *testing.T) {
	q := New(Config{MaxBatchSize: 10000}, nil)

	for i := 0; i < 1000; i++ {
		q.Enqueue(42, domain.OpUpdate, domain.UserView{ID: 42, Username: "alice"})
	}

	stats := q.Stats()
	assert.Equal(t, int64(1000), stats.Enqueued)
	assert.Equal(t, int64(999), stats.Deduplicated)
	assert.Equal(t, 1, stats.Pending)
}

func TestQueue_DistinctUsersAllSurviveToFlush(t *testing.T) {
	q := New(Config{MaxBatchSize: 250, FlushInterval: time.Hour}, nil)
	exec := &recordingExecutor{}
	q.Start(context.Background(), exec)
	defer q.Stop()

	const n = 10000
	for i := 0; i < n; i++ {
		q.Enqueue(i, domain.OpAdd, domain.UserView{ID: i, Username: fmt.Sprintf("user%d", i)})
	}

	stats := q.Stats()
	assert.Equal(t, int64(n), stats.Enqueued)
	assert.Equal(t, int64(0), stats.Deduplicated)
	assert.Equal(t, n, stats.Pending)
}

func TestQueue_AddUpdateRemoveCollapsesToSingleRemove(t *testing.T) {
	q := New(Config{MaxBatchSize: 10}, nil)

	q.Enqueue(1, domain.OpAdd, domain.UserView{ID: 1, Username: "bob"})
	q.Enqueue(1, domain.OpUpdate, domain.UserView{ID: 1, Username: "bob", Status: domain.UserLimited})
	q.Enqueue(1, domain.OpRemove, domain.UserView{ID: 1, Username: "bob"})

	require.Equal(t, 1, q.Stats().Pending)

	exec := &recordingExecutor{}
	q.executor = exec
	q.flush(context.Background())

	flat := exec.flat()
	require.Len(t, flat, 1)
	assert.Equal(t, domain.OpRemove, flat[0].Type)
}

func TestQueue_StopDrainsEverythingPendingReachesZero(t *testing.T) {
	q := New(Config{MaxBatchSize: 5, FlushInterval: time.Hour}, nil)
	exec := &recordingExecutor{}
	q.Start(context.Background(), exec)

	for i := 0; i < 37; i++ {
		q.Enqueue(i, domain.OpAdd, domain.UserView{ID: i})
	}

	q.Stop()

	assert.Equal(t, 0, q.Stats().Pending)
	assert.Len(t, exec.flat(), 37)
}

func TestQueue_FlushRespectsMaxBatchSizeUnderNormalAge(t *testing.T) {
	q := New(Config{MaxBatchSize: 3, MaxWaitTime: time.Hour}, nil)
	for i := 0; i < 10; i++ {
		q.Enqueue(i, domain.OpAdd, domain.UserView{ID: i})
	}

	exec := &recordingExecutor{}
	q.executor = exec
	q.flush(context.Background())

	assert.Len(t, exec.flat(), 3)
	assert.Equal(t, 7, q.Stats().Pending)
}

func TestQueue_OverAgeOpEscapesBatchSizeCap(t *testing.T) {
	q := New(Config{MaxBatchSize: 2, MaxWaitTime: 10 * time.Millisecond}, nil)

	q.Enqueue(1, domain.OpAdd, domain.UserView{ID: 1})
	q.Enqueue(2, domain.OpAdd, domain.UserView{ID: 2})
	q.Enqueue(3, domain.OpAdd, domain.UserView{ID: 3})
	time.Sleep(20 * time.Millisecond)
	q.Enqueue(4, domain.OpAdd, domain.UserView{ID: 4})

	exec := &recordingExecutor{}
	q.executor = exec
	q.flush(context.Background())

	flat := exec.flat()
	assert.GreaterOrEqual(t, len(flat), 3, "the stale op past the batch cap must flush even past batch size")
}

func TestQueue_EnqueueAfterStopStillAcceptsButNeedsRestart(t *testing.T) {
	q := New(Config{}, nil)
	exec := &recordingExecutor{}
	q.Start(context.Background(), exec)
	q.Stop()

	q.Enqueue(9, domain.OpAdd, domain.UserView{ID: 9})
	assert.Equal(t, 1, q.Stats().Pending)
}
