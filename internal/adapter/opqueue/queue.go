package opqueue

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proxyfleet/dispatcher/internal/core/domain"
	"github.com/proxyfleet/dispatcher/internal/core/ports"
	"github.com/proxyfleet/dispatcher/pkg/pool"
)

const (
	DefaultFlushInterval = 100 * time.Millisecond
	DefaultMaxBatchSize  = 100
	DefaultMaxWaitTime   = 1 * time.Second
)

// Config mirrors domain QueueConfig.
type Config struct {
	FlushInterval time.Duration
	MaxBatchSize  int
	MaxWaitTime   time.Duration
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxWaitTime <= 0 {
		c.MaxWaitTime = DefaultMaxWaitTime
	}
	return c
}

// Queue is a deduplicating, coalescing buffer of PendingOps keyed by user
// id. At most one op per user id is ever pending; re-enqueuing a user moves
// their op to the tail of insertion order and counts as a dedup, not a new
// arrival. A background loop drains it into a pluggable Executor every
// flush_interval.
//
// Ordering is modeled with container/list the way OrderedDict is used in
// the reference implementation: O(1) dedup-and-move-to-tail, FIFO drain.
type Queue struct {
	cfg      Config
	executor ports.Executor
	log      ports.Logger

	mu    sync.Mutex
	order *list.List            // of *domain.PendingOp, oldest first
	index map[int]*list.Element // userID -> its node in order
	pool  *pool.Pool[*domain.PendingOp]

	running  atomic.Bool
	stopCh   chan struct{}
	loopDone chan struct{}

	enqueued     atomic.Int64
	deduplicated atomic.Int64
	flushed      atomic.Int64
	batches      atomic.Int64
}

// New creates a queue; Start must be called before the flush loop runs.
// PendingOp nodes are recycled through a pool since enqueue/flush is the
// hottest path under fleet-wide churn.
func New(cfg Config, log ports.Logger) *Queue {
	return &Queue{
		cfg:   cfg.withDefaults(),
		log:   log,
		order: list.New(),
		index: make(map[int]*list.Element),
		pool:  pool.NewLitePool(func() *domain.PendingOp { return &domain.PendingOp{} }),
	}
}

// Enqueue replaces any pending op for userID with a new one carrying the
// given type and snapshot, moving it to the tail of insertion order. It
// never blocks beyond the brief critical section.
func (q *Queue) Enqueue(userID int, opType domain.OpType, user domain.UserView) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el, ok := q.index[userID]; ok {
		stale := el.Value.(*domain.PendingOp)
		q.order.Remove(el)
		delete(q.index, userID)
		q.deduplicated.Add(1)
		q.pool.Put(stale)
	}

	op := q.pool.Get()
	op.UserID = userID
	op.Type = opType
	op.User = user
	op.EnqueuedAt = time.Now()

	q.index[userID] = q.order.PushBack(op)
	q.enqueued.Add(1)
}

// Start launches the background flush loop. executor must be non-nil.
func (q *Queue) Start(ctx context.Context, executor ports.Executor) {
	if q.running.Swap(true) {
		return
	}
	q.executor = executor
	q.stopCh = make(chan struct{})
	q.loopDone = make(chan struct{})

	go q.flushLoop(ctx)
}

// Stop cancels the flush loop and drains the queue to empty so no op is
// lost at shutdown, regardless of how many batches that takes.
func (q *Queue) Stop() {
	if !q.running.Swap(false) {
		return
	}
	close(q.stopCh)
	<-q.loopDone

	pending := q.Stats().Pending
	for q.Stats().Pending > 0 {
		q.flush(context.Background())
	}

	if q.log != nil && pending > 0 {
		q.log.Info("operation queue drained on stop", "pending", pending)
	}
}

func (q *Queue) flushLoop(ctx context.Context) {
	defer close(q.loopDone)

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.flush(ctx)
		}
	}
}

// flush drains up to MaxBatchSize ops in insertion order, plus any op whose
// wait time has already exceeded MaxWaitTime even if that pushes the batch
// past MaxBatchSize — this bounds tail latency for over-age ops sitting
// beyond the first MaxBatchSize positions of a long queue.
func (q *Queue) flush(ctx context.Context) {
	q.mu.Lock()
	if q.order.Len() == 0 {
		q.mu.Unlock()
		return
	}

	now := time.Now()
	batch := make([]domain.PendingOp, 0, q.cfg.MaxBatchSize)

	var next *list.Element
	for el := q.order.Front(); el != nil; el = next {
		next = el.Next()
		op := el.Value.(*domain.PendingOp)

		overAge := now.Sub(op.EnqueuedAt) >= q.cfg.MaxWaitTime
		if len(batch) >= q.cfg.MaxBatchSize && !overAge {
			continue
		}

		batch = append(batch, *op)
		q.order.Remove(el)
		delete(q.index, op.UserID)
		q.pool.Put(op)
	}
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	q.batches.Add(1)
	q.flushed.Add(int64(len(batch)))

	if q.executor != nil {
		q.executor.Execute(ctx, batch)
	}
}

// Stats returns a point-in-time snapshot of the queue's counters.
func (q *Queue) Stats() domain.QueueStats {
	q.mu.Lock()
	pending := q.order.Len()
	q.mu.Unlock()

	return domain.QueueStats{
		Enqueued:     q.enqueued.Load(),
		Deduplicated: q.deduplicated.Load(),
		Flushed:      q.flushed.Load(),
		Batches:      q.batches.Load(),
		Pending:      pending,
	}
}
