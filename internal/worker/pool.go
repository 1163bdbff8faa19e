// Package worker is the Sync Worker (spec.md §4.5): a pool that claims
// pending sync jobs from the Persistent Store and executes them against an
// account's RemoteClient, consistent-hash-sharded by account so no two
// workers ever touch the same account's connection concurrently (MTProto
// sessions are not safe for concurrent RPCs from one authorization).
//
// The pool shape is adapted from the teacher's per-instance message worker
// pool (pkg/msgworker/pool.go): fixed worker count, bounded per-worker
// queues, FNV32a sharding, graceful drain-on-stop.
package worker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Job is one unit of sync work dispatched to the pool: claim and execute
// the next pending job for an account.
type Job struct {
	AccountID string
	ChatID    int64
	Handler   func(ctx context.Context) error
}

// PoolStats mirrors the teacher's PoolStats shape, renamed to this domain's
// vocabulary.
type PoolStats struct {
	NumWorkers      int
	QueueSize       int
	ActiveWorkers   int
	TotalDispatched int64
	TotalProcessed  int64
	TotalDropped    int64
	TotalErrors     int64
	WorkerStats     []WorkerStats
}

// WorkerStats is one worker's per-worker counters.
type WorkerStats struct {
	WorkerID      int
	QueueDepth    int
	IsProcessing  bool
	JobsProcessed int64
}

// Pool is a fixed-size, account-sharded pool of job-processing goroutines.
type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*poolWorker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    int32

	totalDispatched int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64

	OnJobStart func(workerID int, accountID string, chatID int64)
	OnJobEnd   func(workerID int, accountID string, chatID int64)
}

type poolWorker struct {
	id            int
	jobQueue      chan Job
	ctx           context.Context
	cancel        context.CancelFunc
	isProcessing  int32
	jobsProcessed int64
	pool          *Pool
}

// NewPool builds a Pool with numWorkers goroutines, each with a queue of
// queueSize pending jobs.
func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*poolWorker, numWorkers),
	}
}

// Start launches every worker goroutine, bound to ctx.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &poolWorker{id: i, jobQueue: make(chan Job, p.queueSize), ctx: workerCtx, cancel: cancel, pool: p}
		p.workers[i] = w
		p.wg.Add(1)
		go w.run(&p.wg)
	}
	logrus.Infof("[SYNC_WORKER_POOL] started with %d workers, queue size %d", p.numWorkers, p.queueSize)
}

// TryDispatch enqueues job on its account's shard, returning false if that
// shard's queue is full or the pool has stopped.
func (p *Pool) TryDispatch(job Job) bool {
	if atomic.LoadInt32(&p.stopped) == 1 {
		atomic.AddInt64(&p.totalDropped, 1)
		return false
	}

	shard := p.shardForAccount(job.AccountID)
	atomic.AddInt64(&p.totalDispatched, 1)

	select {
	case p.workers[shard].jobQueue <- job:
		return true
	default:
		atomic.AddInt64(&p.totalDropped, 1)
		logrus.Warnf("[SYNC_WORKER_POOL] worker %d queue full, dropping job for account %s chat %d", shard, job.AccountID, job.ChatID)
		return false
	}
}

// shardForAccount consistent-hashes an account id to a worker index, the
// same scheme the teacher uses to keep one chat's jobs sequential on one
// worker — here it keeps one account's RPCs sequential on one worker.
func (p *Pool) shardForAccount(accountID string) int {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return int(h.Sum32() % uint32(p.numWorkers))
}

// Stop cancels every worker context and waits for in-flight jobs to drain.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		logrus.Info("[SYNC_WORKER_POOL] stopping workers...")
		for _, w := range p.workers {
			w.cancel()
			close(w.jobQueue)
		}
		p.wg.Wait()
		logrus.Info("[SYNC_WORKER_POOL] all workers stopped")
	})
}

// GetStats returns a point-in-time snapshot of pool counters.
func (p *Pool) GetStats() PoolStats {
	workerStats := make([]WorkerStats, len(p.workers))
	activeWorkers := 0
	for i, w := range p.workers {
		isProcessing := atomic.LoadInt32(&w.isProcessing) == 1
		if isProcessing {
			activeWorkers++
		}
		workerStats[i] = WorkerStats{
			WorkerID:      w.id,
			QueueDepth:    len(w.jobQueue),
			IsProcessing:  isProcessing,
			JobsProcessed: atomic.LoadInt64(&w.jobsProcessed),
		}
	}
	return PoolStats{
		NumWorkers:      p.numWorkers,
		QueueSize:       p.queueSize,
		ActiveWorkers:   activeWorkers,
		TotalDispatched: atomic.LoadInt64(&p.totalDispatched),
		TotalProcessed:  atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:    atomic.LoadInt64(&p.totalDropped),
		TotalErrors:     atomic.LoadInt64(&p.totalErrors),
		WorkerStats:     workerStats,
	}
}

func (w *poolWorker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	logrus.Debugf("[SYNC_WORKER_POOL] worker %d started", w.id)

	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				return
			}
			w.execute(job)
		case <-w.ctx.Done():
			w.drainQueue()
			return
		}
	}
}

func (w *poolWorker) execute(job Job) {
	if w.pool.OnJobStart != nil {
		w.pool.OnJobStart(w.id, job.AccountID, job.ChatID)
	}
	atomic.StoreInt32(&w.isProcessing, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&w.pool.totalErrors, 1)
			logrus.Errorf("[SYNC_WORKER_POOL] worker %d panic for account %s chat %d: %v", w.id, job.AccountID, job.ChatID, r)
		}
		if w.pool.OnJobEnd != nil {
			w.pool.OnJobEnd(w.id, job.AccountID, job.ChatID)
		}
		atomic.StoreInt32(&w.isProcessing, 0)
		atomic.AddInt64(&w.jobsProcessed, 1)
		atomic.AddInt64(&w.pool.totalProcessed, 1)
	}()

	if err := job.Handler(w.ctx); err != nil {
		atomic.AddInt64(&w.pool.totalErrors, 1)
		logrus.WithError(err).Errorf("[SYNC_WORKER_POOL] worker %d job failed for account %s chat %d", w.id, job.AccountID, job.ChatID)
	}
}

func (w *poolWorker) drainQueue() {
	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						atomic.AddInt64(&w.pool.totalErrors, 1)
						logrus.Errorf("[SYNC_WORKER_POOL] worker %d drain panic: %v", w.id, r)
					}
				}()
				if err := job.Handler(w.ctx); err != nil {
					logrus.WithError(err).Errorf("[SYNC_WORKER_POOL] worker %d drain job failed", w.id)
				}
			}()
		default:
			return
		}
	}
}
