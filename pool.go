package qshard

import (
	"context"
	"log"
	"runtime"
	"sync"

	"github.com/theapemachine/errnie"
)

// DefaultThreshold is the smallest reduced index space worth splitting.
const DefaultThreshold = 1 << 12

/*
Pool is a fixed set of long-lived workers running a fork-join parallel-for.
Each call splits a reduced index space into contiguous ranges, one per worker,
and returns once every range is done, which is the barrier between two gate
applications.
*/
type Pool struct {
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	workers    chan chan Job
	workerMu   sync.Mutex
	workerList []*Worker
	size       int
	threshold  uint64
	metrics    *Metrics
}

// NewPool starts size workers. A size below one uses every CPU.
func NewPool(ctx context.Context, size int, opts ...PoolOption) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		ctx:        ctx,
		cancel:     cancel,
		workers:    make(chan chan Job, size),
		workerList: make([]*Worker, 0, size),
		size:       size,
		threshold:  DefaultThreshold,
	}

	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < size; i++ {
		p.startWorker()
	}

	return p
}

// Size is the number of workers.
func (p *Pool) Size() int {
	if p == nil {
		return 1
	}
	return p.size
}

/*
ParallelFor calls fn over disjoint contiguous ranges covering [0, n) and waits
for all of them. Small spaces, a nil pool and a closed pool run inline.
*/
func (p *Pool) ParallelFor(n uint64, fn func(first, last uint64)) {
	if n == 0 {
		return
	}

	if p == nil || p.size == 1 || n < p.threshold || p.ctx.Err() != nil {
		fn(0, n)
		return
	}

	parts := uint64(p.size)
	if parts > n {
		parts = n
	}

	var done sync.WaitGroup
	done.Add(int(parts))

	for i := uint64(0); i < parts; i++ {
		job := Job{
			First: n * i / parts,
			Last:  n * (i + 1) / parts,
			Fn:    fn,
			done:  &done,
		}

		select {
		case workerChan := <-p.workers:
			workerChan <- job
		case <-p.ctx.Done():
			job.run()
		}
	}

	done.Wait()
	p.metrics.recordParallelJobs(parts)
}

func (p *Pool) startWorker() {
	worker := &Worker{
		pool: p,
		jobs: make(chan Job, 1),
	}

	p.workerMu.Lock()
	p.workerList = append(p.workerList, worker)
	p.workerMu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		worker.run()
	}()
}

// Close stops the workers. It must not race a running ParallelFor.
func (p *Pool) Close() {
	if p == nil {
		return
	}

	if p.cancel != nil {
		p.cancel()
	}

	p.wg.Wait()

	p.workerMu.Lock()
	for _, worker := range p.workerList {
		select {
		case job := <-worker.jobs:
			log.Printf("running job [%d, %d) left behind by a closed worker", job.First, job.Last)
			job.run()
		default:
		}
	}
	p.workerList = nil
	p.workerMu.Unlock()

	errnie.Info("worker pool closed, %d workers", p.size)
}
