package qshard

import "sync"

/*
Job is one contiguous slice [First, Last) of a reduced index space, handed to a
worker by the pool's parallel-for.
*/
type Job struct {
	First uint64
	Last  uint64
	Fn    func(first, last uint64)
	done  *sync.WaitGroup
}

func (j Job) run() {
	defer j.done.Done()
	j.Fn(j.First, j.Last)
}

// PoolOption is a function type for configuring pools
type PoolOption func(*Pool)

// WithThreshold sets the smallest index space that is split across workers.
func WithThreshold(threshold uint64) PoolOption {
	return func(p *Pool) {
		p.threshold = threshold
	}
}

// WithPoolMetrics makes the pool count dispatched jobs.
func WithPoolMetrics(metrics *Metrics) PoolOption {
	return func(p *Pool) {
		p.metrics = metrics
	}
}
