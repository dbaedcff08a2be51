package qshard

// Worker runs the jobs the pool hands it, one at a time.
type Worker struct {
	pool *Pool
	jobs chan Job
}

/*
run offers the worker's job channel to the pool, then waits for the job the
pool sends back. It returns when the pool is closed.
*/
func (w *Worker) run() {
	for {
		select {
		case <-w.pool.ctx.Done():
			return
		case w.pool.workers <- w.jobs:
			select {
			case job := <-w.jobs:
				job.run()
			case <-w.pool.ctx.Done():
				return
			}
		}
	}
}
