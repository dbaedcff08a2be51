package qshard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const timeoutMsg = "Test timed out waiting for a job"

func TestWorker(t *testing.T) {
	Convey("Given a worker", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		pool := &Pool{
			ctx:     ctx,
			cancel:  cancel,
			workers: make(chan chan Job, 1),
		}

		worker := &Worker{
			pool: pool,
			jobs: make(chan Job, 1),
		}

		Reset(func() {
			cancel()
		})

		go worker.run()

		Convey("It should offer itself and run the job it is given", func() {
			var (
				done  sync.WaitGroup
				first uint64
				last  uint64
			)
			done.Add(1)

			select {
			case jobs := <-pool.workers:
				jobs <- Job{First: 3, Last: 9, Fn: func(f, l uint64) { first, last = f, l }, done: &done}
			case <-time.After(2 * time.Second):
				t.Fatal(timeoutMsg)
			}

			done.Wait()
			So(first, ShouldEqual, 3)
			So(last, ShouldEqual, 9)
		})

		Convey("It should come back for more work after a job", func() {
			var (
				done  sync.WaitGroup
				count atomic.Int32
			)

			for i := 0; i < 3; i++ {
				done.Add(1)
				select {
				case jobs := <-pool.workers:
					jobs <- Job{Fn: func(uint64, uint64) { count.Add(1) }, done: &done}
				case <-time.After(2 * time.Second):
					t.Fatal(timeoutMsg)
				}
				done.Wait()
			}

			So(count.Load(), ShouldEqual, 3)
		})
	})
}

func TestPool(t *testing.T) {
	Convey("Given a pool of four workers", t, func() {
		metrics := NewMetrics()
		pool := NewPool(context.Background(), 4, WithThreshold(8), WithPoolMetrics(metrics))

		Reset(func() {
			pool.Close()
		})

		Convey("ParallelFor should cover the space exactly once", func() {
			seen := make([]int32, 1000)
			pool.ParallelFor(uint64(len(seen)), func(first, last uint64) {
				for i := first; i < last; i++ {
					atomic.AddInt32(&seen[i], 1)
				}
			})

			for _, n := range seen {
				So(n, ShouldEqual, 1)
			}
			So(metrics.ExportMetrics()["qshard_parallel_jobs_total"], ShouldEqual, 4.0)
		})

		Convey("Spaces below the threshold should run inline as one range", func() {
			var calls int
			pool.ParallelFor(5, func(first, last uint64) {
				calls++
				So(first, ShouldEqual, 0)
				So(last, ShouldEqual, 5)
			})
			So(calls, ShouldEqual, 1)
		})

		Convey("An empty space should not call fn", func() {
			pool.ParallelFor(0, func(uint64, uint64) { t.Fatal("called on an empty space") })
		})
	})

	Convey("Given a closed pool", t, func() {
		pool := NewPool(context.Background(), 2, WithThreshold(1))
		pool.Close()

		Convey("ParallelFor should still complete inline", func() {
			var total atomic.Uint64
			pool.ParallelFor(100, func(first, last uint64) {
				total.Add(last - first)
			})
			So(total.Load(), ShouldEqual, 100)
		})
	})

	Convey("Given no pool at all", t, func() {
		var pool *Pool

		Convey("ParallelFor should run inline", func() {
			var calls int
			pool.ParallelFor(10, func(uint64, uint64) { calls++ })
			So(calls, ShouldEqual, 1)
			So(pool.Size(), ShouldEqual, 1)
		})
	})
}
