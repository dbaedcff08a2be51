package qshard

import (
	"context"
	"fmt"

	"github.com/theapemachine/errnie"
	"golang.org/x/sync/errgroup"
)

// linkDepth is how many messages may be in flight between two ranks.
const linkDepth = 4

/*
World runs a set of ranks as goroutines of one process, joined by buffered
channels. Every ordered pair of ranks has its own link, so messages between two
ranks stay in order and a send never waits for the matching receive.
*/
type World struct {
	size  int
	links [][]chan []byte
}

// NewWorld creates a world of size ranks. size must be a power of two.
func NewWorld(size int) (*World, error) {
	if size < 1 || size&(size-1) != 0 {
		return nil, configErrorf("world size %d is not a power of two", size)
	}

	w := &World{
		size:  size,
		links: make([][]chan []byte, size),
	}

	for src := range w.links {
		w.links[src] = make([]chan []byte, size)
		for dst := range w.links[src] {
			w.links[src][dst] = make(chan []byte, linkDepth)
		}
	}

	return w, nil
}

func (w *World) Size() int {
	return w.size
}

// Communicator returns the communicator of one rank.
func (w *World) Communicator(rank int) Communicator {
	return NewCommunicator(&worldTransport{world: w, rank: rank})
}

/*
Run calls fn once per rank, concurrently, and waits for all of them. The first
failing rank cancels the context of the others, so a rank blocked in an
exchange with it fails too instead of hanging.
*/
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, comm Communicator) error) error {
	g, gCtx := errgroup.WithContext(ctx)

	for rank := 0; rank < w.size; rank++ {
		comm := w.Communicator(rank)
		g.Go(func() error {
			if err := fn(gCtx, comm); err != nil {
				return fmt.Errorf("rank %d: %w", comm.Rank(), err)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		errnie.Info("world of %d ranks failed: %v", w.size, err)
	}

	return err
}

type worldTransport struct {
	world *World
	rank  int
}

func (t *worldTransport) Rank() int {
	return t.rank
}

func (t *worldTransport) Size() int {
	return t.world.size
}

func (t *worldTransport) Send(ctx context.Context, peer int, payload []byte) error {
	if peer < 0 || peer >= t.world.size {
		return fmt.Errorf("no rank %d in a world of %d", peer, t.world.size)
	}

	select {
	case t.world.links[t.rank][peer] <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *worldTransport) Recv(ctx context.Context, peer int) ([]byte, error) {
	if peer < 0 || peer >= t.world.size {
		return nil, fmt.Errorf("no rank %d in a world of %d", peer, t.world.size)
	}

	select {
	case payload := <-t.world.links[peer][t.rank]:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
