package qshard

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/theapemachine/errnie"
)

// MaxGatheredQubits bounds Amplitudes, which copies the full vector to every rank.
const MaxGatheredQubits = 20

// Spin is the expectation of the spin-½ operators on one qubit.
type Spin struct {
	X float64
	Y float64
	Z float64
}

// localSum adds fn over every amplitude of the shard, split across the pool.
func (e *Engine) localSum(fn func(physical uint64, a complex128) float64) float64 {
	var (
		mu    sync.Mutex
		total float64
	)

	for block := 0; block < e.store.NumDataBlocks(); block++ {
		r := e.store.Range(block)
		base := e.layout.Compose(e.comm.Rank(), block, 0)

		e.pool.ParallelFor(r.Len(), func(first, last uint64) {
			var sum float64
			for i := first; i < last; i++ {
				sum += fn(base|i, r.At(i))
			}
			mu.Lock()
			total += sum
			mu.Unlock()
		})
	}

	return total
}

func norm(a complex128) float64 {
	return real(a)*real(a) + imag(a)*imag(a)
}

// TotalProbability is Σ|a|² over the whole register.
func (e *Engine) TotalProbability(ctx context.Context) (float64, error) {
	if err := e.settle(ctx); err != nil {
		return 0, err
	}

	values := []float64{e.localSum(func(_ uint64, a complex128) float64 {
		return norm(a)
	})}

	e.metrics.recordCollective("all-reduce")
	if err := e.comm.AllReduce(ctx, values); err != nil {
		return 0, err
	}
	return values[0], nil
}

/*
ProjectiveMeasurement measures q in the computational basis, collapses the
register onto the outcome and renormalises it. Every rank reaches the same
outcome: rank 0 draws from the engine's generator and the draw is shared
through a reduction.
*/
func (e *Engine) ProjectiveMeasurement(ctx context.Context, q Qubit) (int, error) {
	if uint(q) >= e.NumQubits() {
		return 0, &InvalidQubitError{Gate: "measure", Qubit: q, NumQubits: e.NumQubits(), Reason: "out of range"}
	}

	if err := e.settle(ctx); err != nil {
		return 0, err
	}

	mask := BitMask(e.perm.at(q))

	values := []float64{
		e.localSum(func(physical uint64, a complex128) float64 {
			if physical&mask == 0 {
				return 0
			}
			return norm(a)
		}),
		e.localSum(func(_ uint64, a complex128) float64 {
			return norm(a)
		}),
		0,
	}

	if e.comm.Rank() == 0 {
		values[2] = e.rng.Float64()
	}

	e.metrics.recordCollective("all-reduce")
	if err := e.comm.AllReduce(ctx, values); err != nil {
		return 0, err
	}

	p1, total, draw := values[0], values[1], values[2]

	outcome, kept := 0, total-p1
	if draw*total < p1 {
		outcome, kept = 1, p1
	}

	scale := complex(1/math.Sqrt(kept), 0)
	for block := 0; block < e.store.NumDataBlocks(); block++ {
		r := e.store.Range(block)
		base := e.layout.Compose(e.comm.Rank(), block, 0)

		e.pool.ParallelFor(r.Len(), func(first, last uint64) {
			for i := first; i < last; i++ {
				set := (base|i)&mask != 0
				if set == (outcome == 1) {
					r.Set(i, r.At(i)*scale)
				} else {
					r.Set(i, 0)
				}
			}
		})
	}

	errnie.Info("rank %d measured qubit %d: %d (p1 %.6f)", e.comm.Rank(), q, outcome, p1/total)
	e.metrics.recordGate("measure", "collapse")

	return outcome, nil
}

/*
ExpectationValues returns the spin vector of every logical qubit. Qubits that
are not in the chunk are exchanged in first, one at a time, so the pairs of
amplitudes that differ in the qubit always sit in the same data block.
*/
func (e *Engine) ExpectationValues(ctx context.Context) ([]Spin, error) {
	if err := e.settle(ctx); err != nil {
		return nil, err
	}

	n := e.NumQubits()
	values := make([]float64, 3*n)

	for q := Qubit(0); uint(q) < n; q++ {
		steps, err := e.planSwaps("expectation", []Qubit{q}, []Qubit{q}, -1)
		if err != nil {
			return nil, err
		}
		if err := e.executeSwaps(ctx, steps); err != nil {
			return nil, err
		}

		mask, err := NewIndexMask(e.layout.ChunkBits(), uint(e.perm.at(q)))
		if err != nil {
			return nil, err
		}

		var mu sync.Mutex
		for block := 0; block < e.store.NumDataBlocks(); block++ {
			r := e.store.Range(block)

			e.pool.ParallelFor(mask.Count(), func(first, last uint64) {
				var x, y, z float64
				for idx := first; idx < last; idx++ {
					a0, a1 := r.At(mask.Index(idx, 0)), r.At(mask.Index(idx, 1))
					c := complex(real(a0), -imag(a0)) * a1
					x += real(c)
					y += imag(c)
					z += (norm(a0) - norm(a1)) / 2
				}
				mu.Lock()
				values[3*q] += x
				values[3*q+1] += y
				values[3*q+2] += z
				mu.Unlock()
			})
		}
	}

	e.metrics.recordCollective("all-reduce")
	if err := e.comm.AllReduce(ctx, values); err != nil {
		return nil, err
	}

	spins := make([]Spin, n)
	for q := range spins {
		spins[q] = Spin{X: values[3*q], Y: values[3*q+1], Z: values[3*q+2]}
	}
	return spins, nil
}

/*
Sample draws count basis states from the distribution |a|². Every rank draws
the same uniforms from seed. Data block weights are gathered so each draw is
resolved by the rank owning it; the logical indices are then combined with a
reduction and returned in draw order.
*/
func (e *Engine) Sample(ctx context.Context, count int, seed int64) ([]uint64, error) {
	if err := e.settle(ctx); err != nil {
		return nil, err
	}

	if count <= 0 {
		return nil, nil
	}

	blocks := e.store.NumDataBlocks()
	weights := make([]float64, blocks)
	for block := range weights {
		e.store.Range(block).ForEach(func(_ uint64, a complex128) {
			weights[block] += norm(a)
		})
	}

	e.metrics.recordCollective("all-gather")
	all, err := e.comm.AllGather(ctx, weights)
	if err != nil {
		return nil, err
	}

	var total float64
	for _, w := range all {
		total += w
	}
	if total == 0 {
		return nil, configErrorf("cannot sample from a register with zero norm")
	}

	rng := rand.New(rand.NewSource(seed))
	draws := make([]float64, count)
	for i := range draws {
		draws[i] = rng.Float64() * total
	}

	owned := make(map[int][]int)
	for i, u := range draws {
		slot, rest := -1, u
		for s, w := range all {
			if w > 0 && rest < w {
				slot = s
				break
			}
			rest -= w
		}

		// rounding can push a draw past the last weight
		if slot < 0 {
			for s := len(all) - 1; s >= 0; s-- {
				if all[s] > 0 {
					slot, rest = s, all[s]
					break
				}
			}
		}
		draws[i] = rest

		if slot/blocks == e.comm.Rank() {
			owned[slot%blocks] = append(owned[slot%blocks], i)
		}
	}

	results := make([]float64, count)
	for block, indices := range owned {
		sort.Slice(indices, func(a, b int) bool { return draws[indices[a]] < draws[indices[b]] })

		r := e.store.Range(block)
		base := e.layout.Compose(e.comm.Rank(), block, 0)
		var (
			cum  float64
			next int
			last uint64
		)

		for offset := uint64(0); offset < r.Len() && next < len(indices); offset++ {
			w := norm(r.At(offset))
			if w == 0 {
				continue
			}
			last = offset
			cum += w
			for next < len(indices) && draws[indices[next]] < cum {
				results[indices[next]] = float64(e.perm.InversePermutateBits(base | offset))
				next++
			}
		}

		for ; next < len(indices); next++ {
			results[indices[next]] = float64(e.perm.InversePermutateBits(base | last))
		}
	}

	e.metrics.recordCollective("all-reduce")
	if err := e.comm.AllReduce(ctx, results); err != nil {
		return nil, err
	}

	out := make([]uint64, count)
	for i, v := range results {
		out[i] = uint64(v)
	}
	return out, nil
}

// Amplitudes gathers the full state vector in logical index order on every rank.
func (e *Engine) Amplitudes(ctx context.Context) ([]complex128, error) {
	n := e.NumQubits()
	if n > MaxGatheredQubits {
		return nil, configErrorf("cannot gather %d qubits, at most %d", n, MaxGatheredQubits)
	}

	if err := e.settle(ctx); err != nil {
		return nil, err
	}

	size := uint64(1) << n
	values := make([]float64, 2*size)

	for block := 0; block < e.store.NumDataBlocks(); block++ {
		base := e.layout.Compose(e.comm.Rank(), block, 0)
		e.store.Range(block).ForEach(func(i uint64, a complex128) {
			logical := e.perm.InversePermutateBits(base | i)
			values[2*logical] = real(a)
			values[2*logical+1] = imag(a)
		})
	}

	e.metrics.recordCollective("all-reduce")
	if err := e.comm.AllReduce(ctx, values); err != nil {
		return nil, err
	}

	out := make([]complex128, size)
	for i := range out {
		out[i] = complex(values[2*i], values[2*i+1])
	}
	return out, nil
}
