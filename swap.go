package qshard

import (
	"context"

	"github.com/theapemachine/errnie"
)

// swapStep brings one remote qubit into local position to.
type swapStep struct {
	qubit Qubit
	from  PhysicalBit
	to    PhysicalBit
}

/*
Route describes how a gate on the given qubits would execute right now: which
operands are resident, which sit on page bits, and which must be exchanged in.
*/
type Route struct {
	Resident []Qubit
	Paged    []Qubit
	Remote   []Qubit
}

// Plan classifies the operands of a gate without moving anything.
func (e *Engine) Plan(qubits ...Qubit) (Route, error) {
	var route Route

	for _, q := range qubits {
		p, err := e.perm.Lookup(q)
		if err != nil {
			return route, err
		}

		switch e.layout.Classify(p) {
		case PlacementLocal:
			route.Resident = append(route.Resident, q)
		case PlacementPage:
			route.Paged = append(route.Paged, q)
		default:
			route.Remote = append(route.Remote, q)
		}
	}

	return route, nil
}

/*
planSwaps picks a local position for every remote operand. Candidates are
walked down from the top chunk bit; positions held by pinned qubits are skipped
so an operand never evicts another one. pageLimit bounds how many operands may
end up on page bits, a negative limit means no bound. Nothing is mutated, so a
rejected gate leaves the store and the permutation untouched.
*/
func (e *Engine) planSwaps(name string, operands []Qubit, pinned []Qubit, pageLimit int) ([]swapStep, error) {
	chunk := e.layout.ChunkBits()
	occupied := make([]bool, chunk)
	paged := 0

	for _, q := range pinned {
		if p := e.perm.at(q); uint(p) < chunk {
			occupied[p] = true
		}
	}

	var remote []Qubit
	for _, q := range operands {
		switch p := e.perm.at(q); e.layout.Classify(p) {
		case PlacementPage:
			paged++
		case PlacementUnit, PlacementGlobal:
			remote = append(remote, q)
		}
	}

	reject := func(reason string) error {
		return &UnsupportedOperationError{
			Gate:          name,
			Qubits:        append([]Qubit(nil), operands...),
			Policy:        e.policy,
			PagedOperands: paged,
			Reason:        reason,
		}
	}

	if pageLimit >= 0 && paged > pageLimit {
		return nil, reject("too many operands on page bits")
	}

	steps := make([]swapStep, 0, len(remote))
	candidate := int(chunk) - 1

	for _, q := range remote {
		for candidate >= 0 {
			c := PhysicalBit(candidate)
			full := pageLimit >= 0 && paged >= pageLimit
			if !occupied[c] && !(e.layout.Classify(c) == PlacementPage && full) {
				break
			}
			candidate--
		}

		if candidate < 0 {
			return nil, reject("no free local position to exchange a remote operand into")
		}

		to := PhysicalBit(candidate)
		if e.layout.Classify(to) == PlacementPage {
			paged++
		}
		occupied[to] = true
		steps = append(steps, swapStep{qubit: q, from: e.perm.at(q), to: to})
		candidate--
	}

	return steps, nil
}

// executeSwaps moves data for every planned step, then relabels the permutation.
func (e *Engine) executeSwaps(ctx context.Context, steps []swapStep) error {
	for _, step := range steps {
		switch e.layout.Classify(step.from) {
		case PlacementUnit:
			e.interchangeUnit(step.from, step.to)
		case PlacementGlobal:
			if err := e.interchangeGlobal(ctx, step.from, step.to); err != nil {
				return err
			}
		}

		evicted := e.perm.qubitAt(step.to)
		errnie.Info(
			"rank %d interchange qubits %d and %d (physical %d <-> %d)",
			e.comm.Rank(), step.qubit, evicted, step.from, step.to,
		)

		if err := e.perm.Permutate(step.qubit, evicted); err != nil {
			return err
		}
		e.debug("permutation after interchange")
	}

	return nil
}

/*
interchangeUnit exchanges data between the data blocks that differ in unit
bit u so that afterwards u and the chunk bit c have traded contents: the
amplitudes at (u=0, c=1) and (u=1, c=0) change places.
*/
func (e *Engine) interchangeUnit(u, c PhysicalBit) {
	ub := uint(u) - e.layout.ChunkBits()
	local := e.layout.LocalBits
	swaps := 0

	for b0 := 0; b0 < e.store.NumDataBlocks(); b0++ {
		if b0>>ub&1 == 1 {
			continue
		}
		b1 := b0 | 1<<ub

		if e.layout.Classify(c) == PlacementPage {
			cb := uint(c) - local
			for page := 0; page < e.layout.NumPages(); page++ {
				if page>>cb&1 == 0 {
					continue
				}
				e.store.SwapPagesAcross(b0, page, b1, page^(1<<cb))
				swaps++
			}
			continue
		}

		mask := 1 << uint(c)
		for page := 0; page < e.layout.NumPages(); page++ {
			p0, p1 := e.store.PageRange(b0, page), e.store.PageRange(b1, page)
			for offset := range p0 {
				if offset&mask != 0 {
					p0[offset], p1[offset^mask] = p1[offset^mask], p0[offset]
				}
			}
		}
	}

	e.metrics.recordPageSwaps(swaps)
	e.metrics.recordExchange("unit", 0)
}

/*
interchangeGlobal swaps rank bit g with chunk bit c. Each rank sends the half
of its shard where c differs from its own value of g to the partner rank that
differs in g, and receives the partner's matching half into the same slots.
Both sides walk their halves in the same order, one buffer page at a time.
*/
func (e *Engine) interchangeGlobal(ctx context.Context, g, c PhysicalBit) error {
	gb := uint(g) - e.layout.ChunkBits() - e.layout.UnitBits
	rank := e.comm.Rank()
	peer := rank ^ (1 << gb)
	sendBit := 1 - (rank>>gb)&1
	local := e.layout.LocalBits
	sent := 0

	for block := 0; block < e.store.NumDataBlocks(); block++ {
		buffer := e.store.Buffer(block)

		if e.layout.Classify(c) == PlacementPage {
			cb := uint(c) - local
			for page := 0; page < e.layout.NumPages(); page++ {
				if page>>cb&1 != sendBit {
					continue
				}
				if err := e.comm.Exchange(ctx, peer, e.store.PageRange(block, page), buffer); err != nil {
					return err
				}
				e.store.SwapBufferWithPage(block, page)
				buffer = e.store.Buffer(block)
				sent += len(buffer)
			}
			continue
		}

		half := len(buffer) / 2
		for page := 0; page < e.layout.NumPages(); page++ {
			data := e.store.PageRange(block, page)

			n := 0
			for offset := range data {
				if offset>>uint(c)&1 == sendBit {
					buffer[n] = data[offset]
					n++
				}
			}

			if err := e.comm.Exchange(ctx, peer, buffer[:half], buffer[half:]); err != nil {
				return err
			}

			n = 0
			for offset := range data {
				if offset>>uint(c)&1 == sendBit {
					data[offset] = buffer[half+n]
					n++
				}
			}
			sent += half
		}
	}

	e.metrics.recordExchange("global", sent)
	return nil
}

/*
applyDegenerate handles gates that are pure permutations of basis states whose
operands sit where a pointer swap or a whole-shard exchange does the job
without touching any amplitude. It reports whether the gate was handled.
*/
func (e *Engine) applyDegenerate(ctx context.Context, g Gate) (bool, error) {
	switch {
	case g.kind == KindSwap && len(g.controls) == 0:
		if err := e.perm.Permutate(g.targets[0], g.targets[1]); err != nil {
			return true, err
		}
		e.metrics.recordGate(g.Name(), "relabel")
		return true, nil

	case g.kind == KindPauliX && len(g.controls) == 0:
		p := e.perm.at(g.targets[0])
		switch e.layout.Classify(p) {
		case PlacementPage:
			e.flipPage(p, 0)
		case PlacementUnit:
			e.flipBlock(p)
		case PlacementGlobal:
			if err := e.flipRank(ctx, p); err != nil {
				return true, err
			}
		default:
			return false, nil
		}
		e.metrics.recordGate(g.Name(), "flip-"+e.layout.Classify(p).String())
		return true, nil

	case g.kind == KindPauliX:
		p := e.perm.at(g.targets[0])
		if e.layout.Classify(p) != PlacementPage {
			return false, nil
		}

		var controlMask int
		for _, c := range g.controls {
			cp := e.perm.at(c.Qubit())
			if e.layout.Classify(cp) != PlacementPage {
				return false, nil
			}
			controlMask |= 1 << (uint(cp) - e.layout.LocalBits)
		}

		e.flipPage(p, controlMask)
		e.metrics.recordGate(g.Name(), "flip-controlled-page")
		return true, nil
	}

	return false, nil
}

// flipPage swaps the pages that differ in page bit p, among pages whose controlMask bits are all set.
func (e *Engine) flipPage(p PhysicalBit, controlMask int) {
	bit := 1 << (uint(p) - e.layout.LocalBits)
	swaps := 0

	for block := 0; block < e.store.NumDataBlocks(); block++ {
		for page := 0; page < e.layout.NumPages(); page++ {
			if page&bit != 0 || page&controlMask != controlMask {
				continue
			}
			e.store.SwapPages(block, page, page|bit)
			swaps++
		}
	}

	e.metrics.recordPageSwaps(swaps)
}

// flipBlock swaps the data blocks that differ in unit bit u.
func (e *Engine) flipBlock(u PhysicalBit) {
	bit := 1 << (uint(u) - e.layout.ChunkBits())
	swaps := 0

	for block := 0; block < e.store.NumDataBlocks(); block++ {
		if block&bit != 0 {
			continue
		}
		e.store.SwapBlocks(block, block|bit)
		swaps++
	}

	e.metrics.recordPageSwaps(swaps)
}

// flipRank trades the whole shard with the rank that differs in rank bit g.
func (e *Engine) flipRank(ctx context.Context, g PhysicalBit) error {
	gb := uint(g) - e.layout.ChunkBits() - e.layout.UnitBits
	peer := e.comm.Rank() ^ (1 << gb)
	sent := 0

	for block := 0; block < e.store.NumDataBlocks(); block++ {
		for page := 0; page < e.layout.NumPages(); page++ {
			if err := e.comm.Exchange(ctx, peer, e.store.PageRange(block, page), e.store.Buffer(block)); err != nil {
				return err
			}
			e.store.SwapBufferWithPage(block, page)
			sent += e.store.PageSize()
		}
	}

	e.metrics.recordExchange("rank-flip", sent)
	return nil
}
