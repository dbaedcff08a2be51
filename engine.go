package qshard

import (
	"context"
	"log"
	"math/rand"

	"github.com/davecgh/go-spew/spew"
	"github.com/theapemachine/errnie"
)

/*
Engine owns one process's part of a simulation: the permutation table, the
amplitude shard and the worker pool. It is driven by a single goroutine; gates
apply one after the other, each one finishing on every worker before the next
one starts.
*/
type Engine struct {
	config   *Config
	layout   Layout
	policy   Policy
	perm     *Permutation
	store    *Store
	comm     Communicator
	pool     *Pool
	ownsPool bool
	metrics  *Metrics
	rng      *rand.Rand
	fusion   *FusionBuilder
}

// EngineOption is a function type for configuring engines
type EngineOption func(*Engine)

// WithPool shares an existing pool instead of starting one per engine.
func WithPool(pool *Pool) EngineOption {
	return func(e *Engine) {
		e.pool = pool
	}
}

// WithMetrics makes the engine record into metrics.
func WithMetrics(metrics *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// NewEngine validates cfg against comm and prepares the initial basis state.
func NewEngine(cfg *Config, comm Communicator, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = NewConfig()
	}

	if err := cfg.Validate(comm.Size()); err != nil {
		return nil, err
	}

	perm := NewPermutation(cfg.Layout.NumQubits())
	if cfg.BitAssignment != nil {
		var err error
		if perm, err = NewPermutationFrom(cfg.BitAssignment); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		config: cfg,
		layout: cfg.Layout,
		policy: cfg.Policy,
		perm:   perm,
		store:  NewStore(cfg.Layout, comm.Rank()),
		comm:   comm,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		e.metrics = NewMetrics()
	}

	if e.pool == nil {
		e.pool = NewPool(context.Background(), cfg.Workers, WithThreshold(cfg.ParallelThreshold), WithPoolMetrics(e.metrics))
		e.ownsPool = true
	}

	e.store.SetBasisState(perm.PermutateBits(cfg.InitialState))

	errnie.Info("engine ready on rank %d of %d: %s, policy %s", comm.Rank(), comm.Size(), e.layout, e.policy)
	e.debug("initial permutation")

	return e, nil
}

/*
Close stops the engine's own pool. Gates still recorded in an open fused block
are dropped with a warning: running them could wait on collectives with ranks
that have already gone.
*/
func (e *Engine) Close() {
	if e.fusion != nil {
		if b := e.fusion.Flush(); b != nil {
			log.Printf("qshard: rank %d closed with %d fused gates never applied", e.comm.Rank(), b.Len())
		}
		e.fusion = nil
	}

	if e.ownsPool {
		e.pool.Close()
	}
}

func (e *Engine) NumQubits() uint {
	return e.layout.NumQubits()
}

func (e *Engine) Layout() Layout {
	return e.layout
}

func (e *Engine) Rank() int {
	return e.comm.Rank()
}

// Permutation returns a copy of the current logical to physical mapping.
func (e *Engine) Permutation() *Permutation {
	return e.perm.Clone()
}

func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Placement reports where a logical qubit currently lives.
func (e *Engine) Placement(q Qubit) (Placement, error) {
	p, err := e.perm.Lookup(q)
	if err != nil {
		return 0, err
	}
	return e.layout.Classify(p), nil
}

/*
Apply validates g and routes it to wherever its operands live. Between
BeginFusion and EndFusion the gate is recorded into a fused block instead.
*/
func (e *Engine) Apply(ctx context.Context, g Gate) error {
	if err := g.validate(e.NumQubits()); err != nil {
		return err
	}

	if e.fusion == nil {
		return e.applyGate(ctx, g)
	}

	flushed, fused := e.fusion.Add(g)
	if flushed != nil {
		if err := e.ApplyBlock(ctx, flushed); err != nil {
			return err
		}
	}

	if !fused {
		return e.applyGate(ctx, g)
	}

	return nil
}

// ApplyAll applies gates in order and stops at the first error.
func (e *Engine) ApplyAll(ctx context.Context, gates ...Gate) error {
	for _, g := range gates {
		if err := e.Apply(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

// BeginFusion starts recording gates into fused blocks.
func (e *Engine) BeginFusion() {
	e.fusion = NewFusionBuilder(e.config.MaxFusedQubits)
}

// EndFusion runs whatever is still recorded and stops fusing.
func (e *Engine) EndFusion(ctx context.Context) error {
	err := e.settle(ctx)
	e.fusion = nil
	return err
}

/*
settle runs the open fused block so that reads of the state see every gate
applied so far. Fusion stays on and the next gate starts a fresh block.
*/
func (e *Engine) settle(ctx context.Context) error {
	if e.fusion == nil {
		return nil
	}

	if block := e.fusion.Flush(); block != nil {
		return e.ApplyBlock(ctx, block)
	}
	return nil
}

func (e *Engine) applyGate(ctx context.Context, g Gate) error {
	if handled, err := e.applyDegenerate(ctx, g); handled || err != nil {
		return err
	}

	operands := g.Qubits()

	steps, err := e.planSwaps(g.Name(), operands, operands, e.policy.MaxPagedOperands())
	if err != nil {
		return err
	}

	if err := e.executeSwaps(ctx, steps); err != nil {
		return err
	}

	path, err := e.runKernel(g, operands)
	if err != nil {
		return err
	}
	if len(steps) > 0 {
		path = "exchanged-" + path
	}
	e.metrics.recordGate(g.Name(), path)

	return nil
}

/*
runKernel applies g to operands that are all resident or paged. Without paged
operands the whole chunk is one range; otherwise every group of pages that
differ only in the paged bits is gathered into one range and swept on its own.
*/
func (e *Engine) runKernel(g Gate, operands []Qubit) (string, error) {
	k := g.kernel()
	local := e.layout.LocalBits
	positions := make([]uint, len(operands))
	paged := make([]PhysicalBit, 0, 2)

	for j, q := range operands {
		p := e.perm.at(q)
		positions[j] = uint(p)
		if e.layout.Classify(p) == PlacementPage {
			positions[j] = local + uint(len(paged))
			paged = append(paged, p)
		}
	}

	if len(paged) == 0 {
		mask, err := NewIndexMask(e.layout.ChunkBits(), positions...)
		if err != nil {
			return "", err
		}

		for block := 0; block < e.store.NumDataBlocks(); block++ {
			e.sweep(e.store.Range(block), &mask, &k)
		}
		return "resident", nil
	}

	mask, err := NewIndexMask(local+uint(len(paged)), positions...)
	if err != nil {
		return "", err
	}

	var pagedMask int
	for _, p := range paged {
		pagedMask |= 1 << (uint(p) - local)
	}

	for block := 0; block < e.store.NumDataBlocks(); block++ {
		for base := 0; base < e.layout.NumPages(); base++ {
			if base&pagedMask != 0 {
				continue
			}

			r, err := e.store.PagedRange(block, base, paged)
			if err != nil {
				return "", err
			}
			e.sweep(r, &mask, &k)
		}
	}

	return "paged", nil
}

/*
ApplyBlock runs a fused block. Its acting qubits are first exchanged into the
chunk, the other block qubits are pinned so they are never evicted. Qubits
that stay unit or rank bits hold a fixed value in each data block, so the block
is compiled once per data block against those values and run window by window.
*/
func (e *Engine) ApplyBlock(ctx context.Context, b *Block) error {
	if b == nil || b.Len() == 0 {
		return nil
	}

	for _, g := range b.gates {
		if err := g.validate(e.NumQubits()); err != nil {
			return err
		}
	}

	steps, err := e.planSwaps(b.Name(), b.actingQubits(), b.Qubits(), -1)
	if err != nil {
		return err
	}

	if err := e.executeSwaps(ctx, steps); err != nil {
		return err
	}

	width := 0
	for block := 0; block < e.store.NumDataBlocks(); block++ {
		compiled, err := CompileBlock(b, e.fixedStates(b.qubits, block))
		if err != nil {
			return err
		}

		e.recordFolds(compiled)
		if err := e.runBlock(compiled, block); err != nil {
			return err
		}
		width = len(compiled.window)
	}

	e.metrics.recordBlock(width)
	return nil
}

// fixedStates gives the value every qubit outside the chunk holds in a data block.
func (e *Engine) fixedStates(qubits []Qubit, block int) map[Qubit]QubitState {
	base := e.layout.Compose(e.comm.Rank(), block, 0)
	fixed := make(map[Qubit]QubitState)

	for _, q := range qubits {
		p := e.perm.at(q)
		if uint(p) < e.layout.ChunkBits() {
			continue
		}

		fixed[q] = StateZero
		if base&BitMask(p) != 0 {
			fixed[q] = StateOne
		}
	}

	return fixed
}

func (e *Engine) recordFolds(cb *CompiledBlock) {
	for _, f := range cb.gates {
		switch {
		case f.inactive:
			e.metrics.recordFold("inactive")
		case f.folded:
			e.metrics.recordFold("phase-shift")
		case f.state != StateNotGlobal:
			e.metrics.recordFold("global-state")
		}
		if n := f.DisabledControls(); n > 0 {
			e.metrics.recordFold("control")
		}
	}
}

/*
runBlock gathers the 2^k amplitudes of every window, applies the compiled
block to them and scatters them back. With an empty window only the block
phase is left to multiply in.
*/
func (e *Engine) runBlock(cb *CompiledBlock, block int) error {
	r := e.store.Range(block)

	if len(cb.window) == 0 {
		if cb.phase == 1 {
			return nil
		}
		e.pool.ParallelFor(r.Len(), func(first, last uint64) {
			for i := first; i < last; i++ {
				r.Set(i, cb.phase*r.At(i))
			}
		})
		return nil
	}

	positions := make([]uint, len(cb.window))
	for i, q := range cb.window {
		positions[i] = uint(e.perm.at(q))
	}

	mask, err := NewIndexMask(e.layout.ChunkBits(), positions...)
	if err != nil {
		return err
	}

	size := 1 << len(cb.window)
	e.pool.ParallelFor(mask.Count(), func(first, last uint64) {
		indices := make([]uint64, size)
		window := make([]complex128, size)

		for idx := first; idx < last; idx++ {
			mask.Indices(idx, indices)
			for c, i := range indices {
				window[c] = r.At(i)
			}
			cb.Apply(window)
			for c, i := range indices {
				r.Set(i, window[c])
			}
		}
	})

	return nil
}

// sweep runs k over the whole reduced space of mask, split across the pool.
func (e *Engine) sweep(r Range, mask *IndexMask, k *kernel) {
	e.pool.ParallelFor(mask.Count(), func(first, last uint64) {
		k.apply(r, mask, first, last)
	})
}

func (e *Engine) debug(label string) {
	if !e.config.Debug {
		return
	}
	log.Printf("rank %d %s:\n%s", e.comm.Rank(), label, spew.Sdump(e.perm.data))
}
