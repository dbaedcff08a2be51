package qshard

import (
	"fmt"
	"math/cmplx"
	"sort"
	"strings"
)

// QubitState says whether a qubit holds one value for every amplitude a block reaches.
type QubitState int

const (
	StateNotGlobal QubitState = iota
	StateZero
	StateOne
)

func (s QubitState) String() string {
	switch s {
	case StateZero:
		return "|0>"
	case StateOne:
		return "|1>"
	default:
		return "not-global"
	}
}

/*
Block is an ordered run of gates that together touch at most the builder's
limit of distinct qubits.
*/
type Block struct {
	gates  []Gate
	qubits []Qubit
}

// NewBlock groups gates into one block without any size check.
func NewBlock(gates ...Gate) *Block {
	b := &Block{}
	for _, g := range gates {
		b.add(g)
	}
	return b
}

func (b *Block) add(g Gate) {
	b.gates = append(b.gates, g)
	for _, q := range g.Qubits() {
		if !b.touches(q) {
			b.qubits = append(b.qubits, q)
		}
	}
}

func (b *Block) touches(q Qubit) bool {
	for _, have := range b.qubits {
		if have == q {
			return true
		}
	}
	return false
}

// width is the distinct qubit count after adding g.
func (b *Block) width(g Gate) int {
	n := len(b.qubits)
	for _, q := range g.Qubits() {
		if !b.touches(q) {
			n++
		}
	}
	return n
}

func (b *Block) Gates() []Gate {
	return append([]Gate(nil), b.gates...)
}

// Qubits lists the distinct qubits in order of first use.
func (b *Block) Qubits() []Qubit {
	return append([]Qubit(nil), b.qubits...)
}

func (b *Block) Len() int {
	return len(b.gates)
}

func (b *Block) Name() string {
	names := make([]string, len(b.gates))
	for i, g := range b.gates {
		names[i] = g.Name()
	}
	return "fused[" + strings.Join(names, ",") + "]"
}

// actingQubits are the targets of non-diagonal gates. They must be local to run the block.
func (b *Block) actingQubits() []Qubit {
	var out []Qubit

	for _, g := range b.gates {
		if g.Diagonal() {
			continue
		}
		for _, t := range g.targets {
			seen := false
			for _, have := range out {
				seen = seen || have == t
			}
			if !seen {
				out = append(out, t)
			}
		}
	}

	return out
}

// FusionBuilder cuts a gate stream into blocks of bounded width.
type FusionBuilder struct {
	limit   int
	current *Block
}

func NewFusionBuilder(limit int) *FusionBuilder {
	if limit > MaxFusedQubits {
		limit = MaxFusedQubits
	}
	return &FusionBuilder{limit: limit}
}

/*
Add records g. When g does not fit the open block, the open block is returned
closed and g starts the next one. A gate wider than the limit is not fused at
all: the open block is returned and fused is false, so the caller applies the
gate on its own after the block.
*/
func (fb *FusionBuilder) Add(g Gate) (flushed *Block, fused bool) {
	if len(g.Qubits()) > fb.limit {
		return fb.Flush(), false
	}

	if fb.current != nil && fb.current.width(g) > fb.limit {
		flushed = fb.current
		fb.current = nil
	}

	if fb.current == nil {
		fb.current = &Block{}
	}
	fb.current.add(g)

	return flushed, true
}

// Flush closes and returns the open block, or nil.
func (fb *FusionBuilder) Flush() *Block {
	b := fb.current
	fb.current = nil
	return b
}

/*
Fold is the phase shift a gate degraded into. Control is the first qubit left
under the phase; Global means no qubit is left and the gate is a scalar.
*/
type Fold struct {
	Control ControlQubit
	Angle   float64
	Global  bool
}

/*
FusedGate is one gate of a compiled block. The negotiation methods specialise
it against the qubits whose values are fixed for the block; once compiled it
only runs.
*/
type FusedGate struct {
	gate     Gate
	enabled  []bool
	state    QubitState
	inactive bool
	folded   bool
	fold     Fold
	rest     []Qubit
	operands []Qubit
	kernel   kernel
	mask     IndexMask
	scalar   complex128
	isScalar bool
}

func newFusedGate(g Gate) *FusedGate {
	f := &FusedGate{
		gate:    g,
		enabled: make([]bool, len(g.controls)),
		scalar:  1,
	}
	for i := range f.enabled {
		f.enabled[i] = true
	}
	return f
}

/*
DisableControlQubits drops controls known to be 1 everywhere the block runs.
The gate then acts as if they were always satisfied.
*/
func (f *FusedGate) DisableControlQubits(found []ControlQubit) {
	if f.folded {
		return
	}

	for i, c := range f.gate.controls {
		for _, other := range found {
			if c == other {
				f.enabled[i] = false
			}
		}
	}
}

/*
ModifyGlobalState tells an exponential-Z gate that its target is fixed, which
turns it into a global phase of e^{iθ} for |0> or e^{-iθ} for |1>.
*/
func (f *FusedGate) ModifyGlobalState(found []Qubit, states []QubitState) {
	if f.gate.kind != KindExponentialPauliZ {
		return
	}

	for i, q := range found {
		if q == f.gate.targets[0] && states[i] != StateNotGlobal {
			f.state = states[i]
		}
	}
}

/*
MaybeFoldToPhaseShift degrades a phase-shift family gate whose qubits include
fixed ones into a plain phase shift on the qubits left. The angle is kept when
every fixed qubit is 1 and becomes zero otherwise. The fold happens at most
once; later calls report the fold already made.
*/
func (f *FusedGate) MaybeFoldToPhaseShift(found []Qubit, states []QubitState) (Fold, bool) {
	if f.folded {
		return f.fold, true
	}

	if !f.gate.symmetricPhase() {
		return Fold{}, false
	}

	var (
		hit  bool
		one  = true
		rest []Qubit
	)

	for _, q := range f.gate.Qubits() {
		index := -1
		for i, other := range found {
			if other == q && states[i] != StateNotGlobal {
				index = i
			}
		}

		if index < 0 {
			rest = append(rest, q)
			continue
		}

		hit = true
		one = one && states[index] == StateOne
	}

	if !hit {
		return Fold{}, false
	}

	f.folded = true
	f.rest = rest
	if one {
		f.fold.Angle = f.gate.angle()
	}

	if len(rest) == 0 {
		f.fold.Global = true
	} else {
		f.fold.Control = Control(rest[0])
	}

	return f.fold, true
}

// finalize freezes the gate: operands, kernel and scalar follow from the negotiation.
func (f *FusedGate) finalize() {
	switch {
	case f.inactive:
		return

	case f.folded:
		f.operands = f.rest
		value := cmplx.Exp(complex(0, f.fold.Angle))
		if len(f.rest) == 0 {
			f.scalar, f.isScalar = value, true
			return
		}
		f.kernel = kernel{shape: shapePhase, value: value, controls: len(f.rest)}

	case f.state != StateNotGlobal:
		f.operands = f.enabledControls()
		value := f.gate.diagonalEntries()[f.state-StateZero]
		if len(f.operands) == 0 {
			f.scalar, f.isScalar = value, true
			return
		}
		f.kernel = kernel{shape: shapePhase, value: value, controls: len(f.operands)}

	default:
		f.operands = append(append([]Qubit(nil), f.gate.targets...), f.enabledControls()...)
		f.kernel = f.gate.kernel()
		if f.kernel.shape == shapePhase {
			f.kernel.targets, f.kernel.controls = 0, len(f.operands)
		} else {
			f.kernel.controls = len(f.operands) - f.kernel.targets
		}
	}
}

func (f *FusedGate) enabledControls() []Qubit {
	var out []Qubit
	for i, c := range f.gate.controls {
		if f.enabled[i] {
			out = append(out, c.Qubit())
		}
	}
	return out
}

func (f *FusedGate) Gate() Gate {
	return f.gate
}

// Inactive reports a gate with a control fixed at 0, which never acts.
func (f *FusedGate) Inactive() bool {
	return f.inactive
}

func (f *FusedGate) Folded() (Fold, bool) {
	return f.fold, f.folded
}

// GlobalState is the fixed value of an exponential-Z target, if any.
func (f *FusedGate) GlobalState() QubitState {
	return f.state
}

// DisabledControls counts controls dropped as always satisfied.
func (f *FusedGate) DisabledControls() int {
	n := 0
	for _, on := range f.enabled {
		if !on {
			n++
		}
	}
	return n
}

// Operands are the qubits the compiled gate still addresses.
func (f *FusedGate) Operands() []Qubit {
	return append([]Qubit(nil), f.operands...)
}

// Scalar is the global phase of a gate that no longer addresses any qubit.
func (f *FusedGate) Scalar() (complex128, bool) {
	return f.scalar, f.isScalar
}

/*
CompiledBlock is a block specialised for one set of fixed qubit values. The
window lists the qubits that stay variable; window bit i is window[i].
*/
type CompiledBlock struct {
	gates  []*FusedGate
	window []Qubit
	phase  complex128
}

/*
CompileBlock runs the negotiation in two phases. Analysis splits the block's
qubits into the window and the fixed ones. Specialisation then copies every
gate and, in block order, offers it the fold to a phase shift, drops controls
fixed at 1, deactivates it on a control fixed at 0, and hands exponential-Z
gates their fixed targets. The result does not change afterwards.
*/
func CompileBlock(b *Block, fixed map[Qubit]QubitState) (*CompiledBlock, error) {
	cb := &CompiledBlock{phase: 1}

	found := make([]Qubit, 0, len(fixed))
	for _, q := range b.qubits {
		if state, ok := fixed[q]; ok && state != StateNotGlobal {
			found = append(found, q)
			continue
		}
		cb.window = append(cb.window, q)
	}
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })

	if len(cb.window) > MaxFusedQubits {
		return nil, fmt.Errorf("%w: %s spans %d local qubits, at most %d fuse", ErrConfiguration, b.Name(), len(cb.window), MaxFusedQubits)
	}

	states := make([]QubitState, len(found))
	var ones []ControlQubit
	for i, q := range found {
		states[i] = fixed[q]
		if states[i] == StateOne {
			ones = append(ones, Control(q))
		}
	}

	windowBit := make(map[Qubit]uint, len(cb.window))
	for i, q := range cb.window {
		windowBit[q] = uint(i)
	}

	for _, g := range b.gates {
		f := newFusedGate(g)

		f.MaybeFoldToPhaseShift(found, states)
		f.DisableControlQubits(ones)
		if !f.folded {
			for _, c := range g.controls {
				if fixed[c.Qubit()] == StateZero {
					f.inactive = true
				}
			}
		}
		f.ModifyGlobalState(found, states)

		if !f.inactive && !f.folded && !g.Diagonal() {
			for _, t := range g.targets {
				if _, ok := windowBit[t]; !ok {
					return nil, fmt.Errorf("%w: %s acts on qubit %d outside local memory", ErrUnsupportedPageOperation, g.Name(), t)
				}
			}
		}

		f.finalize()

		if f.isScalar {
			cb.phase *= f.scalar
		}

		if !f.inactive && !f.isScalar {
			positions := make([]uint, len(f.operands))
			for j, q := range f.operands {
				positions[j] = windowBit[q]
			}

			mask, err := NewIndexMask(uint(len(cb.window)), positions...)
			if err != nil {
				return nil, err
			}
			f.mask = mask
		}

		cb.gates = append(cb.gates, f)
	}

	return cb, nil
}

// Window lists the variable qubits, window bit order.
func (cb *CompiledBlock) Window() []Qubit {
	return append([]Qubit(nil), cb.window...)
}

// Phase is the product of every gate that collapsed to a scalar.
func (cb *CompiledBlock) Phase() complex128 {
	return cb.phase
}

// Gates returns the compiled gates in block order.
func (cb *CompiledBlock) Gates() []*FusedGate {
	return append([]*FusedGate(nil), cb.gates...)
}

/*
Apply runs every gate on one window of 2^len(Window()) amplitudes, then
multiplies in the block phase.
*/
func (cb *CompiledBlock) Apply(window []complex128) {
	r := NewRange(window)

	for _, f := range cb.gates {
		if f.inactive || f.isScalar {
			continue
		}
		f.kernel.apply(r, &f.mask, 0, f.mask.Count())
	}

	if cb.phase != 1 {
		for i := range window {
			window[i] *= cb.phase
		}
	}
}
