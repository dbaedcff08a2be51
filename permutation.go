package qshard

import (
	"fmt"
	"strings"
)

/*
Permutation is the bijection between logical qubits and physical bit positions.
Moving a qubit's data is done by relabelling here, which is much cheaper than
moving half the amplitudes of the register.
*/
type Permutation struct {
	data    []PhysicalBit
	inverse []Qubit
}

// NewPermutation returns the identity permutation over n qubits.
func NewPermutation(n uint) *Permutation {
	p := &Permutation{
		data:    make([]PhysicalBit, n),
		inverse: make([]Qubit, n),
	}

	for i := uint(0); i < n; i++ {
		p.data[i] = PhysicalBit(i)
		p.inverse[i] = Qubit(i)
	}

	return p
}

/*
NewPermutationFrom builds a permutation where logical qubit i sits at
physical position assignment[i]. The assignment must be a bijection.
*/
func NewPermutationFrom(assignment []uint) (*Permutation, error) {
	n := len(assignment)
	p := &Permutation{
		data:    make([]PhysicalBit, n),
		inverse: make([]Qubit, n),
	}

	seen := make([]bool, n)
	for q, phys := range assignment {
		if phys >= uint(n) {
			return nil, configErrorf("bit assignment %d for qubit %d exceeds %d qubits", phys, q, n)
		}
		if seen[phys] {
			return nil, configErrorf("bit assignment %d used twice", phys)
		}
		seen[phys] = true
		p.data[q] = PhysicalBit(phys)
		p.inverse[phys] = Qubit(q)
	}

	return p, nil
}

// Size is the number of qubits covered.
func (p *Permutation) Size() uint {
	return uint(len(p.data))
}

// Lookup maps a logical qubit to its physical bit.
func (p *Permutation) Lookup(q Qubit) (PhysicalBit, error) {
	if uint(q) >= uint(len(p.data)) {
		return 0, fmt.Errorf("%w: qubit %d of %d", ErrOutOfRange, q, len(p.data))
	}
	return p.data[q], nil
}

// InverseLookup maps a physical bit back to its logical qubit.
func (p *Permutation) InverseLookup(b PhysicalBit) (Qubit, error) {
	if uint(b) >= uint(len(p.inverse)) {
		return 0, fmt.Errorf("%w: physical bit %d of %d", ErrOutOfRange, b, len(p.inverse))
	}
	return p.inverse[b], nil
}

// at and qubitAt skip bounds checks for callers that validated upstream.
func (p *Permutation) at(q Qubit) PhysicalBit {
	return p.data[q]
}

func (p *Permutation) qubitAt(b PhysicalBit) Qubit {
	return p.inverse[b]
}

/*
Permutate swaps the physical positions of a and b. Only the swap protocol
calls it, after the data for the two positions has been exchanged.
*/
func (p *Permutation) Permutate(a, b Qubit) error {
	if uint(a) >= uint(len(p.data)) || uint(b) >= uint(len(p.data)) {
		return fmt.Errorf("%w: permutate %d and %d over %d qubits", ErrOutOfRange, a, b, len(p.data))
	}

	if a == b {
		return nil
	}

	pa, pb := p.data[a], p.data[b]
	p.data[a], p.data[b] = pb, pa
	p.inverse[pa], p.inverse[pb] = b, a

	return nil
}

// PermutateBits maps a logical basis index onto its physical index.
func (p *Permutation) PermutateBits(logical uint64) uint64 {
	var physical uint64

	for q, b := range p.data {
		physical |= ((logical >> uint(q)) & 1) << b
	}

	return physical
}

// InversePermutateBits maps a physical basis index back to its logical index.
func (p *Permutation) InversePermutateBits(physical uint64) uint64 {
	var logical uint64

	for b, q := range p.inverse {
		logical |= ((physical >> uint(b)) & 1) << q
	}

	return logical
}

// Clone returns an independent copy, used for dry-run planning.
func (p *Permutation) Clone() *Permutation {
	return &Permutation{
		data:    append([]PhysicalBit(nil), p.data...),
		inverse: append([]Qubit(nil), p.inverse...),
	}
}

func (p *Permutation) String() string {
	var b strings.Builder

	for q, phys := range p.data {
		if q > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d:%d", q, phys)
	}

	return b.String()
}
