package qshard

import "sort"

// Qubit is a logical qubit number in [0, N).
type Qubit uint

// Add returns the qubit n positions above q.
func (q Qubit) Add(n uint) Qubit {
	return q + Qubit(n)
}

// Sub returns the qubit n positions below q.
func (q Qubit) Sub(n uint) Qubit {
	return q - Qubit(n)
}

func (q Qubit) Less(other Qubit) bool {
	return q < other
}

/*
ControlQubit is a Qubit that must be 1 for a gate to act. It wraps exactly one
qubit; ordering and equality delegate to it.
*/
type ControlQubit struct {
	qubit Qubit
}

// Control tags q as a control qubit.
func Control(q Qubit) ControlQubit {
	return ControlQubit{qubit: q}
}

// Controls tags every qubit in qs as a control qubit.
func Controls(qs ...Qubit) []ControlQubit {
	out := make([]ControlQubit, len(qs))
	for i, q := range qs {
		out[i] = Control(q)
	}
	return out
}

func (c ControlQubit) Qubit() Qubit {
	return c.qubit
}

func (c ControlQubit) Less(other ControlQubit) bool {
	return c.qubit < other.qubit
}

// PhysicalBit is a bit position in the distributed amplitude array's address.
type PhysicalBit uint

// BitMask returns 1 << p.
func BitMask(p PhysicalBit) uint64 {
	return uint64(1) << p
}

// SortQubits sorts qs in place, ascending.
func SortQubits(qs []Qubit) {
	sort.Slice(qs, func(i, j int) bool { return qs[i].Less(qs[j]) })
}
