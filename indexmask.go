package qshard

import "fmt"

const (
	// MaxFusedQubits bounds the number of distinct qubits in a fused block.
	MaxFusedQubits = 10
	// MaxOperands bounds the qubits of one gate, targets and controls together.
	MaxOperands = 16
)

/*
IndexWithQubits rebuilds a full chunk index from a reduced index idx and an
operand combination. sortedWithSentinel holds the operand positions ascending
followed by the chunk width; unsorted holds them in declared order, so bit j
of combo sets the position of the j-th declared operand.

Positions must be distinct and below the chunk width. Nothing is checked here.
*/
func IndexWithQubits(idx, combo uint64, unsorted []uint, sortedWithSentinel []uint) uint64 {
	var (
		result uint64
		lower  uint
	)

	for i, boundary := range sortedWithSentinel {
		upper := boundary - uint(i)
		result |= (idx & (uint64(1)<<upper - uint64(1)<<lower)) << uint(i)
		lower = upper
	}

	for j, position := range unsorted {
		if combo>>uint(j)&1 == 1 {
			result |= uint64(1) << position
		}
	}

	return result
}

/*
IndexMask holds the precomputed masks of IndexWithQubits for one operand list
over one chunk width. Arrays are fixed size so a mask can live on the stack.
*/
type IndexMask struct {
	arity      int
	width      uint
	qubitMasks [MaxOperands]uint64
	indexMasks [MaxOperands + 1]uint64
}

// NewIndexMask validates positions against width and precomputes the masks.
func NewIndexMask(width uint, positions ...uint) (IndexMask, error) {
	var m IndexMask

	if len(positions) > MaxOperands || uint(len(positions)) > width {
		return m, fmt.Errorf("%w: %d operands over a %d bit chunk", ErrInvalidQubit, len(positions), width)
	}

	var (
		sorted [MaxOperands + 1]uint
		seen   uint64
	)

	for j, p := range positions {
		if p >= width {
			return m, fmt.Errorf("%w: position %d outside %d bit chunk", ErrInvalidQubit, p, width)
		}
		if seen&(uint64(1)<<p) != 0 {
			return m, fmt.Errorf("%w: position %d repeated", ErrInvalidQubit, p)
		}
		seen |= uint64(1) << p
		m.qubitMasks[j] = uint64(1) << p
		sorted[j] = p
	}

	m.arity = len(positions)
	m.width = width

	// insertion sort, arity is tiny
	for i := 1; i < m.arity; i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	sorted[m.arity] = width

	var lower uint
	for i := 0; i <= m.arity; i++ {
		upper := sorted[i] - uint(i)
		m.indexMasks[i] = uint64(1)<<upper - uint64(1)<<lower
		lower = upper
	}

	return m, nil
}

// Arity is the number of operands.
func (m *IndexMask) Arity() int {
	return m.arity
}

// Count is the size of the reduced iteration space.
func (m *IndexMask) Count() uint64 {
	return uint64(1) << (m.width - uint(m.arity))
}

// Index is IndexWithQubits using the precomputed masks.
func (m *IndexMask) Index(idx, combo uint64) uint64 {
	var result uint64

	for i := 0; i <= m.arity; i++ {
		result |= (idx & m.indexMasks[i]) << uint(i)
	}

	for j := 0; j < m.arity; j++ {
		if combo>>uint(j)&1 == 1 {
			result |= m.qubitMasks[j]
		}
	}

	return result
}

// Indices fills dst[combo] for every combination. dst needs 2^arity entries.
func (m *IndexMask) Indices(idx uint64, dst []uint64) {
	var base uint64
	for i := 0; i <= m.arity; i++ {
		base |= (idx & m.indexMasks[i]) << uint(i)
	}

	dst[0] = base
	for j := 0; j < m.arity; j++ {
		half := 1 << j
		for c := 0; c < half; c++ {
			dst[half+c] = dst[c] | m.qubitMasks[j]
		}
	}
}
