package qshard

type kernelShape int

const (
	// one target, full 2x2 matrix
	shapeMatrix kernelShape = iota
	// one target, diagonal
	shapeDiagonal
	// every operand is a control; multiply the all-ones amplitude
	shapePhase
	// two targets exchanged
	shapeSwap
)

/*
kernel is the numeric part of a gate. Operands are addressed in declared
order: targets occupy combination bits [0, targets), controls the bits above.
*/
type kernel struct {
	shape    kernelShape
	matrix   [2][2]complex128
	diagonal [2]complex128
	value    complex128
	targets  int
	controls int
}

// on is the combination with every control set.
func (k *kernel) on() uint64 {
	return (uint64(1)<<uint(k.controls) - 1) << uint(k.targets)
}

// apply runs the kernel over the reduced indices [first, last) of m on r.
func (k *kernel) apply(r Range, m *IndexMask, first, last uint64) {
	on := k.on()

	switch k.shape {
	case shapeMatrix:
		m00, m01, m10, m11 := k.matrix[0][0], k.matrix[0][1], k.matrix[1][0], k.matrix[1][1]
		for idx := first; idx < last; idx++ {
			i0 := m.Index(idx, on)
			i1 := m.Index(idx, on|1)
			a0, a1 := r.At(i0), r.At(i1)
			r.Set(i0, m00*a0+m01*a1)
			r.Set(i1, m10*a0+m11*a1)
		}
	case shapeDiagonal:
		d0, d1 := k.diagonal[0], k.diagonal[1]
		for idx := first; idx < last; idx++ {
			i0 := m.Index(idx, on)
			i1 := m.Index(idx, on|1)
			r.Set(i0, d0*r.At(i0))
			r.Set(i1, d1*r.At(i1))
		}
	case shapePhase:
		for idx := first; idx < last; idx++ {
			i := m.Index(idx, on)
			r.Set(i, k.value*r.At(i))
		}
	case shapeSwap:
		for idx := first; idx < last; idx++ {
			i01 := m.Index(idx, on|1)
			i10 := m.Index(idx, on|2)
			a, b := r.At(i01), r.At(i10)
			r.Set(i01, b)
			r.Set(i10, a)
		}
	}
}

// arity is the number of operands the kernel addresses.
func (k *kernel) arity() int {
	return k.targets + k.controls
}
