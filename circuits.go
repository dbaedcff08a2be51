package qshard

import "math"

// HadamardCircuit puts every qubit into |+>.
func HadamardCircuit(n uint) []Gate {
	gates := make([]Gate, 0, n)
	for q := Qubit(0); uint(q) < n; q++ {
		gates = append(gates, Hadamard(q))
	}
	return gates
}

/*
QFT is the quantum Fourier transform on n qubits, highest qubit first: a
Hadamard, then controlled phase shifts of 2π/2^k from the lower qubits, and a
final reversal of the qubit order.
*/
func QFT(n uint) []Gate {
	var gates []Gate

	for index := uint(0); index < n; index++ {
		target := Qubit(n - index - 1)
		gates = append(gates, Hadamard(target))

		for k := uint(2); k <= n-index; k++ {
			theta := 2 * math.Pi / float64(uint64(1)<<k)
			gates = append(gates, ControlledPhaseShift(theta, target, Control(target.Sub(k-1))))
		}
	}

	for q := uint(0); q < n/2; q++ {
		gates = append(gates, Swap(Qubit(q), Qubit(n-q-1)))
	}

	return gates
}

// InverseQFT undoes QFT.
func InverseQFT(n uint) []Gate {
	forward := QFT(n)
	gates := make([]Gate, len(forward))
	for i, g := range forward {
		gates[len(forward)-1-i] = g.Adjoint()
	}
	return gates
}

// GHZ prepares (|0...0> + |1...1>)/√2.
func GHZ(n uint) []Gate {
	if n == 0 {
		return nil
	}

	gates := []Gate{Hadamard(0)}
	for q := Qubit(1); uint(q) < n; q++ {
		gates = append(gates, ControlledNot(q, Control(q-1)))
	}
	return gates
}

// Circuit builds one of the named circuits the CLI offers.
func Circuit(name string, n uint) ([]Gate, error) {
	switch name {
	case "hadamards":
		return HadamardCircuit(n), nil
	case "qft":
		return QFT(n), nil
	case "inverse-qft":
		return InverseQFT(n), nil
	case "ghz":
		return GHZ(n), nil
	}
	return nil, configErrorf("unknown circuit %q", name)
}

// CircuitNames lists what Circuit accepts.
func CircuitNames() []string {
	return []string{"hadamards", "qft", "inverse-qft", "ghz"}
}
