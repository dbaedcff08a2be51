package qshard

import (
	"fmt"
	"math"
	"math/cmplx"
)

// GateKind names a gate family.
type GateKind int

const (
	KindHadamard GateKind = iota
	KindPauliX
	KindPauliY
	KindPauliZ
	KindS
	KindT
	KindPhaseShift
	KindExponentialPauliZ
	KindExponentialPauliX
	KindXRotationHalfPi
	KindYRotationHalfPi
	KindControlledV
	KindU3
	KindSwap
)

var kindNames = map[GateKind]string{
	KindHadamard:          "hadamard",
	KindPauliX:            "pauli-x",
	KindPauliY:            "pauli-y",
	KindPauliZ:            "pauli-z",
	KindS:                 "s",
	KindT:                 "t",
	KindPhaseShift:        "phase-shift",
	KindExponentialPauliZ: "exponential-pauli-z",
	KindExponentialPauliX: "exponential-pauli-x",
	KindXRotationHalfPi:   "x-rotation-half-pi",
	KindYRotationHalfPi:   "y-rotation-half-pi",
	KindControlledV:       "controlled-v",
	KindU3:                "u3",
	KindSwap:              "swap",
}

func (k GateKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("gate(%d)", int(k))
}

/*
Gate is an immutable gate descriptor. Gates are only built through the family
constructors below, which accept exactly the targets each family acts on, so a
gate with the wrong arity cannot be expressed.
*/
type Gate struct {
	kind     GateKind
	targets  []Qubit
	controls []ControlQubit
	params   [3]float64
	adjoint  bool
}

func newGate(kind GateKind, targets []Qubit, controls []ControlQubit, params ...float64) Gate {
	g := Gate{
		kind:     kind,
		targets:  targets,
		controls: append([]ControlQubit(nil), controls...),
	}
	copy(g.params[:], params)
	return g
}

func Hadamard(target Qubit, controls ...ControlQubit) Gate {
	return newGate(KindHadamard, []Qubit{target}, controls)
}

func PauliX(target Qubit, controls ...ControlQubit) Gate {
	return newGate(KindPauliX, []Qubit{target}, controls)
}

func PauliY(target Qubit, controls ...ControlQubit) Gate {
	return newGate(KindPauliY, []Qubit{target}, controls)
}

func PauliZ(target Qubit, controls ...ControlQubit) Gate {
	return newGate(KindPauliZ, []Qubit{target}, controls)
}

func SGate(target Qubit, controls ...ControlQubit) Gate {
	return newGate(KindS, []Qubit{target}, controls)
}

func TGate(target Qubit, controls ...ControlQubit) Gate {
	return newGate(KindT, []Qubit{target}, controls)
}

// ControlledNot flips target when control is 1.
func ControlledNot(target Qubit, control ControlQubit) Gate {
	return PauliX(target, control)
}

// Toffoli flips target when both controls are 1.
func Toffoli(target Qubit, control1, control2 ControlQubit) Gate {
	return PauliX(target, control1, control2)
}

/*
PhaseShift multiplies the amplitudes where target and every control are 1 by
e^{iθ}. The gate is symmetric in all of its qubits.
*/
func PhaseShift(theta float64, target Qubit, controls ...ControlQubit) Gate {
	return newGate(KindPhaseShift, []Qubit{target}, controls, theta)
}

// ControlledPhaseShift is PhaseShift with exactly one control.
func ControlledPhaseShift(theta float64, target Qubit, control ControlQubit) Gate {
	return PhaseShift(theta, target, control)
}

// ExponentialPauliZ is exp(iθZ) on target.
func ExponentialPauliZ(theta float64, target Qubit, controls ...ControlQubit) Gate {
	return newGate(KindExponentialPauliZ, []Qubit{target}, controls, theta)
}

// ExponentialPauliX is exp(iθX) on target.
func ExponentialPauliX(theta float64, target Qubit, controls ...ControlQubit) Gate {
	return newGate(KindExponentialPauliX, []Qubit{target}, controls, theta)
}

// XRotationHalfPi is exp(iπ/4 X).
func XRotationHalfPi(target Qubit, controls ...ControlQubit) Gate {
	return newGate(KindXRotationHalfPi, []Qubit{target}, controls)
}

// YRotationHalfPi is exp(iπ/4 Y).
func YRotationHalfPi(target Qubit, controls ...ControlQubit) Gate {
	return newGate(KindYRotationHalfPi, []Qubit{target}, controls)
}

// ControlledV applies V(θ) = ½[[1+e^{iθ}, 1−e^{iθ}], [1−e^{iθ}, 1+e^{iθ}]] under at least one control.
func ControlledV(theta float64, target Qubit, control ControlQubit, controls ...ControlQubit) Gate {
	return newGate(KindControlledV, []Qubit{target}, append([]ControlQubit{control}, controls...), theta)
}

// U3 is the general single-qubit rotation U3(θ, φ, λ).
func U3(theta, phi, lambda float64, target Qubit, controls ...ControlQubit) Gate {
	return newGate(KindU3, []Qubit{target}, controls, theta, phi, lambda)
}

// Swap exchanges two qubits.
func Swap(a, b Qubit, controls ...ControlQubit) Gate {
	return newGate(KindSwap, []Qubit{a, b}, controls)
}

func (g Gate) Kind() GateKind {
	return g.kind
}

// Name is the family name, prefixed with "adj-" for adjoints.
func (g Gate) Name() string {
	if g.adjoint {
		return "adj-" + g.kind.String()
	}
	return g.kind.String()
}

func (g Gate) Targets() []Qubit {
	return append([]Qubit(nil), g.targets...)
}

func (g Gate) Controls() []ControlQubit {
	return append([]ControlQubit(nil), g.controls...)
}

// Qubits lists targets first, then controls, which is also the operand order of the kernel.
func (g Gate) Qubits() []Qubit {
	out := make([]Qubit, 0, len(g.targets)+len(g.controls))
	out = append(out, g.targets...)
	for _, c := range g.controls {
		out = append(out, c.Qubit())
	}
	return out
}

// Params returns the angles the gate was built with.
func (g Gate) Params() [3]float64 {
	return g.params
}

func (g Gate) IsAdjoint() bool {
	return g.adjoint
}

// Adjoint returns the inverse gate.
func (g Gate) Adjoint() Gate {
	out := g
	out.adjoint = !g.adjoint
	return out
}

/*
Diagonal gates never mix amplitudes, so their qubits may stay outside local
memory with a fixed value during fusion.
*/
func (g Gate) Diagonal() bool {
	switch g.kind {
	case KindPauliZ, KindS, KindT, KindPhaseShift, KindExponentialPauliZ:
		return true
	default:
		return false
	}
}

// symmetricPhase gates treat targets and controls alike.
func (g Gate) symmetricPhase() bool {
	switch g.kind {
	case KindPauliZ, KindS, KindT, KindPhaseShift:
		return true
	default:
		return false
	}
}

// phase is the value a symmetric phase gate multiplies into the all-ones amplitude.
func (g Gate) phase() complex128 {
	var v complex128

	switch g.kind {
	case KindPauliZ:
		v = -1
	case KindS:
		v = 1i
	case KindT:
		v = cmplx.Exp(complex(0, math.Pi/4))
	default:
		v = cmplx.Exp(complex(0, g.params[0]))
	}

	if g.adjoint {
		return cmplx.Conj(v)
	}
	return v
}

// angle is the phase angle of a symmetric phase gate.
func (g Gate) angle() float64 {
	return cmplx.Phase(g.phase())
}

// diagonalEntries are the target's diagonal for exp(iθZ).
func (g Gate) diagonalEntries() [2]complex128 {
	theta := g.params[0]
	if g.adjoint {
		theta = -theta
	}
	return [2]complex128{
		cmplx.Exp(complex(0, theta)),
		cmplx.Exp(complex(0, -theta)),
	}
}

// matrix is the single-target unitary, already daggered for adjoints.
func (g Gate) matrix() [2][2]complex128 {
	var m [2][2]complex128
	r := complex(1/math.Sqrt2, 0)

	switch g.kind {
	case KindHadamard:
		m = [2][2]complex128{{r, r}, {r, -r}}
	case KindPauliX:
		m = [2][2]complex128{{0, 1}, {1, 0}}
	case KindPauliY:
		m = [2][2]complex128{{0, -1i}, {1i, 0}}
	case KindExponentialPauliX:
		c, s := complex(math.Cos(g.params[0]), 0), complex(0, math.Sin(g.params[0]))
		m = [2][2]complex128{{c, s}, {s, c}}
	case KindXRotationHalfPi:
		m = [2][2]complex128{{r, r * 1i}, {r * 1i, r}}
	case KindYRotationHalfPi:
		m = [2][2]complex128{{r, r}, {-r, r}}
	case KindControlledV:
		e := cmplx.Exp(complex(0, g.params[0]))
		m = [2][2]complex128{{(1 + e) / 2, (1 - e) / 2}, {(1 - e) / 2, (1 + e) / 2}}
	case KindU3:
		theta, phi, lambda := g.params[0], g.params[1], g.params[2]
		c, s := complex(math.Cos(theta/2), 0), complex(math.Sin(theta/2), 0)
		m = [2][2]complex128{
			{c, -cmplx.Exp(complex(0, lambda)) * s},
			{cmplx.Exp(complex(0, phi)) * s, cmplx.Exp(complex(0, phi+lambda)) * c},
		}
	default:
		m = [2][2]complex128{{1, 0}, {0, 1}}
	}

	if g.adjoint {
		m = [2][2]complex128{
			{cmplx.Conj(m[0][0]), cmplx.Conj(m[1][0])},
			{cmplx.Conj(m[0][1]), cmplx.Conj(m[1][1])},
		}
	}

	return m
}

// kernel is the numeric form of the gate with operands ordered as Qubits().
func (g Gate) kernel() kernel {
	k := kernel{
		targets:  len(g.targets),
		controls: len(g.controls),
	}

	switch {
	case g.kind == KindSwap:
		k.shape = shapeSwap
	case g.symmetricPhase():
		k.shape = shapePhase
		k.value = g.phase()
		k.controls += k.targets
		k.targets = 0
	case g.kind == KindExponentialPauliZ:
		k.shape = shapeDiagonal
		k.diagonal = g.diagonalEntries()
	default:
		k.shape = shapeMatrix
		k.matrix = g.matrix()
	}

	return k
}

// validate checks every qubit is inside the register and named once.
func (g Gate) validate(numQubits uint) error {
	qubits := g.Qubits()

	if len(qubits) > MaxOperands {
		return &InvalidQubitError{
			Gate: g.Name(), Qubit: qubits[MaxOperands], NumQubits: numQubits,
			Reason: fmt.Sprintf("more than %d operands", MaxOperands),
		}
	}

	for i, q := range qubits {
		if uint(q) >= numQubits {
			return &InvalidQubitError{Gate: g.Name(), Qubit: q, NumQubits: numQubits, Reason: "out of range"}
		}
		for _, other := range qubits[:i] {
			if other == q {
				return &InvalidQubitError{Gate: g.Name(), Qubit: q, NumQubits: numQubits, Reason: "used twice"}
			}
		}
	}

	return nil
}

func (g Gate) String() string {
	return fmt.Sprintf("%s%v", g.Name(), g.Qubits())
}
