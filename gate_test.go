package qshard

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func allFamilies() []Gate {
	return []Gate{
		Hadamard(0), PauliX(0), PauliY(0), PauliZ(0), SGate(0), TGate(0),
		PhaseShift(0.3, 0), ExponentialPauliZ(0.7, 0), ExponentialPauliX(0.4, 0),
		XRotationHalfPi(0), YRotationHalfPi(0), ControlledV(1.2, 0, Control(1)),
		U3(0.5, 0.2, -0.9, 0),
	}
}

func TestGates(t *testing.T) {
	Convey("Given every single-target family", t, func() {
		for _, g := range allFamilies() {
			Convey(g.Name()+" should be unitary and undone by its adjoint", func() {
				m := g.matrix()
				a := g.Adjoint().matrix()

				switch g.kernel().shape {
				case shapeMatrix:
					for i := 0; i < 2; i++ {
						for j := 0; j < 2; j++ {
							var sum complex128
							for k := 0; k < 2; k++ {
								sum += a[i][k] * m[k][j]
							}
							want := complex(0, 0)
							if i == j {
								want = 1
							}
							So(cmplx.Abs(sum-want), ShouldBeLessThan, 1e-12)
						}
					}
				case shapePhase:
					So(cmplx.Abs(g.phase()*g.Adjoint().phase()-1), ShouldBeLessThan, 1e-12)
				case shapeDiagonal:
					d, ad := g.diagonalEntries(), g.Adjoint().diagonalEntries()
					So(cmplx.Abs(d[0]*ad[0]-1), ShouldBeLessThan, 1e-12)
					So(cmplx.Abs(d[1]*ad[1]-1), ShouldBeLessThan, 1e-12)
				}
			})
		}
	})

	Convey("Given gates with controls", t, func() {
		g := Toffoli(2, Control(0), Control(1))

		Convey("Qubits should list targets before controls", func() {
			So(g.Qubits(), ShouldResemble, []Qubit{2, 0, 1})
			So(g.String(), ShouldEqual, "pauli-x[2 0 1]")
		})

		Convey("The kernel should set every control in its on combination", func() {
			k := g.kernel()
			So(k.on(), ShouldEqual, uint64(0b110))
			So(k.arity(), ShouldEqual, 3)
		})

		Convey("Symmetric phase gates should treat every qubit as a control", func() {
			k := PhaseShift(0.1, 2, Control(0)).kernel()
			So(k.shape, ShouldEqual, shapePhase)
			So(k.targets, ShouldEqual, 0)
			So(k.on(), ShouldEqual, uint64(0b11))
		})
	})

	Convey("Given the T gate", t, func() {
		Convey("Its angle should be π/4 and its adjoint's -π/4", func() {
			So(math.Abs(TGate(0).angle()-math.Pi/4), ShouldBeLessThan, 1e-12)
			So(math.Abs(TGate(0).Adjoint().angle()+math.Pi/4), ShouldBeLessThan, 1e-12)
			So(TGate(0).Adjoint().Name(), ShouldEqual, "adj-t")
		})
	})

	Convey("Given invalid operands", t, func() {
		Convey("Too many operands should be rejected", func() {
			controls := make([]ControlQubit, MaxOperands)
			for i := range controls {
				controls[i] = Control(Qubit(i + 1))
			}
			err := PauliX(0, controls...).validate(40)
			So(errors.Is(err, ErrInvalidQubit), ShouldBeTrue)
		})

		Convey("A repeated qubit should be rejected", func() {
			err := Swap(3, 3).validate(4)

			var invalid *InvalidQubitError
			So(errors.As(err, &invalid), ShouldBeTrue)
			So(invalid.Reason, ShouldEqual, "used twice")
		})
	})
}

func TestCircuits(t *testing.T) {
	Convey("Given the named circuits", t, func() {
		Convey("QFT followed by its inverse should be the identity", func() {
			state := referenceState(4, 0b1011, append(QFT(4), InverseQFT(4)...))
			want := make([]complex128, 16)
			want[0b1011] = 1
			So(state, ShouldApproximateState, want)
		})

		Convey("QFT of |0> should be the uniform superposition", func() {
			state := referenceState(3, 0, QFT(3))
			for _, a := range state {
				So(cmplx.Abs(a-complex(1/math.Sqrt(8), 0)), ShouldBeLessThan, 1e-12)
			}
		})

		Convey("GHZ should put half the weight on each extreme", func() {
			state := referenceState(3, 0, GHZ(3))
			So(math.Abs(real(state[0])-1/math.Sqrt2), ShouldBeLessThan, 1e-12)
			So(math.Abs(real(state[7])-1/math.Sqrt2), ShouldBeLessThan, 1e-12)
		})

		Convey("Unknown names should be a configuration error", func() {
			_, err := Circuit("teleport", 3)
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)

			for _, name := range CircuitNames() {
				gates, err := Circuit(name, 3)
				So(err, ShouldBeNil)
				So(gates, ShouldNotBeEmpty)
			}
		})
	})
}
