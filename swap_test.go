package qshard

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSwapPlanning(t *testing.T) {
	Convey("Given three local qubits and one unit qubit", t, func() {
		cfg := testConfig(Layout{LocalBits: 3, UnitBits: 1}, PolicySimple)
		cfg.InitialState = 0b0110

		world, err := NewWorld(1)
		So(err, ShouldBeNil)

		e, err := NewEngine(cfg, world.Communicator(0))
		So(err, ShouldBeNil)
		defer e.Close()

		gate := PauliX(3, Control(2), Control(1))

		Convey("The exchange should skip the top bits held by the controls", func() {
			steps, err := e.planSwaps(gate.Name(), gate.Qubits(), gate.Qubits(), e.policy.MaxPagedOperands())
			So(err, ShouldBeNil)
			So(steps, ShouldResemble, []swapStep{{qubit: 3, from: 3, to: 0}})
		})

		Convey("Applying the gate should evict qubit 0 and leave the controls in place", func() {
			ctx := context.Background()
			So(e.Apply(ctx, gate), ShouldBeNil)

			perm := e.Permutation()
			So(perm.at(3), ShouldEqual, PhysicalBit(0))
			So(perm.at(0), ShouldEqual, PhysicalBit(3))
			So(perm.at(1), ShouldEqual, PhysicalBit(1))
			So(perm.at(2), ShouldEqual, PhysicalBit(2))

			state, err := e.Amplitudes(ctx)
			So(err, ShouldBeNil)
			So(state, ShouldApproximateState, referenceState(4, cfg.InitialState, []Gate{gate}))
		})
	})

	Convey("Given a one-page policy with its page budget already spent", t, func() {
		cfg := testConfig(Layout{LocalBits: 2, PageBits: 2, UnitBits: 1}, PolicyOnePage)

		world, err := NewWorld(1)
		So(err, ShouldBeNil)

		e, err := NewEngine(cfg, world.Communicator(0))
		So(err, ShouldBeNil)
		defer e.Close()

		Convey("The remote operand should skip the free page bit and land on a local bit", func() {
			gate := Hadamard(4, Control(3))

			steps, err := e.planSwaps(gate.Name(), gate.Qubits(), gate.Qubits(), e.policy.MaxPagedOperands())
			So(err, ShouldBeNil)
			So(steps, ShouldResemble, []swapStep{{qubit: 4, from: 4, to: 1}})

			So(e.Apply(context.Background(), gate), ShouldBeNil)
			perm := e.Permutation()
			So(perm.at(4), ShouldEqual, PhysicalBit(1))
			So(perm.at(1), ShouldEqual, PhysicalBit(4))
			So(perm.at(3), ShouldEqual, PhysicalBit(3))
		})

		Convey("A gate with no free position should be refused before anything moves", func() {
			steps, err := e.planSwaps("wide", []Qubit{4, 0, 1, 2, 3}, []Qubit{4, 0, 1, 2, 3}, -1)
			So(steps, ShouldBeNil)

			var unsupported *UnsupportedOperationError
			So(errors.As(err, &unsupported), ShouldBeTrue)
			So(e.Permutation().at(4), ShouldEqual, PhysicalBit(4))
		})
	})
}
