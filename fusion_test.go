package qshard

import (
	"context"
	"math"
	"math/cmplx"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestFusionBuilder(t *testing.T) {
	Convey("Given a builder limited to three qubits", t, func() {
		fb := NewFusionBuilder(3)

		Convey("Gates within the limit should share a block", func() {
			for _, g := range []Gate{Hadamard(0), ControlledNot(1, Control(0)), PhaseShift(0.1, 2, Control(1))} {
				flushed, fused := fb.Add(g)
				So(flushed, ShouldBeNil)
				So(fused, ShouldBeTrue)
			}

			block := fb.Flush()
			So(block.Len(), ShouldEqual, 3)
			So(block.Qubits(), ShouldResemble, []Qubit{0, 1, 2})
			So(fb.Flush(), ShouldBeNil)
		})

		Convey("A gate that widens the block past the limit should start a new one", func() {
			fb.Add(Hadamard(0))
			fb.Add(ControlledNot(1, Control(2)))

			flushed, fused := fb.Add(Hadamard(3))
			So(fused, ShouldBeTrue)
			So(flushed, ShouldNotBeNil)
			So(flushed.Qubits(), ShouldResemble, []Qubit{0, 1, 2})
			So(fb.Flush().Qubits(), ShouldResemble, []Qubit{3})
		})

		Convey("A gate wider than the limit should not be fused", func() {
			fb.Add(Hadamard(0))

			flushed, fused := fb.Add(PauliX(0, Controls(1, 2, 3)...))
			So(fused, ShouldBeFalse)
			So(flushed.Len(), ShouldEqual, 1)
		})
	})

	Convey("Given a block mixing acting and diagonal qubits", t, func() {
		block := NewBlock(Hadamard(0), PhaseShift(0.2, 1, Control(2)), PauliX(3, Control(1)))

		Convey("Only non-diagonal targets should be acting", func() {
			So(block.actingQubits(), ShouldResemble, []Qubit{0, 3})
		})
	})
}

func TestFoldNegotiation(t *testing.T) {
	const (
		q     = Qubit(4)
		t0    = Qubit(1)
		theta = 0.6
		phi   = 0.9
	)

	Convey("Given an exponential-Z on q followed by a phase shift controlled by q", t, func() {
		block := NewBlock(ExponentialPauliZ(theta, q), PhaseShift(phi, t0, Control(q)))

		Convey("When q is globally |0>", func() {
			found := []Qubit{q}
			states := []QubitState{StateZero}

			first := newFusedGate(block.gates[0])
			first.ModifyGlobalState(found, states)
			So(first.GlobalState(), ShouldEqual, StateZero)

			second := newFusedGate(block.gates[1])
			fold, ok := second.MaybeFoldToPhaseShift(found, states)

			Convey("The phase shift should fold onto the remaining qubit", func() {
				So(ok, ShouldBeTrue)
				So(fold.Global, ShouldBeFalse)
				So(fold.Control, ShouldEqual, Control(t0))
				So(fold.Angle, ShouldEqual, 0.0)
			})

			Convey("Folding again should report the same fold", func() {
				again, ok := second.MaybeFoldToPhaseShift(nil, nil)
				So(ok, ShouldBeTrue)
				So(again, ShouldResemble, fold)
			})

			Convey("The compiled block should apply an uncontrolled phase shift and a global phase", func() {
				compiled, err := CompileBlock(block, map[Qubit]QubitState{q: StateZero})
				So(err, ShouldBeNil)
				So(compiled.Window(), ShouldResemble, []Qubit{t0})

				gates := compiled.Gates()
				_, folded := gates[1].Folded()
				So(folded, ShouldBeTrue)
				So(gates[1].Operands(), ShouldResemble, []Qubit{t0})
				So(gates[1].kernel.shape, ShouldEqual, shapePhase)
				So(gates[1].kernel.controls, ShouldEqual, 1)

				scalar, isScalar := gates[0].Scalar()
				So(isScalar, ShouldBeTrue)
				So(cmplx.Abs(scalar-cmplx.Exp(complex(0, theta))), ShouldBeLessThan, 1e-12)
				So(cmplx.Abs(compiled.Phase()-scalar), ShouldBeLessThan, 1e-12)

				window := []complex128{0.6, 0.8}
				compiled.Apply(window)
				So(cmplx.Abs(window[0]-0.6*scalar), ShouldBeLessThan, 1e-12)
				So(cmplx.Abs(window[1]-0.8*scalar), ShouldBeLessThan, 1e-12)
			})
		})

		Convey("When q is globally |1>", func() {
			compiled, err := CompileBlock(block, map[Qubit]QubitState{q: StateOne})
			So(err, ShouldBeNil)

			Convey("The fold should keep the angle and the exp-Z should give e^-iθ", func() {
				fold, ok := compiled.Gates()[1].Folded()
				So(ok, ShouldBeTrue)
				So(math.Abs(fold.Angle-phi), ShouldBeLessThan, 1e-12)
				So(cmplx.Abs(compiled.Phase()-cmplx.Exp(complex(0, -theta))), ShouldBeLessThan, 1e-12)

				window := []complex128{1, 1}
				compiled.Apply(window)
				So(cmplx.Abs(window[1]-cmplx.Exp(complex(0, phi-theta))), ShouldBeLessThan, 1e-12)
			})
		})
	})

	Convey("Given a phase shift whose every qubit is fixed", t, func() {
		block := NewBlock(PhaseShift(0.5, 2, Control(3)))
		compiled, err := CompileBlock(block, map[Qubit]QubitState{2: StateOne, 3: StateOne})
		So(err, ShouldBeNil)

		Convey("It should fold into a global phase", func() {
			fold, ok := compiled.Gates()[0].Folded()
			So(ok, ShouldBeTrue)
			So(fold.Global, ShouldBeTrue)
			So(compiled.Window(), ShouldBeEmpty)
			So(cmplx.Abs(compiled.Phase()-cmplx.Exp(0.5i)), ShouldBeLessThan, 1e-12)
		})
	})

	Convey("Given a controlled Hadamard", t, func() {
		block := NewBlock(Hadamard(0, Control(5), Control(6)))

		Convey("A control fixed at 1 should be disabled", func() {
			compiled, err := CompileBlock(block, map[Qubit]QubitState{5: StateOne})
			So(err, ShouldBeNil)

			g := compiled.Gates()[0]
			So(g.Inactive(), ShouldBeFalse)
			So(g.DisabledControls(), ShouldEqual, 1)
			So(g.Operands(), ShouldResemble, []Qubit{0, 6})
		})

		Convey("A control fixed at 0 should make the gate inactive", func() {
			compiled, err := CompileBlock(block, map[Qubit]QubitState{6: StateZero})
			So(err, ShouldBeNil)
			So(compiled.Gates()[0].Inactive(), ShouldBeTrue)

			window := []complex128{0.6, 0.8, 0, 0}
			compiled.Apply(window)
			So(window, ShouldResemble, []complex128{0.6, 0.8, 0, 0})
		})

		Convey("A fixed target should be refused", func() {
			_, err := CompileBlock(block, map[Qubit]QubitState{0: StateOne})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestFusedExecution(t *testing.T) {
	Convey("Given a block whose controls live on another rank", t, func() {
		cfg := testConfig(Layout{LocalBits: 3, GlobalBits: 1}, PolicySimple)
		cfg.InitialState = 0b1000
		gates := []Gate{
			Hadamard(0), Hadamard(1),
			ExponentialPauliZ(0.4, 3),
			PhaseShift(0.8, 0, Control(3)),
			PauliY(1, Control(3)),
			TGate(3),
		}
		prefix, block := gates[:2], gates[2:]

		Convey("Running it as one block should match the dense reference", func() {
			var exported map[string]interface{}

			states, err := simulate(cfg, func(ctx context.Context, e *Engine) error {
				if err := e.ApplyAll(ctx, prefix...); err != nil {
					return err
				}
				if err := e.ApplyBlock(ctx, NewBlock(block...)); err != nil {
					return err
				}
				if e.Rank() == 1 {
					exported = e.Metrics().ExportMetrics()
				}
				return nil
			})

			So(err, ShouldBeNil)
			So(states[0], ShouldApproximateState, referenceState(4, cfg.InitialState, gates))
			So(exported["qshard_fusion_specializations_total{kind=global-state}"], ShouldEqual, 1.0)
			So(exported["qshard_fusion_specializations_total{kind=phase-shift}"], ShouldEqual, 2.0)
			So(exported["qshard_fusion_specializations_total{kind=control}"], ShouldEqual, 1.0)
		})
	})
}

func TestReadsDuringFusion(t *testing.T) {
	Convey("Given three qubits with fusion open", t, func() {
		cfg := testConfig(Layout{LocalBits: 3}, PolicySimple)

		Convey("A measurement should see the gates recorded before it", func() {
			var (
				outcome int
				mid     []complex128
			)

			states, err := simulate(cfg, func(ctx context.Context, e *Engine) error {
				e.BeginFusion()
				if err := e.Apply(ctx, PauliX(0)); err != nil {
					return err
				}

				var err error
				if mid, err = e.Amplitudes(ctx); err != nil {
					return err
				}
				if outcome, err = e.ProjectiveMeasurement(ctx, 0); err != nil {
					return err
				}

				if err := e.Apply(ctx, PauliX(1)); err != nil {
					return err
				}
				return e.EndFusion(ctx)
			})

			So(err, ShouldBeNil)
			So(outcome, ShouldEqual, 1)
			So(mid, ShouldApproximateState, referenceState(3, 0, []Gate{PauliX(0)}))
			So(states[0], ShouldApproximateState, referenceState(3, 0, []Gate{PauliX(0), PauliX(1)}))
		})

		Convey("Spins and samples should see pending gates across ranks", func() {
			cfg := testConfig(Layout{LocalBits: 2, GlobalBits: 1}, PolicySimple)
			var (
				spins   []Spin
				samples []uint64
			)

			_, err := simulate(cfg, func(ctx context.Context, e *Engine) error {
				e.BeginFusion()
				if err := e.ApplyAll(ctx, PauliX(2), PauliX(0)); err != nil {
					return err
				}

				s, err := e.ExpectationValues(ctx)
				if err != nil {
					return err
				}
				drawn, err := e.Sample(ctx, 4, 7)
				if err != nil {
					return err
				}
				if e.Rank() == 0 {
					spins, samples = s, drawn
				}
				return e.EndFusion(ctx)
			})

			So(err, ShouldBeNil)
			So(spins[0].Z, ShouldAlmostEqual, -0.5, tolerance)
			So(spins[1].Z, ShouldAlmostEqual, 0.5, tolerance)
			So(spins[2].Z, ShouldAlmostEqual, -0.5, tolerance)
			So(samples, ShouldResemble, []uint64{0b101, 0b101, 0b101, 0b101})
		})

		Convey("Closing with gates still recorded should not run them", func() {
			world, err := NewWorld(1)
			So(err, ShouldBeNil)

			e, err := NewEngine(cfg, world.Communicator(0))
			So(err, ShouldBeNil)

			e.BeginFusion()
			So(e.Apply(context.Background(), Hadamard(0)), ShouldBeNil)
			So(e.Close, ShouldNotPanic)
		})
	})
}
