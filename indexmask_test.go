package qshard

import (
	"errors"
	"math/bits"
	"math/rand"
	"sort"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// coverage walks the whole reduced space and reports duplicates and omissions.
func coverage(width uint, positions []uint) (duplicates, omissions int, agrees bool) {
	mask, err := NewIndexMask(width, positions...)
	if err != nil {
		return -1, -1, false
	}

	sorted := append([]uint(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	sorted = append(sorted, width)

	visited := make([]bool, 1<<width)
	indices := make([]uint64, 1<<len(positions))
	agrees = true

	for idx := uint64(0); idx < mask.Count(); idx++ {
		mask.Indices(idx, indices)
		for combo := uint64(0); combo < uint64(len(indices)); combo++ {
			full := indices[combo]
			if full != mask.Index(idx, combo) || full != IndexWithQubits(idx, combo, positions, sorted) {
				agrees = false
			}
			if visited[full] {
				duplicates++
			}
			visited[full] = true
		}
	}

	for _, v := range visited {
		if !v {
			omissions++
		}
	}

	return duplicates, omissions, agrees
}

func subsetPositions(subset uint64) []uint {
	positions := make([]uint, 0, bits.OnesCount64(subset))
	for p := uint(0); subset != 0; p++ {
		if subset&1 == 1 {
			positions = append(positions, p)
		}
		subset >>= 1
	}
	return positions
}

func TestIndexMask(t *testing.T) {
	Convey("Given every operand subset of small chunks", t, func() {
		failures := 0

		for width := uint(1); width <= 8; width++ {
			for subset := uint64(0); subset < uint64(1)<<width; subset++ {
				positions := subsetPositions(subset)
				if len(positions) > MaxOperands {
					continue
				}

				// declared order differs from position order
				for i, j := 0, len(positions)-1; i < j; i, j = i+1, j-1 {
					positions[i], positions[j] = positions[j], positions[i]
				}

				duplicates, omissions, agrees := coverage(width, positions)
				if duplicates != 0 || omissions != 0 || !agrees {
					failures++
				}
			}
		}

		So(failures, ShouldEqual, 0)
	})

	Convey("Given random operand subsets of wider chunks", t, func() {
		rng := rand.New(rand.NewSource(42))
		failures := 0

		for width := uint(9); width <= 16; width++ {
			for trial := 0; trial < 16; trial++ {
				k := 1 + rng.Intn(int(width)-8)
				positions := make([]uint, 0, k)
				for _, p := range rng.Perm(int(width))[:k] {
					positions = append(positions, uint(p))
				}

				duplicates, omissions, agrees := coverage(width, positions)
				if duplicates != 0 || omissions != 0 || !agrees {
					failures++
				}
			}
		}

		So(failures, ShouldEqual, 0)
	})

	Convey("Given operand lists at the operand limit", t, func() {
		failures := 0

		// every position of a 16 bit chunk, declared high to low
		full := make([]uint, MaxOperands)
		for i := range full {
			full[i] = uint(MaxOperands - 1 - i)
		}
		if d, o, ok := coverage(MaxOperands, full); d != 0 || o != 0 || !ok {
			failures++
		}

		// one position left free, in every place it can be
		for width := uint(MaxOperands); width <= MaxOperands+1; width++ {
			for free := uint(0); free < width; free++ {
				positions := make([]uint, 0, MaxOperands)
				for p := width; p > 0; p-- {
					if p-1 != free && len(positions) < MaxOperands {
						positions = append(positions, p-1)
					}
				}
				if d, o, ok := coverage(width, positions); d != 0 || o != 0 || !ok {
					failures++
				}
			}
		}

		So(failures, ShouldEqual, 0)

		Convey("One operand more should be refused", func() {
			positions := make([]uint, MaxOperands+1)
			for i := range positions {
				positions[i] = uint(i)
			}
			_, err := NewIndexMask(MaxOperands+1, positions...)
			So(errors.Is(err, ErrInvalidQubit), ShouldBeTrue)
		})
	})

	Convey("Given the declared operand order", t, func() {
		mask, err := NewIndexMask(4, 3, 0)
		So(err, ShouldBeNil)

		Convey("Combination bit 0 should follow the first declared operand", func() {
			So(mask.Index(0, 0b01), ShouldEqual, uint64(0b1000))
			So(mask.Index(0, 0b10), ShouldEqual, uint64(0b0001))
			So(mask.Index(0b11, 0), ShouldEqual, uint64(0b0110))
		})
	})

	Convey("Given malformed operand lists", t, func() {
		_, err := NewIndexMask(3, 1, 1)
		So(errors.Is(err, ErrInvalidQubit), ShouldBeTrue)

		_, err = NewIndexMask(3, 3)
		So(errors.Is(err, ErrInvalidQubit), ShouldBeTrue)
	})
}
