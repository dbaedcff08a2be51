package qshard

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPauliStringSpace(t *testing.T) {
	Convey("Given a space over three qubits", t, func() {
		space := NewPauliStringSpace(3)

		Convey("It should hold the identity string at zero", func() {
			So(space.Len(), ShouldEqual, 1)
			So(space.NumQubits(), ShouldEqual, 3)
			value, err := space.At("III")
			So(err, ShouldBeNil)
			So(value, ShouldEqual, complex(0, 0))
		})

		Convey("It should reject letters outside IXYZ", func() {
			err := space.Set("XYQ", 1)
			So(errors.Is(err, ErrWrongPauliString), ShouldBeTrue)
			So(space.Contains("XYQ"), ShouldBeFalse)
		})

		Convey("It should reject strings of the wrong length", func() {
			_, _, err := space.Find("XY")
			So(errors.Is(err, ErrWrongPauliString), ShouldBeTrue)
		})

		Convey("It should accept and accumulate valid strings", func() {
			So(space.Set("XYZ", 1), ShouldBeNil)
			So(space.Add("XYZ", 2i), ShouldBeNil)
			So(space.Add("ZZI", 0.5), ShouldBeNil)

			value, ok, err := space.Find("XYZ")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(value, ShouldEqual, complex(1, 2))
			So(space.Keys(), ShouldResemble, []string{"III", "XYZ", "ZZI"})
		})

		Convey("It should report a missing term as out of range", func() {
			_, err := space.At("ZZZ")
			So(errors.Is(err, ErrOutOfRange), ShouldBeTrue)
		})
	})

	Convey("Given terms of mixed lengths", t, func() {
		_, err := NewPauliStringSpaceFrom(map[string]complex128{"XX": 1, "XYZ": 1})

		Convey("It should fail", func() {
			So(errors.Is(err, ErrWrongPauliString), ShouldBeTrue)
		})
	})
}
