package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/qshard"
)

func parseRun(args ...string) (*qshard.Config, error) {
	opts := &runOptions{}
	cmd := newRunCommand(opts)
	if err := cmd.Flags().Parse(args); err != nil {
		return nil, err
	}
	return buildConfig(cmd, opts)
}

func TestBuildConfig(t *testing.T) {
	Convey("Given no configuration file", t, func() {
		Convey("The flag defaults should shape the register", func() {
			cfg, err := parseRun()
			So(err, ShouldBeNil)
			So(cfg.Layout, ShouldResemble, qshard.Layout{LocalBits: 12})
			So(cfg.Policy, ShouldEqual, qshard.PolicySimple)
			So(cfg.Seed, ShouldEqual, 1)
		})

		Convey("Ranks should become global bits and the rest local", func() {
			cfg, err := parseRun("--qubits", "10", "--ranks", "4", "--page", "3", "--policy", "three-page")
			So(err, ShouldBeNil)
			So(cfg.Layout, ShouldResemble, qshard.Layout{LocalBits: 5, PageBits: 3, GlobalBits: 2})
			So(cfg.Policy, ShouldEqual, qshard.PolicyThreePage)
			So(cfg.Validate(4), ShouldBeNil)
		})

		Convey("A fusion width beyond the chunk should be clamped to it", func() {
			cfg, err := parseRun("--qubits", "5", "--ranks", "4", "--fusion", "8")
			So(err, ShouldBeNil)
			So(cfg.MaxFusedQubits, ShouldEqual, 3)
		})

		Convey("A register with no local bits left should be refused", func() {
			_, err := parseRun("--qubits", "3", "--ranks", "4", "--page", "1")
			So(errors.Is(err, qshard.ErrConfiguration), ShouldBeTrue)
		})
	})

	Convey("Given a configuration file", t, func() {
		path := filepath.Join(t.TempDir(), "run.yaml")
		So(os.WriteFile(path, []byte(`
layout:
  local_bits: 6
  page_bits: 2
  unit_bits: 1
  global_bits: 1
policy: two-page
max_fused_qubits: 4
seed: 42
`), 0o644), ShouldBeNil)

		Convey("Unset flags should leave the file alone", func() {
			cfg, err := parseRun("--config", path)
			So(err, ShouldBeNil)
			So(cfg.Layout, ShouldResemble, qshard.Layout{LocalBits: 6, PageBits: 2, UnitBits: 1, GlobalBits: 1})
			So(cfg.Policy, ShouldEqual, qshard.PolicyTwoPage)
			So(cfg.MaxFusedQubits, ShouldEqual, 4)
			So(cfg.Seed, ShouldEqual, 42)
		})

		Convey("Set flags should win over the file", func() {
			cfg, err := parseRun("--config", path, "--seed", "9", "--qubits", "8", "--ranks", "2", "--page", "2")
			So(err, ShouldBeNil)
			So(cfg.Seed, ShouldEqual, 9)
			So(cfg.Layout, ShouldResemble, qshard.Layout{LocalBits: 5, PageBits: 2, GlobalBits: 1})
			So(cfg.Policy, ShouldEqual, qshard.PolicyTwoPage)
		})

		Convey("A missing file should fail", func() {
			_, err := parseRun("--config", filepath.Join(t.TempDir(), "absent.yaml"))
			So(err, ShouldNotBeNil)
		})
	})
}
