package qshard

import "fmt"

// MaxQubits bounds the register so every index fits comfortably in a uint64.
const MaxQubits = 40

// Placement says where a physical bit lives in the partition.
type Placement int

const (
	PlacementLocal Placement = iota
	PlacementPage
	PlacementUnit
	PlacementGlobal
)

func (p Placement) String() string {
	switch p {
	case PlacementLocal:
		return "local"
	case PlacementPage:
		return "page"
	case PlacementUnit:
		return "unit"
	case PlacementGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// Remote reports whether the bit lies outside a process's contiguous chunk.
func (p Placement) Remote() bool {
	return p == PlacementUnit || p == PlacementGlobal
}

/*
Policy selects the paging implementation, which bounds how many operands of a
single kernel invocation may sit on page bits at once.
*/
type Policy string

const (
	PolicySimple    Policy = "simple"
	PolicyOnePage   Policy = "one-page"
	PolicyTwoPage   Policy = "two-page"
	PolicyThreePage Policy = "three-page"
)

// MaxPagedOperands is the number of simultaneously paged operands a kernel may span.
func (p Policy) MaxPagedOperands() int {
	switch p {
	case PolicyOnePage:
		return 1
	case PolicyTwoPage:
		return 2
	case PolicyThreePage:
		return 3
	default:
		return 0
	}
}

func (p Policy) validate() error {
	switch p {
	case PolicySimple, PolicyOnePage, PolicyTwoPage, PolicyThreePage:
		return nil
	default:
		return configErrorf("unknown paging policy %q", string(p))
	}
}

/*
Layout splits a physical index, least significant first, into
[local][page][unit][global] bit ranges.
*/
type Layout struct {
	LocalBits  uint `yaml:"local_bits"`
	PageBits   uint `yaml:"page_bits"`
	UnitBits   uint `yaml:"unit_bits"`
	GlobalBits uint `yaml:"global_bits"`
}

// NumQubits is N.
func (l Layout) NumQubits() uint {
	return l.LocalBits + l.PageBits + l.UnitBits + l.GlobalBits
}

// ChunkBits is the width of one data block's contiguous chunk.
func (l Layout) ChunkBits() uint {
	return l.LocalBits + l.PageBits
}

// NumPages per data block.
func (l Layout) NumPages() int {
	return 1 << l.PageBits
}

// NumDataBlocks per process.
func (l Layout) NumDataBlocks() int {
	return 1 << l.UnitBits
}

// NumProcesses needed to hold the register.
func (l Layout) NumProcesses() int {
	return 1 << l.GlobalBits
}

// Classify reports which bit range p belongs to.
func (l Layout) Classify(p PhysicalBit) Placement {
	switch b := uint(p); {
	case b < l.LocalBits:
		return PlacementLocal
	case b < l.ChunkBits():
		return PlacementPage
	case b < l.ChunkBits()+l.UnitBits:
		return PlacementUnit
	default:
		return PlacementGlobal
	}
}

// Locate splits a physical index into rank, data block and chunk offset.
func (l Layout) Locate(physical uint64) (rank int, block int, offset uint64) {
	chunk := l.ChunkBits()
	offset = physical & (uint64(1)<<chunk - 1)
	block = int((physical >> chunk) & (uint64(1)<<l.UnitBits - 1))
	rank = int(physical >> (chunk + l.UnitBits))
	return rank, block, offset
}

// Compose is the inverse of Locate.
func (l Layout) Compose(rank, block int, offset uint64) uint64 {
	chunk := l.ChunkBits()
	return uint64(rank)<<(chunk+l.UnitBits) | uint64(block)<<chunk | offset
}

// Validate checks the layout against a policy and the number of cooperating processes.
func (l Layout) Validate(policy Policy, processes int) error {
	if err := policy.validate(); err != nil {
		return err
	}

	n := l.NumQubits()
	if n == 0 || n > MaxQubits {
		return configErrorf("register of %d qubits outside [1, %d]", n, MaxQubits)
	}

	if l.LocalBits == 0 {
		return configErrorf("at least one local bit is required")
	}

	if processes != l.NumProcesses() {
		return configErrorf("%d global bits need %d processes, got %d", l.GlobalBits, l.NumProcesses(), processes)
	}

	switch limit := policy.MaxPagedOperands(); {
	case limit == 0 && l.PageBits > 0:
		return configErrorf("policy %s cannot page %d bits", policy, l.PageBits)
	case limit > 0 && l.PageBits < uint(limit):
		return configErrorf("policy %s needs at least %d page bits, got %d", policy, limit, l.PageBits)
	}

	return nil
}

func (l Layout) String() string {
	return fmt.Sprintf("N=%d local=%d page=%d unit=%d global=%d", l.NumQubits(), l.LocalBits, l.PageBits, l.UnitBits, l.GlobalBits)
}
