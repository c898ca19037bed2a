package chain

import "strings"

// BlockStatus records how far a block has been validated and which data
// is available for it.
type BlockStatus uint32

// Validity levels occupy the low three bits and are ordered.
const (
	ValidUnknown      BlockStatus = 0
	ValidHeader       BlockStatus = 1
	ValidTree         BlockStatus = 2
	ValidTransactions BlockStatus = 3
	ValidChain        BlockStatus = 4
	ValidScripts      BlockStatus = 5
	ValidMask         BlockStatus = ValidHeader | ValidTree | ValidTransactions | ValidChain | ValidScripts
)

// Flags.
const (
	HaveData    BlockStatus = 8
	HaveUndo    BlockStatus = 16
	FailedValid BlockStatus = 32
	FailedChild BlockStatus = 64
	FailedMask  BlockStatus = FailedValid | FailedChild
)

// Level returns the validity level bits.
func (s BlockStatus) Level() BlockStatus { return s & ValidMask }

// IsValid reports whether the block reached at least level and has not
// been marked failed.
func (s BlockStatus) IsValid(level BlockStatus) bool {
	if s&FailedMask != 0 {
		return false
	}
	return s.Level() >= level
}

// IsFailed reports whether the block or one of its ancestors failed
// validation.
func (s BlockStatus) IsFailed() bool { return s&FailedMask != 0 }

// WithLevel returns s with its validity level raised to level. Lower
// levels leave s unchanged.
func (s BlockStatus) WithLevel(level BlockStatus) BlockStatus {
	if s.Level() >= level {
		return s
	}
	return (s &^ ValidMask) | level
}

func (s BlockStatus) String() string {
	var parts []string
	switch s.Level() {
	case ValidHeader:
		parts = append(parts, "header")
	case ValidTree:
		parts = append(parts, "tree")
	case ValidTransactions:
		parts = append(parts, "transactions")
	case ValidChain:
		parts = append(parts, "chain")
	case ValidScripts:
		parts = append(parts, "scripts")
	default:
		parts = append(parts, "unknown")
	}
	if s&HaveData != 0 {
		parts = append(parts, "data")
	}
	if s&HaveUndo != 0 {
		parts = append(parts, "undo")
	}
	if s&FailedValid != 0 {
		parts = append(parts, "failed")
	}
	if s&FailedChild != 0 {
		parts = append(parts, "failed-child")
	}
	return strings.Join(parts, "|")
}
