package tx

import "github.com/Klingon-tech/klingnet-chainstate/pkg/types"

// Builder constructs transactions incrementally.
type Builder struct {
	tx *Transaction
}

// NewBuilder creates a new transaction builder.
func NewBuilder() *Builder {
	return &Builder{
		tx: &Transaction{Version: 1},
	}
}

// AddInput adds an input referencing a previous output.
func (b *Builder) AddInput(prevOut types.Outpoint) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{PrevOut: prevOut, Sequence: ^uint32(0)})
	return b
}

// AddZerocoinSpend adds a private zerocoin spend of the given denomination.
func (b *Builder) AddZerocoinSpend(denom Denomination) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{
		PrevOut:   types.NullOutpoint(),
		ScriptSig: types.Script{types.OpZerocoinSpend},
		Sequence:  uint32(denom),
	})
	return b
}

// AddZerocoinPublicSpend adds a public zerocoin spend of prevOut.
func (b *Builder) AddZerocoinPublicSpend(prevOut types.Outpoint, denom Denomination) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{
		PrevOut:   prevOut,
		ScriptSig: types.Script{types.OpZerocoinPublicSpend},
		Sequence:  uint32(denom),
	})
	return b
}

// AddOutput adds an output with a value and script.
func (b *Builder) AddOutput(value int64, script types.Script) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{Value: value, Script: script})
	return b
}

// AddEmptyOutput adds the empty marker output that leads a coinstake.
func (b *Builder) AddEmptyOutput() *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{})
	return b
}

// AddZerocoinMint adds an output minting value into a zerocoin.
func (b *Builder) AddZerocoinMint(value int64) *Builder {
	return b.AddOutput(value, types.Script{types.OpZerocoinMint, 0x01})
}

// SetLockTime sets the transaction lock time.
func (b *Builder) SetLockTime(lockTime uint32) *Builder {
	b.tx.LockTime = lockTime
	return b
}

// Build returns the constructed transaction.
func (b *Builder) Build() *Transaction {
	return b.tx
}

// NewCoinbase builds a coinbase paying value to script. The height is
// embedded in the input script so every coinbase has a distinct id.
func NewCoinbase(height uint32, value int64, script types.Script) *Transaction {
	return &Transaction{
		Version: 1,
		Inputs: []Input{{
			PrevOut:   types.NullOutpoint(),
			ScriptSig: types.Script{0x04, byte(height), byte(height >> 8), byte(height >> 16), byte(height >> 24)},
			Sequence:  ^uint32(0),
		}},
		Outputs: []Output{{Value: value, Script: script}},
	}
}
