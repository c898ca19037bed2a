// Package tx defines the transaction model read by the chain-state engine.
package tx

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-chainstate/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// Transaction represents a blockchain transaction.
type Transaction struct {
	Version  uint32   `json:"version"`
	Inputs   []Input  `json:"inputs"`
	Outputs  []Output `json:"outputs"`
	LockTime uint32   `json:"locktime"`
}

// Input references an output being spent.
type Input struct {
	PrevOut   types.Outpoint `json:"prevout"`
	ScriptSig types.Script   `json:"script_sig"`
	Sequence  uint32         `json:"sequence"`
}

// Output defines a new unspent output.
type Output struct {
	Value  int64        `json:"value"`
	Script types.Script `json:"script"`
}

// IsZerocoinSpend reports whether the input is a private zerocoin spend.
func (in *Input) IsZerocoinSpend() bool {
	return in.PrevOut.IsNull() && in.ScriptSig.IsZerocoinSpend()
}

// IsZerocoinPublicSpend reports whether the input is a public zerocoin spend.
func (in *Input) IsZerocoinPublicSpend() bool {
	return in.ScriptSig.IsZerocoinPublicSpend()
}

// IsEmpty reports whether the output carries no value and no script.
// Coinstake transactions mark themselves with an empty first output.
func (out *Output) IsEmpty() bool {
	return out.Value == 0 && len(out.Script) == 0
}

// IsZerocoinMint reports whether the output creates a zerocoin mint.
func (out *Output) IsZerocoinMint() bool {
	return out.Script.IsZerocoinMint()
}

// IsCoinBase reports whether the transaction is a block's coinbase.
func (tx *Transaction) IsCoinBase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PrevOut.IsNull() && !tx.HasZerocoinSpendInputs()
}

// IsCoinStake reports whether the transaction is a proof-of-stake kernel.
func (tx *Transaction) IsCoinStake() bool {
	if len(tx.Inputs) == 0 {
		return false
	}
	first := &tx.Inputs[0]
	if first.PrevOut.IsNull() && !first.IsZerocoinSpend() && !first.IsZerocoinPublicSpend() {
		return false
	}
	return len(tx.Outputs) >= 2 && tx.Outputs[0].IsEmpty()
}

// HasZerocoinSpendInputs reports whether any input is a private or public
// zerocoin spend.
func (tx *Transaction) HasZerocoinSpendInputs() bool {
	for i := range tx.Inputs {
		if tx.Inputs[i].IsZerocoinSpend() || tx.Inputs[i].IsZerocoinPublicSpend() {
			return true
		}
	}
	return false
}

// HasZerocoinMintOutputs reports whether any output mints zerocoins.
func (tx *Transaction) HasZerocoinMintOutputs() bool {
	for i := range tx.Outputs {
		if tx.Outputs[i].IsZerocoinMint() {
			return true
		}
	}
	return false
}

// Hash computes the transaction ID (BLAKE3 hash of the serialized transaction).
func (tx *Transaction) Hash() types.Hash {
	return crypto.Hash(tx.Serialize())
}

// Serialize returns the wire encoding of the transaction.
// Format: version(4) | n_in(varint) | [txid(32) index(4) script_sig(varbytes) sequence(4)]... |
// n_out(varint) | [value(8) script(varbytes)]... | locktime(4)
func (tx *Transaction) Serialize() []byte {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	// Writes to a bytes.Buffer cannot fail.
	_ = tx.write(&buf)
	return buf.Bytes()
}

// SerializeSize returns the number of bytes Serialize produces.
func (tx *Transaction) SerializeSize() int {
	n := 4 + wire.VarIntSerializeSize(uint64(len(tx.Inputs)))
	for i := range tx.Inputs {
		script := len(tx.Inputs[i].ScriptSig)
		n += types.OutpointSize + wire.VarIntSerializeSize(uint64(script)) + script + 4
	}
	n += wire.VarIntSerializeSize(uint64(len(tx.Outputs)))
	for i := range tx.Outputs {
		script := len(tx.Outputs[i].Script)
		n += 8 + wire.VarIntSerializeSize(uint64(script)) + script
	}
	return n + 4
}

func (tx *Transaction) write(buf *bytes.Buffer) error {
	var scratch [8]byte

	binary.LittleEndian.PutUint32(scratch[:4], tx.Version)
	buf.Write(scratch[:4])

	if err := wire.WriteVarInt(buf, 0, uint64(len(tx.Inputs))); err != nil {
		return err
	}
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		buf.Write(in.PrevOut.TxID[:])
		binary.LittleEndian.PutUint32(scratch[:4], in.PrevOut.Index)
		buf.Write(scratch[:4])
		if err := wire.WriteVarBytes(buf, 0, in.ScriptSig); err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(scratch[:4], in.Sequence)
		buf.Write(scratch[:4])
	}

	if err := wire.WriteVarInt(buf, 0, uint64(len(tx.Outputs))); err != nil {
		return err
	}
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		binary.LittleEndian.PutUint64(scratch[:], uint64(out.Value))
		buf.Write(scratch[:])
		if err := wire.WriteVarBytes(buf, 0, out.Script); err != nil {
			return err
		}
	}

	binary.LittleEndian.PutUint32(scratch[:4], tx.LockTime)
	buf.Write(scratch[:4])
	return nil
}

// TotalOutputValue returns the sum of all output values.
// Returns an error on negative values or overflow.
func (tx *Transaction) TotalOutputValue() (int64, error) {
	var total int64
	for _, out := range tx.Outputs {
		if out.Value < 0 || out.Value > MaxMoney {
			return 0, fmt.Errorf("output value %d out of range", out.Value)
		}
		total += out.Value
		if total > MaxMoney {
			return 0, fmt.Errorf("output value overflow")
		}
	}
	return total, nil
}

// Coin is the number of base units in one coin.
const Coin int64 = 100_000_000

// MaxMoney bounds any single amount or sum of amounts.
const MaxMoney = 21_000_000_000 * Coin
