package types

import "fmt"

// OutpointSize is the encoded size of an outpoint: txid(32) + index(4).
const OutpointSize = HashSize + 4

// Outpoint references a specific output in a transaction.
type Outpoint struct {
	TxID  Hash   `json:"txid"`
	Index uint32 `json:"index"`
}

// IsNull reports whether the outpoint references nothing. Coinbase inputs
// and private zerocoin spends carry a null outpoint.
func (o Outpoint) IsNull() bool {
	return o.TxID.IsZero() && o.Index == NullIndex
}

// NullIndex is the output index carried by a null outpoint.
const NullIndex = ^uint32(0)

// NullOutpoint returns the outpoint used by inputs that spend nothing.
func NullOutpoint() Outpoint {
	return Outpoint{Index: NullIndex}
}

// String returns "txid:index" in hex.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}
