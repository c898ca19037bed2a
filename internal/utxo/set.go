// Package utxo manages the UTXO set and computes its statistics digest.
package utxo

import "github.com/Klingon-tech/klingnet-chainstate/pkg/types"

// UTXO represents an unspent transaction output.
type UTXO struct {
	Outpoint  types.Outpoint `json:"outpoint"`
	Value     int64          `json:"value"`
	Script    types.Script   `json:"script"`
	Height    uint64         `json:"height"`
	Coinbase  bool           `json:"coinbase"`
	Coinstake bool           `json:"coinstake,omitempty"`
}

// Set is the interface for UTXO storage.
type Set interface {
	Get(outpoint types.Outpoint) (*UTXO, error)
	Put(utxo *UTXO) error
	Delete(outpoint types.Outpoint) error
	Has(outpoint types.Outpoint) (bool, error)
}
