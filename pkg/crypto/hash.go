// Package crypto provides the hash primitives used for block and transaction ids.
package crypto

import (
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}
