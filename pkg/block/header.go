package block

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-chainstate/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// Header contains block metadata.
type Header struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint64     `json:"timestamp"`
	Height     uint32     `json:"height"`
	Bits       uint32     `json:"bits"`
	Nonce      uint32     `json:"nonce"`
}

// Hash computes the block header hash.
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.Bytes())
}

// Bytes returns the canonical header encoding.
// Format: version(4) | prev_hash(32) | merkle_root(32) | timestamp(8) | height(4) | bits(4) | nonce(4)
func (h *Header) Bytes() []byte {
	buf := make([]byte, 0, 88)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, h.Height)
	buf = binary.LittleEndian.AppendUint32(buf, h.Bits)
	buf = binary.LittleEndian.AppendUint32(buf, h.Nonce)
	return buf
}
