package chain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chainstate/internal/chainerr"
	"github.com/Klingon-tech/klingnet-chainstate/internal/storage"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/block"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/tx"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// Key prefixes and state keys for the block store.
var (
	prefixBlock = []byte("b/") // b/<hash(32)> -> block JSON
	prefixTx    = []byte("x/") // x/<txhash(32)> -> blockHash(32) + position(4)
	keyTipHash  = []byte("s/tip")
)

// BlockStore persists blocks and chain metadata to a storage.DB.
type BlockStore struct {
	db storage.DB
}

// NewBlockStore creates a block store backed by the given database.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{db: db}
}

// StoreBlock stores a block by its hash only, without updating the tx
// index. Use this for blocks that are not (yet) on the active chain.
func (bs *BlockStore) StoreBlock(blk *block.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}
	hash := blk.Hash()
	if err := bs.db.Put(blockKey(hash), data); err != nil {
		return fmt.Errorf("block put: %w", err)
	}
	return nil
}

// PutBlock stores a block and indexes its transactions.
func (bs *BlockStore) PutBlock(blk *block.Block) error {
	if err := bs.StoreBlock(blk); err != nil {
		return err
	}
	return bs.IndexTransactions(blk)
}

// IndexTransactions maps each transaction hash of blk to its block and
// position, overwriting entries from blocks on abandoned branches.
func (bs *BlockStore) IndexTransactions(blk *block.Block) error {
	hash := blk.Hash()
	for i, t := range blk.Transactions {
		txHash := t.Hash()
		val := make([]byte, types.HashSize+4)
		copy(val, hash[:])
		binary.BigEndian.PutUint32(val[types.HashSize:], uint32(i))
		if err := bs.db.Put(txKey(txHash), val); err != nil {
			return fmt.Errorf("tx index put %s: %w", txHash, err)
		}
	}
	return nil
}

// GetBlock retrieves a block by its hash.
func (bs *BlockStore) GetBlock(hash types.Hash) (*block.Block, error) {
	data, err := bs.db.Get(blockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("block get: %w", err)
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("block unmarshal: %w", err)
	}
	if blk.Header == nil {
		return nil, fmt.Errorf("block %s has no header", hash)
	}
	return &blk, nil
}

// ReadBlock loads the block for an index node. Every failure, including a
// stored block whose hash does not match the node, is an ErrBlockRead.
func (bs *BlockStore) ReadBlock(n *Node) (*block.Block, error) {
	blk, err := bs.GetBlock(n.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: height %d: %v", chainerr.ErrBlockRead, n.Height, err)
	}
	if got := blk.Hash(); got != n.Hash {
		return nil, fmt.Errorf("%w: height %d: hash mismatch %s", chainerr.ErrBlockRead, n.Height, got)
	}
	return blk, nil
}

// HasBlock checks if a block exists by hash.
func (bs *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	return bs.db.Has(blockKey(hash))
}

// SetTip stores the current chain tip hash.
func (bs *BlockStore) SetTip(hash types.Hash) error {
	if err := bs.db.Put(keyTipHash, hash[:]); err != nil {
		return fmt.Errorf("set tip hash: %w", err)
	}
	return nil
}

// GetTip returns the stored chain tip hash, or the zero hash on a fresh
// database.
func (bs *BlockStore) GetTip() (types.Hash, error) {
	hashBytes, err := bs.db.Get(keyTipHash)
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, nil
	}
	if err != nil {
		return types.Hash{}, fmt.Errorf("get tip hash: %w", err)
	}
	if len(hashBytes) != types.HashSize {
		return types.Hash{}, fmt.Errorf("corrupt tip hash: got %d bytes", len(hashBytes))
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return hash, nil
}

// GetTxLocation returns the block hash and position of a transaction.
func (bs *BlockStore) GetTxLocation(txHash types.Hash) (types.Hash, uint32, error) {
	data, err := bs.db.Get(txKey(txHash))
	if err != nil {
		return types.Hash{}, 0, fmt.Errorf("tx index get: %w", err)
	}
	if len(data) != types.HashSize+4 {
		return types.Hash{}, 0, fmt.Errorf("corrupt tx index: got %d bytes, want %d", len(data), types.HashSize+4)
	}
	var blockHash types.Hash
	copy(blockHash[:], data[:types.HashSize])
	return blockHash, binary.BigEndian.Uint32(data[types.HashSize:]), nil
}

// GetTransaction looks up a transaction by hash via the tx index.
func (bs *BlockStore) GetTransaction(hash types.Hash) (*tx.Transaction, error) {
	blockHash, pos, err := bs.GetTxLocation(hash)
	if err != nil {
		return nil, err
	}
	blk, err := bs.GetBlock(blockHash)
	if err != nil {
		return nil, fmt.Errorf("load block for tx: %w", err)
	}
	if int(pos) >= len(blk.Transactions) || blk.Transactions[pos].Hash() != hash {
		return nil, fmt.Errorf("tx %s not found in block %s (index corrupt)", hash, blockHash)
	}
	return blk.Transactions[pos], nil
}

func blockKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixBlock)+types.HashSize)
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], hash[:])
	return key
}

func txKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixTx)+types.HashSize)
	copy(key, prefixTx)
	copy(key[len(prefixTx):], hash[:])
	return key
}
