package blockstats

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/Klingon-tech/klingnet-chainstate/internal/chainerr"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/tx"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// TxSource finds transactions by id.
type TxSource interface {
	GetTransaction(hash types.Hash) (*tx.Transaction, error)
}

// StorePrevOutResolver resolves previous outputs through a transaction
// index and keeps recently decoded transactions in a TTL cache.
type StorePrevOutResolver struct {
	txs   TxSource
	cache *ttlcache.Cache[types.Hash, *tx.Transaction]
}

// NewStorePrevOutResolver creates a resolver over txs. capacity bounds the
// number of cached transactions; ttl is how long each stays cached.
func NewStorePrevOutResolver(txs TxSource, capacity uint64, ttl time.Duration) *StorePrevOutResolver {
	opts := []ttlcache.Option[types.Hash, *tx.Transaction]{
		ttlcache.WithTTL[types.Hash, *tx.Transaction](ttl),
		ttlcache.WithDisableTouchOnHit[types.Hash, *tx.Transaction](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[types.Hash, *tx.Transaction](capacity))
	}
	return &StorePrevOutResolver{
		txs:   txs,
		cache: ttlcache.New(opts...),
	}
}

// Start runs expired-item cleanup until Stop is called. It blocks.
func (r *StorePrevOutResolver) Start() { r.cache.Start() }

// Stop ends the cleanup loop started by Start.
func (r *StorePrevOutResolver) Stop() { r.cache.Stop() }

// Len returns the number of cached transactions.
func (r *StorePrevOutResolver) Len() int { return r.cache.Len() }

// PrevOutValue returns the value of output op.Index of transaction op.TxID.
func (r *StorePrevOutResolver) PrevOutValue(ctx context.Context, op types.Outpoint) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, chainerr.Cancelled(err)
	}
	t, err := r.transaction(op.TxID)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", chainerr.ErrPrevOutputMissing, op, err)
	}
	if int(op.Index) >= len(t.Outputs) {
		return 0, fmt.Errorf("%w: %s: transaction has %d outputs", chainerr.ErrPrevOutputMissing, op, len(t.Outputs))
	}
	return t.Outputs[op.Index].Value, nil
}

func (r *StorePrevOutResolver) transaction(txid types.Hash) (*tx.Transaction, error) {
	if item := r.cache.Get(txid); item != nil {
		return item.Value(), nil
	}
	t, err := r.txs.GetTransaction(txid)
	if err != nil {
		return nil, err
	}
	r.cache.Set(txid, t, ttlcache.DefaultTTL)
	return t, nil
}
