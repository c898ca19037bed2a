package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Klingon-tech/klingnet-chainstate/internal/chain"
	"github.com/Klingon-tech/klingnet-chainstate/internal/chainerr"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/block"
)

// ImportResult counts what ImportBlocks did with each record.
type ImportResult struct {
	Blocks   int `json:"blocks"`
	Headers  int `json:"headers"`
	Known    int `json:"known"`
	Rejected int `json:"rejected"`
}

func (r ImportResult) total() int { return r.Blocks + r.Headers + r.Known + r.Rejected }

// ProcessBlock hands a full block to the chain. Connecting it moves the
// active tip and wakes tip waiters.
func (n *Node) ProcessBlock(blk *block.Block) error {
	_, done, err := n.begin(context.Background())
	if err != nil {
		return err
	}
	defer done()
	return n.processBlock(blk)
}

// AcceptHeader indexes a header without its block data.
func (n *Node) AcceptHeader(header *block.Header) error {
	_, done, err := n.begin(context.Background())
	if err != nil {
		return err
	}
	defer done()
	_, err = n.ch.AcceptHeader(header)
	return err
}

func (n *Node) processBlock(blk *block.Block) error {
	if err := n.ch.ProcessBlock(blk); err != nil {
		return err
	}
	n.logger.Debug().
		Str("hash", shortHash(blk.Hash().String())).
		Uint32("height", blk.Header.Height).
		Msg("Block processed")
	return nil
}

type decoded struct {
	blk *block.Block
	err error
}

// decodeBlocks streams JSON blocks from r until EOF, a decode error or
// quit. Reads may block on r, so it runs apart from the import loop.
func decodeBlocks(r io.Reader, quit <-chan struct{}) <-chan decoded {
	out := make(chan decoded)
	go func() {
		defer close(out)
		dec := json.NewDecoder(r)
		for {
			var blk block.Block
			err := dec.Decode(&blk)
			if errors.Is(err, io.EOF) {
				return
			}
			var d decoded
			if err != nil {
				d.err = err
			} else {
				d.blk = &blk
			}
			select {
			case out <- d:
			case <-quit:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

// ImportBlocks reads a stream of JSON blocks. A record without
// transactions is indexed as a header only. Known blocks are skipped and
// blocks the chain refuses are counted; a malformed stream aborts.
// Cancelling ctx or stopping the node ends the import even while r is
// waiting for more data.
func (n *Node) ImportBlocks(ctx context.Context, r io.Reader) (ImportResult, error) {
	var res ImportResult
	ctx, done, err := n.begin(ctx)
	if err != nil {
		return res, err
	}
	defer done()

	quit := make(chan struct{})
	defer close(quit)
	records := decodeBlocks(r, quit)

	for {
		var rec decoded
		var ok bool
		select {
		case <-ctx.Done():
			return res, chainerr.Cancelled(ctx.Err())
		case rec, ok = <-records:
		}
		if !ok {
			break
		}
		if rec.err != nil {
			return res, fmt.Errorf("decode block %d: %w", res.total()+1, rec.err)
		}
		blk := rec.blk
		if blk.Header == nil {
			return res, fmt.Errorf("block %d has no header", res.total()+1)
		}

		if len(blk.Transactions) == 0 {
			_, err = n.ch.AcceptHeader(blk.Header)
		} else {
			err = n.processBlock(blk)
		}
		switch {
		case err == nil && len(blk.Transactions) == 0:
			res.Headers++
		case err == nil:
			res.Blocks++
		case errors.Is(err, chain.ErrBlockKnown):
			res.Known++
		default:
			res.Rejected++
			n.logger.Warn().
				Err(err).
				Str("hash", shortHash(blk.Hash().String())).
				Uint32("height", blk.Header.Height).
				Msg("Block rejected")
		}
	}

	n.logger.Info().
		Int("blocks", res.Blocks).
		Int("headers", res.Headers).
		Int("known", res.Known).
		Int("rejected", res.Rejected).
		Int64("height", n.BlockCount()).
		Msg("Import finished")
	return res, nil
}
