// Package chainerr defines the error kinds shared by the chain-state
// queries. Callers match them with errors.Is.
package chainerr

import "errors"

var (
	// ErrRead reports a chainstate cursor that yielded a malformed,
	// undecodable or out-of-order entry.
	ErrRead = errors.New("unable to read UTXO set")

	// ErrInvalidRange reports a block height range outside the active chain.
	ErrInvalidRange = errors.New("invalid block range")

	// ErrBlockRead reports a block that could not be loaded from storage.
	ErrBlockRead = errors.New("can't read block from disk")

	// ErrPrevOutputMissing reports an input whose previous output could
	// not be resolved.
	ErrPrevOutputMissing = errors.New("previous output not found")

	// ErrCancelled reports a scan stopped by its context.
	ErrCancelled = errors.New("operation cancelled")
)

// Cancelled wraps a context error so that it matches both ErrCancelled
// and the context error that caused it.
func Cancelled(err error) error {
	return errors.Join(ErrCancelled, err)
}
