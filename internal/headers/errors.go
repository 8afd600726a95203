package headers

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrMissingHeader is returned when a lookup by hash finds nothing.
type ErrMissingHeader struct{ Hash chainhash.Hash }

func (e *ErrMissingHeader) Error() string {
	return fmt.Sprintf("headers: missing header %s", e.Hash)
}

// ErrMissingHeaderAtHeight is returned when the main-chain array has no
// entry at the requested height.
type ErrMissingHeaderAtHeight struct{ Height uint32 }

func (e *ErrMissingHeaderAtHeight) Error() string {
	return fmt.Sprintf("headers: missing header at height %d", e.Height)
}

// ErrAlreadyPresent is returned by fast-extend when a header claimed to
// be new already exists in the cache.
type ErrAlreadyPresent struct{ Hash chainhash.Hash }

func (e *ErrAlreadyPresent) Error() string {
	return fmt.Sprintf("headers: %s already present", e.Hash)
}

// ErrChainMismatchTip is returned when extending a HeaderChain's tip
// with a header that does not reference that tip.
type ErrChainMismatchTip struct{ Expected, Got chainhash.Hash }

func (e *ErrChainMismatchTip) Error() string {
	return fmt.Sprintf("headers: tip mismatch: expected %s got %s", e.Expected, e.Got)
}

// ErrChainMismatchRoot is returned when pushing a root whose child does
// not reference it as parent.
type ErrChainMismatchRoot struct{ Expected, Got chainhash.Hash }

func (e *ErrChainMismatchRoot) Error() string {
	return fmt.Sprintf("headers: root mismatch: expected %s got %s", e.Expected, e.Got)
}
