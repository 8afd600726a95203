package headers

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Record is one stored header: the 80-byte consensus header, its
// height, and whether it currently sits on the main chain (§3 "Header
// record"). Everything but InMainChain is immutable once created.
type Record struct {
	Header      wire.BlockHeader
	Height      uint32
	InMainChain bool
}

// Hash returns the record's block hash, computed from its header bytes.
func (r *Record) Hash() chainhash.Hash {
	return r.Header.BlockHash()
}

// StoredHeader is the flat shape the storage contract persists and
// loads (§6.2's header.load_by_hash / header.scan / header.upsert_many).
type StoredHeader struct {
	Hash        chainhash.Hash
	Header      wire.BlockHeader
	Height      uint32
	InMainChain bool
}
