package headers

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// HeaderChain is a sequence of headers anchored at a fixed root, growing
// forward toward the tip. It represents a candidate fork branch; the
// currently-active main-chain segment it is compared against is summed
// by segmentWork instead (§4.C). The root itself is never included in the
// sequence or in TotalWork: work is only ever compared for the headers
// built *on top of* the common ancestor.
type HeaderChain struct {
	rootHash   chainhash.Hash
	rootHeight uint32
	records    []*Record // ordered root-exclusive, ascending height
}

// NewHeaderChain starts a chain anchored at root.
func NewHeaderChain(root *Record) *HeaderChain {
	return &HeaderChain{rootHash: root.Hash(), rootHeight: root.Height}
}

// RootHash returns the chain's anchor hash.
func (hc *HeaderChain) RootHash() chainhash.Hash { return hc.rootHash }

// RootHeight returns the anchor's height.
func (hc *HeaderChain) RootHeight() uint32 { return hc.rootHeight }

// TipHash returns the hash of the last record, or the root hash if the
// chain has no records beyond its root yet.
func (hc *HeaderChain) TipHash() chainhash.Hash {
	if len(hc.records) == 0 {
		return hc.rootHash
	}
	return hc.records[len(hc.records)-1].Hash()
}

// TipHeight mirrors TipHash.
func (hc *HeaderChain) TipHeight() uint32 {
	if len(hc.records) == 0 {
		return hc.rootHeight
	}
	return hc.records[len(hc.records)-1].Height
}

// ExtendTip appends rec to the forward end. It fails with
// ErrChainMismatchTip if rec's header does not reference the current
// tip as its parent.
func (hc *HeaderChain) ExtendTip(rec *Record) error {
	prev := rec.Header.PrevBlock
	if prev != hc.TipHash() {
		return &ErrChainMismatchTip{Expected: hc.TipHash(), Got: prev}
	}
	hc.records = append(hc.records, rec)
	return nil
}

// PushBack inserts rec immediately after the root, shifting every other
// record forward — used while walking backward from a fork tip toward
// the common ancestor, where records are discovered tip-first but must
// end up stored root-first. It fails with ErrChainMismatchRoot if the
// chain already has records and rec is not their parent.
func (hc *HeaderChain) PushBack(rec *Record) error {
	if len(hc.records) > 0 {
		first := hc.records[0]
		if rec.Hash() != first.Header.PrevBlock {
			return &ErrChainMismatchRoot{Expected: first.Header.PrevBlock, Got: rec.Hash()}
		}
	}
	hc.records = append([]*Record{rec}, hc.records...)
	return nil
}

// Records returns the chain's records in ascending-height, root-exclusive order.
func (hc *HeaderChain) Records() []*Record { return hc.records }

// TotalWork sums the proof-of-work weight of every record in the chain
// (root excluded), using the same difficulty-bits-to-work conversion
// Bitcoin Core uses.
func (hc *HeaderChain) TotalWork() *big.Int {
	total := big.NewInt(0)
	for _, rec := range hc.records {
		total.Add(total, blockchain.CalcWork(rec.Header.Bits))
	}
	return total
}

// segmentWork sums the work of main-chain records in (fromHeight,
// toHeight] using the cache's indexed records — used to compute the
// currently-active segment's work without building a HeaderChain for it.
func segmentWork(byHash map[chainhash.Hash]*Record, mainChain []chainhash.Hash, fromHeight, toHeight uint32) *big.Int {
	total := big.NewInt(0)
	for h := fromHeight + 1; h <= toHeight; h++ {
		rec := byHash[mainChain[h]]
		if rec == nil {
			continue
		}
		total.Add(total, blockchain.CalcWork(rec.Header.Bits))
	}
	return total
}
