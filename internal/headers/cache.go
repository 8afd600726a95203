// Package headers implements the in-memory header DAG, fork detection,
// reorg resolution and orphan pool described in §4.C/§4.D: the
// authoritative representation of the chain the rest of the indexer
// reasons about.
package headers

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "headers")

// Store is the subset of the storage contract (§6.2) the cache needs to
// load from and flush to.
type Store interface {
	LoadAllHeaders(ctx context.Context) ([]StoredHeader, error)
	UpsertHeaders(ctx context.Context, records []StoredHeader) error
	GetTip(ctx context.Context) (chainhash.Hash, error)
	SetTip(ctx context.Context, hash chainhash.Hash) error
}

// Cache is the canonical in-memory header DAG (§4.C). All public
// methods are safe for concurrent use; callers that also hold the
// storage lock must acquire it only while already holding this one
// (§5's headers-cache → storage → event-bus lock order).
type Cache struct {
	mu        sync.Mutex
	byHash    map[chainhash.Hash]*Record
	mainChain []chainhash.Hash // index by height
	orphans   *lru.Cache[chainhash.Hash, wire.BlockHeader]
	dirty     map[chainhash.Hash]struct{}
}

// NewCache constructs an empty Cache with a bounded orphan pool (§9's
// open question resolved in favour of a generous LRU cap).
func NewCache(orphanPoolCap int) (*Cache, error) {
	orphans, err := lru.New[chainhash.Hash, wire.BlockHeader](orphanPoolCap)
	if err != nil {
		return nil, fmt.Errorf("headers: build orphan pool: %w", err)
	}
	return &Cache{
		byHash:  make(map[chainhash.Hash]*Record),
		orphans: orphans,
		dirty:   make(map[chainhash.Hash]struct{}),
	}, nil
}

// Load reads every stored header, then reconstructs the main-chain
// array by walking parent pointers backward from the stored tip to
// height 0. It fails if the chain is broken or the tip is absent.
func (c *Cache) Load(ctx context.Context, store Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := store.LoadAllHeaders(ctx)
	if err != nil {
		return fmt.Errorf("headers: load: %w", err)
	}
	byHash := make(map[chainhash.Hash]*Record, len(stored))
	for _, s := range stored {
		byHash[s.Hash] = &Record{Header: s.Header, Height: s.Height, InMainChain: s.InMainChain}
	}

	tip, err := store.GetTip(ctx)
	if err != nil {
		return fmt.Errorf("headers: load tip: %w", err)
	}
	tipRec, ok := byHash[tip]
	if !ok {
		return &ErrMissingHeader{Hash: tip}
	}

	mainChain := make([]chainhash.Hash, tipRec.Height+1)
	cur := tipRec
	for {
		mainChain[cur.Height] = cur.Hash()
		if cur.Height == 0 {
			break
		}
		parent, ok := byHash[cur.Header.PrevBlock]
		if !ok {
			return &ErrMissingHeader{Hash: cur.Header.PrevBlock}
		}
		cur = parent
	}

	c.byHash = byHash
	c.mainChain = mainChain
	return nil
}

// SeedGenesis installs the configured network's genesis header as the
// sole main-chain record when the cache starts out empty. The Bitcoin
// P2P protocol never transmits the genesis header itself, so it must be
// seeded locally rather than arriving through UpdateLongestChain.
func (c *Cache) SeedGenesis(genesis wire.BlockHeader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.mainChain) != 0 {
		return nil
	}
	hash := genesis.BlockHash()
	rec := &Record{Header: genesis, Height: 0, InMainChain: true}
	c.byHash[hash] = rec
	c.mainChain = []chainhash.Hash{hash}
	return nil
}

// GetHeader returns the record stored for hash, if any.
func (c *Cache) GetHeader(hash chainhash.Hash) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byHash[hash]
	return rec, ok
}

// BlockHashAt returns the main-chain hash at height, if any.
func (c *Cache) BlockHashAt(height uint32) (chainhash.Hash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(height) >= len(c.mainChain) {
		return chainhash.Hash{}, false
	}
	return c.mainChain[height], true
}

// CurrentHeight returns the height of the current main-chain tip.
func (c *Cache) CurrentHeight() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentHeightLocked()
}

func (c *Cache) currentHeightLocked() uint32 {
	if len(c.mainChain) == 0 {
		return 0
	}
	return uint32(len(c.mainChain) - 1)
}

func (c *Cache) mainTipLocked() chainhash.Hash {
	return c.mainChain[len(c.mainChain)-1]
}

// BuildGetHeadersLocator produces the sampled-hash list per §4.D.
func (c *Cache) BuildGetHeadersLocator() []chainhash.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	heights := locatorHeights(c.currentHeightLocked())
	out := make([]chainhash.Hash, 0, len(heights))
	for _, h := range heights {
		out = append(out, c.mainChain[h])
	}
	return out
}

// BuildGetBlocks returns the hashes of main-chain blocks in
// [fromHeight, min(fromHeight+batch, currentHeight)).
func (c *Cache) BuildGetBlocks(fromHeight, batch uint32) []chainhash.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.currentHeightLocked()
	end := fromHeight + batch
	if end > current {
		end = current
	}
	var out []chainhash.Hash
	for h := fromHeight; h < end; h++ {
		if int(h) >= len(c.mainChain) {
			break
		}
		out = append(out, c.mainChain[h])
	}
	return out
}

// UpdateLongestChain is the central algorithm of §4.C: it ingests a
// burst of headers, fast-extends when possible, otherwise evaluates a
// fork candidate by cumulative work and reorganizes if it wins, stashes
// orphans whose parent is unknown, and recursively promotes any orphan
// whose parent this call just supplied.
func (c *Cache) UpdateLongestChain(incoming []wire.BlockHeader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateLongestChainLocked(incoming)
}

func (c *Cache) updateLongestChainLocked(incoming []wire.BlockHeader) error {
	if len(incoming) == 0 {
		return nil
	}

	if len(c.mainChain) == 0 {
		return c.initGenesisLocked(incoming)
	}

	first := incoming[0]
	mainTip := c.mainTipLocked()

	if first.PrevBlock == mainTip {
		return c.fastExtendLocked(incoming)
	}

	parent, ok := c.byHash[first.PrevBlock]
	if !ok {
		for _, h := range incoming {
			c.stashOrphanLocked(h)
		}
		return nil
	}

	return c.resolveForkLocked(parent, incoming)
}

// initGenesisLocked handles the bootstrap case where the cache has no
// main chain yet: the first incoming header must be the configured
// genesis (height 0, no parent requirement enforced here — callers seed
// genesis explicitly via SeedGenesis).
func (c *Cache) initGenesisLocked(incoming []wire.BlockHeader) error {
	height := uint32(0)
	for _, h := range incoming {
		hash := h.BlockHash()
		if _, exists := c.byHash[hash]; exists {
			return &ErrAlreadyPresent{Hash: hash}
		}
		rec := &Record{Header: h, Height: height, InMainChain: true}
		c.byHash[hash] = rec
		c.mainChain = append(c.mainChain, hash)
		c.dirty[hash] = struct{}{}
		c.orphans.Remove(hash)
		height++
	}
	return c.promoteOrphansLocked()
}

func (c *Cache) fastExtendLocked(incoming []wire.BlockHeader) error {
	mainTip := c.byHash[c.mainTipLocked()]
	height := mainTip.Height + 1
	prev := mainTip.Hash()
	for _, h := range incoming {
		hash := h.BlockHash()
		if _, exists := c.byHash[hash]; exists {
			return &ErrAlreadyPresent{Hash: hash}
		}
		if h.PrevBlock != prev {
			return &ErrChainMismatchTip{Expected: prev, Got: h.PrevBlock}
		}
		rec := &Record{Header: h, Height: height, InMainChain: true}
		c.byHash[hash] = rec
		c.mainChain = append(c.mainChain, hash)
		c.dirty[hash] = struct{}{}
		c.orphans.Remove(hash)
		prev = hash
		height++
	}
	log.WithField("height", c.currentHeightLocked()).Debug("fast-extended main chain")
	return c.promoteOrphansLocked()
}

func (c *Cache) resolveForkLocked(parent *Record, incoming []wire.BlockHeader) error {
	newChain, root, err := c.buildAncestorChainLocked(parent)
	if err != nil {
		return err
	}
	for _, h := range incoming {
		rec := &Record{Header: h, Height: 0, InMainChain: false}
		if err := newChain.ExtendTip(rec); err != nil {
			return err
		}
	}
	// Assign sequential heights now that the full candidate is built.
	height := root.Height + 1
	for _, rec := range newChain.records {
		rec.Height = height
		height++
	}

	newWork := newChain.TotalWork()
	mainWork := segmentWork(c.byHash, c.mainChain, root.Height, c.currentHeightLocked())

	if newWork.Cmp(mainWork) <= 0 {
		// Tie or loss: store inactive (§4.C step 7).
		for _, rec := range newChain.records {
			hash := rec.Hash()
			if _, exists := c.byHash[hash]; exists {
				return &ErrAlreadyPresent{Hash: hash}
			}
			rec.InMainChain = false
			c.byHash[hash] = rec
			c.dirty[hash] = struct{}{}
			c.orphans.Remove(hash)
		}
		log.WithFields(logrus.Fields{
			"root":     root.Hash(),
			"newWork":  newWork.String(),
			"mainWork": mainWork.String(),
		}).Debug("fork stored inactive")
		return c.promoteOrphansLocked()
	}

	// Reorg (§4.C step 6): deactivate the losing segment, activate the winner.
	for h := root.Height + 1; h <= c.currentHeightLocked(); h++ {
		if int(h) >= len(c.mainChain) {
			break
		}
		hash := c.mainChain[h]
		if rec, ok := c.byHash[hash]; ok {
			rec.InMainChain = false
			c.dirty[hash] = struct{}{}
		}
	}
	c.mainChain = c.mainChain[:root.Height+1]

	for _, rec := range newChain.records {
		hash := rec.Hash()
		if existing, exists := c.byHash[hash]; exists {
			existing.InMainChain = true
			existing.Height = rec.Height
		} else {
			rec.InMainChain = true
			c.byHash[hash] = rec
		}
		c.mainChain = append(c.mainChain, hash)
		c.dirty[hash] = struct{}{}
		c.orphans.Remove(hash)
	}

	log.WithFields(logrus.Fields{
		"root":      root.Hash(),
		"newTip":    newChain.TipHash(),
		"newHeight": c.currentHeightLocked(),
	}).Info("reorganized main chain")

	return c.promoteOrphansLocked()
}

// buildAncestorChainLocked walks backward from tip through non-main-chain
// ancestors until it reaches a record that is on the main chain — the
// common root — and returns a HeaderChain spanning (root, tip].
func (c *Cache) buildAncestorChainLocked(tip *Record) (*HeaderChain, *Record, error) {
	var backward []*Record
	cur := tip
	for !cur.InMainChain {
		backward = append(backward, cur)
		parent, ok := c.byHash[cur.Header.PrevBlock]
		if !ok {
			return nil, nil, &ErrMissingHeader{Hash: cur.Header.PrevBlock}
		}
		cur = parent
	}
	root := cur
	hc := NewHeaderChain(root)
	for i := len(backward) - 1; i >= 0; i-- {
		if err := hc.PushBack(backward[i]); err != nil {
			return nil, nil, err
		}
	}
	return hc, root, nil
}

func (c *Cache) stashOrphanLocked(h wire.BlockHeader) {
	hash := h.BlockHash()
	if _, exists := c.byHash[hash]; exists {
		return
	}
	c.orphans.Add(hash, h)
	log.WithField("hash", hash).Debug("stashed orphan header")
}

// promoteOrphansLocked recursively adopts every orphan whose parent is
// now present in the cache (§4.C step 8).
func (c *Cache) promoteOrphansLocked() error {
	for {
		promoted := false
		for _, hash := range c.orphans.Keys() {
			h, ok := c.orphans.Peek(hash)
			if !ok {
				continue
			}
			if _, parentKnown := c.byHash[h.PrevBlock]; !parentKnown {
				continue
			}
			c.orphans.Remove(hash)
			if err := c.updateLongestChainLocked([]wire.BlockHeader{h}); err != nil {
				return err
			}
			promoted = true
		}
		if !promoted {
			return nil
		}
	}
}

// DirtyHashes returns the current dirty set's hashes.
func (c *Cache) DirtyHashes() []chainhash.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chainhash.Hash, 0, len(c.dirty))
	for h := range c.dirty {
		out = append(out, h)
	}
	return out
}

// Flush persists every dirty record and the current tip, then clears
// the dirty set. Flush takes the headers-cache lock itself and holds it
// while calling store, which is §5's headers-cache → storage order; the
// caller must not already hold the cache lock.
func (c *Cache) Flush(ctx context.Context, store Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.dirty) == 0 {
		return nil
	}
	records := make([]StoredHeader, 0, len(c.dirty))
	for hash := range c.dirty {
		rec := c.byHash[hash]
		records = append(records, StoredHeader{Hash: hash, Header: rec.Header, Height: rec.Height, InMainChain: rec.InMainChain})
	}
	if err := store.UpsertHeaders(ctx, records); err != nil {
		return fmt.Errorf("headers: flush: %w", err)
	}
	if err := store.SetTip(ctx, c.mainTipLocked()); err != nil {
		return fmt.Errorf("headers: flush tip: %w", err)
	}
	c.dirty = make(map[chainhash.Hash]struct{})
	return nil
}
