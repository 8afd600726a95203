package headers

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// easyBits and hardBits are real Bitcoin difficulty-bits encodings with
// a large work gap between them, used to make fork comparisons
// deterministic in tests without needing real proof-of-work.
const (
	easyBits uint32 = 0x207fffff // regtest-level, minimal work
	hardBits uint32 = 0x1d00ffff // mainnet-genesis-level, much more work
)

func mkHeader(prev chainhash.Hash, bits uint32, nonce uint32) wire.BlockHeader {
	return wire.BlockHeader{
		Version:    1,
		PrevBlock:  prev,
		MerkleRoot: chainhash.Hash{byte(nonce), byte(nonce >> 8), byte(nonce >> 16)},
		Timestamp:  time.Unix(1700000000, 0),
		Bits:       bits,
		Nonce:      nonce,
	}
}

func newTestCache(t *testing.T) (*Cache, wire.BlockHeader) {
	t.Helper()
	c, err := NewCache(10_000)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	genesis := mkHeader(chainhash.Hash{}, easyBits, 0)
	if err := c.SeedGenesis(genesis); err != nil {
		t.Fatalf("SeedGenesis: %v", err)
	}
	return c, genesis
}

// S1 — Optimistic extension.
func TestOptimisticExtension(t *testing.T) {
	c, genesis := newTestCache(t)
	h1 := mkHeader(genesis.BlockHash(), easyBits, 1)
	h2 := mkHeader(h1.BlockHash(), easyBits, 2)

	if err := c.UpdateLongestChain([]wire.BlockHeader{h1}); err != nil {
		t.Fatalf("extend h1: %v", err)
	}
	if err := c.UpdateLongestChain([]wire.BlockHeader{h2}); err != nil {
		t.Fatalf("extend h2: %v", err)
	}

	if c.CurrentHeight() != 2 {
		t.Fatalf("height = %d, want 2", c.CurrentHeight())
	}
	tip, _ := c.BlockHashAt(2)
	if tip != h2.BlockHash() {
		t.Fatalf("tip mismatch")
	}
	for _, h := range []wire.BlockHeader{h1, h2} {
		rec, ok := c.GetHeader(h.BlockHash())
		if !ok || !rec.InMainChain {
			t.Fatalf("expected %s in main chain", h.BlockHash())
		}
	}
	if len(c.DirtyHashes()) != 2 {
		t.Fatalf("expected 2 dirty records, got %d", len(c.DirtyHashes()))
	}
}

// S2 — Out-of-order arrival promotes from orphan pool.
func TestOrphanPromotion(t *testing.T) {
	c, genesis := newTestCache(t)
	h1 := mkHeader(genesis.BlockHash(), easyBits, 1)
	h2 := mkHeader(h1.BlockHash(), easyBits, 2)

	if err := c.UpdateLongestChain([]wire.BlockHeader{h2}); err != nil {
		t.Fatalf("deliver h2: %v", err)
	}
	if _, ok := c.GetHeader(h2.BlockHash()); ok {
		t.Fatalf("h2 should not be adopted yet")
	}

	if err := c.UpdateLongestChain([]wire.BlockHeader{h1}); err != nil {
		t.Fatalf("deliver h1: %v", err)
	}

	if c.CurrentHeight() != 2 {
		t.Fatalf("height = %d, want 2", c.CurrentHeight())
	}
	rec2, ok := c.GetHeader(h2.BlockHash())
	if !ok || !rec2.InMainChain {
		t.Fatalf("h2 should be adopted into main chain")
	}
}

// S3 — Losing fork kept inactive.
func TestLosingForkStoredInactive(t *testing.T) {
	c, genesis := newTestCache(t)
	h1 := mkHeader(genesis.BlockHash(), hardBits, 1)
	h2 := mkHeader(h1.BlockHash(), hardBits, 2)
	if err := c.UpdateLongestChain([]wire.BlockHeader{h1, h2}); err != nil {
		t.Fatalf("build main chain: %v", err)
	}

	h1prime := mkHeader(genesis.BlockHash(), easyBits, 99)
	if err := c.UpdateLongestChain([]wire.BlockHeader{h1prime}); err != nil {
		t.Fatalf("deliver weaker fork: %v", err)
	}

	tip, _ := c.BlockHashAt(2)
	if tip != h2.BlockHash() {
		t.Fatalf("main tip should remain h2")
	}
	rec, ok := c.GetHeader(h1prime.BlockHash())
	if !ok || rec.InMainChain {
		t.Fatalf("h1' should be stored inactive")
	}
}

// S4 — Winning fork triggers reorg.
func TestWinningForkReorgs(t *testing.T) {
	c, genesis := newTestCache(t)
	h1 := mkHeader(genesis.BlockHash(), easyBits, 1)
	h2 := mkHeader(h1.BlockHash(), easyBits, 2)
	if err := c.UpdateLongestChain([]wire.BlockHeader{h1, h2}); err != nil {
		t.Fatalf("build main chain: %v", err)
	}

	h1prime := mkHeader(genesis.BlockHash(), hardBits, 101)
	if err := c.UpdateLongestChain([]wire.BlockHeader{h1prime}); err != nil {
		t.Fatalf("deliver h1': %v", err)
	}
	h2prime := mkHeader(h1prime.BlockHash(), hardBits, 102)
	if err := c.UpdateLongestChain([]wire.BlockHeader{h2prime}); err != nil {
		t.Fatalf("deliver h2': %v", err)
	}

	if c.CurrentHeight() != 2 {
		t.Fatalf("height = %d, want 2", c.CurrentHeight())
	}
	tip, _ := c.BlockHashAt(2)
	if tip != h2prime.BlockHash() {
		t.Fatalf("main tip should have switched to h2'")
	}
	for _, h := range []wire.BlockHeader{h1, h2} {
		rec, _ := c.GetHeader(h.BlockHash())
		if rec.InMainChain {
			t.Fatalf("%s should have been deactivated", h.BlockHash())
		}
	}
}

func TestIdempotentRedelivery(t *testing.T) {
	c, genesis := newTestCache(t)
	h1 := mkHeader(genesis.BlockHash(), easyBits, 1)
	if err := c.UpdateLongestChain([]wire.BlockHeader{h1}); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := c.UpdateLongestChain([]wire.BlockHeader{h1}); err == nil {
		t.Fatalf("expected AlreadyPresent on redelivery")
	}
	if c.CurrentHeight() != 1 {
		t.Fatalf("height changed on redelivery")
	}
}

func TestLocatorHeightsTerminatesAtZero(t *testing.T) {
	heights := locatorHeights(50)
	if heights[len(heights)-1] != 0 {
		t.Fatalf("locator must terminate at height 0, got %v", heights)
	}
	for i := 0; i < 10 && i < len(heights)-1; i++ {
		if heights[i]-heights[i+1] != 1 {
			t.Fatalf("first ten steps must be 1, got %v", heights)
		}
	}
}
