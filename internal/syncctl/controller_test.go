package syncctl

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/opcustody/vaultindex/internal/eventbus"
	"github.com/opcustody/vaultindex/internal/headers"
	"github.com/opcustody/vaultindex/internal/store"
	"github.com/opcustody/vaultindex/internal/vault"
	"github.com/opcustody/vaultindex/internal/vaultparser"
)

func mkHeader(prev chainhash.Hash, nonce uint32) wire.BlockHeader {
	return wire.BlockHeader{
		Version:    1,
		PrevBlock:  prev,
		MerkleRoot: chainhash.Hash{byte(nonce)},
		Timestamp:  time.Unix(1700000000, 0),
		Bits:       0x207fffff,
		Nonce:      nonce,
	}
}

func newTestController(t *testing.T) (*Controller, *headers.Cache, *store.SQLite, *eventbus.Bus, wire.BlockHeader) {
	t.Helper()

	genesis := mkHeader(chainhash.Hash{}, 0)

	cache, err := headers.NewCache(10_000)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	if err := cache.SeedGenesis(genesis); err != nil {
		t.Fatalf("SeedGenesis: %v", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	genStored := headers.StoredHeader{Hash: genesis.BlockHash(), Header: genesis, Height: 0, InMainChain: true}
	if err := st.Init(ctx, "regtest", genStored, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}

	bus := eventbus.New()
	projector := vault.NewProjector(st, bus)
	tokenID := vaultparser.TokenID{Block: 1, Tx: 1}

	c := NewController(cache, st, bus, projector, tokenID, 10)
	return c, cache, st, bus, genesis
}

func TestOnNewHeadersRequestsBlockBatchWhenCaughtUp(t *testing.T) {
	c, cache, _, bus, genesis := newTestController(t)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	h1 := mkHeader(genesis.BlockHash(), 1)

	if err := c.onNewHeaders(context.Background(), []*wire.BlockHeader{&h1}); err != nil {
		t.Fatalf("onNewHeaders: %v", err)
	}

	if cache.CurrentHeight() != 1 {
		t.Fatalf("expected cache height 1, got %d", cache.CurrentHeight())
	}
	if c.batchLeft <= 0 {
		t.Fatalf("expected a block batch request to have been queued, batchLeft=%d", c.batchLeft)
	}

	select {
	case ev := <-sub.C():
		if ev.Kind != eventbus.KindOutgoingMessage {
			t.Fatalf("expected outgoing message, got %v", ev.Kind)
		}
		if _, ok := ev.Payload.(*wire.MsgGetData); !ok {
			t.Fatalf("expected MsgGetData, got %T", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for getdata request")
	}
}

func TestOnNewBlockPersistsScannedHeightAtBatchBoundary(t *testing.T) {
	c, cache, st, _, genesis := newTestController(t)

	h1 := mkHeader(genesis.BlockHash(), 1)
	if err := cache.UpdateLongestChain([]wire.BlockHeader{h1}); err != nil {
		t.Fatalf("UpdateLongestChain: %v", err)
	}
	if err := cache.Flush(context.Background(), st); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	c.batchLeft = 1 // pretend this is the last outstanding block in the batch

	block := wire.NewMsgBlock(&h1)
	block.AddTransaction(wire.NewMsgTx(wire.TxVersion))

	if err := c.onNewBlock(context.Background(), block); err != nil {
		t.Fatalf("onNewBlock: %v", err)
	}

	scanned, err := st.GetScannedHeight(context.Background())
	if err != nil {
		t.Fatalf("GetScannedHeight: %v", err)
	}
	if scanned != 1 {
		t.Fatalf("expected scanned height 1, got %d", scanned)
	}
}

func TestOnNewBlockUnknownHeaderIsDroppedNotFatal(t *testing.T) {
	c, _, _, _, _ := newTestController(t)

	unknown := mkHeader(chainhash.Hash{0xAA}, 99)
	block := wire.NewMsgBlock(&unknown)

	if err := c.onNewBlock(context.Background(), block); err != nil {
		t.Fatalf("expected unknown-header block to be dropped without error, got %v", err)
	}
}

func TestOnNewInvTriggersGetHeadersForUnknownBlock(t *testing.T) {
	c, _, _, bus, _ := newTestController(t)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	unknownHash := chainhash.Hash{0xBB}
	c.onNewInv([]*wire.InvVect{wire.NewInvVect(wire.InvTypeBlock, &unknownHash)})

	select {
	case ev := <-sub.C():
		if ev.Kind != eventbus.KindOutgoingMessage {
			t.Fatalf("expected outgoing message, got %v", ev.Kind)
		}
		if _, ok := ev.Payload.(*wire.MsgGetHeaders); !ok {
			t.Fatalf("expected MsgGetHeaders, got %T", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for getheaders request")
	}
}

func TestHandlePingRepliesWithPong(t *testing.T) {
	c, _, _, bus, _ := newTestController(t)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	if err := c.onIncoming(context.Background(), wire.NewMsgPing(55)); err != nil {
		t.Fatalf("onIncoming: %v", err)
	}

	select {
	case ev := <-sub.C():
		pong, ok := ev.Payload.(*wire.MsgPong)
		if !ok || pong.Nonce != 55 {
			t.Fatalf("expected pong with nonce 55, got %#v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pong")
	}
}

func TestRunExitsOnTerminationEvent(t *testing.T) {
	c, _, _, bus, _ := newTestController(t)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	bus.Publish(eventbus.Termination())

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after Termination event")
	}
}
