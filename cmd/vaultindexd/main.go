// Command vaultindexd wires the single-peer chain follower together:
// configuration, storage, the header cache, the peer session, the
// sync controller, and the push RPC surface. The CLI argument surface
// itself is out of scope (§1's Non-goals) — every knob here comes
// from internal/config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/opcustody/vaultindex/internal/config"
	"github.com/opcustody/vaultindex/internal/eventbus"
	"github.com/opcustody/vaultindex/internal/headers"
	"github.com/opcustody/vaultindex/internal/p2p"
	"github.com/opcustody/vaultindex/internal/rpc"
	"github.com/opcustody/vaultindex/internal/store"
	"github.com/opcustody/vaultindex/internal/syncctl"
	"github.com/opcustody/vaultindex/internal/vault"
	"github.com/opcustody/vaultindex/internal/vaultparser"
	"github.com/opcustody/vaultindex/internal/wireproto"
	"github.com/opcustody/vaultindex/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("vaultindexd exited with error")
	}
}

func run() error {
	configureLogging()

	env := utils.EnvOrDefault("VAULTINDEX_ENV", "")
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	genesisHeader, err := genesisHeaderFor(cfg.Network)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer st.Close()

	genesisStored := headers.StoredHeader{
		Hash:        genesisHeader.BlockHash(),
		Header:      genesisHeader,
		Height:      0,
		InMainChain: true,
	}
	if err := st.Init(ctx, string(cfg.Network), genesisStored, cfg.StartHeight); err != nil {
		return fmt.Errorf("initialising storage: %w", err)
	}

	if cfg.Rescan {
		logrus.Info("rescan requested: dropping vault state, preserving headers")
		if err := st.DropAll(ctx); err != nil {
			return fmt.Errorf("rescan: %w", err)
		}
		if err := st.SetScannedHeight(ctx, cfg.StartHeight); err != nil {
			return fmt.Errorf("rescan: %w", err)
		}
	}

	cache, err := headers.NewCache(cfg.OrphanPoolCap)
	if err != nil {
		return fmt.Errorf("constructing header cache: %w", err)
	}
	if err := cache.Load(ctx, st); err != nil {
		return fmt.Errorf("loading headers from storage: %w", err)
	}

	bus := eventbus.New()

	projector := vault.NewProjector(st, bus)
	tokenID := vaultparser.TokenID{Block: cfg.TokenIDBlock, Tx: cfg.TokenIDTx}

	magic, err := wireproto.MagicFor(cfg.Network)
	if err != nil {
		return fmt.Errorf("resolving network magic: %w", err)
	}

	session := p2p.NewSession(p2p.Config{
		Address:        cfg.PeerAddress,
		Net:            magic,
		StartHeight:    int32(cache.CurrentHeight()),
		ReconnectDelay: cfg.ReconnectDelay,
	}, bus)

	controller := syncctl.NewController(cache, st, bus, projector, tokenID, cfg.BlockBatchSize)
	rpcServer := rpc.NewServer(cfg.RPCBindAddress, st, bus)

	logrus.WithFields(logrus.Fields{
		"network":      cfg.Network,
		"peer_address": cfg.PeerAddress,
		"rpc_address":  cfg.RPCBindAddress,
		"height":       cache.CurrentHeight(),
	}).Info("vaultindexd starting")

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
				return
			}
			errCh <- nil
		}()
	}
	spawn("peer session", session.Run)
	spawn("sync controller", controller.Run)
	spawn("rpc server", rpcServer.Run)

	// Per §4.I: the peer session's unrecoverable termination propagates
	// to the rest of the system, the same as an operator-requested
	// shutdown does. Either path cancels ctx and closes the bus so every
	// subscriber observes Termination.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logrus.WithError(err).Error("component exited with error, shutting down")
		}
	}
	cancel()
	bus.Close()

	wg.Wait()
	return nil
}

func configureLogging() {
	lvl, err := logrus.ParseLevel(utils.EnvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
