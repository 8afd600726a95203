package main

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/opcustody/vaultindex/internal/config"
)

// genesisHeaderFor resolves the height-0 header to seed storage with
// on first run (§6.2 "Initialisation"). Well-known networks use
// btcd's bundled chain parameters; testnet4 and custom-signet have no
// single fixed genesis and are left unsupported here — an operator
// targeting one of those needs a config path this entrypoint doesn't
// yet expose (see DESIGN.md).
func genesisHeaderFor(n config.Network) (wire.BlockHeader, error) {
	switch n {
	case config.NetworkMainnet:
		return chaincfg.MainNetParams.GenesisBlock.Header, nil
	case config.NetworkTestnet:
		return chaincfg.TestNet3Params.GenesisBlock.Header, nil
	case config.NetworkSignet:
		return chaincfg.SigNetParams.GenesisBlock.Header, nil
	case config.NetworkRegtest:
		return chaincfg.RegressionNetParams.GenesisBlock.Header, nil
	default:
		return wire.BlockHeader{}, fmt.Errorf("vaultindexd: no bundled genesis header for network %q", n)
	}
}
