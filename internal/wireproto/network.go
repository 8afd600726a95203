// Package wireproto implements the Bitcoin P2P framing layer (§4.A,
// §6.1): it owns the 24-byte message header only and delegates every
// payload's encoding and decoding to github.com/btcsuite/btcd/wire.
package wireproto

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/opcustody/vaultindex/internal/config"
)

// Net identifies a Bitcoin network by its magic value. It is distinct
// from wire.BitcoinNet only in name; the underlying representation is
// identical so it can be passed straight into wire's read/write helpers.
type Net = wire.BitcoinNet

// Magic constants as little-endian uint32 values, the representation
// wire.BitcoinNet uses; the codec writes them little-endian, so e.g.
// mainnet's magic goes on the wire as the bytes F9 BE B4 D9 (§6.1).
const (
	MagicMainnet      Net = 0xD9B4BEF9
	MagicTestnet      Net = 0x0709110B
	MagicTestnet4     Net = 0x283F161C
	MagicSignet       Net = 0x40CF030A
	MagicRegtest      Net = 0xDAB5BFFA
	MagicCustomSignet Net = 0xCB2DDFA5
)

// MagicFor resolves the configured network name to its wire magic.
func MagicFor(n config.Network) (Net, error) {
	switch n {
	case config.NetworkMainnet:
		return MagicMainnet, nil
	case config.NetworkTestnet:
		return MagicTestnet, nil
	case config.NetworkTestnet4:
		return MagicTestnet4, nil
	case config.NetworkSignet:
		return MagicSignet, nil
	case config.NetworkRegtest:
		return MagicRegtest, nil
	case config.NetworkCustomSignet:
		return MagicCustomSignet, nil
	default:
		return 0, fmt.Errorf("wireproto: unknown network %q", n)
	}
}

// ProtocolVersion is the version number advertised in our version
// message and used to select consensus-encoding behaviour for every
// command. 70016 is the first version that understands wtxid-relay;
// we never use that feature, but advertising a recent version keeps
// peers from downgrading their own behaviour towards us.
const ProtocolVersion = 70016

// MaxHeadersPerMessage is the peer-enforced ceiling on a single
// `headers` response (§6.1).
const MaxHeadersPerMessage = 2000
