package p2p

import (
	"crypto/rand"
	"encoding/binary"
	"net"

	"github.com/btcsuite/btcd/wire"
)

// userAgentName/Version are advertised in every version message's
// user-agent string (§4.B).
const (
	userAgentName    = "vaultindex"
	userAgentVersion = "0.1.0"
)

// buildVersionMessage constructs the version message sent at the start
// of the handshake (§4.B): random nonce, current timestamp (filled in
// by wire.NewMsgVersion), and our configured start height. The remote
// address's contents are not meaningful beyond satisfying the wire
// format — the peer does not validate ours either (§C.2 of the
// supplemented features).
func buildVersionMessage(remote net.Addr, startHeight int32) (*wire.MsgVersion, error) {
	you := wire.NewNetAddressIPPort(remoteIP(remote), remotePort(remote), 0)
	me := wire.NewNetAddressIPPort(net.IPv4zero, 0, 0)

	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}

	msg := wire.NewMsgVersion(me, you, nonce, startHeight)
	if err := msg.AddUserAgent(userAgentName, userAgentVersion); err != nil {
		return nil, err
	}
	return msg, nil
}

func randomNonce() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func remoteIP(addr net.Addr) net.IP {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP
	}
	return net.IPv4zero
}

func remotePort(addr net.Addr) uint16 {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return uint16(tcp.Port)
	}
	return 0
}
