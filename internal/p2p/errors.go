// Package p2p implements the single-peer connection state machine
// (§4.B): version/verack handshake, framed message codec usage, split
// send/receive tasks sharing one socket, and reconnect-with-backoff.
package p2p

import "errors"

// Handshake-failure sentinels (§4.B, §7). Both are recoverable by
// reconnect: the peer spoke out of turn, not a protocol-incompatible
// network.
var (
	ErrNoVersionMessage = errors.New("p2p: first message from peer is not version")
	ErrNoVerackMessage  = errors.New("p2p: second message from peer is not verack")
)

// ErrAddressResolution is unrecoverable (§7): the configured peer
// address cannot be resolved or connected to at all, which reconnect
// attempts cannot fix without operator intervention.
var ErrAddressResolution = errors.New("p2p: failed to resolve/connect to peer address")
