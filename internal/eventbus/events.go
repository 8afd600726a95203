package eventbus

import (
	"github.com/btcsuite/btcd/wire"
)

// Kind tags the variant carried by an Event, per §4.I's "prefer a tagged
// variant over open-ended polymorphism" guidance.
type Kind int

const (
	// KindHandshaked announces a completed peer handshake; Payload is
	// the remote's advertised start height (int32).
	KindHandshaked Kind = iota
	// KindDisconnected announces the peer session dropped.
	KindDisconnected
	// KindIncomingMessage carries a decoded message read from the peer;
	// Payload is a wire.Message.
	KindIncomingMessage
	// KindOutgoingMessage requests a message be sent to the peer;
	// Payload is a wire.Message.
	KindOutgoingMessage
	// KindTermination is the distinguished sentinel every subscriber
	// must honour by shutting down.
	KindTermination
	// KindNewVaultTransaction announces a committed vault-projector
	// write; Payload is a *vault.TxRecord.
	KindNewVaultTransaction
	// KindNewUnitTransaction announces a decoded token-edict
	// transaction (edicts are not written to storage); Payload is a
	// *vault.UnitTxRecord.
	KindNewUnitTransaction
)

// Event is the single value type flowing through the Bus.
type Event struct {
	Kind    Kind
	Payload any
}

func Handshaked(remoteStartHeight int32) Event {
	return Event{Kind: KindHandshaked, Payload: remoteStartHeight}
}

func Disconnected() Event { return Event{Kind: KindDisconnected} }

func IncomingMessage(m wire.Message) Event {
	return Event{Kind: KindIncomingMessage, Payload: m}
}

func OutgoingMessage(m wire.Message) Event {
	return Event{Kind: KindOutgoingMessage, Payload: m}
}

func Termination() Event { return Event{Kind: KindTermination} }

// NewVaultTransaction wraps a committed vault-projector write. row is a
// *vault.TxRecord; kept as `any` here so this package does not need to
// import the vault package (which itself publishes these events).
func NewVaultTransaction(row any) Event {
	return Event{Kind: KindNewVaultTransaction, Payload: row}
}

// NewUnitTransaction wraps a decoded token-edict transaction. row is a
// *vault.UnitTxRecord.
func NewUnitTransaction(row any) Event {
	return Event{Kind: KindNewUnitTransaction, Payload: row}
}
