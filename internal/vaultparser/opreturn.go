package vaultparser

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DialectVersion distinguishes the two OP_RETURN payload layouts: the
// current dialect orders oracle price before timestamp, the legacy
// dialect the reverse. Historical revisions of the source protocol
// disagree on this ordering, so the field order below is taken as the
// deliberate, most-recent resolution rather than guessed at.
type DialectVersion int

const (
	DialectLegacy  DialectVersion = iota // 14-byte push
	DialectCurrent                      // 38-byte push
)

const (
	legacyPushLen  = 14
	currentPushLen = 38
	mandatoryLen   = 1 + 1 + 4 + 4 + 4 // version + action + balance + price + timestamp
)

// Action enumerates the vault state-transition kinds (§3).
type Action byte

const (
	ActionOpen    Action = 0x6f
	ActionDeposit Action = 0x64
	ActionWithdraw Action = 0x77
	ActionBorrow  Action = 0x62
	ActionRepay   Action = 0x72
)

func (a Action) String() string {
	switch a {
	case ActionOpen:
		return "open"
	case ActionDeposit:
		return "deposit"
	case ActionWithdraw:
		return "withdraw"
	case ActionBorrow:
		return "borrow"
	case ActionRepay:
		return "repay"
	default:
		return "unknown"
	}
}

func isValidAction(a Action) bool {
	switch a {
	case ActionOpen, ActionDeposit, ActionWithdraw, ActionBorrow, ActionRepay:
		return true
	default:
		return false
	}
}

// VaultTx is the decoded content of one vault OP_RETURN record (§3
// "Vault transaction record", parsed-fields subset).
type VaultTx struct {
	OutputIndex      int
	Version          DialectVersion
	Action           Action
	UnitBalance      uint32
	OraclePrice      uint32
	OracleTimestamp  uint32
	LiquidationPrice *uint32
	LiquidationHash  *[20]byte
}

// DecodeVaultTx scans tx's outputs in order and decodes the first one
// whose script has the OP_RETURN OP_8 <14- or 38-byte push> shape as a
// vault record; outputs without that shape are skipped. Structural mismatches (no
// OP_RETURN output, wrong push opcode shape) are reported as
// DefinitelyNot errors; a recognisable-but-invalid payload is a
// malformed error.
func DecodeVaultTx(tx *wire.MsgTx) (*VaultTx, error) {
	for i, out := range tx.TxOut {
		payload, dialect, err := extractVaultPush(out.PkScript)
		if err != nil {
			if DefinitelyNot(err) {
				continue // try the next output
			}
			return nil, err
		}
		vtx, err := decodeVaultPayload(payload, dialect)
		if err != nil {
			return nil, err
		}
		vtx.OutputIndex = i
		return vtx, nil
	}
	return nil, notOurs("vaultparser: no OP_RETURN vault push found")
}

// extractVaultPush finds the OP_RETURN OP_8 <push> sequence in script
// and returns the pushed bytes plus which dialect the push length
// implies.
func extractVaultPush(script []byte) ([]byte, DialectVersion, error) {
	tok := txscript.MakeScriptTokenizer(0, script)

	if !tok.Next() || tok.Opcode() != txscript.OP_RETURN {
		return nil, 0, notOurs("vaultparser: script is not OP_RETURN-prefixed")
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_8 {
		return nil, 0, notOurs("vaultparser: missing OP_PUSHNUM_8 marker")
	}
	if !tok.Next() {
		return nil, 0, notOurs("vaultparser: missing payload push")
	}

	data := tok.Data()
	switch len(data) {
	case legacyPushLen:
		return data, DialectLegacy, nil
	case currentPushLen:
		return data, DialectCurrent, nil
	default:
		return nil, 0, notOurs("vaultparser: unexpected push length %d", len(data))
	}
}

func decodeVaultPayload(payload []byte, dialect DialectVersion) (*VaultTx, error) {
	if len(payload) < mandatoryLen {
		return nil, malformed("vaultparser: payload too short: %d bytes", len(payload))
	}

	version := payload[0]
	if version != 1 {
		return nil, malformed("vaultparser: unsupported version %d", version)
	}

	action := Action(payload[1])
	if !isValidAction(action) {
		return nil, malformed("vaultparser: unknown action byte 0x%02x", payload[1])
	}

	balance := binary.BigEndian.Uint32(payload[2:6])

	var price, timestamp uint32
	switch dialect {
	case DialectCurrent:
		price = binary.BigEndian.Uint32(payload[6:10])
		timestamp = binary.BigEndian.Uint32(payload[10:14])
	case DialectLegacy:
		timestamp = binary.BigEndian.Uint32(payload[6:10])
		price = binary.BigEndian.Uint32(payload[10:14])
	}

	vtx := &VaultTx{
		Version:         dialect,
		Action:          action,
		UnitBalance:     balance,
		OraclePrice:     price,
		OracleTimestamp: timestamp,
	}

	tail := payload[mandatoryLen:]
	switch {
	case len(tail) == 0:
		return vtx, nil
	case len(tail) >= 4:
		lp := binary.BigEndian.Uint32(tail[:4])
		vtx.LiquidationPrice = &lp
		tail = tail[4:]
	default:
		return nil, malformed("vaultparser: invalid optional tail length %d", len(tail))
	}

	switch len(tail) {
	case 0:
		return vtx, nil
	case 20:
		var hash [20]byte
		copy(hash[:], tail)
		vtx.LiquidationHash = &hash
		return vtx, nil
	default:
		return nil, malformed("vaultparser: invalid liquidation hash length %d", len(tail))
	}
}
