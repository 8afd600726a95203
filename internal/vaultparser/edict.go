package vaultparser

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// TokenID identifies a token issuance by the height and transaction
// index of its issuing transaction (§"Token identifier").
type TokenID struct {
	Block uint64
	Tx    uint32
}

// TokenTx is the decoded content of one token-edict record: the total
// amount credited or debited against the configured token identifier
// (§"Token-edict record").
type TokenTx struct {
	UnitAmount uint32
}

// edictFieldBody is the integer tag marking the start of the edict run
// in the flattened field sequence, matching the runestone encoding
// this decoder is modelled on.
const edictFieldBody = 0

// runestoneMagicOpcode is the marker opcode (OP_13) used by the
// runestone-style encoding to distinguish its payload from other
// OP_RETURN users, mirroring ordinals::Runestone::decipher's shape.
const runestoneMagicOpcode = txscript.OP_13

// DecodeTokenTx scans tx's outputs for a runestone-shaped OP_RETURN
// payload (OP_RETURN OP_13 <data pushes>) and sums the edict amounts
// that reference tokenID. No third-party Go library implements this
// encoding, so it is decoded directly against txscript primitives
// (documented in the grounding ledger).
func DecodeTokenTx(tx *wire.MsgTx, tokenID TokenID) (*TokenTx, error) {
	for _, out := range tx.TxOut {
		raw, err := extractRunestonePayload(out.PkScript)
		if err != nil {
			if DefinitelyNot(err) {
				continue
			}
			return nil, err
		}
		return sumEdicts(raw, tokenID)
	}
	return nil, notOurs("vaultparser: no runestone-shaped OP_RETURN output found")
}

// extractRunestonePayload finds the OP_RETURN OP_13 marker and
// concatenates every subsequent data push into one byte slice, per
// the runestone encoding's "multiple pushes form one logical payload"
// rule.
func extractRunestonePayload(script []byte) ([]byte, error) {
	tok := txscript.MakeScriptTokenizer(0, script)

	if !tok.Next() || tok.Opcode() != txscript.OP_RETURN {
		return nil, notOurs("vaultparser: script is not OP_RETURN-prefixed")
	}
	if !tok.Next() || tok.Opcode() != runestoneMagicOpcode {
		return nil, notOurs("vaultparser: missing runestone magic opcode")
	}

	var payload []byte
	for tok.Next() {
		payload = append(payload, tok.Data()...)
	}
	if err := tok.Err(); err != nil {
		return nil, malformed("vaultparser: malformed script: %v", err)
	}
	if payload == nil {
		return nil, malformed("vaultparser: runestone marker carried no data pushes")
	}
	return payload, nil
}

// sumEdicts decodes raw as a LEB128 varint sequence of tagged fields
// followed by a Body-tagged run of edict tuples
// (id_block_delta, id_tx_delta, amount, output), accumulates the
// running token id across the edict run, and sums amounts matching
// tokenID.
func sumEdicts(raw []byte, tokenID TokenID) (*TokenTx, error) {
	ints, err := decodeVarints(raw)
	if err != nil {
		return nil, malformed("vaultparser: bad varint encoding: %v", err)
	}

	bodyStart := -1
	i := 0
	for i < len(ints) {
		tag := ints[i]
		i++
		if tag == edictFieldBody {
			bodyStart = i
			break
		}
		// Non-body fields are tag/value pairs; skip the value.
		if i >= len(ints) {
			return nil, malformed("vaultparser: truncated field sequence")
		}
		i++
	}
	if bodyStart < 0 {
		return nil, malformed("vaultparser: runestone has no edict body")
	}

	edicts := ints[bodyStart:]
	if len(edicts)%4 != 0 {
		return nil, malformed("vaultparser: edict run length %d not a multiple of 4", len(edicts))
	}

	var total uint64
	var encountered bool
	var runningBlock uint64
	var runningTx uint32
	for j := 0; j+3 < len(edicts); j += 4 {
		// A zero block delta keeps the block and adds the tx delta to
		// the running tx index; a non-zero block delta resets it.
		if edicts[j] == 0 {
			runningTx += uint32(edicts[j+1])
		} else {
			runningTx = uint32(edicts[j+1])
		}
		runningBlock += edicts[j]
		amount := edicts[j+2]
		// edicts[j+3] is the output index; not needed to sum amounts.

		if runningBlock == tokenID.Block && runningTx == tokenID.Tx {
			total += amount
			encountered = true
		}
	}

	if !encountered {
		return nil, malformed("vaultparser: no edicts reference the configured token identifier")
	}
	return &TokenTx{UnitAmount: uint32(total)}, nil
}

// decodeVarints decodes raw as a back-to-back sequence of LEB128
// base-128 varints, the integer encoding runestones use throughout.
func decodeVarints(raw []byte) ([]uint64, error) {
	var out []uint64
	var value uint64
	var shift uint
	for _, b := range raw {
		if shift >= 64 {
			return nil, malformed("vaultparser: varint too long")
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			out = append(out, value)
			value = 0
			shift = 0
			continue
		}
		shift += 7
	}
	if shift != 0 {
		return nil, malformed("vaultparser: truncated trailing varint")
	}
	return out, nil
}
