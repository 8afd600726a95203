package vaultparser

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

func encodeVarint(v uint64, out []byte) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		out = append(out, b)
		return out
	}
}

func buildRunestoneScript(t *testing.T, ints []uint64) []byte {
	t.Helper()
	var raw []byte
	for _, v := range ints {
		raw = encodeVarint(v, raw)
	}
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_RETURN)
	b.AddOp(runestoneMagicOpcode)
	b.AddData(raw)
	script, err := b.Script()
	if err != nil {
		t.Fatalf("building script: %v", err)
	}
	return script
}

func txWithRunestoneOut(script []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(0, script))
	return tx
}

func TestDecodeTokenTxSumsMatchingEdicts(t *testing.T) {
	tokenID := TokenID{Block: 1527352, Tx: 1}
	// field sequence: [body-tag=0, blockDelta, txDelta, amount, output, blockDelta2(=0 => same id), txDelta2(=0), amount2, output2]
	ints := []uint64{
		edictFieldBody,
		1527352, 1, 100, 0,
		0, 0, 50, 0,
	}
	tx := txWithRunestoneOut(buildRunestoneScript(t, ints))

	ttx, err := DecodeTokenTx(tx, tokenID)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ttx.UnitAmount != 150 {
		t.Fatalf("expected summed amount 150, got %d", ttx.UnitAmount)
	}
}

func TestDecodeTokenTxIgnoresOtherTokenEdicts(t *testing.T) {
	tokenID := TokenID{Block: 1527352, Tx: 1}
	ints := []uint64{
		edictFieldBody,
		999, 2, 100, 0,
	}
	tx := txWithRunestoneOut(buildRunestoneScript(t, ints))

	_, err := DecodeTokenTx(tx, tokenID)
	if err == nil || DefinitelyNot(err) {
		t.Fatalf("expected a non-DefinitelyNot 'no matching edicts' error, got %v", err)
	}
}

func TestDecodeTokenTxNotOurs(t *testing.T) {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_DUP}))

	_, err := DecodeTokenTx(tx, TokenID{Block: 1, Tx: 0})
	if err == nil || !DefinitelyNot(err) {
		t.Fatalf("expected DefinitelyNot error, got %v", err)
	}
}

func TestDecodeTokenTxMalformedEdictRunLength(t *testing.T) {
	ints := []uint64{edictFieldBody, 1, 2, 3} // 3 ints, not a multiple of 4
	tx := txWithRunestoneOut(buildRunestoneScript(t, ints))

	_, err := DecodeTokenTx(tx, TokenID{Block: 1, Tx: 0})
	if err == nil || DefinitelyNot(err) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}
