package syncctl

import (
	"bytes"

	"github.com/btcsuite/btcd/wire"
)

// serializeTx returns the witness-inclusive consensus encoding of tx,
// the byte form recorded as raw_bytes in vault-transaction rows and
// token-edict records (the parsers themselves take the *wire.MsgTx).
func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
