package wireproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const headerSize = 24 // magic(4) + command(12) + length(4) + checksum(4)

// Sentinel errors per spec §4.A / §7's error-kind taxonomy.
var (
	// ErrWrongNetworkMagic is unrecoverable: the peer is speaking a
	// different network than the one we were configured for.
	ErrWrongNetworkMagic = errors.New("wireproto: wrong network magic")

	// ErrDecodeFailure is recoverable in place: the frame is malformed
	// or carries an unrecognised command; the caller skips it and
	// attempts the next frame.
	ErrDecodeFailure = errors.New("wireproto: decode failure")
)

// Codec frames and parses Bitcoin P2P messages against one configured
// network. It owns only the 24-byte header; every command's payload is
// (de)serialised by github.com/btcsuite/btcd/wire.
type Codec struct {
	net     Net
	pver    uint32
	writeMu sync.Mutex
}

// NewCodec constructs a Codec bound to the given network magic.
func NewCodec(net Net) *Codec {
	return &Codec{net: net, pver: ProtocolVersion}
}

// ReceiveOne reads exactly one framed message from r: the 24-byte
// header, magic validation, the stated payload length, then dispatches
// to the command's wire.Message implementation.
func (c *Codec) ReceiveOne(r io.Reader) (wire.Message, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("wireproto: read header: %w", err)
	}

	magic := Net(binary.LittleEndian.Uint32(hdr[0:4]))
	if magic != c.net {
		return nil, fmt.Errorf("%w: got %08x want %08x", ErrWrongNetworkMagic, magic, c.net)
	}

	command := commandFromBytes(hdr[4:16])
	length := binary.LittleEndian.Uint32(hdr[16:20])
	wantChecksum := hdr[20:24]

	if length > wire.MaxMessagePayload {
		return nil, fmt.Errorf("%w: payload length %d exceeds maximum", ErrDecodeFailure, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wireproto: read payload: %w", err)
	}

	got := chainhash.DoubleHashB(payload)[:4]
	if !bytes.Equal(got, wantChecksum) {
		return nil, fmt.Errorf("%w: checksum mismatch for %q", ErrDecodeFailure, command)
	}

	msg, err := wire.MakeEmptyMessage(command)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown command %q: %v", ErrDecodeFailure, command, err)
	}
	if err := msg.BtcDecode(bytes.NewReader(payload), c.pver, wire.LatestEncoding); err != nil {
		return nil, fmt.Errorf("%w: decode %q: %v", ErrDecodeFailure, command, err)
	}
	return msg, nil
}

// SendOne serialises msg and writes the framed message to w in one
// atomic call, so two concurrent senders on the same connection can
// never interleave partial frames.
func (c *Codec) SendOne(w io.Writer, msg wire.Message) error {
	var payload bytes.Buffer
	if err := msg.BtcEncode(&payload, c.pver, wire.LatestEncoding); err != nil {
		return fmt.Errorf("wireproto: encode %q: %w", msg.Command(), err)
	}

	checksum := chainhash.DoubleHashB(payload.Bytes())[:4]

	var frame bytes.Buffer
	frame.Grow(headerSize + payload.Len())
	var magicBuf [4]byte
	binary.LittleEndian.PutUint32(magicBuf[:], uint32(c.net))
	frame.Write(magicBuf[:])
	frame.Write(commandToBytes(msg.Command()))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(payload.Len()))
	frame.Write(lenBuf[:])
	frame.Write(checksum)
	frame.Write(payload.Bytes())

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := w.Write(frame.Bytes())
	return err
}

func commandToBytes(command string) []byte {
	var buf [12]byte
	copy(buf[:], command)
	return buf[:]
}

func commandFromBytes(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}
