package p2p

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/opcustody/vaultindex/internal/eventbus"
	"github.com/opcustody/vaultindex/internal/wireproto"
)

// fakePeer accepts exactly one connection and plays the remote side of
// the handshake, then echoes a ping back as pong and exits.
func fakePeer(t *testing.T, ln net.Listener, net_ wireproto.Net) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	codec := wireproto.NewCodec(net_)

	if _, err := codec.ReceiveOne(conn); err != nil {
		t.Errorf("fakePeer: receiving version: %v", err)
		return
	}
	you := wire.NewNetAddressIPPort(net.IPv4zero.To4(), 0, 0)
	me := wire.NewNetAddressIPPort(net.IPv4zero.To4(), 0, 0)
	verMsg := wire.NewMsgVersion(me, you, 1, 123)
	if err := codec.SendOne(conn, verMsg); err != nil {
		t.Errorf("fakePeer: sending version: %v", err)
		return
	}
	if _, err := codec.ReceiveOne(conn); err != nil {
		t.Errorf("fakePeer: receiving verack: %v", err)
		return
	}
	if err := codec.SendOne(conn, wire.NewMsgVerAck()); err != nil {
		t.Errorf("fakePeer: sending verack: %v", err)
		return
	}

	msg, err := codec.ReceiveOne(conn)
	if err != nil {
		return
	}
	ping, ok := msg.(*wire.MsgPing)
	if !ok {
		t.Errorf("fakePeer: expected ping, got %T", msg)
		return
	}
	_ = codec.SendOne(conn, wire.NewMsgPong(ping.Nonce))
}

func TestSessionHandshakeAndRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go fakePeer(t, ln, wireproto.MagicRegtest)

	bus := eventbus.New()
	observer := bus.Subscribe()
	defer observer.Unsubscribe()

	sess := NewSession(Config{
		Address:     ln.Addr().String(),
		Net:         wireproto.MagicRegtest,
		StartHeight: 42,
	}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	var sawHandshake bool
	deadline := time.After(5 * time.Second)
	for !sawHandshake {
		select {
		case ev := <-observer.C():
			if ev.Kind == eventbus.KindHandshaked {
				sawHandshake = true
				if h, ok := ev.Payload.(int32); !ok || h != 123 {
					t.Fatalf("expected remote start height 123, got %v", ev.Payload)
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for handshake event")
		}
	}

	bus.Publish(eventbus.OutgoingMessage(wire.NewMsgPing(7)))

	var sawPong bool
	deadline = time.After(5 * time.Second)
	for !sawPong {
		select {
		case ev := <-observer.C():
			if ev.Kind == eventbus.KindIncomingMessage {
				if pong, ok := ev.Payload.(*wire.MsgPong); ok && pong.Nonce == 7 {
					sawPong = true
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for pong round-trip")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error after cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}

func TestSessionUnrecoverableWrongMagic(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		ourCodec := wireproto.NewCodec(wireproto.MagicRegtest)
		if _, err := ourCodec.ReceiveOne(conn); err != nil {
			return
		}
		// Reply with a frame carrying a different network's magic so
		// the session's own ReceiveOne rejects it as unrecoverable.
		var frame [24]byte
		frame[0], frame[1], frame[2], frame[3] = 0xF9, 0xBE, 0xB4, 0xD9 // mainnet magic
		_, _ = conn.Write(frame[:])
	}()

	bus := eventbus.New()
	sess := NewSession(Config{
		Address:        ln.Addr().String(),
		Net:            wireproto.MagicRegtest,
		StartHeight:    0,
		ReconnectDelay: time.Millisecond,
	}, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = sess.Run(ctx)
	if err == nil {
		t.Fatal("expected unrecoverable error for wrong network magic")
	}
}
