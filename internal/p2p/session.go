package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"

	"github.com/opcustody/vaultindex/internal/eventbus"
	"github.com/opcustody/vaultindex/internal/wireproto"
)

var log = logrus.WithField("component", "p2p")

// pollInterval bounds how long a blocking read/channel-receive can run
// before re-checking the stop signal (§5's "≈100ms" suspension window).
const pollInterval = 100 * time.Millisecond

// Session drives one TCP connection to a single configured Bitcoin
// peer: handshake, then a split reader/writer pair sharing the socket,
// reconnecting with a fixed backoff on any recoverable failure (§4.B).
type Session struct {
	address        string
	net            wireproto.Net
	codec          *wireproto.Codec
	startHeight    int32
	reconnectDelay time.Duration
	dialTimeout    time.Duration
	bus            *eventbus.Bus
}

// Config bundles the fields NewSession needs, mirroring the indexer's
// own config surface (§6.4).
type Config struct {
	Address        string
	Net            wireproto.Net
	StartHeight    int32
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
}

// NewSession constructs a Session bound to bus. The caller retains
// ownership of bus and may share it with the sync controller and RPC
// subscribers.
func NewSession(cfg Config, bus *eventbus.Bus) *Session {
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay == 0 {
		reconnectDelay = 10 * time.Second
	}
	return &Session{
		address:        cfg.Address,
		net:            cfg.Net,
		codec:          wireproto.NewCodec(cfg.Net),
		startHeight:    cfg.StartHeight,
		reconnectDelay: reconnectDelay,
		dialTimeout:    dialTimeout,
		bus:            bus,
	}
}

// Run connects, handshakes, and services the connection until ctx is
// cancelled or an unrecoverable error occurs (§4.B, §7). On any
// recoverable failure it emits Disconnected, waits reconnectDelay, and
// retries — reusing the same long-lived bus subscription across
// attempts rather than re-subscribing (§C.1 of the supplemented
// features), so no OutgoingMessage published during the backoff window
// is lost.
func (s *Session) Run(ctx context.Context) error {
	sub := s.bus.Subscribe()
	defer sub.Unsubscribe()

	for {
		if ctx.Err() != nil {
			return nil
		}
		err := s.runOnce(ctx, sub)
		if err == nil {
			return nil
		}
		if isUnrecoverable(err) {
			log.WithError(err).Error("unrecoverable peer session failure")
			return err
		}
		log.WithError(err).Warn("peer session failure, reconnecting")
		s.bus.Publish(eventbus.Disconnected())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

// isUnrecoverable classifies per §7: wrong network magic and
// address-resolution failure abort the session entirely; everything
// else (I/O errors, a peer that skips version/verack) triggers
// reconnect.
func isUnrecoverable(err error) bool {
	return errors.Is(err, wireproto.ErrWrongNetworkMagic) || errors.Is(err, ErrAddressResolution)
}

func (s *Session) runOnce(ctx context.Context, sub *eventbus.Subscription) error {
	conn, remoteStartHeight, err := s.handshake(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.bus.Publish(eventbus.Handshaked(remoteStartHeight))
	log.WithField("address", s.address).Info("handshake complete")

	var closeOnce sync.Once
	stop := make(chan struct{})
	closeConn := func() {
		closeOnce.Do(func() {
			close(stop)
			conn.Close()
		})
	}

	errCh := make(chan error, 2)
	go func() { errCh <- s.readLoop(conn, stop) }()
	go func() { errCh <- s.writeLoop(conn, sub, stop) }()

	select {
	case <-ctx.Done():
		closeConn()
		<-errCh
		<-errCh
		return nil
	case err := <-errCh:
		// Either task exiting unblocks the other by shutting the
		// socket for both directions (§4.B).
		closeConn()
		<-errCh
		return err
	}
}

// handshake implements §4.B: resolve+connect, send version, receive
// version (contents unchecked per §C.2), send verack, receive verack.
func (s *Session) handshake(ctx context.Context) (net.Conn, int32, error) {
	dialer := &net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.address)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrAddressResolution, s.address, err)
	}

	verMsg, err := buildVersionMessage(conn.RemoteAddr(), s.startHeight)
	if err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("p2p: building version message: %w", err)
	}
	if err := s.codec.SendOne(conn, verMsg); err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("p2p: sending version: %w", err)
	}

	first, err := s.codec.ReceiveOne(conn)
	if err != nil {
		conn.Close()
		return nil, 0, err
	}
	peerVersion, ok := first.(*wire.MsgVersion)
	if !ok {
		conn.Close()
		return nil, 0, ErrNoVersionMessage
	}

	if err := s.codec.SendOne(conn, wire.NewMsgVerAck()); err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("p2p: sending verack: %w", err)
	}

	second, err := s.codec.ReceiveOne(conn)
	if err != nil {
		conn.Close()
		return nil, 0, err
	}
	if _, ok := second.(*wire.MsgVerAck); !ok {
		conn.Close()
		return nil, 0, ErrNoVerackMessage
	}

	return conn, peerVersion.LastBlock, nil
}

// readLoop repeatedly decodes frames off conn and publishes them as
// IncomingMessage events, polling stop every pollInterval via the
// read deadline (§5). A malformed frame is recoverable in place and
// simply skipped (§4.A); any other error propagates to end the
// session.
func (s *Session) readLoop(conn net.Conn, stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		conn.SetReadDeadline(time.Now().Add(pollInterval))
		msg, err := s.codec.ReceiveOne(conn)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, wireproto.ErrDecodeFailure) {
				log.WithError(err).Debug("skipping malformed frame")
				continue
			}
			return err
		}
		s.bus.Publish(eventbus.IncomingMessage(msg))
	}
}

// writeLoop drains OutgoingMessage events off the bus and writes them
// to conn, polling stop every pollInterval (§5).
func (s *Session) writeLoop(conn net.Conn, sub *eventbus.Subscription, stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case eventbus.KindOutgoingMessage:
				msg, ok := ev.Payload.(wire.Message)
				if !ok {
					continue
				}
				if err := s.codec.SendOne(conn, msg); err != nil {
					return err
				}
			case eventbus.KindTermination:
				return nil
			}
		case <-time.After(pollInterval):
		}
	}
}
