// Package rpc implements the push RPC surface (§4.J, §6.3): a
// websocket endpoint that delivers unsolicited NewVaultTransaction
// events to every subscriber and answers a small set of historical
// pull queries over the same connection. Framing and JSON envelope
// shapes are external glue per §1's Non-goals; only the request/
// response contracts below carry design weight.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opcustody/vaultindex/internal/eventbus"
	"github.com/opcustody/vaultindex/internal/store"
	"github.com/opcustody/vaultindex/internal/vault"
)

var log = logrus.WithField("component", "rpc")

const writeTimeout = 10 * time.Second

// Server is the push RPC surface bound to one bind address. It holds
// storage read-only and never mutates it (§4.J).
type Server struct {
	addr     string
	store    store.VaultStore
	bus      *eventbus.Bus
	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer wires a Server against its collaborators. addr is a
// host:port per §6.4's rpc_bind_address.
func NewServer(addr string, st store.VaultStore, bus *eventbus.Bus) *Server {
	s := &Server{
		addr:  addr,
		store: st,
		bus:   bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Single local subscriber population; origin checking is
			// external-glue per §1's Non-goals.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleConnection)
	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Run serves until ctx is cancelled, then shuts the listener down
// gracefully. Mirrors the §4.J thread model's "one RPC listener"
// thread: Run itself blocks the calling goroutine; each accepted
// connection gets its own pair of goroutines (handleConnection).
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	s.serve(conn)
}

// serve runs one subscriber's read and push loops until the
// connection closes (§4.J: "one thread per RPC subscriber pair").
func (s *Server) serve(conn *websocket.Conn) {
	defer conn.Close()

	sub := s.bus.Subscribe()
	defer sub.Unsubscribe()

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(v)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.pushLoop(sub, writeJSON, stop)
	}()

	s.readLoop(conn, writeJSON)
	close(stop)
	<-done
}

// readLoop decodes inbound request frames and answers each with a
// dispatch result. Binary frames are rejected (§6.3); bad requests get
// a single error frame and the subscription continues.
func (s *Server) readLoop(conn *websocket.Conn, writeJSON func(v any) error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.BinaryMessage {
			_ = writeJSON(errorResponse("binary frames are not accepted"))
			continue
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			_ = writeJSON(errorResponse("malformed request: " + err.Error()))
			continue
		}

		resp := dispatch(context.Background(), s.store, req)
		if err := writeJSON(resp); err != nil {
			return
		}
	}
}

// pushLoop forwards NewVaultTransaction (and NewUnitTransaction)
// events from the bus to this subscriber until stop fires.
func (s *Server) pushLoop(sub *eventbus.Subscription, writeJSON func(v any) error, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			switch ev.Kind {
			case eventbus.KindNewVaultTransaction:
				rec, ok := ev.Payload.(*vault.TxRecord)
				if !ok {
					continue
				}
				dto := toVaultTxRowDTO(rec.VaultTxRow)
				if err := writeJSON(response{Type: "new_vault_transaction", Transaction: &dto}); err != nil {
					return
				}
			case eventbus.KindNewUnitTransaction:
				rec, ok := ev.Payload.(*vault.UnitTxRecord)
				if !ok {
					continue
				}
				dto := toUnitTxDTO(rec)
				if err := writeJSON(response{Type: "new_unit_transaction", UnitTx: &dto}); err != nil {
					return
				}
			case eventbus.KindTermination:
				return
			}
		}
	}
}
