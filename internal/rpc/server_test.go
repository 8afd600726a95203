package rpc

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opcustody/vaultindex/internal/eventbus"
	"github.com/opcustody/vaultindex/internal/headers"
	"github.com/opcustody/vaultindex/internal/store"
	"github.com/opcustody/vaultindex/internal/vault"
)

func newTestStore(t *testing.T) *store.SQLite {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	genesis := headers.StoredHeader{Height: 0, InMainChain: true}
	if err := st.Init(context.Background(), "regtest", genesis, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return st
}

func dialTestServer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestOverallVolumeRoundTrip(t *testing.T) {
	st := newTestStore(t)
	bus := eventbus.New()
	s := NewServer("", st, bus)

	srv := httptest.NewServer(s.http.Handler)
	defer srv.Close()
	conn := dialTestServer(t, srv)

	if err := conn.WriteJSON(request{Op: "overall_volume"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp.Type != "overall_volume" || resp.Error != "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestMalformedRequestGetsErrorFrameAndStaysOpen(t *testing.T) {
	st := newTestStore(t)
	bus := eventbus.New()
	s := NewServer("", st, bus)

	srv := httptest.NewServer(s.http.Handler)
	defer srv.Close()
	conn := dialTestServer(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp.Error == "" {
		t.Fatalf("expected an error frame, got %+v", resp)
	}

	// The connection must still be usable afterward.
	if err := conn.WriteJSON(request{Op: "overall_volume"}); err != nil {
		t.Fatalf("WriteJSON after error: %v", err)
	}
	var resp2 response
	if err := conn.ReadJSON(&resp2); err != nil {
		t.Fatalf("ReadJSON after error: %v", err)
	}
	if resp2.Type != "overall_volume" {
		t.Fatalf("unexpected follow-up response: %+v", resp2)
	}
}

func TestBinaryFrameRejected(t *testing.T) {
	st := newTestStore(t)
	bus := eventbus.New()
	s := NewServer("", st, bus)

	srv := httptest.NewServer(s.http.Handler)
	defer srv.Close()
	conn := dialTestServer(t, srv)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp.Error == "" {
		t.Fatalf("expected an error frame for binary input, got %+v", resp)
	}
}

func TestNewVaultTransactionIsPushedUnsolicited(t *testing.T) {
	st := newTestStore(t)
	bus := eventbus.New()
	s := NewServer("", st, bus)

	srv := httptest.NewServer(s.http.Handler)
	defer srv.Close()
	conn := dialTestServer(t, srv)

	// Give the server a moment to register the subscription before
	// publishing, since the handshake and Subscribe race the publish
	// below only in the absence of any synchronization point.
	time.Sleep(50 * time.Millisecond)

	bus.Publish(eventbus.NewVaultTransaction(&vault.TxRecord{}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp.Type != "new_vault_transaction" {
		t.Fatalf("expected a pushed vault transaction, got %+v", resp)
	}
}

func TestDispatchUnrecognisedOp(t *testing.T) {
	st := newTestStore(t)
	resp := dispatch(context.Background(), st, request{Op: "bogus"})
	if resp.Error == "" {
		t.Fatalf("expected error for unrecognised op, got %+v", resp)
	}
}

func TestMarshalResponseOmitsEmptyFields(t *testing.T) {
	resp := response{Type: "overall_volume", SumBTC: 1}
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(b), `"rows"`) {
		t.Fatalf("expected rows to be omitted when empty, got %s", b)
	}
}
